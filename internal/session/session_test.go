package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "example.com/mtg_board_viewer/internal/platform/errors"
)

// fakeConn delivers messages pushed through send until closed. Closing it
// does not race ahead of queued messages: Read keeps draining the queue.
type fakeConn struct {
	msgs chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-f.done:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) send(msg string) { f.msgs <- []byte(msg) }

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	// gate, when set, blocks Dial until it receives a value.
	gate chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	data  string
	err   error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.data), nil
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func turnOf(t *testing.T, raw json.RawMessage) int {
	t.Helper()
	var v struct {
		Turn int `json:"turn"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode state %s: %v", raw, err)
	}
	return v.Turn
}

func TestStreamingReplacesStateWholesale(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := NewClient(d, &fakeFetcher{})
	events, cancel := c.Subscribe("g1")
	defer cancel()

	if err := c.Open(context.Background(), "g1", Streaming); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := c.Status("g1"); got != Live {
		t.Fatalf("Status = %v, want live", got)
	}

	conn := d.conn(0)
	conn.send(`{"turn":1,"phase":"main"}`)
	conn.send(`{"turn":2}`)

	if ev := waitEvent(t, events); ev.Kind != EventState || turnOf(t, ev.State) != 1 {
		t.Fatalf("first event = %+v", ev)
	}
	if ev := waitEvent(t, events); ev.Kind != EventState || turnOf(t, ev.State) != 2 {
		t.Fatalf("second event = %+v", ev)
	}

	latest, ok := c.Latest("g1")
	if !ok {
		t.Fatal("expected latest state")
	}
	if string(latest) != `{"turn":2}` {
		t.Fatalf("Latest = %s, want {\"turn\":2} with no merged fields", latest)
	}
}

func TestReopenKeepsSingleCurrentConnection(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := NewClient(d, &fakeFetcher{})
	events, cancel := c.Subscribe("g1")
	defer cancel()

	if err := c.Open(context.Background(), "g1", Streaming); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := c.Open(context.Background(), "g1", Streaming); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	first, second := d.conn(0), d.conn(1)
	if !first.isClosed() {
		t.Fatal("superseded connection was not closed")
	}
	if second.isClosed() {
		t.Fatal("current connection was closed")
	}

	first.send(`{"turn":99}`)
	second.send(`{"turn":2}`)

	ev := waitEvent(t, events)
	if ev.Kind != EventState || turnOf(t, ev.State) != 2 {
		t.Fatalf("event = %+v, want turn 2 from the current connection", ev)
	}
	latest, _ := c.Latest("g1")
	if turnOf(t, latest) != 2 {
		t.Fatalf("Latest = %s", latest)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event from stale connection: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRapidReopenDuringDial(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{gate: make(chan struct{})}
	c := NewClient(d, &fakeFetcher{})

	firstErr := make(chan error, 1)
	go func() { firstErr <- c.Open(context.Background(), "g1", Streaming) }()

	// Let the first dial block, then supersede it before it finishes.
	time.Sleep(20 * time.Millisecond)
	secondErr := make(chan error, 1)
	go func() { secondErr <- c.Open(context.Background(), "g1", Streaming) }()
	time.Sleep(20 * time.Millisecond)

	d.gate <- struct{}{}
	d.gate <- struct{}{}

	errs := []error{<-firstErr, <-secondErr}
	stale, ok := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperrors.ErrStale):
			stale++
		default:
			t.Fatalf("unexpected Open error: %v", err)
		}
	}
	if ok != 1 || stale != 1 {
		t.Fatalf("got %d live and %d stale opens, want 1 and 1", ok, stale)
	}

	open := 0
	for i := 0; i < d.dials(); i++ {
		if !d.conn(i).isClosed() {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("%d connections left open, want exactly 1", open)
	}
	if got := c.Status("g1"); got != Live {
		t.Fatalf("Status = %v, want live", got)
	}
}

func TestDialFailureReportsConnectionFailed(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{err: errors.New("connection refused")}
	c := NewClient(d, &fakeFetcher{})
	events, cancel := c.Subscribe("g1")
	defer cancel()

	err := c.Open(context.Background(), "g1", Streaming)
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("Open err = %v, want unavailable", err)
	}
	ev := waitEvent(t, events)
	if ev.Kind != EventConnectionFailed || ev.Err == nil {
		t.Fatalf("event = %+v, want connection failed", ev)
	}
	if got := c.Status("g1"); got != Closed {
		t.Fatalf("Status = %v, want closed", got)
	}
}

func TestRemoteDisconnect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := NewClient(d, &fakeFetcher{})
	events, cancel := c.Subscribe("g1")
	defer cancel()

	if err := c.Open(context.Background(), "g1", Streaming); err != nil {
		t.Fatalf("Open: %v", err)
	}
	d.conn(0).send(`{"turn":1}`)
	waitEvent(t, events)

	// Simulates the server hanging up.
	_ = d.conn(0).Close()
	ev := waitEvent(t, events)
	if ev.Kind != EventDisconnected {
		t.Fatalf("event = %+v, want disconnected", ev)
	}
	if got := c.Status("g1"); got != Closed {
		t.Fatalf("Status = %v, want closed", got)
	}
	if latest, ok := c.Latest("g1"); !ok || turnOf(t, latest) != 1 {
		t.Fatalf("Latest = %s, %v; want last accepted state kept", latest, ok)
	}
}

func TestMalformedMessageIsDropped(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := NewClient(d, &fakeFetcher{})
	events, cancel := c.Subscribe("g1")
	defer cancel()

	if err := c.Open(context.Background(), "g1", Streaming); err != nil {
		t.Fatalf("Open: %v", err)
	}
	d.conn(0).send(`{"turn":`)
	d.conn(0).send(`{"turn":3}`)

	if ev := waitEvent(t, events); turnOf(t, ev.State) != 3 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := NewClient(d, &fakeFetcher{})

	c.Close("unknown")
	if got := c.Status("unknown"); got != Idle {
		t.Fatalf("Status of unknown session = %v, want idle", got)
	}

	if err := c.Open(context.Background(), "g1", Streaming); err != nil {
		t.Fatalf("Open: %v", err)
	}
	c.Close("g1")
	c.Close("g1")
	if !d.conn(0).isClosed() {
		t.Fatal("Close did not close the connection")
	}
	if got := c.Status("g1"); got != Closed {
		t.Fatalf("Status = %v, want closed", got)
	}
}

func TestSnapshotModeFetchesOnce(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	f := &fakeFetcher{data: `{"turn":7}`}
	c := NewClient(d, f)
	events, cancel := c.Subscribe("g1")
	defer cancel()

	if err := c.Open(context.Background(), "g1", Snapshot); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("fetch ran %d times, want 1", f.calls)
	}
	if d.dials() != 0 {
		t.Fatalf("snapshot mode dialed %d connections", d.dials())
	}
	if got := c.Status("g1"); got != Snapshotted {
		t.Fatalf("Status = %v, want snapshotted", got)
	}
	if ev := waitEvent(t, events); ev.Kind != EventState || turnOf(t, ev.State) != 7 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestSnapshotSupersedesStream(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := NewClient(d, &fakeFetcher{data: `{"turn":4}`})

	if err := c.Open(context.Background(), "g1", Streaming); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Open(context.Background(), "g1", Snapshot); err != nil {
		t.Fatalf("Open snapshot: %v", err)
	}
	if !d.conn(0).isClosed() {
		t.Fatal("streaming connection survived a snapshot open")
	}
	d.conn(0).send(`{"turn":9}`)
	time.Sleep(20 * time.Millisecond)
	if latest, _ := c.Latest("g1"); turnOf(t, latest) != 4 {
		t.Fatalf("Latest = %s, want snapshot state", latest)
	}
}

func TestSnapshotFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    *fakeFetcher
		want error
	}{
		{name: "fetch error", f: &fakeFetcher{err: apperrors.New(apperrors.CodeNotFound, "no game")}, want: apperrors.ErrNotFound},
		{name: "invalid payload", f: &fakeFetcher{data: "<html>"}, want: apperrors.ErrUnavailable},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := NewClient(&fakeDialer{}, tc.f)
			events, cancel := c.Subscribe("g1")
			defer cancel()

			err := c.Open(context.Background(), "g1", Snapshot)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if ev := waitEvent(t, events); ev.Kind != EventConnectionFailed {
				t.Fatalf("event = %+v, want connection failed", ev)
			}
			if _, ok := c.Latest("g1"); ok {
				t.Fatal("failed snapshot must not set state")
			}
		})
	}
}

func TestLateSubscriberGetsNoReplay(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := NewClient(d, &fakeFetcher{})
	early, cancelEarly := c.Subscribe("g1")
	defer cancelEarly()

	if err := c.Open(context.Background(), "g1", Streaming); err != nil {
		t.Fatalf("Open: %v", err)
	}
	d.conn(0).send(`{"turn":1}`)
	waitEvent(t, early)

	late, cancelLate := c.Subscribe("g1")
	defer cancelLate()
	select {
	case ev := <-late:
		t.Fatalf("late subscriber received replayed event %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
	if latest, ok := c.Latest("g1"); !ok || turnOf(t, latest) != 1 {
		t.Fatalf("Latest = %s, %v", latest, ok)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	c := NewClient(&fakeDialer{}, &fakeFetcher{})
	events, cancel := c.Subscribe("g1")
	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Fatal("expected closed channel")
	}
}

func TestShutdownClosesAllSessions(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	c := NewClient(d, &fakeFetcher{})
	for _, id := range []string{"a", "b"} {
		if err := c.Open(context.Background(), id, Streaming); err != nil {
			t.Fatalf("Open %s: %v", id, err)
		}
	}
	c.Shutdown()
	for i := 0; i < d.dials(); i++ {
		if !d.conn(i).isClosed() {
			t.Fatalf("connection %d left open", i)
		}
	}
}

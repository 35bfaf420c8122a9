// Package session keeps a local copy of remote game state in sync with an
// authoritative server.
//
// Each session has at most one current connection, identified by a token
// that changes on every Open and Close. Messages read on a connection whose
// token is no longer current are dropped and that connection is closed.
// States are delivered whole; the newest accepted state replaces the last.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	apperrors "example.com/mtg_board_viewer/internal/platform/errors"
)

// Mode selects how a session obtains state.
type Mode int

const (
	// Streaming keeps a persistent connection open and applies every
	// pushed snapshot.
	Streaming Mode = iota
	// Snapshot issues one read-only request.
	Snapshot
)

func (m Mode) String() string {
	switch m {
	case Streaming:
		return "streaming"
	case Snapshot:
		return "snapshot"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Status is the lifecycle state of one session.
type Status int

const (
	Idle Status = iota
	Connecting
	Live
	Closed
	Fetching
	Snapshotted
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Closed:
		return "closed"
	case Fetching:
		return "fetching"
	case Snapshotted:
		return "snapshotted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Conn is one persistent connection delivering whole-state messages.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens streaming connections.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Conn, error)
}

// Fetcher performs point-in-time reads for snapshot sessions.
type Fetcher interface {
	Fetch(ctx context.Context, sessionID string) ([]byte, error)
}

// EventKind classifies subscriber events.
type EventKind int

const (
	// EventState carries a newly accepted state.
	EventState EventKind = iota
	// EventConnectionFailed reports a failed dial or fetch.
	EventConnectionFailed
	// EventDisconnected reports that the current connection ended.
	EventDisconnected
)

// Event is delivered to subscribers.
type Event struct {
	SessionID string
	Kind      EventKind
	State     json.RawMessage
	Err       error
}

const subscriberBuffer = 8

// Client owns the sessions it opens. It is safe for concurrent use.
type Client struct {
	dialer  Dialer
	fetcher Fetcher

	mu        sync.Mutex
	sessions  map[string]*gameSession
	lastToken uint64
	lastSub   int
}

type gameSession struct {
	id      string
	mode    Mode
	status  Status
	current uint64 // 0 when there is no current handle
	conn    Conn
	latest  json.RawMessage
	subs    map[int]chan Event
}

// NewClient creates a client that dials streaming sessions with dialer and
// reads snapshot sessions with fetcher.
func NewClient(dialer Dialer, fetcher Fetcher) *Client {
	return &Client{
		dialer:   dialer,
		fetcher:  fetcher,
		sessions: make(map[string]*gameSession),
	}
}

// session returns the record for id, creating it. Callers hold c.mu.
func (c *Client) session(id string) *gameSession {
	s, ok := c.sessions[id]
	if !ok {
		s = &gameSession{id: id, subs: make(map[int]chan Event)}
		c.sessions[id] = s
	}
	return s
}

// Open starts syncing sessionID. Any connection opened earlier for the
// session stops being current and is closed before the new one is made.
//
// In Streaming mode Open returns once the connection is live; messages are
// then read in the background. In Snapshot mode Open performs exactly one
// fetch and never dials. If another Open or Close for the same session
// happens while this one is blocked, Open discards its result and returns
// an error matching apperrors.ErrStale.
func (c *Client) Open(ctx context.Context, sessionID string, mode Mode) error {
	c.mu.Lock()
	s := c.session(sessionID)
	old := s.conn
	s.conn = nil
	c.lastToken++
	token := c.lastToken
	s.current = token
	s.mode = mode
	if mode == Snapshot {
		s.status = Fetching
	} else {
		s.status = Connecting
	}
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	if mode == Snapshot {
		return c.fetch(ctx, s, token)
	}
	return c.dial(ctx, s, token)
}

func (c *Client) dial(ctx context.Context, s *gameSession, token uint64) error {
	conn, err := c.dialer.Dial(ctx, s.id)

	c.mu.Lock()
	if s.current != token {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return apperrors.Wrap(apperrors.CodeStale, "open superseded", err)
	}
	if err != nil {
		s.current = 0
		s.status = Closed
		err = apperrors.Wrap(apperrors.CodeUnavailable, fmt.Sprintf("connect session %s", s.id), err)
		c.publish(s, Event{SessionID: s.id, Kind: EventConnectionFailed, Err: err})
		c.mu.Unlock()
		return err
	}
	s.conn = conn
	s.status = Live
	c.mu.Unlock()

	log.Printf("session %s: connected", s.id)
	go c.readLoop(s, token, conn)
	return nil
}

func (c *Client) fetch(ctx context.Context, s *gameSession, token uint64) error {
	data, err := c.fetcher.Fetch(ctx, s.id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if s.current != token {
		return apperrors.Wrap(apperrors.CodeStale, "snapshot superseded", err)
	}
	if err == nil && !json.Valid(data) {
		err = apperrors.New(apperrors.CodeUnavailable, "snapshot payload is not JSON")
	}
	if err != nil {
		s.current = 0
		s.status = Closed
		err = fmt.Errorf("fetch session %s: %w", s.id, err)
		c.publish(s, Event{SessionID: s.id, Kind: EventConnectionFailed, Err: err})
		return err
	}
	s.latest = json.RawMessage(data)
	s.status = Snapshotted
	c.publish(s, Event{SessionID: s.id, Kind: EventState, State: s.latest})
	return nil
}

// readLoop applies messages from conn while token stays current.
func (c *Client) readLoop(s *gameSession, token uint64, conn Conn) {
	for {
		data, err := conn.Read(context.Background())

		c.mu.Lock()
		if s.current != token {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		if err != nil {
			s.current = 0
			s.conn = nil
			s.status = Closed
			c.publish(s, Event{
				SessionID: s.id,
				Kind:      EventDisconnected,
				Err:       apperrors.Wrap(apperrors.CodeUnavailable, fmt.Sprintf("session %s connection lost", s.id), err),
			})
			c.mu.Unlock()
			_ = conn.Close()
			log.Printf("session %s: disconnected: %v", s.id, err)
			return
		}
		if !json.Valid(data) {
			c.mu.Unlock()
			log.Printf("session %s: dropping malformed state message (%d bytes)", s.id, len(data))
			continue
		}
		s.latest = json.RawMessage(data)
		c.publish(s, Event{SessionID: s.id, Kind: EventState, State: s.latest})
		c.mu.Unlock()
	}
}

// publish fans ev out without blocking. A subscriber that has fallen behind
// loses its oldest pending event. Callers hold c.mu.
func (c *Client) publish(s *gameSession, ev Event) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops syncing sessionID and closes its current connection. Closing
// an unknown or already closed session does nothing.
func (c *Client) Close(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok || (s.current == 0 && s.conn == nil) {
		if ok && s.status != Idle {
			s.status = Closed
		}
		c.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.current = 0
	s.status = Closed
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Subscribe returns a channel of events for sessionID and a function that
// ends the subscription. Past events are not replayed; use Latest for the
// current state.
func (c *Client) Subscribe(sessionID string) (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session(sessionID)
	c.lastSub++
	id := c.lastSub
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(s.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Latest returns the most recently accepted state of sessionID.
func (c *Client) Latest(sessionID string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok || s.latest == nil {
		return nil, false
	}
	return s.latest, true
}

// Status reports the lifecycle state of sessionID.
func (c *Client) Status(sessionID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		return s.status
	}
	return Idle
}

// Shutdown closes every session.
func (c *Client) Shutdown() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Close(id)
	}
}

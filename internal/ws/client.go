// Package ws carries game state between the relay server and viewers: the
// Hub side accepts published states and pushes them over websockets, the
// Remote side dials those websockets and reads snapshots for viewers.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "example.com/mtg_board_viewer/internal/platform/errors"
	"example.com/mtg_board_viewer/internal/session"
	"nhooyr.io/websocket"
)

// Remote talks to a relay server at an http(s) base URL. It implements
// session.Dialer and session.Fetcher.
type Remote struct {
	base *url.URL
	http *http.Client
}

// NewRemote creates a Remote for baseURL. A nil client uses
// http.DefaultClient.
func NewRemote(baseURL string, client *http.Client) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{base: u, http: client}, nil
}

func (r *Remote) endpoint(scheme string, segments ...string) string {
	u := *r.base
	if scheme != "" {
		u.Scheme = scheme
	}
	u.RawPath = ""
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/")
	return u.String()
}

// Dial opens the websocket for a game.
func (r *Remote) Dial(ctx context.Context, gameID string) (session.Conn, error) {
	scheme := "ws"
	if r.base.Scheme == "https" {
		scheme = "wss"
	}
	c, resp, err := websocket.Dial(ctx, r.endpoint(scheme, "ws", gameID), &websocket.DialOptions{HTTPClient: r.http})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, "dial game "+gameID, err)
		}
		return nil, fmt.Errorf("dial game %s: %w", gameID, err)
	}
	c.SetReadLimit(maxStateBytes)
	return &conn{c: c}, nil
}

// Fetch reads the current state of a game once.
func (r *Remote) Fetch(ctx context.Context, gameID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint("", "games", gameID), nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "snapshot request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.New(apperrors.CodeNotFound, "no state for game "+gameID)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.New(apperrors.CodeUnavailable, "snapshot returned "+resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStateBytes))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "read snapshot", err)
	}
	return data, nil
}

// CreateGame asks the server for a new game id.
func (r *Remote) CreateGame(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint("", "create_game"), nil)
	if err != nil {
		return "", fmt.Errorf("build create request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnavailable, "create game", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.New(apperrors.CodeUnavailable, "create game returned "+resp.Status)
	}

	var out createGameResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if out.GameID == "" {
		return "", fmt.Errorf("create response has no game id")
	}
	return out.GameID, nil
}

type conn struct {
	c *websocket.Conn
}

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.c.Read(ctx)
	return data, err
}

func (c *conn) Close() error {
	return c.c.Close(websocket.StatusNormalClosure, "closing")
}

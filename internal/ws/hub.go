package ws

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	maxStateBytes = 4 << 20
	pingInterval  = 15 * time.Second
	writeTimeout  = 10 * time.Second
)

// ---------- client / room / hub ----------

type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Room holds the latest whole state of one game and the viewers watching it.
type Room struct {
	ID      string
	State   json.RawMessage // nil until the game master publishes
	clients map[*Client]struct{}
}

// Hub relays game-master state snapshots to websocket viewers. A viewer
// receives the current state on connect and every published state after.
type Hub struct {
	allowOrigins map[string]bool

	roomsMu sync.RWMutex
	rooms   map[string]*Room
}

func NewHub(allow []string) *Hub {
	m := map[string]bool{}
	for _, a := range allow {
		if a = strings.TrimSpace(a); a != "" {
			m[a] = true
		}
	}
	return &Hub{
		allowOrigins: m,
		rooms:        map[string]*Room{},
	}
}

// Routes registers the relay endpoints on mux.
func (h *Hub) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{game}", h.ServeWS)
	mux.HandleFunc("GET /games/{game}", h.serveSnapshot)
	mux.HandleFunc("POST /games/{game}/state", h.servePublish)
	mux.HandleFunc("POST /create_game", h.serveCreate)
}

// ---------- websockets ----------

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}
	gameID := r.PathValue("game")

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	client := &Client{id: randID(), conn: c, send: make(chan []byte, 64)}
	h.join(gameID, client)
	log.Printf("client %s watching game %s", client.id, gameID)

	// writer
	go func() {
		ping := time.NewTicker(pingInterval)
		defer func() { ping.Stop(); _ = c.Close(websocket.StatusNormalClosure, "bye") }()
		for {
			select {
			case msg, ok := <-client.send:
				if !ok {
					return
				}
				if err := write(r, c, msg); err != nil {
					return
				}
			case <-ping.C:
				_ = c.Ping(r.Context())
			}
		}
	}()

	// reader: viewers never send anything meaningful; reading keeps the
	// connection alive and notices when it goes away.
	for {
		if _, _, err := c.Read(r.Context()); err != nil {
			break
		}
	}

	h.leave(gameID, client)
	log.Printf("client %s disconnected from game %s", client.id, gameID)
}

func write(r *http.Request, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, msg)
}

func (h *Hub) join(gameID string, client *Client) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	room := h.room(gameID)
	room.clients[client] = struct{}{}
	if room.State != nil {
		enqueue(client, room.State)
	}
}

func (h *Hub) leave(gameID string, client *Client) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if room, ok := h.rooms[gameID]; ok {
		if _, ok := room.clients[client]; ok {
			delete(room.clients, client)
			close(client.send)
		}
	}
}

// room returns the room for gameID, creating it. Callers hold roomsMu.
func (h *Hub) room(gameID string) *Room {
	room, ok := h.rooms[gameID]
	if !ok {
		room = &Room{ID: gameID, clients: map[*Client]struct{}{}}
		h.rooms[gameID] = room
	}
	return room
}

// Publish stores state as the current state of gameID and pushes it to
// every viewer of that game.
func (h *Hub) Publish(gameID string, state json.RawMessage) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	room := h.room(gameID)
	room.State = state
	for cli := range room.clients {
		enqueue(cli, state)
	}
}

// Snapshot returns the current state of gameID.
func (h *Hub) Snapshot(gameID string) (json.RawMessage, bool) {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	room, ok := h.rooms[gameID]
	if !ok || room.State == nil {
		return nil, false
	}
	return room.State, true
}

// CreateGame registers an empty room and returns its id.
func (h *Hub) CreateGame() string {
	id := randID()
	h.roomsMu.Lock()
	h.room(id)
	h.roomsMu.Unlock()
	log.Printf("game %s created", id)
	return id
}

// ---------- HTTP endpoints ----------

func (h *Hub) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	state, ok := h.Snapshot(r.PathValue("game"))
	if !ok {
		http.Error(w, "no state for game", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(state)
}

func (h *Hub) servePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStateBytes+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxStateBytes {
		http.Error(w, "state too large", http.StatusRequestEntityTooLarge)
		return
	}
	var state bytes.Buffer
	if err := json.Compact(&state, body); err != nil {
		http.Error(w, "state must be JSON", http.StatusBadRequest)
		return
	}
	h.Publish(r.PathValue("game"), json.RawMessage(state.Bytes()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) serveCreate(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(createGameResponse{GameID: h.CreateGame()})
}

type createGameResponse struct {
	GameID string `json:"game_id"`
}

// ---------- helpers ----------

func randID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// enqueue hands msg to the client's writer. A backed-up writer loses its
// oldest pending state, never the newest.
func enqueue(c *Client, msg []byte) {
	select {
	case c.send <- msg:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- msg:
	default:
	}
}

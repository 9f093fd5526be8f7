package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

var (
	// ErrLocked is returned when a team client joins a locked auction.
	ErrLocked = errors.New("auction is locked for teams")
	// ErrClosed is returned when a connection went away while joining.
	ErrClosed = errors.New("connection closed")
)

// StateProvider serves the read side of live auctions.
type StateProvider interface {
	Snapshot(ctx context.Context, code string) (engine.View, error)
	Summary(ctx context.Context, code string) (*engine.Summary, error)
	ListActive(ctx context.Context) ([]engine.View, error)
}

// BidRouter forwards bids typed into a websocket to the session writer.
type BidRouter interface {
	PlaceBid(ctx context.Context, code string, actor engine.Actor, teamID string, amount int64) (engine.Result, error)
}

// Backend is everything the gateway needs from the auction server.
type Backend interface {
	StateProvider
	BidRouter
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	BidTimeout      time.Duration
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBuffer:      256,
		BidTimeout:      5 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Hub fans committed batches out to the subscribers of each tournament. A
// subscriber first receives one snapshot, then every event with a higher
// sequence, in order and without gaps. Subscribers that fall behind are
// dropped and reconnect for a fresh snapshot.
type Hub struct {
	state  StateProvider
	bids   BidRouter
	config ConnectionConfig

	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*Connection]bool
}

func NewHub(config ConnectionConfig, backend Backend) *Hub {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	if config.BidTimeout <= 0 {
		config.BidTimeout = DefaultConnectionConfig().BidTimeout
	}
	return &Hub{
		state:  backend,
		bids:   backend,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		rooms: make(map[string]map[*Connection]bool),
	}
}

// NewConnection builds a connection for code. ws may be nil for subscribers
// that read Send directly.
func (h *Hub) NewConnection(code string, actor engine.Actor, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:          uuid.NewString(),
		Code:        code,
		Actor:       actor,
		Conn:        ws,
		Send:        make(chan []byte, h.config.SendBuffer),
		hub:         h,
		ConnectedAt: time.Now(),
	}
}

// Subscribe registers c and queues the snapshot it starts from. Batches that
// arrive while the snapshot is fetched are held back and replayed after it.
func (h *Hub) Subscribe(ctx context.Context, c *Connection) error {
	h.mu.Lock()
	if h.rooms[c.Code] == nil {
		h.rooms[c.Code] = make(map[*Connection]bool)
	}
	h.rooms[c.Code][c] = true
	h.mu.Unlock()

	view, err := h.state.Snapshot(ctx, c.Code)
	if err == nil && view.IsLocked && c.Actor.Role == engine.RoleTeam {
		err = ErrLocked
	}
	if err != nil {
		h.unregister(c)
		return err
	}

	snapshot, err := json.Marshal(engine.Event{
		ID:             uuid.NewString(),
		Sequence:       view.Sequence,
		TournamentCode: c.Code,
		Type:           engine.EventSnapshot,
		Timestamp:      view.ServerTime,
		State:          view,
	})
	if err != nil {
		h.unregister(c)
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !h.sendLocked(c, snapshot) {
		return ErrClosed
	}
	c.lastSeq = view.Sequence
	c.ready = true
	backlog := c.backlog
	c.backlog = nil
	h.deliverLocked(c, backlog, nil)

	log.Debug().
		Str("connection_id", c.ID).
		Str("tournament_code", c.Code).
		Str("role", string(c.Actor.Role)).
		Uint64("sequence", view.Sequence).
		Int("replayed", len(backlog)).
		Msg("subscriber joined")
	return nil
}

// Commit lets the hub sit directly behind a runner.
func (h *Hub) Commit(_ context.Context, c engine.Commit) {
	h.Publish(c.Batch)
}

// Publish delivers the events of b to the tournament's subscribers.
func (h *Hub) Publish(b engine.Batch) {
	if len(b.Events) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[b.TournamentCode]
	if len(room) == 0 {
		return
	}

	encoded := make([][]byte, len(b.Events))
	for i := range b.Events {
		data, err := json.Marshal(b.Events[i])
		if err != nil {
			log.Error().Err(err).Str("tournament_code", b.TournamentCode).Msg("failed to marshal event for broadcast")
			return
		}
		encoded[i] = data
	}

	for c := range room {
		if !c.ready {
			c.backlog = append(c.backlog, b.Events...)
			continue
		}
		if !h.deliverLocked(c, b.Events, encoded) {
			continue
		}
		if b.Snapshot.IsLocked && c.Actor.Role == engine.RoleTeam {
			log.Info().
				Str("connection_id", c.ID).
				Str("team_id", c.Actor.TeamID).
				Msg("auction locked, closing team connection")
			h.dropLocked(c)
		}
	}

	log.Debug().
		Str("tournament_code", b.TournamentCode).
		Int("events", len(b.Events)).
		Int("connections", len(room)).
		Msg("batch broadcasted")
}

// deliverLocked sends the events newer than what c has seen. encoded, when
// set, holds the marshalled events. It reports whether c is still connected.
func (h *Hub) deliverLocked(c *Connection, events []engine.Event, encoded [][]byte) bool {
	for i := range events {
		if events[i].Sequence <= c.lastSeq {
			continue
		}
		var data []byte
		if encoded != nil {
			data = encoded[i]
		} else {
			var err error
			if data, err = json.Marshal(events[i]); err != nil {
				log.Error().Err(err).Msg("failed to marshal event for replay")
				continue
			}
		}
		if !h.sendLocked(c, data) {
			return false
		}
		c.lastSeq = events[i].Sequence
	}
	return true
}

// sendLocked queues data without blocking. A full buffer drops the connection.
func (h *Hub) sendLocked(c *Connection, data []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("tournament_code", c.Code).
			Msg("connection send buffer full, closing connection")
		h.dropLocked(c)
		return false
	}
}

// reply sends a message to c alone.
func (h *Hub) reply(c *Connection, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendLocked(c, data)
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// dropLocked removes c and closes its send channel, which makes the write
// loop close the socket.
func (h *Hub) dropLocked(c *Connection) {
	if c.closed {
		return
	}
	c.closed = true
	c.backlog = nil
	if room, ok := h.rooms[c.Code]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.Code)
		}
	}
	close(c.Send)

	log.Info().
		Str("connection_id", c.ID).
		Str("tournament_code", c.Code).
		Msg("connection unregistered")
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range h.rooms {
		for c := range room {
			h.dropLocked(c)
		}
	}
}

type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveAuctions   int            `json:"active_auctions"`
	Connections      map[string]int `json:"connections"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{ActiveAuctions: len(h.rooms), Connections: make(map[string]int, len(h.rooms))}
	for code, room := range h.rooms {
		st.Connections[code] = len(room)
		st.TotalConnections += len(room)
	}
	return st
}

var _ engine.Sink = (*Hub)(nil)

package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
)

// Connection is one websocket subscriber of a tournament.
type Connection struct {
	ID          string
	Code        string
	Actor       engine.Actor
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time

	hub *Hub

	// guarded by hub.mu
	ready   bool
	closed  bool
	lastSeq uint64
	backlog []engine.Event
}

// clientMessage is what clients may send over the socket.
type clientMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
}

type serverReply struct {
	Type       string           `json:"type"`
	RequestID  string           `json:"request_id,omitempty"`
	Accepted   bool             `json:"accepted,omitempty"`
	Rejection  *rules.Rejection `json:"rejection,omitempty"`
	NextAmount int64            `json:"next_amount,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// writeLoop owns every write to the socket. Messages queued while a frame is
// in flight go out back to back before the loop waits again. A closed Send
// channel ends the subscription with a normal close frame.
func (c *Connection) writeLoop() {
	cfg := c.hub.config
	keepalive := time.NewTicker(cfg.PingInterval)
	defer keepalive.Stop()
	defer c.hub.unregister(c)
	defer c.Conn.Close()

	for {
		var err error
		select {
		case <-keepalive.C:
			err = c.write(websocket.PingMessage, nil)
		case msg, open := <-c.Send:
			if !open {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscription ended"))
				return
			}
			err = c.write(websocket.TextMessage, msg)
			for n := len(c.Send); err == nil && n > 0; n-- {
				if msg, open = <-c.Send; !open {
					break
				}
				err = c.write(websocket.TextMessage, msg)
			}
		}
		if err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Str("tournament_code", c.Code).Msg("websocket write failed, dropping subscriber")
			return
		}
	}
}

func (c *Connection) write(kind int, data []byte) error {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(kind, data)
}

// readLoop handles client messages until the socket fails or closes. Every
// frame or pong pushes the read deadline out again.
func (c *Connection) readLoop() {
	cfg := c.hub.config
	defer c.hub.unregister(c)
	defer c.Conn.Close()

	extend := func() error { return c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)) }
	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	_ = extend()
	c.Conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.Conn.ReadMessage()
		switch {
		case err == nil:
			c.handleClientMessage(message)
			_ = extend()
			continue
		case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure):
			log.Warn().Err(err).Str("connection_id", c.ID).Str("tournament_code", c.Code).Msg("websocket closed unexpectedly")
		}
		return
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.respond(serverReply{Type: "error", Error: "malformed message"})
		return
	}

	switch msg.Type {
	case "ping":
		c.respond(serverReply{Type: "pong", RequestID: msg.RequestID})
	case "bid":
		c.handleBid(msg)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", msg.Type).
			Msg("ignoring client message")
		c.respond(serverReply{Type: "error", RequestID: msg.RequestID, Error: "unknown message type"})
	}
}

// handleBid places a bid for the connection's own team. The outcome goes to
// this client only; the resulting events reach everyone through the hub.
func (c *Connection) handleBid(msg clientMessage) {
	if c.Actor.Role != engine.RoleTeam {
		c.respond(serverReply{
			Type:      "bid_result",
			RequestID: msg.RequestID,
			Rejection: rules.Reject(engine.ReasonForbidden, "only team clients can bid over the socket"),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.config.BidTimeout)
	defer cancel()
	res, err := c.hub.bids.PlaceBid(ctx, c.Code, c.Actor, c.Actor.TeamID, msg.Amount)
	if err != nil {
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Str("team_id", c.Actor.TeamID).
			Msg("failed to route bid")
		c.respond(serverReply{Type: "bid_result", RequestID: msg.RequestID, Error: "bid could not be processed"})
		return
	}
	c.respond(serverReply{
		Type:       "bid_result",
		RequestID:  msg.RequestID,
		Accepted:   res.Accepted,
		Rejection:  res.Rejection,
		NextAmount: res.NextAmount,
	})
}

func (c *Connection) respond(r serverReply) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	c.hub.reply(c, data)
}

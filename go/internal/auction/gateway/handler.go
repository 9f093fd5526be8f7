package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

// Handler serves the websocket endpoint and the read-only HTTP routes.
type Handler struct {
	hub   *Hub
	state StateProvider
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub, state: hub.state}
}

// Routes mounts the public routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/ws/auction/{code}", h.serveWS)
	r.Get("/ws/stats", h.stats)
	r.Route("/api/auctions", func(r chi.Router) {
		r.Get("/", h.listActive)
		r.Get("/{code}/state", h.getState)
		r.Get("/{code}/summary", h.getSummary)
	})
}

// actorFromQuery reads ?role=team&team_id=A. Clients without a role watch.
func actorFromQuery(r *http.Request) (engine.Actor, error) {
	q := r.URL.Query()
	actor := engine.Actor{Role: engine.Role(q.Get("role")), TeamID: q.Get("team_id")}
	switch actor.Role {
	case "":
		actor.Role = engine.RoleDisplay
	case engine.RoleDisplay, engine.RoleAdmin:
	case engine.RoleTeam:
		if actor.TeamID == "" {
			return actor, errors.New("team_id is required for team clients")
		}
	default:
		return actor, errors.New("unknown role")
	}
	return actor, nil
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	actor, err := actorFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// refuse before upgrading so clients get a plain status code
	view, err := h.state.Snapshot(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	if view.IsLocked && actor.Role == engine.RoleTeam {
		writeError(w, ErrLocked)
		return
	}

	ws, err := h.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("tournament_code", code).Msg("failed to upgrade WebSocket connection")
		return
	}

	conn := h.hub.NewConnection(code, actor, ws)
	if err := h.hub.Subscribe(r.Context(), conn); err != nil {
		log.Warn().Err(err).Str("tournament_code", code).Msg("subscription refused")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = ws.WriteMessage(websocket.CloseMessage, msg)
		ws.Close()
		return
	}

	go conn.writeLoop()
	go conn.readLoop()

	log.Info().
		Str("connection_id", conn.ID).
		Str("tournament_code", code).
		Str("role", string(actor.Role)).
		Str("team_id", actor.TeamID).
		Msg("WebSocket connection established")
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	view, err := h.state.Snapshot(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	view.AuditLog = nil
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.state.Summary(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	if sum == nil {
		http.Error(w, "auction has not completed", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) listActive(w http.ResponseWriter, r *http.Request) {
	views, err := h.state.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"auctions": views})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Stats())
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNoSession):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrLocked):
		http.Error(w, err.Error(), http.StatusLocked)
	default:
		log.Error().Err(err).Msg("auction read failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

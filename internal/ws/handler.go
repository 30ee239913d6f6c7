// Package ws is the websocket surface of the session service: it
// authenticates and admits connections, decodes inbound event frames and
// dispatches them to the lifecycle and play controllers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wortley/unichess/internal/admission"
	"github.com/wortley/unichess/internal/broker"
	"github.com/wortley/unichess/internal/game"
	"github.com/wortley/unichess/internal/play"
	"github.com/wortley/unichess/internal/session"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 50 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	// TODO(wortley): restrict to the UI origins once the dev proxy is gone.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// TokenVerifier is the identity collaborator contract.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Handler upgrades connections and runs their read pumps.
type Handler struct {
	verifier TokenVerifier
	limiter  *admission.Limiter
	cm       *ConnectionManager
	sessions *session.Controller
	play     *play.Controller
	gateway  broker.Gateway
}

func NewHandler(verifier TokenVerifier, limiter *admission.Limiter, cm *ConnectionManager, sessions *session.Controller, playCtrl *play.Controller, gateway broker.Gateway) *Handler {
	return &Handler{
		verifier: verifier,
		limiter:  limiter,
		cm:       cm,
		sessions: sessions,
		play:     playCtrl,
		gateway:  gateway,
	}
}

// ServeHTTP verifies identity, applies admission control and hands the
// connection to the read pump.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	connID := uuid.NewString()
	cn := &conn{ws: ws}

	if !h.limiter.Consume() {
		slog.Warn("Connection limit exceeded, disconnecting", "connID", connID)
		cn.writeJSON(envelope{Event: "error", Data: "Connection limit exceeded"})
		ws.Close()
		return
	}

	h.cm.Add(connID, ws)
	slog.Info("Client connected", "connID", connID, "userID", userID)
	h.readPump(ws, connID)
}

// readPump decodes inbound frames until the connection drops, then runs the
// leave cleanup. Leave is idempotent, so an explicit exit followed by the
// disconnect-triggered call is safe.
func (h *Handler) readPump(ws *websocket.Conn, connID string) {
	done := make(chan struct{})
	go pingLoop(ws, done, pingInterval)

	defer func() {
		close(done)
		h.cm.Remove(connID)
		if err := h.sessions.Leave(context.Background(), connID); err != nil {
			slog.Error("Failed to clear game on disconnect", "connID", connID, "error", err)
		}
		ws.Close()
		slog.Info("Client disconnected", "connID", connID)
	}()

	ws.SetReadDeadline(time.Now().Add(readDeadline))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket connection closed unexpectedly", "connID", connID, "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readDeadline))

		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			h.cm.Emit(connID, game.Event{Name: "error", Data: "Malformed message"})
			continue
		}

		if err := h.dispatch(context.Background(), connID, env.Event, env.Data); err != nil {
			h.reportError(connID, err)
		}
	}
}

// pingLoop keeps an otherwise idle connection alive. Browser clients cannot
// initiate pings, and a player routinely idles past the read deadline while
// the opponent thinks, so the server pings and the pong handler pushes the
// deadline out. Control frames may be written concurrently with other writes.
func pingLoop(ws *websocket.Conn, done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound event to its controller.
func (h *Handler) dispatch(ctx context.Context, connID, event string, data json.RawMessage) error {
	switch event {
	case "create":
		var timeControl int
		if err := json.Unmarshal(data, &timeControl); err != nil || timeControl <= 0 {
			return game.NewError(game.KindBadRequest, "Invalid time control", connID)
		}
		_, err := h.sessions.Create(ctx, connID, timeControl)
		return err
	case "join":
		var gameID string
		if err := json.Unmarshal(data, &gameID); err != nil || gameID == "" {
			return game.NewError(game.KindBadRequest, "Invalid game id", connID)
		}
		return h.sessions.Join(ctx, connID, gameID)
	case "move":
		var uci string
		if err := json.Unmarshal(data, &uci); err != nil || uci == "" {
			return game.NewError(game.KindBadRequest, "Invalid move", connID)
		}
		return h.play.Move(ctx, connID, uci)
	case "offerDraw":
		return h.play.OfferDraw(ctx, connID)
	case "acceptDraw":
		return h.play.AcceptDraw(ctx, connID)
	case "resign":
		return h.play.Resign(ctx, connID)
	case "flag":
		var flagged game.Colour
		if err := json.Unmarshal(data, &flagged); err != nil || (flagged != game.White && flagged != game.Black) {
			return game.NewError(game.KindBadRequest, "Invalid flag payload", connID)
		}
		return h.play.Flag(ctx, connID, flagged)
	case "offerRematch":
		return h.sessions.OfferRematch(ctx, connID)
	case "acceptRematch":
		return h.sessions.AcceptRematch(ctx, connID)
	case "exit":
		return h.sessions.Leave(ctx, connID)
	}
	return game.NewError(game.KindBadRequest, "Unknown event: "+event, connID)
}

// reportError delivers a user-visible error to the scope it affects:
// session-wide errors are published through the broker, everything else is
// emitted to the offending connection alone.
func (h *Handler) reportError(connID string, err error) {
	var gerr *game.Error
	if !errors.As(err, &gerr) {
		slog.Error("Unhandled controller error", "connID", connID, "error", err)
		h.cm.Emit(connID, game.Event{Name: "error", Data: "Internal server error"})
		return
	}

	ev := game.Event{Name: "error", Data: gerr.Message}
	if gerr.Broadcast && gerr.GameID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if perr := h.gateway.Publish(ctx, gerr.GameID, ev, game.BroadcastKey); perr != nil {
			slog.Error("Failed to publish session error", "gameID", gerr.GameID, "error", perr)
		}
		return
	}
	target := gerr.ConnID
	if target == "" {
		target = connID
	}
	if eerr := h.cm.Emit(target, ev); eerr != nil {
		slog.Warn("Failed to emit error event", "connID", target, "error", eerr)
	}
}

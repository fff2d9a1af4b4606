package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pscheid92/eventrelay/internal/domain"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
)

// ServeHTTP authenticates the handshake, upgrades the connection and runs its
// read loop until the client goes away.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socketID := uuid.NewString()
	conn := &connection{socketID: socketID, state: StateConnecting}

	identity, aerr := m.auth.Authenticate(r.Context(), r, socketID)
	if aerr != nil {
		m.reject(w, aerr, "auth")
		return
	}
	conn.identity = identity
	if identity.Anonymous {
		conn.transition(StateAnonymous)
	} else {
		conn.transition(StateAuthenticated)
	}

	if err := m.admit(identity.UserID); err != nil {
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			m.reject(w, apperrors.RateLimitedError("too many messages, try again later"), "rate_limited")
		case errors.Is(err, domain.ErrTooManyConnections):
			m.reject(w, apperrors.UnavailableError("connection limit reached", err), "capacity")
		default:
			m.reject(w, apperrors.UnavailableError("server is shutting down", err), "unavailable")
		}
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		m.metrics.RejectedHandshakes.WithLabelValues("upgrade").Inc()
		slog.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	conn.ws = ws

	if err := m.register(conn); err != nil {
		m.metrics.RejectedHandshakes.WithLabelValues("capacity").Inc()
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit reached")
		_ = ws.WriteMessage(websocket.CloseMessage, msg)
		_ = ws.Close()
		return
	}

	m.readLoop(conn)
}

func (m *Manager) reject(w http.ResponseWriter, err *apperrors.Error, reason string) {
	m.metrics.RejectedHandshakes.WithLabelValues(reason).Inc()
	slog.Info("WebSocket handshake rejected", "reason", reason, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(err.ToResponse())
}

func (m *Manager) readLoop(c *connection) {
	defer m.unregister(c.socketID)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("WebSocket read failed", "socket_id", c.socketID, "error", err)
			}
			return
		}
		c.writer.updateReadDeadline()

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			m.recordError("malformed")
			c.writer.enqueue(encodeFrame(Frame{
				Event:      EventMessageError,
				Data:       mustRaw(apperrors.ValidationError("malformed frame").ToResponse()),
				Timestamp:  m.clock.Now().UnixMilli(),
				InstanceID: m.opts.InstanceID,
			}))
			continue
		}

		if !m.send(clientEventCmd{socketID: c.socketID, frame: f}) {
			return
		}
	}
}

package session

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// ConnState is the lifecycle position of one connection. Disconnected is
// terminal; a reconnecting client gets a new socket id.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateAnonymous
	StateJoined
	StateActive
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

func (s ConnState) canTransition(to ConnState) bool {
	if to == StateDisconnected {
		return s != StateDisconnected
	}
	switch s {
	case StateConnecting:
		return to == StateAuthenticated || to == StateAnonymous
	case StateAuthenticated, StateAnonymous:
		return to == StateJoined
	case StateJoined:
		return to == StateActive
	default:
		return false
	}
}

type connection struct {
	socketID    string
	identity    domain.Identity
	ws          *websocket.Conn
	writer      *clientWriter
	state       ConnState
	connectedAt time.Time
}

func (c *connection) transition(to ConnState) bool {
	if !c.state.canTransition(to) {
		slog.Warn("Invalid connection state transition", "socket_id", c.socketID, "from", c.state, "to", to)
		return false
	}
	slog.Debug("Connection state changed", "socket_id", c.socketID, "user_id", c.identity.UserID, "from", c.state, "to", to)
	c.state = to
	return true
}

package session

import (
	"fmt"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// registry maps users to their sockets and back. Only the actor touches it.
type registry struct {
	byUser   map[string]map[string]struct{}
	bySocket map[string]domain.Identity
}

func newRegistry() *registry {
	return &registry{
		byUser:   make(map[string]map[string]struct{}),
		bySocket: make(map[string]domain.Identity),
	}
}

func (r *registry) add(socketID string, id domain.Identity) {
	sockets, ok := r.byUser[id.UserID]
	if !ok {
		sockets = make(map[string]struct{})
		r.byUser[id.UserID] = sockets
	}
	sockets[socketID] = struct{}{}
	r.bySocket[socketID] = id
}

// remove drops the socket and reports whether it was the user's last one.
func (r *registry) remove(socketID string) (domain.Identity, bool, bool) {
	id, ok := r.bySocket[socketID]
	if !ok {
		return domain.Identity{}, false, false
	}
	delete(r.bySocket, socketID)

	sockets := r.byUser[id.UserID]
	delete(sockets, socketID)
	last := len(sockets) == 0
	if last {
		delete(r.byUser, id.UserID)
	}
	return id, last, true
}

func (r *registry) identity(socketID string) (domain.Identity, bool) {
	id, ok := r.bySocket[socketID]
	return id, ok
}

func (r *registry) socketsOf(userID string) []string {
	sockets := r.byUser[userID]
	out := make([]string, 0, len(sockets))
	for s := range sockets {
		out = append(out, s)
	}
	return out
}

func (r *registry) sockets() int { return len(r.bySocket) }
func (r *registry) users() int   { return len(r.byUser) }

// check verifies that both maps describe the same set of connections.
func (r *registry) check() error {
	for socketID, id := range r.bySocket {
		if _, ok := r.byUser[id.UserID][socketID]; !ok {
			return fmt.Errorf("socket %s of user %s missing from forward map", socketID, id.UserID)
		}
	}
	for userID, sockets := range r.byUser {
		if len(sockets) == 0 {
			return fmt.Errorf("user %s has an empty socket set", userID)
		}
		for socketID := range sockets {
			id, ok := r.bySocket[socketID]
			if !ok || id.UserID != userID {
				return fmt.Errorf("socket %s of user %s missing from reverse map", socketID, userID)
			}
		}
	}
	return nil
}

func (r *registry) clear() {
	clear(r.byUser)
	clear(r.bySocket)
}

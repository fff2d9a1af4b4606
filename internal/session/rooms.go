package session

import (
	"slices"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// rooms tracks membership in both directions. Only the actor touches it.
type rooms struct {
	members  map[string]map[string]struct{}
	bySocket map[string]map[string]struct{}
}

func newRooms() *rooms {
	return &rooms{
		members:  make(map[string]map[string]struct{}),
		bySocket: make(map[string]map[string]struct{}),
	}
}

func (r *rooms) join(socketID string, names ...string) {
	joined, ok := r.bySocket[socketID]
	if !ok {
		joined = make(map[string]struct{})
		r.bySocket[socketID] = joined
	}
	for _, name := range names {
		m, ok := r.members[name]
		if !ok {
			m = make(map[string]struct{})
			r.members[name] = m
		}
		m[socketID] = struct{}{}
		joined[name] = struct{}{}
	}
}

func (r *rooms) leave(socketID string, names ...string) {
	for _, name := range names {
		r.drop(name, socketID)
		delete(r.bySocket[socketID], name)
	}
}

func (r *rooms) leaveAll(socketID string) {
	for name := range r.bySocket[socketID] {
		r.drop(name, socketID)
	}
	delete(r.bySocket, socketID)
}

func (r *rooms) drop(name, socketID string) {
	m := r.members[name]
	delete(m, socketID)
	if len(m) == 0 {
		delete(r.members, name)
	}
}

func (r *rooms) in(room string) []string {
	m := r.members[room]
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	return out
}

func (r *rooms) of(socketID string) []string {
	out := make([]string, 0, len(r.bySocket[socketID]))
	for name := range r.bySocket[socketID] {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (r *rooms) count() int { return len(r.members) }

func (r *rooms) clear() {
	clear(r.members)
	clear(r.bySocket)
}

// initialRooms derives the rooms a connection joins on connect.
func initialRooms(id domain.Identity) []string {
	if id.Anonymous {
		return []string{domain.RoomPublic, domain.RoomPricingUpdates}
	}

	out := []string{domain.UserRoom(id.UserID), domain.RoomUsers}
	switch id.Role {
	case domain.RoleSuperadmin:
		out = append(out, domain.RoomAdmins, domain.RoomSuperadmins)
	case domain.RoleAdmin:
		out = append(out, domain.RoomAdmins)
	}
	if id.PlanID != "" {
		out = append(out, domain.PlanRoom(id.PlanID))
	}
	return out
}

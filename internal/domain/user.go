package domain

import (
	"context"
	"time"
)

// Role of an authenticated user.
type Role string

const (
	RolePublic     Role = "public"
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Elevated reports whether the role gets a shared role room.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDeleted   UserStatus = "deleted"
)

type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      Role       `json:"role"`
	PlanID    string     `json:"planId,omitempty"`
	Status    UserStatus `json:"status"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (u *User) Active() bool { return u.Status == UserStatusActive }

// Identity is what a live connection is allowed to see.
type Identity struct {
	UserID    string
	Role      Role
	PlanID    string
	Anonymous bool
}

// UserRepository is owned by the persistence layer.
type UserRepository interface {
	GetByID(ctx context.Context, userID string) (*User, error)
}

// TokenVerifier validates a bearer token and returns the user id it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

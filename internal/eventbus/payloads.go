package eventbus

import "encoding/json"

// ModelPayload is the part of a model event the built-in handlers read.
type ModelPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

type PlanPayload struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName,omitempty"`
	Pricing     json.RawMessage `json:"pricing,omitempty"`
}

// UserPayload accepts the user id as either "userId" or "id".
type UserPayload struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"userId,omitempty"`
	Status string `json:"status,omitempty"`
	PlanID string `json:"planId,omitempty"`
}

func (p UserPayload) Subject() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.ID
}

type MaintenancePayload struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
	EndsAt  int64  `json:"endsAt,omitempty"`
}

// Notification targets one user when UserID is set, otherwise Room (default: all users).
type Notification struct {
	ID      string `json:"id,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Room    string `json:"room,omitempty"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

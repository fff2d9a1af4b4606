package domain

import "encoding/json"

// Priority marks how urgently clients should surface an event.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Actor identifies who triggered a change, usually an admin.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Metadata travels with every envelope.
type Metadata struct {
	Source           string   `json:"source"`
	Timestamp        int64    `json:"timestamp"`
	OriginInstanceID string   `json:"originInstanceId"`
	Priority         Priority `json:"priority,omitempty"`
	UpdatedBy        *Actor   `json:"updatedBy,omitempty"`
	PriceChanged     bool     `json:"priceChanged,omitempty"`
	CorrelationID    string   `json:"correlationId,omitempty"`
}

// Envelope is the unit of transmission on every channel.
//
// On the WebSocket channel Type carries the UI relay type (e.g. PLAN_UPDATED)
// and Data holds a RelayMessage. Everywhere else Type is an EventType.
type Envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
}

// EventType returns the envelope type as a bus event type.
func (e *Envelope) EventType() EventType { return EventType(e.Type) }

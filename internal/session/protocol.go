package session

import (
	"encoding/json"
)

// Client to server events.
const (
	eventPing        = "ping"
	eventSubscribe   = "subscribe"
	eventUnsubscribe = "unsubscribe"
	eventActivity    = "activity"
	eventMessage     = "message"
)

// Server to client events.
const (
	EventConnected         = "connected"
	EventPong              = "pong"
	EventSubscribed        = "subscribed"
	EventUnsubscribed      = "unsubscribed"
	EventSubscriptionError = "subscription_error"
	EventRateLimited       = "rate_limited"
	EventMessageError      = "message_error"
	EventShutdown          = "server_shutdown"
)

// Frame is one JSON text message in either direction.
type Frame struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
	Type       string          `json:"type,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	InstanceID string          `json:"instanceId,omitempty"`
}

type subscriptionRequest struct {
	Type    string   `json:"type"`
	Targets []string `json:"targets,omitempty"`
}

type subscriptionAck struct {
	Type    string   `json:"type"`
	Targets []string `json:"targets,omitempty"`
	Rooms   []string `json:"rooms"`
}

type welcome struct {
	SocketID   string   `json:"socketId"`
	UserID     string   `json:"userId"`
	Anonymous  bool     `json:"anonymous"`
	Rooms      []string `json:"rooms"`
	InstanceID string   `json:"instanceId"`
	ServerTime int64    `json:"serverTime"`
}

type rateLimitedAck struct {
	Event      string `json:"event"`
	Limit      int    `json:"limit"`
	RetryAfter int64  `json:"retryAfterMillis"`
}

// ClientMessage is a "message" event handed to the configured MessageHandler.
type ClientMessage struct {
	SocketID string
	UserID   string
	Type     string
	Payload  json.RawMessage
}

func encodeFrame(f Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		// only reachable with invalid RawMessage data
		b, _ = json.Marshal(Frame{Event: EventMessageError, Timestamp: f.Timestamp, InstanceID: f.InstanceID})
	}
	return b
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

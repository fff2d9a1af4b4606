package domain

import (
	"context"
	"time"
)

// Cache is the shared key/value cache seen by the bus handlers.
type Cache interface {
	SetCache(ctx context.Context, key string, value any, ttl time.Duration) error
	GetCache(ctx context.Context, key string, dest any) (bool, error)
	DeleteCache(ctx context.Context, keys ...string) error
}

// AuditEntry describes one admin-originated change.
type AuditEntry struct {
	EventType  EventType `json:"eventType"`
	Actor      Actor     `json:"actor"`
	InstanceID string    `json:"instanceId"`
	Timestamp  int64     `json:"timestamp"`
	Data       any       `json:"data,omitempty"`
}

// AuditSink persists audit entries. Implementations hand off to the job queue.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// ActivityTracker stores last-activity markers for connected users.
type ActivityTracker interface {
	Touch(ctx context.Context, userID string, at time.Time) error
}

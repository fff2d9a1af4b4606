package domain

import (
	"context"
	"encoding/json"
)

// RelayMode selects how a WebSocket relay message is addressed.
type RelayMode string

const (
	RelayBroadcast    RelayMode = "broadcast"
	RelayUserSpecific RelayMode = "user"
	RelayRoomSpecific RelayMode = "room"
)

// Relay types carried in the envelope type on the WebSocket channel.
// Callers may use their own; these are the ones the server reacts to.
const (
	RelayPlanUpdated          = "PLAN_UPDATED"
	RelayPlanCreated          = "PLAN_CREATED"
	RelayPlanDeleted          = "PLAN_DELETED"
	RelayModelUpdated         = "MODEL_UPDATED"
	RelayFeaturedMusicUpdated = "FEATURED_MUSIC_UPDATED"
	RelayNotification         = "NOTIFICATION"
	RelaySystemMaintenance    = "SYSTEM_MAINTENANCE"
	RelayUserUpdated          = "USER_UPDATED"
)

// Well-known rooms.
const (
	RoomPublic         = "public"
	RoomPricingUpdates = "pricing_updates"
	RoomPlanUpdates    = "plan_updates"
	RoomUsers          = "users"
	RoomAdmins         = "admins"
	RoomSuperadmins    = "superadmins"
	RoomSystem         = "system"
)

// UserRoom is the room holding every socket of one user.
func UserRoom(userID string) string { return "user:" + userID }

// PlanRoom is the room of users subscribed to a plan.
func PlanRoom(planID string) string { return "plan:" + planID }

// ModelRoom is the room of sockets following a model.
func ModelRoom(modelID string) string { return "model:" + modelID }

// RelayMessage is the payload of a WebSocket channel envelope.
type RelayMessage struct {
	Mode       RelayMode       `json:"mode"`
	Type       string          `json:"type,omitempty"`
	Event      string          `json:"event"`
	TargetRoom string          `json:"targetRoom,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Relay delivers UI events to the live connections of this instance.
type Relay interface {
	HandleBroadcast(ctx context.Context, msg RelayMessage, meta Metadata)
	HandleUserSpecific(ctx context.Context, msg RelayMessage, meta Metadata)
	HandleRoomSpecific(ctx context.Context, msg RelayMessage, meta Metadata)
}

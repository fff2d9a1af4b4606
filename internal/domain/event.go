package domain

// EventType identifies a bus event. Handlers are keyed by it.
type EventType string

const (
	EventModelStatusChanged EventType = "model.status.changed"
	EventModelCreated       EventType = "model.created"
	EventModelDeleted       EventType = "model.deleted"

	EventPlanCreated EventType = "plan.created"
	EventPlanUpdated EventType = "plan.updated"
	EventPlanDeleted EventType = "plan.deleted"

	EventUserStatusChanged       EventType = "user.status.changed"
	EventUserSubscriptionChanged EventType = "user.subscription.changed"

	EventSystemMaintenance     EventType = "system.maintenance"
	EventSystemSettingsUpdated EventType = "system.settings.updated"

	EventNotificationCreated EventType = "notification.created"

	EventWebSocketBroadcast    EventType = "websocket.broadcast"
	EventWebSocketUserSpecific EventType = "websocket.user_specific"
	EventWebSocketRoomSpecific EventType = "websocket.room_specific"

	EventAuditRecorded EventType = "audit.recorded"
)

// Channel returns the broker channel an event type travels on.
// The second return value is false for unknown event types.
func (t EventType) Channel() (Channel, bool) {
	switch t {
	case EventModelStatusChanged, EventModelCreated, EventModelDeleted:
		return ChannelModel, true
	case EventPlanCreated, EventPlanUpdated, EventPlanDeleted:
		return ChannelPlan, true
	case EventUserStatusChanged, EventUserSubscriptionChanged:
		return ChannelUser, true
	case EventSystemMaintenance, EventSystemSettingsUpdated:
		return ChannelSystem, true
	case EventNotificationCreated:
		return ChannelNotification, true
	case EventWebSocketBroadcast, EventWebSocketUserSpecific, EventWebSocketRoomSpecific:
		return ChannelWebSocket, true
	case EventAuditRecorded:
		return ChannelAudit, true
	default:
		return "", false
	}
}

// Known reports whether t is a registered event type.
func (t EventType) Known() bool {
	_, ok := t.Channel()
	return ok
}

func (t EventType) String() string { return string(t) }

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// Action is the verb of a model or plan event.
type Action string

const (
	ActionCreated       Action = "created"
	ActionUpdated       Action = "updated"
	ActionDeleted       Action = "deleted"
	ActionStatusChanged Action = "status.changed"
)

func modelEventType(a Action) (domain.EventType, error) {
	switch a {
	case ActionStatusChanged, ActionUpdated:
		return domain.EventModelStatusChanged, nil
	case ActionCreated:
		return domain.EventModelCreated, nil
	case ActionDeleted:
		return domain.EventModelDeleted, nil
	default:
		return "", fmt.Errorf("%w: model %s", domain.ErrUnknownEventType, a)
	}
}

func planEventType(a Action) (domain.EventType, string, string, error) {
	switch a {
	case ActionCreated:
		return domain.EventPlanCreated, domain.RelayPlanCreated, "plan_created", nil
	case ActionUpdated:
		return domain.EventPlanUpdated, domain.RelayPlanUpdated, "plan_updated", nil
	case ActionDeleted:
		return domain.EventPlanDeleted, domain.RelayPlanDeleted, "plan_deleted", nil
	default:
		return "", "", "", fmt.Errorf("%w: plan %s", domain.ErrUnknownEventType, a)
	}
}

// PublishModelEvent announces a model change. Every instance invalidates its
// model caches and tells its own clients.
func (b *Bus) PublishModelEvent(ctx context.Context, action Action, data any, meta domain.Metadata) error {
	t, err := modelEventType(action)
	if err != nil {
		return err
	}
	return b.Publish(ctx, t, data, meta)
}

// PublishPlanEvent announces a plan change and relays it to every connected
// client, anonymous ones included, since plans carry public pricing.
func (b *Bus) PublishPlanEvent(ctx context.Context, action Action, data any, meta domain.Metadata) error {
	t, relayType, event, err := planEventType(action)
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, t, data, meta); err != nil {
		return err
	}
	return b.PublishWebSocketBroadcast(ctx, relayType, event, domain.RoomUsers, data, meta)
}

// PublishUserEvent announces a user status or subscription change.
func (b *Bus) PublishUserEvent(ctx context.Context, t domain.EventType, data any, meta domain.Metadata) error {
	if t != domain.EventUserStatusChanged && t != domain.EventUserSubscriptionChanged {
		return fmt.Errorf("%w: %s is not a user event", domain.ErrUnknownEventType, t)
	}
	return b.Publish(ctx, t, data, meta)
}

// PublishSystemEvent announces maintenance toggles and settings changes.
func (b *Bus) PublishSystemEvent(ctx context.Context, t domain.EventType, data any, meta domain.Metadata) error {
	if t != domain.EventSystemMaintenance && t != domain.EventSystemSettingsUpdated {
		return fmt.Errorf("%w: %s is not a system event", domain.ErrUnknownEventType, t)
	}
	return b.Publish(ctx, t, data, meta)
}

// PublishNotification announces a notification for one user or a room.
func (b *Bus) PublishNotification(ctx context.Context, n Notification, meta domain.Metadata) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return b.Publish(ctx, domain.EventNotificationCreated, n, meta)
}

// PublishWebSocketBroadcast relays event to room on every instance. An empty room means all users.
func (b *Bus) PublishWebSocketBroadcast(ctx context.Context, relayType, event, room string, data any, meta domain.Metadata) error {
	return b.publishRelay(ctx, domain.RelayMessage{
		Mode:       domain.RelayBroadcast,
		Type:       relayType,
		Event:      event,
		TargetRoom: room,
	}, data, meta)
}

// PublishWebSocketUserSpecific relays event to every socket of userID, on whichever instance they are connected.
func (b *Bus) PublishWebSocketUserSpecific(ctx context.Context, userID, event string, data any, meta domain.Metadata) error {
	if userID == "" {
		return fmt.Errorf("user-specific relay %s without user id", event)
	}
	return b.publishRelay(ctx, domain.RelayMessage{
		Mode:   domain.RelayUserSpecific,
		Type:   domain.RelayUserUpdated,
		Event:  event,
		UserID: userID,
	}, data, meta)
}

// PublishWebSocketRoomSpecific relays event to room only.
func (b *Bus) PublishWebSocketRoomSpecific(ctx context.Context, room, event string, data any, meta domain.Metadata) error {
	if room == "" {
		return fmt.Errorf("room-specific relay %s without room", event)
	}
	return b.publishRelay(ctx, domain.RelayMessage{
		Mode:       domain.RelayRoomSpecific,
		Event:      event,
		TargetRoom: room,
	}, data, meta)
}

func (b *Bus) publishRelay(ctx context.Context, msg domain.RelayMessage, data any, meta domain.Metadata) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s relay payload: %w", msg.Event, err)
	}
	msg.Data = raw
	if msg.Type == "" {
		msg.Type = relayEventType(msg.Mode)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode relay message: %w", err)
	}

	observe := relayEventTypeFor(msg.Mode)
	env := b.envelope(ctx, msg.Type, body, meta)
	b.emitLocal(ctx, observe, env.Data, env.Metadata)
	return b.send(ctx, domain.ChannelWebSocket, env)
}

func relayEventTypeFor(m domain.RelayMode) domain.EventType {
	switch m {
	case domain.RelayUserSpecific:
		return domain.EventWebSocketUserSpecific
	case domain.RelayRoomSpecific:
		return domain.EventWebSocketRoomSpecific
	default:
		return domain.EventWebSocketBroadcast
	}
}

func relayModeFor(t domain.EventType) domain.RelayMode {
	switch t {
	case domain.EventWebSocketUserSpecific:
		return domain.RelayUserSpecific
	case domain.EventWebSocketRoomSpecific:
		return domain.RelayRoomSpecific
	default:
		return domain.RelayBroadcast
	}
}

// relayFromPayload addresses a websocket.* event published through Publish.
// data is a domain.RelayMessage or any value that encodes to one; the mode
// always follows t.
func relayFromPayload(t domain.EventType, data any) (domain.RelayMessage, error) {
	var msg domain.RelayMessage
	switch v := data.(type) {
	case domain.RelayMessage:
		msg = v
	case *domain.RelayMessage:
		if v == nil {
			return msg, fmt.Errorf("%s relay without payload", t)
		}
		msg = *v
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return msg, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return msg, fmt.Errorf("%s payload is not a relay message: %w", t, err)
		}
	}

	mode := relayModeFor(t)
	if msg.Mode != "" && msg.Mode != mode {
		return msg, fmt.Errorf("%s relay with conflicting mode %q", t, msg.Mode)
	}
	msg.Mode = mode

	switch {
	case msg.Event == "":
		return msg, fmt.Errorf("%s relay without event", t)
	case mode == domain.RelayUserSpecific && msg.UserID == "":
		return msg, fmt.Errorf("user-specific relay %s without user id", msg.Event)
	case mode == domain.RelayRoomSpecific && msg.TargetRoom == "":
		return msg, fmt.Errorf("room-specific relay %s without room", msg.Event)
	}
	return msg, nil
}

func relayEventType(m domain.RelayMode) string {
	return string(relayEventTypeFor(m))
}

// Decode unmarshals an event payload into T.
func Decode[T any](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %T payload: %w", v, err)
	}
	return v, nil
}

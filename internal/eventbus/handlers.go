package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// Builtins are the cross-cutting reactions every instance runs. They only act
// locally: each instance receives every event once, so nothing is re-published
// except the origin's audit announcement.
type Builtins struct {
	Cache domain.Cache
	Relay domain.Relay
	Audit domain.AuditSink
}

// auditedEvents are recorded when their metadata names who made the change.
var auditedEvents = []domain.EventType{
	domain.EventModelStatusChanged,
	domain.EventModelCreated,
	domain.EventModelDeleted,
	domain.EventPlanCreated,
	domain.EventPlanUpdated,
	domain.EventPlanDeleted,
	domain.EventUserStatusChanged,
	domain.EventUserSubscriptionChanged,
	domain.EventSystemMaintenance,
	domain.EventSystemSettingsUpdated,
}

// RegisterBuiltins subscribes the built-in handlers on b.
func RegisterBuiltins(b *Bus, deps Builtins) error {
	h := &builtinHandlers{bus: b, deps: deps}

	regs := map[domain.EventType][]Handler{
		domain.EventModelStatusChanged:      {h.onModel(ActionStatusChanged)},
		domain.EventModelCreated:            {h.onModel(ActionCreated)},
		domain.EventModelDeleted:            {h.onModel(ActionDeleted)},
		domain.EventPlanCreated:             {h.onPlan(ActionCreated)},
		domain.EventPlanUpdated:             {h.onPlan(ActionUpdated)},
		domain.EventPlanDeleted:             {h.onPlan(ActionDeleted)},
		domain.EventUserStatusChanged:       {h.onUser("user_updated")},
		domain.EventUserSubscriptionChanged: {h.onUser("subscription_updated")},
		domain.EventSystemMaintenance:       {h.onMaintenance},
		domain.EventSystemSettingsUpdated:   {h.onSettings},
		domain.EventNotificationCreated:     {h.onNotification},
	}
	if deps.Audit != nil {
		for _, t := range auditedEvents {
			regs[t] = append(regs[t], h.recordAudit(t))
		}
	}

	for t, handlers := range regs {
		for _, fn := range handlers {
			if _, err := b.Subscribe(t, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

type builtinHandlers struct {
	bus  *Bus
	deps Builtins
}

func (h *builtinHandlers) invalidate(ctx context.Context, keys ...string) error {
	if h.deps.Cache == nil {
		return nil
	}
	return h.deps.Cache.DeleteCache(ctx, keys...)
}

func relayData(action Action, key string, raw json.RawMessage) json.RawMessage {
	out, _ := json.Marshal(map[string]any{"action": action, key: raw})
	return out
}

func (h *builtinHandlers) onModel(action Action) Handler {
	return func(ctx context.Context, data json.RawMessage, meta domain.Metadata) error {
		p, err := Decode[ModelPayload](data)
		if err != nil {
			return err
		}
		if p.ID == "" {
			return errors.New("model event without id")
		}

		if err := h.invalidate(ctx, domain.ModelCacheKey(p.ID), domain.CacheKeyActiveModels); err != nil {
			slog.WarnContext(ctx, "Failed to invalidate model cache", "model_id", p.ID, "error", err)
		}

		if h.deps.Relay != nil {
			h.deps.Relay.HandleBroadcast(ctx, domain.RelayMessage{
				Mode:       domain.RelayBroadcast,
				Type:       domain.RelayModelUpdated,
				Event:      "model_updated",
				TargetRoom: domain.RoomUsers,
				Data:       relayData(action, "model", data),
			}, meta)
		}
		return nil
	}
}

func (h *builtinHandlers) onPlan(action Action) Handler {
	return func(ctx context.Context, data json.RawMessage, meta domain.Metadata) error {
		p, err := Decode[PlanPayload](data)
		if err != nil {
			return err
		}
		if p.ID == "" {
			return errors.New("plan event without id")
		}

		if err := h.invalidate(ctx, domain.PlanCacheKey(p.ID), domain.CacheKeyAllPlans); err != nil {
			slog.WarnContext(ctx, "Failed to invalidate plan cache", "plan_id", p.ID, "error", err)
		}

		if action == ActionUpdated && meta.PriceChanged {
			name := p.DisplayName
			if name == "" {
				name = p.ID
			}
			h.notifyLocal(ctx, Notification{
				Room:    domain.RoomUsers,
				Title:   "Pricing updated",
				Message: fmt.Sprintf("Pricing for %s has changed.", name),
				Level:   "info",
			}, meta, domain.PriorityNormal)
		}
		return nil
	}
}

func (h *builtinHandlers) onUser(event string) Handler {
	return func(ctx context.Context, data json.RawMessage, meta domain.Metadata) error {
		p, err := Decode[UserPayload](data)
		if err != nil {
			return err
		}
		userID := p.Subject()
		if userID == "" {
			return errors.New("user event without user id")
		}

		if err := h.invalidate(ctx, domain.UserCacheKey(userID), domain.UserSubscriptionCacheKey(userID)); err != nil {
			slog.WarnContext(ctx, "Failed to invalidate user cache", "user_id", userID, "error", err)
		}

		if h.deps.Relay != nil {
			h.deps.Relay.HandleUserSpecific(ctx, domain.RelayMessage{
				Mode:   domain.RelayUserSpecific,
				Type:   domain.RelayUserUpdated,
				Event:  event,
				UserID: userID,
				Data:   data,
			}, meta)
		}
		return nil
	}
}

func (h *builtinHandlers) onMaintenance(ctx context.Context, data json.RawMessage, meta domain.Metadata) error {
	p, err := Decode[MaintenancePayload](data)
	if err != nil {
		return err
	}

	if err := h.invalidate(ctx, domain.CacheKeySystemSettings); err != nil {
		slog.WarnContext(ctx, "Failed to invalidate settings cache", "error", err)
	}

	if h.deps.Relay != nil {
		h.deps.Relay.HandleBroadcast(ctx, domain.RelayMessage{
			Mode:  domain.RelayBroadcast,
			Type:  domain.RelaySystemMaintenance,
			Event: "system_maintenance",
			Data:  data,
		}, meta)
	}

	title, msg := "Maintenance finished", "The service is fully available again."
	if p.Enabled {
		title, msg = "Scheduled maintenance", p.Message
		if msg == "" {
			msg = "The service is entering maintenance mode."
		}
	}
	h.notifyLocal(ctx, Notification{Room: domain.RoomUsers, Title: title, Message: msg, Level: "warning"}, meta, domain.PriorityHigh)
	return nil
}

func (h *builtinHandlers) onSettings(ctx context.Context, _ json.RawMessage, _ domain.Metadata) error {
	return h.invalidate(ctx, domain.CacheKeySystemSettings)
}

func (h *builtinHandlers) onNotification(ctx context.Context, data json.RawMessage, meta domain.Metadata) error {
	n, err := Decode[Notification](data)
	if err != nil {
		return err
	}
	if h.deps.Relay == nil {
		return nil
	}

	msg := domain.RelayMessage{Type: domain.RelayNotification, Event: "notification", Data: data}
	if n.UserID != "" {
		msg.Mode = domain.RelayUserSpecific
		msg.UserID = n.UserID
		h.deps.Relay.HandleUserSpecific(ctx, msg, meta)
		return nil
	}

	msg.Mode = domain.RelayBroadcast
	msg.TargetRoom = n.Room
	if msg.TargetRoom == "" {
		msg.TargetRoom = domain.RoomUsers
	}
	h.deps.Relay.HandleBroadcast(ctx, msg, meta)
	return nil
}

// notifyLocal emits a derived notification to this instance only. The actor is
// dropped so the derived event is not audited a second time.
func (h *builtinHandlers) notifyLocal(ctx context.Context, n Notification, meta domain.Metadata, prio domain.Priority) {
	n.ID = uuid.NewString()
	raw, err := json.Marshal(n)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode notification", "error", err)
		return
	}
	meta.UpdatedBy = nil
	meta.Priority = prio
	h.bus.emitLocal(ctx, domain.EventNotificationCreated, raw, meta)
}

// recordAudit runs on the origin instance only, so each change is recorded once.
func (h *builtinHandlers) recordAudit(t domain.EventType) Handler {
	return func(ctx context.Context, data json.RawMessage, meta domain.Metadata) error {
		if meta.UpdatedBy == nil || meta.OriginInstanceID != h.bus.InstanceID() {
			return nil
		}

		entry := domain.AuditEntry{
			EventType:  t,
			Actor:      *meta.UpdatedBy,
			InstanceID: meta.OriginInstanceID,
			Timestamp:  meta.Timestamp,
			Data:       data,
		}
		if err := h.deps.Audit.Record(ctx, entry); err != nil {
			return fmt.Errorf("failed to record audit entry: %w", err)
		}

		return h.bus.Publish(ctx, domain.EventAuditRecorded, entry, domain.Metadata{
			Source:        "audit",
			CorrelationID: meta.CorrelationID,
		})
	}
}

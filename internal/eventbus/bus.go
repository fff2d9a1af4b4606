package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/pscheid92/eventrelay/internal/platform/correlation"
)

const defaultSource = "eventrelay"

// Broker is the remote channel adapter the bus mirrors events through.
type Broker interface {
	InstanceID() string
	Publish(ctx context.Context, channel domain.Channel, env *domain.Envelope) (int64, error)
	Subscribe(ctx context.Context, channels []domain.Channel, handler func(ctx context.Context, channel domain.Channel, env *domain.Envelope)) error
}

// Bus composes the local observer list with the remote broker channels.
type Bus struct {
	broker     Broker
	relay      domain.Relay
	local      *observers
	metrics    *metrics.BusMetrics
	clock      clockwork.Clock
	instanceID string

	published    atomic.Int64
	consumed     atomic.Int64
	suppressed   atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64
}

// New creates a bus. relay may be nil on instances that serve no WebSocket clients.
func New(broker Broker, relay domain.Relay, m *metrics.BusMetrics, clock clockwork.Clock) *Bus {
	return &Bus{
		broker:     broker,
		relay:      relay,
		local:      newObservers(),
		metrics:    m,
		clock:      clock,
		instanceID: broker.InstanceID(),
	}
}

// InstanceID is the id this bus stamps on and suppresses from envelopes.
func (b *Bus) InstanceID() string { return b.instanceID }

// Start subscribes to every channel. Delivery stops when ctx is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	if err := b.broker.Subscribe(ctx, domain.AllChannels, b.HandleIncoming); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	slog.Info("Event bus started", "instance_id", b.instanceID, "channels", len(domain.AllChannels))
	return nil
}

// Subscribe registers h for t. Several handlers per type are allowed.
func (b *Bus) Subscribe(t domain.EventType, h Handler) (HandlerID, error) {
	if !t.Known() {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownEventType, t)
	}
	return b.local.add(t, h), nil
}

// Unsubscribe removes the registration and reports whether it existed.
func (b *Bus) Unsubscribe(t domain.EventType, id HandlerID) bool {
	return b.local.remove(t, id)
}

// Publish emits the event to local handlers and then to the broker channel of t.
// Local delivery happens even if the broker publish fails. websocket.* types are
// sent as relay messages, the same as the PublishWebSocket* helpers.
func (b *Bus) Publish(ctx context.Context, t domain.EventType, data any, meta domain.Metadata) error {
	channel, ok := t.Channel()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownEventType, t)
	}
	if channel == domain.ChannelWebSocket {
		msg, err := relayFromPayload(t, data)
		if err != nil {
			return err
		}
		return b.publishRelay(ctx, msg, msg.Data, meta)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", t, err)
	}

	env := b.envelope(ctx, string(t), raw, meta)

	b.emitLocal(ctx, t, env.Data, env.Metadata)

	return b.send(ctx, channel, env)
}

func (b *Bus) envelope(ctx context.Context, typ string, data json.RawMessage, meta domain.Metadata) *domain.Envelope {
	if meta.Source == "" {
		meta.Source = defaultSource
	}
	if meta.Priority == "" {
		meta.Priority = domain.PriorityNormal
	}
	if meta.CorrelationID == "" {
		if id, ok := correlation.ID(ctx); ok {
			meta.CorrelationID = id
		}
	}
	meta.Timestamp = b.clock.Now().UnixMilli()
	meta.OriginInstanceID = b.instanceID

	return &domain.Envelope{Type: typ, Data: data, Metadata: meta}
}

func (b *Bus) send(ctx context.Context, channel domain.Channel, env *domain.Envelope) error {
	if _, err := b.broker.Publish(ctx, channel, env); err != nil {
		b.errors.Add(1)
		b.metrics.PublishErrors.WithLabelValues(string(channel)).Inc()
		return fmt.Errorf("failed to publish %s: %w", env.Type, err)
	}
	b.published.Add(1)
	b.metrics.Published.WithLabelValues(string(channel)).Inc()
	b.touch()
	return nil
}

// HandleIncoming processes an envelope received from the broker.
func (b *Bus) HandleIncoming(ctx context.Context, channel domain.Channel, env *domain.Envelope) {
	b.consumed.Add(1)
	b.metrics.Consumed.WithLabelValues(string(channel)).Inc()
	b.touch()

	ctx, _ = correlation.Ensure(ctx, env.Metadata.CorrelationID)

	if env.Metadata.OriginInstanceID == b.instanceID && channel != domain.ChannelWebSocket {
		b.suppressed.Add(1)
		b.metrics.Suppressed.WithLabelValues(string(channel)).Inc()
		return
	}

	if channel == domain.ChannelWebSocket {
		b.relayIncoming(ctx, env)
		return
	}

	t := env.EventType()
	expected, ok := t.Channel()
	if !ok {
		slog.WarnContext(ctx, "Dropping envelope with unknown event type", "channel", channel, "event_type", env.Type)
		return
	}
	if expected != channel {
		slog.WarnContext(ctx, "Dropping envelope on unexpected channel", "channel", channel, "event_type", t, "expected_channel", expected)
		return
	}

	b.emitLocal(ctx, t, env.Data, env.Metadata)
}

func (b *Bus) relayIncoming(ctx context.Context, env *domain.Envelope) {
	if b.relay == nil {
		return
	}

	var msg domain.RelayMessage
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		b.errors.Add(1)
		slog.WarnContext(ctx, "Dropping malformed relay message", "relay_type", env.Type, "error", err)
		return
	}
	if msg.Type == "" {
		msg.Type = env.Type
	}

	switch msg.Mode {
	case domain.RelayBroadcast:
		b.relay.HandleBroadcast(ctx, msg, env.Metadata)
	case domain.RelayUserSpecific:
		b.relay.HandleUserSpecific(ctx, msg, env.Metadata)
	case domain.RelayRoomSpecific:
		b.relay.HandleRoomSpecific(ctx, msg, env.Metadata)
	default:
		slog.WarnContext(ctx, "Dropping relay message with unknown mode", "relay_type", msg.Type, "mode", msg.Mode)
	}
}

func (b *Bus) emitLocal(ctx context.Context, t domain.EventType, data json.RawMessage, meta domain.Metadata) {
	if failed := b.local.emit(ctx, t, data, meta); failed > 0 {
		b.errors.Add(int64(failed))
		b.metrics.HandlerErrors.WithLabelValues(string(t)).Add(float64(failed))
	}
}

func (b *Bus) touch() {
	b.lastActivity.Store(b.clock.Now().UnixMilli())
}

// Stats are best-effort counters.
type Stats struct {
	Published      int64 `json:"published"`
	Consumed       int64 `json:"consumed"`
	Suppressed     int64 `json:"suppressed"`
	Errors         int64 `json:"errors"`
	Handlers       int   `json:"handlers"`
	LastActivityAt int64 `json:"lastActivityAt,omitempty"`
}

func (b *Bus) Stats() Stats {
	return Stats{
		Published:      b.published.Load(),
		Consumed:       b.consumed.Load(),
		Suppressed:     b.suppressed.Load(),
		Errors:         b.errors.Load(),
		Handlers:       b.local.count(),
		LastActivityAt: b.lastActivity.Load(),
	}
}

// Health is the bus section of the process health document.
type Health struct {
	Status     string `json:"status"`
	InstanceID string `json:"instanceId"`
	Stats      Stats  `json:"stats"`
}

func (b *Bus) GetHealth() Health {
	return Health{Status: "healthy", InstanceID: b.instanceID, Stats: b.Stats()}
}

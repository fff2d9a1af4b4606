package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// MessageHandler receives every decoded envelope of a subscription.
type MessageHandler = func(ctx context.Context, channel domain.Channel, env *domain.Envelope)

// Publish stamps the envelope with this instance's origin (and a timestamp if
// missing) and publishes it. It returns the number of receiving subscribers.
func (b *Broker) Publish(ctx context.Context, channel domain.Channel, env *domain.Envelope) (int64, error) {
	if !channel.Valid() {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, channel)
	}
	if env.Metadata.Timestamp == 0 {
		env.Metadata.Timestamp = b.clock.Now().UnixMilli()
	}
	env.Metadata.OriginInstanceID = b.instanceID

	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to encode envelope: %w", err)
	}

	receivers, err := Execute(b.breaker, func() (int64, error) {
		ctx, cancel := b.withTimeout(ctx)
		defer cancel()
		return b.publisher.Publish(ctx, string(channel), payload).Result()
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return receivers, nil
}

// Subscribe registers handler for the given channels. It returns once Redis has
// confirmed the subscription; messages are then delivered on a background goroutine
// until ctx is cancelled or the broker is closed.
func (b *Broker) Subscribe(ctx context.Context, channels []domain.Channel, handler MessageHandler) error {
	names := make([]string, len(channels))
	for i, c := range channels {
		if !c.Valid() {
			return fmt.Errorf("%w: %s", domain.ErrUnknownChannel, c)
		}
		names[i] = string(c)
	}

	pubsub, err := Execute(b.breaker, func() (*goredis.PubSub, error) {
		ps := b.subscriber.Subscribe(ctx, names...)
		confirmCtx, cancel := b.withTimeout(ctx)
		defer cancel()
		if _, err := ps.Receive(confirmCtx); err != nil {
			_ = ps.Close()
			return nil, err
		}
		return ps, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %v: %w", names, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	slog.Info("Subscribed to broker channels", "channels", names)
	go b.receive(ctx, pubsub, handler)
	return nil
}

func (b *Broker) receive(ctx context.Context, pubsub *goredis.PubSub, handler MessageHandler) {
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}
			b.dispatch(ctx, msg, handler)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broker) dispatch(ctx context.Context, msg *goredis.Message, handler MessageHandler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broker message handler panicked", "channel", msg.Channel, "panic", r)
		}
	}()

	b.metrics.MessagesReceived.WithLabelValues(msg.Channel).Inc()

	var env domain.Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Type == "" {
		b.metrics.MessagesMalformed.WithLabelValues(msg.Channel).Inc()
		slog.Warn("Dropping malformed broker message", "channel", msg.Channel, "error", err)
		return
	}

	handler(ctx, domain.Channel(msg.Channel), &env)
}

package session

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
)

const messageHandlerTimeout = 10 * time.Second

func (m *Manager) handleClientEvent(socketID string, f Frame) {
	c, ok := m.conns[socketID]
	if !ok {
		return
	}
	m.messagesReceived.Add(1)
	m.metrics.MessagesReceived.Inc()

	now := m.clock.Now()
	if !m.limiter.allow(c.identity.UserID, now) {
		m.rateLimited.Add(1)
		m.metrics.RateLimited.Inc()
		m.reply(c, EventRateLimited, rateLimitedAck{
			Event:      f.Event,
			Limit:      m.limiter.limit,
			RetryAfter: m.limiter.retryAfter(c.identity.UserID, now).Milliseconds(),
		})
		return
	}

	switch f.Event {
	case eventPing:
		m.reply(c, EventPong, map[string]int64{"serverTime": now.UnixMilli()})
	case eventSubscribe:
		m.handleSubscription(c, f.Data, true)
	case eventUnsubscribe:
		m.handleSubscription(c, f.Data, false)
	case eventActivity:
		m.touchActivity(c.identity)
	case eventMessage:
		m.handleMessage(c, f.Data)
	default:
		m.recordError("unknown_event")
		m.replyError(c, EventMessageError, apperrors.ValidationError("unknown event").WithContext("event", f.Event))
	}
}

func (m *Manager) replyError(c *connection, event string, err *apperrors.Error) {
	m.reply(c, event, err.ToResponse())
}

func (m *Manager) handleSubscription(c *connection, data json.RawMessage, join bool) {
	var req subscriptionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		m.recordError("subscription")
		m.replyError(c, EventSubscriptionError, apperrors.ValidationError("malformed subscription request"))
		return
	}

	rooms, perr := canSubscribeTo(c.identity, req.Type, req.Targets)
	if perr != nil {
		m.recordError("subscription")
		m.replyError(c, EventSubscriptionError, perr.WithContext("type", req.Type))
		return
	}

	event := EventSubscribed
	if join {
		m.rooms.join(c.socketID, rooms...)
	} else {
		m.rooms.leave(c.socketID, rooms...)
		event = EventUnsubscribed
	}
	m.reply(c, event, subscriptionAck{Type: req.Type, Targets: req.Targets, Rooms: m.rooms.of(c.socketID)})
}

func (m *Manager) handleMessage(c *connection, data json.RawMessage) {
	var body struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Type == "" {
		m.recordError("message")
		m.replyError(c, EventMessageError, apperrors.ValidationError("message requires a type"))
		return
	}
	if m.opts.OnMessage == nil {
		m.replyError(c, EventMessageError, apperrors.ValidationError("messages are not accepted").WithContext("type", body.Type))
		return
	}

	msg := ClientMessage{SocketID: c.socketID, UserID: c.identity.UserID, Type: body.Type, Payload: data}
	writer := c.writer
	handler := m.opts.OnMessage
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), messageHandlerTimeout)
		defer cancel()
		if err := handler(ctx, msg); err != nil {
			m.recordError("message")
			writer.enqueue(encodeFrame(Frame{
				Event:      EventMessageError,
				Data:       mustRaw(apperrors.AsStructuredError(err).ToResponse()),
				Timestamp:  m.clock.Now().UnixMilli(),
				InstanceID: m.opts.InstanceID,
			}))
		}
	}()
}

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// Handler reacts to one event. A returned error is logged and counted; it never
// prevents other handlers of the same event from running.
type Handler func(ctx context.Context, data json.RawMessage, meta domain.Metadata) error

// HandlerID identifies a registration for Unsubscribe.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

// observers is the in-process listener list keyed by event type.
type observers struct {
	mu     sync.RWMutex
	nextID HandlerID
	byType map[domain.EventType][]registration
}

func newObservers() *observers {
	return &observers{byType: make(map[domain.EventType][]registration)}
}

func (o *observers) add(t domain.EventType, fn Handler) HandlerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	o.byType[t] = append(o.byType[t], registration{id: o.nextID, fn: fn})
	return o.nextID
}

func (o *observers) remove(t domain.EventType, id HandlerID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	regs := o.byType[t]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		// copy so that in-flight snapshots keep their view
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(o.byType, t)
		} else {
			o.byType[t] = next
		}
		return true
	}
	return false
}

func (o *observers) snapshot(t domain.EventType) []registration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.byType[t]
}

func (o *observers) count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, regs := range o.byType {
		n += len(regs)
	}
	return n
}

// emit calls every handler of t and returns the number that failed.
func (o *observers) emit(ctx context.Context, t domain.EventType, data json.RawMessage, meta domain.Metadata) int {
	failed := 0
	for _, r := range o.snapshot(t) {
		if err := invoke(ctx, r.fn, data, meta); err != nil {
			failed++
			slog.ErrorContext(ctx, "Event handler failed", "event_type", t, "handler_id", r.id, "error", err)
		}
	}
	return failed
}

func invoke(ctx context.Context, fn Handler, data json.RawMessage, meta domain.Metadata) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx, data, meta)
}

package eventbus

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/domain"
)

type subscription struct {
	ctx      context.Context
	channels []domain.Channel
	handler  func(context.Context, domain.Channel, *domain.Envelope)
}

// network delivers every publish synchronously to all subscribed brokers, itself included.
type network struct {
	mu   sync.Mutex
	subs []subscription
	sent []sentEnvelope
}

type sentEnvelope struct {
	channel domain.Channel
	env     domain.Envelope
}

func (n *network) sentOn(ch domain.Channel) []domain.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Envelope
	for _, s := range n.sent {
		if s.channel == ch {
			out = append(out, s.env)
		}
	}
	return out
}

type fakeBroker struct {
	net        *network
	instanceID string
	clock      clockwork.Clock

	mu      sync.Mutex
	failErr error
}

func (f *fakeBroker) InstanceID() string { return f.instanceID }

func (f *fakeBroker) fail(err error) {
	f.mu.Lock()
	f.failErr = err
	f.mu.Unlock()
}

func (f *fakeBroker) Publish(_ context.Context, channel domain.Channel, env *domain.Envelope) (int64, error) {
	f.mu.Lock()
	err := f.failErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if env.Metadata.Timestamp == 0 {
		env.Metadata.Timestamp = f.clock.Now().UnixMilli()
	}
	env.Metadata.OriginInstanceID = f.instanceID

	payload, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}

	f.net.mu.Lock()
	f.net.sent = append(f.net.sent, sentEnvelope{channel: channel, env: *env})
	subs := slices.Clone(f.net.subs)
	f.net.mu.Unlock()

	var delivered int64
	for _, s := range subs {
		if !slices.Contains(s.channels, channel) {
			continue
		}
		var wire domain.Envelope
		if err := json.Unmarshal(payload, &wire); err != nil {
			return delivered, err
		}
		s.handler(s.ctx, channel, &wire)
		delivered++
	}
	return delivered, nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, channels []domain.Channel, handler func(context.Context, domain.Channel, *domain.Envelope)) error {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	f.net.subs = append(f.net.subs, subscription{ctx: ctx, channels: channels, handler: handler})
	return nil
}

type relayCall struct {
	mode domain.RelayMode
	msg  domain.RelayMessage
	meta domain.Metadata
}

type fakeRelay struct {
	mu    sync.Mutex
	calls []relayCall
}

func (r *fakeRelay) record(mode domain.RelayMode, msg domain.RelayMessage, meta domain.Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, relayCall{mode: mode, msg: msg, meta: meta})
}

func (r *fakeRelay) HandleBroadcast(_ context.Context, msg domain.RelayMessage, meta domain.Metadata) {
	r.record(domain.RelayBroadcast, msg, meta)
}

func (r *fakeRelay) HandleUserSpecific(_ context.Context, msg domain.RelayMessage, meta domain.Metadata) {
	r.record(domain.RelayUserSpecific, msg, meta)
}

func (r *fakeRelay) HandleRoomSpecific(_ context.Context, msg domain.RelayMessage, meta domain.Metadata) {
	r.record(domain.RelayRoomSpecific, msg, meta)
}

func (r *fakeRelay) byType(relayType string) []relayCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []relayCall
	for _, c := range r.calls {
		if c.msg.Type == relayType {
			out = append(out, c)
		}
	}
	return out
}

type fakeCache struct {
	mu      sync.Mutex
	deleted []string
}

func (c *fakeCache) SetCache(context.Context, string, any, time.Duration) error { return nil }

func (c *fakeCache) GetCache(context.Context, string, any) (bool, error) { return false, nil }

func (c *fakeCache) DeleteCache(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, keys...)
	return nil
}

func (c *fakeCache) deletedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.deleted)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Record(_ context.Context, e domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *fakeAudit) recorded() []domain.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.entries)
}

type instance struct {
	bus     *Bus
	broker  *fakeBroker
	relay   *fakeRelay
	cache   *fakeCache
	audit   *fakeAudit
	metrics *metrics.BusMetrics
}

// newInstance creates a started bus on net. withBuiltins registers the built-in handlers.
func newInstance(t *testing.T, net *network, id string, withBuiltins bool) *instance {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	inst := &instance{
		broker:  &fakeBroker{net: net, instanceID: id, clock: clock},
		relay:   &fakeRelay{},
		cache:   &fakeCache{},
		audit:   &fakeAudit{},
		metrics: metrics.NewBusMetrics(prometheus.NewRegistry()),
	}
	inst.bus = New(inst.broker, inst.relay, inst.metrics, clock)

	if withBuiltins {
		if err := RegisterBuiltins(inst.bus, Builtins{Cache: inst.cache, Relay: inst.relay, Audit: inst.audit}); err != nil {
			t.Fatalf("register builtins: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := inst.bus.Start(ctx); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	return inst
}

// counter subscribes a counting handler to t.
func counter(t *testing.T, b *Bus, et domain.EventType) *countingHandler {
	t.Helper()
	c := &countingHandler{}
	if _, err := b.Subscribe(et, c.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return c
}

type countingHandler struct {
	mu    sync.Mutex
	calls []domain.Metadata
	data  []json.RawMessage
	ctxs  []context.Context
}

func (c *countingHandler) handle(ctx context.Context, data json.RawMessage, meta domain.Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, meta)
	c.data = append(c.data, data)
	c.ctxs = append(c.ctxs, ctx)
	return nil
}

func (c *countingHandler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

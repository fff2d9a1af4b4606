package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/domain"
)

const (
	commandTimeout         = 5 * time.Second
	activityTimeout        = 2 * time.Second
	defaultCleanupInterval = 5 * time.Minute
	defaultMetricsInterval = time.Minute
)

// MessageHandler processes "message" events from clients. A returned error is
// reported back to the sending socket as message_error.
type MessageHandler func(ctx context.Context, msg ClientMessage) error

type Options struct {
	InstanceID         string
	RateLimitPerMinute int
	MaxConnections     int
	Clock              clockwork.Clock
	Metrics            *metrics.WebSocketMetrics
	Activity           domain.ActivityTracker
	OnMessage          MessageHandler
	CheckOrigin        func(r *http.Request) bool
	CleanupInterval    time.Duration
	MetricsInterval    time.Duration
}

type managerCmd interface{ isManagerCmd() }

type baseManagerCmd struct{}

func (baseManagerCmd) isManagerCmd() {}

type admitCmd struct {
	baseManagerCmd
	userID string
	reply  chan error
}

type registerCmd struct {
	baseManagerCmd
	conn  *connection
	reply chan error
}

type unregisterCmd struct {
	baseManagerCmd
	socketID string
}

type clientEventCmd struct {
	baseManagerCmd
	socketID string
	frame    Frame
}

type relayCmd struct {
	baseManagerCmd
	msg  domain.RelayMessage
	meta domain.Metadata
}

type metricsCmd struct {
	baseManagerCmd
	reply chan Metrics
}

type checkCmd struct {
	baseManagerCmd
	reply chan error
}

type roomsCmd struct {
	baseManagerCmd
	socketID string
	reply    chan []string
}

type stopCmd struct {
	baseManagerCmd
}

// Manager is the WebSocket session manager of one instance. It implements domain.Relay.
type Manager struct {
	opts     Options
	auth     *Authenticator
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
	upgrader websocket.Upgrader

	cmdCh    chan managerCmd
	done     chan struct{}
	stopOnce sync.Once

	// owned by the actor goroutine
	conns    map[string]*connection
	registry *registry
	rooms    *rooms
	limiter  *rateLimiter

	totalConnections atomic.Int64
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	errors           atomic.Int64
	rateLimited      atomic.Int64
}

var _ domain.Relay = (*Manager)(nil)

// NewManager starts the actor together with its periodic rate-limit cleanup
// and metrics reporting. Call Shutdown to stop it.
func NewManager(auth *Authenticator, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.InstanceID == "" {
		opts.InstanceID = "unknown"
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	if opts.MetricsInterval == 0 {
		opts.MetricsInterval = defaultMetricsInterval
	}

	m := &Manager{
		opts:    opts,
		auth:    auth,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		cmdCh:    make(chan managerCmd, 256),
		done:     make(chan struct{}),
		conns:    make(map[string]*connection),
		registry: newRegistry(),
		rooms:    newRooms(),
		limiter:  newRateLimiter(opts.RateLimitPerMinute),
	}
	go m.run()
	return m
}

// send enqueues cmd unless the actor has stopped.
func (m *Manager) send(cmd managerCmd) bool {
	select {
	case m.cmdCh <- cmd:
		return true
	case <-m.done:
		return false
	}
}

func awaitReply[T any](m *Manager, reply <-chan T) (T, error) {
	timer := m.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-m.done:
		return zero, fmt.Errorf("session manager stopped")
	case <-timer.Chan():
		return zero, fmt.Errorf("session manager command timed out after %v", commandTimeout)
	}
}

func (m *Manager) admit(userID string) error {
	reply := make(chan error, 1)
	if !m.send(admitCmd{userID: userID, reply: reply}) {
		return fmt.Errorf("session manager stopped")
	}
	err, waitErr := awaitReply(m, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func (m *Manager) register(conn *connection) error {
	reply := make(chan error, 1)
	if !m.send(registerCmd{conn: conn, reply: reply}) {
		return fmt.Errorf("session manager stopped")
	}
	err, waitErr := awaitReply(m, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func (m *Manager) unregister(socketID string) {
	m.send(unregisterCmd{socketID: socketID})
}

func (m *Manager) HandleBroadcast(_ context.Context, msg domain.RelayMessage, meta domain.Metadata) {
	msg.Mode = domain.RelayBroadcast
	m.send(relayCmd{msg: msg, meta: meta})
}

func (m *Manager) HandleUserSpecific(_ context.Context, msg domain.RelayMessage, meta domain.Metadata) {
	msg.Mode = domain.RelayUserSpecific
	m.send(relayCmd{msg: msg, meta: meta})
}

func (m *Manager) HandleRoomSpecific(_ context.Context, msg domain.RelayMessage, meta domain.Metadata) {
	msg.Mode = domain.RelayRoomSpecific
	m.send(relayCmd{msg: msg, meta: meta})
}

// Metrics are the operational counters of the manager.
type Metrics struct {
	TotalConnections    int64 `json:"totalConnections"`
	ActiveConnections   int   `json:"activeConnections"`
	ConnectedUsers      int   `json:"connectedUsers"`
	Rooms               int   `json:"rooms"`
	MessagesReceived    int64 `json:"messagesReceived"`
	MessagesSent        int64 `json:"messagesSent"`
	Errors              int64 `json:"errors"`
	RateLimitedMessages int64 `json:"rateLimitedMessages"`
	RateLimitedUsers    int   `json:"rateLimitedUsers"`
}

func (m *Manager) counters() Metrics {
	return Metrics{
		TotalConnections:    m.totalConnections.Load(),
		MessagesReceived:    m.messagesReceived.Load(),
		MessagesSent:        m.messagesSent.Load(),
		Errors:              m.errors.Load(),
		RateLimitedMessages: m.rateLimited.Load(),
	}
}

// GetMetrics returns counters plus the actor-owned gauges. After shutdown only counters are set.
func (m *Manager) GetMetrics() Metrics {
	reply := make(chan Metrics, 1)
	if !m.send(metricsCmd{reply: reply}) {
		return m.counters()
	}
	snap, err := awaitReply(m, reply)
	if err != nil {
		return m.counters()
	}
	return snap
}

// Health is the session manager section of the process health document.
type Health struct {
	Status            string `json:"status"`
	InstanceID        string `json:"instanceId"`
	ActiveConnections int    `json:"activeConnections"`
	ConnectedUsers    int    `json:"connectedUsers"`
	TotalConnections  int64  `json:"totalConnections"`
	RateLimitedUsers  int    `json:"rateLimitedUsers"`
}

func (m *Manager) GetHealth() Health {
	status := "healthy"
	select {
	case <-m.done:
		status = "stopped"
	default:
	}

	snap := m.GetMetrics()
	return Health{
		Status:            status,
		InstanceID:        m.opts.InstanceID,
		ActiveConnections: snap.ActiveConnections,
		ConnectedUsers:    snap.ConnectedUsers,
		TotalConnections:  snap.TotalConnections,
		RateLimitedUsers:  snap.RateLimitedUsers,
	}
}

// CheckConsistency verifies the connection registry invariants.
func (m *Manager) CheckConsistency() error {
	reply := make(chan error, 1)
	if !m.send(checkCmd{reply: reply}) {
		return fmt.Errorf("session manager stopped")
	}
	err, waitErr := awaitReply(m, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// RoomsOf lists the rooms a socket has joined.
func (m *Manager) RoomsOf(socketID string) []string {
	reply := make(chan []string, 1)
	if !m.send(roomsCmd{socketID: socketID, reply: reply}) {
		return nil
	}
	rooms, _ := awaitReply(m, reply)
	return rooms
}

// Shutdown disconnects every socket and clears all state. The HTTP server
// serving the manager is closed by its owner.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() {
		select {
		case m.cmdCh <- stopCmd{}:
		case <-m.done:
		case <-ctx.Done():
		}
	})

	select {
	case <-m.done:
		slog.Info("Session manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session manager shutdown: %w", ctx.Err())
	}
}

func (m *Manager) run() {
	defer close(m.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Session manager panic recovered", "panic", r)
			m.closeAll(websocket.CloseInternalServerErr, "internal error")
		}
	}()

	cleanup := m.clock.NewTicker(m.opts.CleanupInterval)
	defer cleanup.Stop()
	report := m.clock.NewTicker(m.opts.MetricsInterval)
	defer report.Stop()

	for {
		select {
		case cmd := <-m.cmdCh:
			switch c := cmd.(type) {
			case admitCmd:
				c.reply <- m.handleAdmit(c.userID)
			case registerCmd:
				c.reply <- m.handleRegister(c.conn)
			case unregisterCmd:
				m.handleUnregister(c.socketID)
			case clientEventCmd:
				m.handleClientEvent(c.socketID, c.frame)
			case relayCmd:
				m.handleRelay(c.msg, c.meta)
			case metricsCmd:
				c.reply <- m.snapshot()
			case checkCmd:
				c.reply <- m.registry.check()
			case roomsCmd:
				c.reply <- m.rooms.of(c.socketID)
			case stopCmd:
				m.handleStop()
				return
			default:
				slog.Warn("Session manager received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-cleanup.Chan():
			if removed := m.limiter.cleanup(m.clock.Now()); removed > 0 {
				slog.Debug("Removed stale rate-limit windows", "count", removed)
			}
		case <-report.Chan():
			m.report()
		}
	}
}

func (m *Manager) handleAdmit(userID string) error {
	if m.limiter.limited(userID, m.clock.Now()) {
		return domain.ErrRateLimited
	}
	if m.opts.MaxConnections > 0 && len(m.conns) >= m.opts.MaxConnections {
		return domain.ErrTooManyConnections
	}
	return nil
}

func (m *Manager) handleRegister(c *connection) error {
	if m.opts.MaxConnections > 0 && len(m.conns) >= m.opts.MaxConnections {
		return domain.ErrTooManyConnections
	}

	c.connectedAt = m.clock.Now()
	c.writer = newClientWriter(c.ws, m.clock, m.recordSent)
	m.conns[c.socketID] = c
	m.registry.add(c.socketID, c.identity)
	m.rooms.join(c.socketID, initialRooms(c.identity)...)
	c.transition(StateJoined)

	m.totalConnections.Add(1)
	m.metrics.ActiveConnections.Inc()
	kind := "authenticated"
	if c.identity.Anonymous {
		kind = "anonymous"
	}
	m.metrics.ConnectionsTotal.WithLabelValues(kind).Inc()

	m.reply(c, EventConnected, welcome{
		SocketID:   c.socketID,
		UserID:     c.identity.UserID,
		Anonymous:  c.identity.Anonymous,
		Rooms:      m.rooms.of(c.socketID),
		InstanceID: m.opts.InstanceID,
		ServerTime: c.connectedAt.UnixMilli(),
	})
	c.transition(StateActive)
	m.touchActivity(c.identity)

	slog.Info("Client connected", "socket_id", c.socketID, "user_id", c.identity.UserID, "anonymous", c.identity.Anonymous, "connections", len(m.conns))
	return nil
}

func (m *Manager) handleUnregister(socketID string) {
	c, ok := m.conns[socketID]
	if !ok {
		return
	}
	delete(m.conns, socketID)

	c.writer.stop()
	m.rooms.leaveAll(socketID)
	m.registry.remove(socketID)
	// any disconnect starts the user's rate window over
	m.limiter.reset(c.identity.UserID)
	c.transition(StateDisconnected)
	m.metrics.ActiveConnections.Dec()

	slog.Info("Client disconnected", "socket_id", socketID, "user_id", c.identity.UserID, "duration", m.clock.Since(c.connectedAt))
}

func (m *Manager) handleStop() {
	slog.Info("Session manager shutting down", "connections", len(m.conns))
	for _, c := range m.conns {
		c.writer.enqueue(encodeFrame(Frame{
			Event:      EventShutdown,
			Data:       mustRaw(map[string]string{"reason": "server shutting down"}),
			Timestamp:  m.clock.Now().UnixMilli(),
			InstanceID: m.opts.InstanceID,
		}))
	}
	m.closeAll(websocket.CloseGoingAway, "server shutting down")
}

func (m *Manager) closeAll(code int, reason string) {
	for socketID, c := range m.conns {
		c.writer.stopGraceful(code, reason)
		c.transition(StateDisconnected)
		delete(m.conns, socketID)
	}
	m.metrics.ActiveConnections.Set(0)
	m.registry.clear()
	m.rooms.clear()
	m.limiter.clear()
}

// isGlobalRelay marks relays every socket receives regardless of room.
// Plans carry public pricing and maintenance affects everyone.
func isGlobalRelay(relayType string) bool {
	switch relayType {
	case domain.RelayPlanUpdated, domain.RelayPlanCreated, domain.RelayPlanDeleted, domain.RelaySystemMaintenance:
		return true
	default:
		return false
	}
}

func (m *Manager) relayTargets(msg domain.RelayMessage) []string {
	switch msg.Mode {
	case domain.RelayUserSpecific:
		return m.registry.socketsOf(msg.UserID)
	case domain.RelayRoomSpecific:
		return m.rooms.in(msg.TargetRoom)
	default:
		if isGlobalRelay(msg.Type) {
			all := make([]string, 0, len(m.conns))
			for id := range m.conns {
				all = append(all, id)
			}
			return all
		}
		room := msg.TargetRoom
		if room == "" {
			room = domain.RoomUsers
		}
		return m.rooms.in(room)
	}
}

func (m *Manager) handleRelay(msg domain.RelayMessage, meta domain.Metadata) {
	event := msg.Event
	if event == "" {
		event = strings.ToLower(msg.Type)
	}

	targets := m.relayTargets(msg)
	if len(targets) == 0 {
		return
	}

	data := encodeFrame(Frame{
		Event:      event,
		Type:       msg.Type,
		Data:       msg.Data,
		Timestamp:  m.clock.Now().UnixMilli(),
		InstanceID: m.opts.InstanceID,
	})

	var slow []string
	for _, socketID := range targets {
		c, ok := m.conns[socketID]
		if !ok {
			continue
		}
		if !c.writer.enqueue(data) {
			slow = append(slow, socketID)
		}
	}

	for _, socketID := range slow {
		slog.Warn("Disconnecting slow client", "socket_id", socketID)
		m.metrics.SlowClientsEvicted.Inc()
		m.handleUnregister(socketID)
	}

	slog.Debug("Relayed event", "event", event, "mode", msg.Mode, "recipients", len(targets)-len(slow), "origin_instance_id", meta.OriginInstanceID)
}

func (m *Manager) snapshot() Metrics {
	snap := m.counters()
	snap.ActiveConnections = len(m.conns)
	snap.ConnectedUsers = m.registry.users()
	snap.Rooms = m.rooms.count()
	snap.RateLimitedUsers = m.limiter.limitedUsers(m.clock.Now())
	return snap
}

func (m *Manager) report() {
	snap := m.snapshot()
	m.metrics.ActiveConnections.Set(float64(snap.ActiveConnections))
	slog.Info("Session manager metrics",
		"active_connections", snap.ActiveConnections,
		"connected_users", snap.ConnectedUsers,
		"rooms", snap.Rooms,
		"messages_received", snap.MessagesReceived,
		"messages_sent", snap.MessagesSent,
		"rate_limited_users", snap.RateLimitedUsers,
	)
}

func (m *Manager) recordSent() {
	m.messagesSent.Add(1)
	m.metrics.MessagesSent.Inc()
}

func (m *Manager) recordError(kind string) {
	m.errors.Add(1)
	m.metrics.Errors.WithLabelValues(kind).Inc()
}

// reply sends one frame to c. A full buffer evicts the client.
func (m *Manager) reply(c *connection, event string, data any) {
	frame := encodeFrame(Frame{
		Event:      event,
		Data:       mustRaw(data),
		Timestamp:  m.clock.Now().UnixMilli(),
		InstanceID: m.opts.InstanceID,
	})
	if !c.writer.enqueue(frame) {
		m.metrics.SlowClientsEvicted.Inc()
		m.handleUnregister(c.socketID)
	}
}

func (m *Manager) touchActivity(id domain.Identity) {
	if m.opts.Activity == nil || id.Anonymous {
		return
	}
	at := m.clock.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), activityTimeout)
		defer cancel()
		if err := m.opts.Activity.Touch(ctx, id.UserID, at); err != nil {
			slog.Warn("Failed to record user activity", "user_id", id.UserID, "error", err)
		}
	}()
}

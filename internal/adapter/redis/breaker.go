package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// BreakerState mirrors the gobreaker states under the names used in health documents.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateOpen
	}
}

func stateToFloat(s BreakerState) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerSettings configures a CircuitBreaker.
type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration

	// Probe is run once, OpenTimeout after every transition to OPEN.
	// Without a probe the breaker half-opens lazily on the next call.
	Probe         func(ctx context.Context) error
	ProbeTimeout  time.Duration
	OnStateChange func(from, to BreakerState)
	OnRejected    func()

	// Clock schedules the probe and stamps failures. gobreaker expires OPEN on
	// wall time, so anything but a real clock only suits tests that never
	// rely on the probe firing.
	Clock clockwork.Clock
}

// BreakerSnapshot is the observable breaker state.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	FailureCount        uint32       `json:"failureCount"`
	MaxFailures         uint32       `json:"maxFailures"`
	OpenTimeoutMillis   int64        `json:"openTimeoutMillis"`
	LastFailureAtMillis int64        `json:"lastFailureAtMillis,omitempty"`
}

// CircuitBreaker trips after MaxFailures consecutive failures.
//
// Transitions:
//
//	CLOSED    --MaxFailures consecutive failures--> OPEN
//	OPEN      --OpenTimeout elapsed----------------> HALF_OPEN
//	HALF_OPEN --one success------------------------> CLOSED (failure count reset)
//	HALF_OPEN --any failure------------------------> OPEN
type CircuitBreaker struct {
	cb       *gobreaker.CircuitBreaker
	settings BreakerSettings

	mu          sync.Mutex
	lastFailure time.Time
	probeTimer  clockwork.Timer
	closed      bool
}

func NewCircuitBreaker(s BreakerSettings) *CircuitBreaker {
	if s.Name == "" {
		s.Name = "redis"
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.ProbeTimeout == 0 {
		s.ProbeTimeout = 5 * time.Second
	}
	if s.Clock == nil {
		s.Clock = clockwork.NewRealClock()
	}

	b := &CircuitBreaker{settings: s}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    0, // never clear counts while closed
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		// a caller giving up is not a broker failure
		IsSuccessful:  isSuccessful,
		OnStateChange: b.stateChanged,
	})
	return b
}

// stateChanged runs while gobreaker holds its lock; it must not call back into cb.
func (b *CircuitBreaker) stateChanged(name string, from, to gobreaker.State) {
	f, t := fromGobreaker(from), fromGobreaker(to)
	slog.Warn("Circuit breaker state changed", "component", name, "from", f, "to", t)

	if t == StateOpen {
		b.scheduleProbe()
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(f, t)
	}
}

func (b *CircuitBreaker) scheduleProbe() {
	if b.settings.Probe == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.probeTimer != nil {
		b.probeTimer.Stop()
	}
	// fire just after gobreaker's own expiry so the probe call sees HALF_OPEN
	b.probeTimer = b.settings.Clock.AfterFunc(b.settings.OpenTimeout+time.Millisecond, b.runProbe)
}

func (b *CircuitBreaker) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), b.settings.ProbeTimeout)
	defer cancel()

	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.settings.Probe(ctx)
	})
	switch {
	case err == nil:
		slog.Info("Circuit breaker probe succeeded", "component", b.settings.Name)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		// another caller is already probing
	default:
		b.recordFailure()
		slog.Warn("Circuit breaker probe failed", "component", b.settings.Name, "error", err)
	}
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	b.lastFailure = b.settings.Clock.Now()
	b.mu.Unlock()
}

func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	return fromGobreaker(b.cb.State())
}

// Snapshot returns the current breaker state and counters.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	last := b.lastFailure
	b.mu.Unlock()

	snap := BreakerSnapshot{
		State:             b.State(),
		FailureCount:      b.cb.Counts().ConsecutiveFailures,
		MaxFailures:       b.settings.MaxFailures,
		OpenTimeoutMillis: b.settings.OpenTimeout.Milliseconds(),
	}
	if !last.IsZero() {
		snap.LastFailureAtMillis = last.UnixMilli()
	}
	return snap
}

// Stop cancels a pending probe. The breaker keeps answering calls.
func (b *CircuitBreaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.probeTimer != nil {
		b.probeTimer.Stop()
	}
}

// Fallback produces a degraded result when an operation could not run or failed.
type Fallback[T any] func(err error) (T, error)

// ReturnZero is a fallback that swallows the error and returns the zero value.
func ReturnZero[T any](error) (T, error) {
	var zero T
	return zero, nil
}

// Execute runs op through the breaker. While the breaker is open op is not invoked.
// On rejection or failure the fallback, when given, decides the result; otherwise the
// error is returned (wrapping domain.ErrCircuitOpen for rejections).
func Execute[T any](b *CircuitBreaker, op func() (T, error), fallback Fallback[T]) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return op()
	})
	if err == nil {
		v, _ := res.(T)
		return v, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if b.settings.OnRejected != nil {
			b.settings.OnRejected()
		}
		err = fmt.Errorf("%w: %w", domain.ErrCircuitOpen, err)
	} else if !isSuccessful(err) {
		b.recordFailure()
	}

	if fallback != nil {
		return fallback(err)
	}
	var zero T
	return zero, err
}

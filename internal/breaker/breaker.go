// Package breaker is the process-wide failure gate in front of swap execution.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
)

// Config sets the trip and recovery thresholds.
type Config struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

// Snapshot is a read-only view of the breaker.
type Snapshot struct {
	State               domain.BreakerState `json:"state"`
	ConsecutiveFailures uint32              `json:"consecutive_failures"`
	ConsecutiveSuccess  uint32              `json:"consecutive_successes"`
	RetryAt             time.Time           `json:"retry_at,omitzero"`
}

// Breaker wraps a two-step gobreaker so outcomes can be recorded after the
// fact. All state changes go through RecordSuccess, RecordFailure and
// IsTripped.
type Breaker struct {
	cb      *gobreaker.TwoStepCircuitBreaker
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	retryAt   time.Time
	listeners []func(from, to domain.BreakerState)
}

// New creates a Breaker. m may be nil.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "swap-executor"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	b := &Breaker{
		timeout: cfg.ResetTimeout,
		metrics: m,
		logger:  logger.With(slog.String("component", "breaker")),
	}
	threshold := uint32(cfg.FailureThreshold)
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
	})
	return b
}

// onStateChange runs under gobreaker's lock; it must not call back into cb.
func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	f, t := stateOf(from), stateOf(to)

	b.mu.Lock()
	if to == gobreaker.StateOpen {
		b.retryAt = time.Now().Add(b.timeout)
	} else {
		b.retryAt = time.Time{}
	}
	listeners := b.listeners
	b.mu.Unlock()

	for _, fn := range listeners {
		go fn(f, t)
	}

	b.metrics.BreakerTransition(string(f), string(t))
	level := slog.LevelInfo
	if to == gobreaker.StateOpen {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "breaker state change",
		slog.String("name", name),
		slog.String("from", string(f)),
		slog.String("to", string(t)),
	)
}

// OnStateChange registers fn to be called, on its own goroutine, after every
// transition.
func (b *Breaker) OnStateChange(fn func(from, to domain.BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// IsTripped reports whether attempts are currently blocked. Querying after
// the reset timeout moves an open breaker to half-open and returns false.
// Half-open admits every caller; only SuccessThreshold outcomes are counted
// and the first failure reopens it.
func (b *Breaker) IsTripped() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Admit returns a CircuitOpenError carrying the retry time when the breaker
// is tripped.
func (b *Breaker) Admit() error {
	if !b.IsTripped() {
		return nil
	}
	return &domain.CircuitOpenError{RetryAt: b.RetryAt()}
}

// RecordSuccess counts one successful attempt.
func (b *Breaker) RecordSuccess() { b.record(true) }

// RecordFailure counts one failed attempt.
func (b *Breaker) RecordFailure() { b.record(false) }

func (b *Breaker) record(success bool) {
	done, err := b.cb.Allow()
	if err != nil {
		// Open, or half-open with its probe quota spent: nothing to count.
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.logger.Warn("breaker record dropped", slog.String("error", err.Error()))
		}
		return
	}
	done(success)
}

// State returns the current state.
func (b *Breaker) State() domain.BreakerState {
	return stateOf(b.cb.State())
}

// RetryAt is when an open breaker will next admit a probe. It is zero unless
// the breaker is open.
func (b *Breaker) RetryAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retryAt
}

// Snapshot returns the state and counters.
func (b *Breaker) Snapshot() Snapshot {
	st := b.State()
	c := b.cb.Counts()
	return Snapshot{
		State:               st,
		ConsecutiveFailures: c.ConsecutiveFailures,
		ConsecutiveSuccess:  c.ConsecutiveSuccesses,
		RetryAt:             b.RetryAt(),
	}
}

func stateOf(s gobreaker.State) domain.BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return domain.BreakerOpen
	case gobreaker.StateHalfOpen:
		return domain.BreakerHalfOpen
	default:
		return domain.BreakerClosed
	}
}

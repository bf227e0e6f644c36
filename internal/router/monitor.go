package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// PlanMonitor periodically evaluates a live plan and rebuilds it when the
// market has moved. At most one evaluation is in flight; a tick that fires
// while one is running is skipped. Results are delivered on Updates, which
// is closed after Stop or context cancellation.
type PlanMonitor struct {
	router   *Router
	interval time.Duration
	logger   *slog.Logger

	current  atomic.Pointer[domain.AtomicSwapPlan]
	inFlight atomic.Bool
	skipped  atomic.Int64

	updates  chan domain.PlanUpdate
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// StartMonitor begins monitoring plan. interval <= 0 uses the configured
// monitor interval.
func (r *Router) StartMonitor(ctx context.Context, plan *domain.AtomicSwapPlan, interval time.Duration) *PlanMonitor {
	if interval <= 0 {
		interval = r.cfg.MonitorInterval
	}
	m := &PlanMonitor{
		router:   r,
		interval: interval,
		logger:   r.logger.With(slog.String("plan_id", plan.ID)),
		updates:  make(chan domain.PlanUpdate, 8),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.current.Store(plan)
	r.metrics.MonitorStarted()
	go m.run(ctx)
	return m
}

// Updates delivers one PlanUpdate per completed evaluation.
func (m *PlanMonitor) Updates() <-chan domain.PlanUpdate { return m.updates }

// Current returns the latest plan. Rebuilds replace it wholesale.
func (m *PlanMonitor) Current() *domain.AtomicSwapPlan { return m.current.Load() }

// Skipped counts ticks dropped because an evaluation was still running.
func (m *PlanMonitor) Skipped() int64 { return m.skipped.Load() }

// Done is closed once the monitor has fully stopped.
func (m *PlanMonitor) Done() <-chan struct{} { return m.done }

// Stop halts new ticks and waits for an in-flight evaluation to finish. Its
// result is discarded.
func (m *PlanMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

func (m *PlanMonitor) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *PlanMonitor) run(ctx context.Context) {
	defer func() {
		m.wg.Wait()
		close(m.updates)
		m.router.metrics.MonitorStopped()
		close(m.done)
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if !m.inFlight.CompareAndSwap(false, true) {
				m.skipped.Add(1)
				m.logger.Debug("plan monitor tick skipped, evaluation in flight")
				continue
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				defer m.inFlight.Store(false)
				m.tick(ctx)
			}()
		}
	}
}

func (m *PlanMonitor) tick(ctx context.Context) {
	plan := m.current.Load()
	u := domain.PlanUpdate{PlanID: plan.ID}

	eval, err := m.router.EvaluatePlan(ctx, plan)
	switch {
	case err != nil:
		u.Error = err.Error()
	case eval.ShouldRebalance:
		u.Evaluation = &eval
		next, berr := m.router.BuildAtomicPlan(ctx, plan.Request)
		if berr != nil {
			u.Error = berr.Error()
			break
		}
		if m.stopped() {
			return
		}
		m.current.Store(next)
		u.Plan = next
		u.Rebuilt = true
		m.logger.Info("plan rebuilt",
			slog.String("reason", string(eval.Reason)),
			slog.String("new_plan_id", next.ID),
		)
	default:
		u.Evaluation = &eval
	}
	u.At = m.router.nowFunc()

	if m.stopped() {
		return
	}
	m.publish(ctx, u)
	m.deliver(ctx, u)
}

// deliver hands u to Updates unless the monitor is stopping. A stop that is
// already visible always wins over a free buffer slot.
func (m *PlanMonitor) deliver(ctx context.Context, u domain.PlanUpdate) {
	select {
	case <-m.stopCh:
		return
	case <-ctx.Done():
		return
	default:
	}
	select {
	case <-m.stopCh:
	case <-ctx.Done():
	case m.updates <- u:
	}
}

func (m *PlanMonitor) publish(ctx context.Context, u domain.PlanUpdate) {
	if m.router.bus == nil {
		return
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := m.router.bus.Publish(ctx, domain.ChannelPlanUpdates, payload); err != nil {
		m.logger.Warn("publish plan update failed", slog.String("error", err.Error()))
	}
}

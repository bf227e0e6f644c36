package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// Monitors tracks running plan monitors by the ID of the plan they were
// started with and forwards their updates to a sink.
type Monitors struct {
	router *Router
	sink   func(domain.PlanUpdate)

	mu       sync.Mutex
	monitors map[string]*PlanMonitor
}

// NewMonitors creates a Monitors. sink may be nil.
func NewMonitors(r *Router, sink func(domain.PlanUpdate)) *Monitors {
	return &Monitors{router: r, sink: sink, monitors: make(map[string]*PlanMonitor)}
}

// Start monitors plan until Stop, StopAll or ctx cancellation.
func (ms *Monitors) Start(ctx context.Context, plan *domain.AtomicSwapPlan, interval time.Duration) (*PlanMonitor, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.monitors[plan.ID]; ok {
		return nil, fmt.Errorf("router: monitor %s: %w", plan.ID, domain.ErrDuplicateRequest)
	}
	m := ms.router.StartMonitor(ctx, plan, interval)
	ms.monitors[plan.ID] = m
	go ms.drain(plan.ID, m)
	return m, nil
}

func (ms *Monitors) drain(id string, m *PlanMonitor) {
	for u := range m.Updates() {
		if ms.sink != nil {
			ms.sink(u)
		}
	}
	ms.mu.Lock()
	if ms.monitors[id] == m {
		delete(ms.monitors, id)
	}
	ms.mu.Unlock()
}

// Get returns the monitor started for planID.
func (ms *Monitors) Get(planID string) (*PlanMonitor, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, ok := ms.monitors[planID]
	return m, ok
}

// Stop stops the monitor started for planID.
func (ms *Monitors) Stop(planID string) error {
	ms.mu.Lock()
	m, ok := ms.monitors[planID]
	delete(ms.monitors, planID)
	ms.mu.Unlock()
	if !ok {
		return fmt.Errorf("router: monitor %s: %w", planID, domain.ErrNotFound)
	}
	m.Stop()
	return nil
}

// StopAll stops every monitor.
func (ms *Monitors) StopAll() {
	ms.mu.Lock()
	all := make([]*PlanMonitor, 0, len(ms.monitors))
	for id, m := range ms.monitors {
		all = append(all, m)
		delete(ms.monitors, id)
	}
	ms.mu.Unlock()
	for _, m := range all {
		m.Stop()
	}
}

// Len is the number of running monitors.
func (ms *Monitors) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.monitors)
}

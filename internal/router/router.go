// Package router freezes route candidates into executable plans and keeps
// them fresh.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
	"github.com/alanyoungcy/swaprouter/internal/routing"
)

// Config sets plan shape and staleness bounds.
type Config struct {
	FallbackCount      int
	QuoteValidity      time.Duration
	DefaultSlippageBps float64
	Thresholds         domain.RebalanceThresholds
	MonitorInterval    time.Duration
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		FallbackCount:      2,
		QuoteValidity:      15 * time.Second,
		DefaultSlippageBps: 50,
		Thresholds: domain.RebalanceThresholds{
			MaxPriceDriftBps:  30,
			MinLiquidityRatio: 0.7,
			MaxStaleness:      10 * time.Second,
		},
		MonitorInterval: 2500 * time.Millisecond,
	}
}

// Option customises a Router.
type Option func(*Router)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.nowFunc = now }
}

// WithMetrics records plan metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithSignalBus publishes monitor updates.
func WithSignalBus(bus domain.SignalBus) Option {
	return func(r *Router) { r.bus = bus }
}

// Router builds and evaluates AtomicSwapPlans.
type Router struct {
	liquidity routing.LiquidityFetcher
	optimizer *routing.Optimizer
	cfg       Config
	bus       domain.SignalBus
	metrics   *metrics.Metrics
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// New creates a Router. liq must be the same source the optimizer reads, so
// plans and evaluations see one consistent view.
func New(liq routing.LiquidityFetcher, opt *routing.Optimizer, cfg Config, logger *slog.Logger, opts ...Option) *Router {
	def := DefaultConfig()
	if cfg.FallbackCount < 0 {
		cfg.FallbackCount = 0
	}
	if cfg.QuoteValidity <= 0 {
		cfg.QuoteValidity = def.QuoteValidity
	}
	if cfg.DefaultSlippageBps <= 0 {
		cfg.DefaultSlippageBps = def.DefaultSlippageBps
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	r := &Router{
		liquidity: liq,
		optimizer: opt,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "router")),
		nowFunc:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Router) Config() Config { return r.cfg }

func validateRequest(req domain.PlanRequest) error {
	switch {
	case req.InputAsset == "" || req.OutputAsset == "":
		return fmt.Errorf("router: %w: input and output assets are required", domain.ErrInvalidRequest)
	case req.InputAsset == req.OutputAsset:
		return fmt.Errorf("router: %w: input and output asset are both %s", domain.ErrInvalidRequest, req.InputAsset)
	case !(req.Amount > 0) || math.IsInf(req.Amount, 0):
		return fmt.Errorf("router: %w: amount %v", domain.ErrInvalidRequest, req.Amount)
	case req.SlippageBps < 0 || req.SlippageBps >= 10_000:
		return fmt.Errorf("router: %w: slippage %v bps", domain.ErrInvalidRequest, req.SlippageBps)
	}
	return nil
}

// BuildAtomicPlan takes one fresh liquidity snapshot at the exact request
// amount and turns the top route candidates into a primary plan with ranked
// fallbacks. The plan's snapshot is the drift baseline, so it never comes
// from the size-bucketed cache.
func (r *Router) BuildAtomicPlan(ctx context.Context, req domain.PlanRequest) (*domain.AtomicSwapPlan, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	liq, err := r.liquidity.FetchAggregatedLiquidity(ctx, domain.LiquidityRequest{
		InputAsset:    req.InputAsset,
		OutputAsset:   req.OutputAsset,
		Amount:        req.Amount,
		AllowedVenues: req.AllowedVenues,
		BypassCache:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("router: build plan: %w", err)
	}
	return r.BuildFromLiquidity(req, liq)
}

// BuildFromLiquidity builds a plan from an existing snapshot.
func (r *Router) BuildFromLiquidity(req domain.PlanRequest, liq domain.AggregatedLiquidity) (*domain.AtomicSwapPlan, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	routes, err := r.optimizer.RoutesFromLiquidity(liq, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("router: build plan: %w", err)
	}

	k := min(len(routes), 1+r.cfg.FallbackCount)
	now := r.nowFunc()
	snap := snapshotOf(liq)

	plans := make([]domain.AtomicSwapPlan, k)
	for i := range k {
		plans[i] = r.planFromRoute(req, routes[i], snap, now)
	}
	primary := plans[0]
	primary.Fallbacks = plans[1:]
	if primary.Strategy != nil {
		primary.Strategy.FallbackCount = len(primary.Fallbacks)
	}

	r.metrics.PlanBuilt()
	r.logger.Debug("plan built",
		slog.String("plan_id", primary.ID),
		slog.String("pair", req.InputAsset+"/"+req.OutputAsset),
		slog.Float64("amount", req.Amount),
		slog.Int("legs", len(primary.Legs)),
		slog.Int("fallbacks", len(primary.Fallbacks)),
	)
	return &primary, nil
}

func (r *Router) planFromRoute(req domain.PlanRequest, route domain.RouteCandidate, snap []domain.SnapshotEntry, now time.Time) domain.AtomicSwapPlan {
	slip := req.SlippageBps
	if slip == 0 {
		slip = r.cfg.DefaultSlippageBps
	}
	floor := 1 - slip/10_000

	p := domain.AtomicSwapPlan{
		ID:             uuid.NewString(),
		Request:        req,
		InputAsset:     req.InputAsset,
		OutputAsset:    req.OutputAsset,
		TotalInput:     route.InputAmount,
		ExpectedOutput: route.ExpectedOutput,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.cfg.QuoteValidity),
		QuoteValidity:  r.cfg.QuoteValidity,
		Snapshot:       slices.Clone(snap),
		Thresholds:     r.cfg.Thresholds,
		FootprintRatio: route.FootprintRatio,
		MEVRisk:        route.MEVRisk,
	}
	p.Request.SlippageBps = slip
	if route.Strategy != nil {
		meta := *route.Strategy
		p.Strategy = &meta
	}
	for _, s := range route.Splits {
		leg := domain.PlanLeg{
			Venue:          s.Venue,
			Kind:           s.Kind,
			InputAmount:    s.InputAmount,
			ExpectedOutput: s.ExpectedOutput,
			MinOutput:      s.ExpectedOutput * floor,
		}
		p.Legs = append(p.Legs, leg)
		p.MinOutput += leg.MinOutput
	}
	return p
}

func snapshotOf(liq domain.AggregatedLiquidity) []domain.SnapshotEntry {
	out := make([]domain.SnapshotEntry, 0, len(liq.Sources))
	for _, s := range liq.Sources {
		ts := s.Timestamp
		if ts.IsZero() {
			ts = liq.FetchedAt
		}
		out = append(out, domain.SnapshotEntry{
			Venue:          s.Venue,
			Kind:           s.Kind,
			EffectivePrice: s.EffectivePrice,
			Depth:          s.Depth,
			Timestamp:      ts,
		})
	}
	return out
}

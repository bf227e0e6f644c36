// Package liquidity fans quote requests out to venue adapters and merges the
// answers into one deterministically ordered view.
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
	"github.com/alanyoungcy/swaprouter/internal/venue"
)

// Options tunes the aggregator.
type Options struct {
	CallTimeout      time.Duration
	MaxConcurrency   int
	CacheTTL         time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	// PriceEpsilon is the relative price difference under which two quotes
	// are treated as equal and ordered by venue kind.
	PriceEpsilon  float64
	RatePerSecond float64
	RateBurst     int
	VenueRates    map[string]RateLimit
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithSharedCache adds a second cache tier shared between processes.
func WithSharedCache(c domain.LiquidityCache) Option {
	return func(a *Aggregator) { a.shared = c }
}

// WithMetrics records fetch and cache metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.nowFunc = now }
}

// Aggregator queries every allowed, healthy venue concurrently. Venue health
// and the in-process cache are owned by the instance.
type Aggregator struct {
	registry *venue.Registry
	opts     Options
	health   *healthTracker
	cache    *memoryCache
	limiter  *venueLimiter
	shared   domain.LiquidityCache
	metrics  *metrics.Metrics
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// NewAggregator creates an Aggregator over the venues in registry.
func NewAggregator(registry *venue.Registry, opts Options, logger *slog.Logger, options ...Option) *Aggregator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 1500 * time.Millisecond
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.PriceEpsilon <= 0 {
		opts.PriceEpsilon = 1e-6
	}
	a := &Aggregator{
		registry: registry,
		opts:     opts,
		health:   newHealthTracker(opts.FailureThreshold, opts.Cooldown),
		cache:    newMemoryCache(opts.CacheTTL),
		limiter:  newVenueLimiter(opts.RatePerSecond, opts.RateBurst, opts.VenueRates),
		logger:   logger.With(slog.String("component", "aggregator")),
		nowFunc:  time.Now,
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// FetchAggregatedLiquidity returns the current quotes for a pair and size.
// Venue failures are absorbed; only an empty result is an error.
func (a *Aggregator) FetchAggregatedLiquidity(ctx context.Context, req domain.LiquidityRequest) (domain.AggregatedLiquidity, error) {
	if req.InputAsset == "" || req.OutputAsset == "" || req.InputAsset == req.OutputAsset {
		return domain.AggregatedLiquidity{}, fmt.Errorf("liquidity: %w: pair %q/%q", domain.ErrInvalidRequest, req.InputAsset, req.OutputAsset)
	}
	if !(req.Amount > 0) || math.IsInf(req.Amount, 0) {
		return domain.AggregatedLiquidity{}, fmt.Errorf("liquidity: %w: amount %v", domain.ErrInvalidRequest, req.Amount)
	}

	key := CacheKey(req)
	if !req.BypassCache {
		if liq, ok := a.lookup(ctx, key); ok {
			return liq, nil
		}
	}

	entries := a.registry.Select(req.AllowedVenues)
	if len(entries) == 0 {
		return domain.AggregatedLiquidity{}, fmt.Errorf("liquidity: %w: no venues for %s/%s", domain.ErrNoLiquidity, req.InputAsset, req.OutputAsset)
	}

	started := a.nowFunc()
	results := make([]*domain.LiquiditySource, len(entries))

	var g errgroup.Group
	g.SetLimit(a.opts.MaxConcurrency)
	for i, e := range entries {
		if !a.health.available(e.Name, started) {
			a.logger.DebugContext(ctx, "venue in cooldown, skipping", slog.String("venue", e.Name))
			continue
		}
		g.Go(func() error {
			results[i] = a.fetchOne(ctx, e, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return domain.AggregatedLiquidity{}, fmt.Errorf("liquidity: fetch: %w", err)
	}

	now := a.nowFunc()
	liq := a.assemble(results, now)
	if len(liq.Sources) == 0 {
		return domain.AggregatedLiquidity{}, fmt.Errorf("liquidity: %w: %s/%s amount %v", domain.ErrNoLiquidity, req.InputAsset, req.OutputAsset, req.Amount)
	}

	a.store(ctx, key, liq, now)
	return liq, nil
}

// VenueHealth reports the tracker state of every registered venue.
func (a *Aggregator) VenueHealth() []domain.VenueHealth {
	return a.health.snapshot(a.registry.Names(), a.nowFunc())
}

func (a *Aggregator) lookup(ctx context.Context, key string) (domain.AggregatedLiquidity, bool) {
	now := a.nowFunc()
	if liq, ok := a.cache.get(key, now); ok {
		a.metrics.CacheLookup("memory", true)
		return liq, true
	}
	a.metrics.CacheLookup("memory", false)

	if a.shared == nil {
		return domain.AggregatedLiquidity{}, false
	}
	liq, ok, err := a.shared.Get(ctx, key)
	if err != nil {
		a.logger.WarnContext(ctx, "shared liquidity cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return domain.AggregatedLiquidity{}, false
	}
	a.metrics.CacheLookup("shared", ok)
	if !ok || len(liq.Sources) == 0 {
		return domain.AggregatedLiquidity{}, false
	}
	a.cache.set(key, liq, now)
	return liq, true
}

func (a *Aggregator) store(ctx context.Context, key string, liq domain.AggregatedLiquidity, now time.Time) {
	if a.opts.CacheTTL <= 0 {
		return
	}
	a.cache.set(key, liq, now)
	if a.shared == nil {
		return
	}
	if err := a.shared.Set(ctx, key, liq, a.opts.CacheTTL); err != nil {
		a.logger.WarnContext(ctx, "shared liquidity cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// fetchOne queries a single venue under its own budget. It never returns an
// error: failures are recorded on the health tracker and yield nil.
func (a *Aggregator) fetchOne(ctx context.Context, e venue.Entry, req domain.LiquidityRequest) *domain.LiquiditySource {
	callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()

	if err := a.limiter.wait(callCtx, e.Name); err != nil {
		if ctx.Err() == nil {
			a.logger.DebugContext(ctx, "venue rate limited, skipping", slog.String("venue", e.Name))
			a.metrics.ObserveVenueFetch(e.Name, "throttled", 0)
		}
		return nil
	}

	start := a.nowFunc()
	src, err := a.call(callCtx, e, req)
	now := a.nowFunc()
	elapsed := now.Sub(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.recordFailure(ctx, e.Name, err, now)
		a.metrics.ObserveVenueFetch(e.Name, "error", elapsed)
		return nil
	}
	a.health.recordSuccess(e.Name, now)

	if src == nil {
		a.metrics.ObserveVenueFetch(e.Name, "empty", elapsed)
		return nil
	}

	out := normalize(*src, e, now)
	if err := out.Validate(); err != nil {
		a.logger.WarnContext(ctx, "dropping malformed liquidity source",
			slog.String("venue", e.Name),
			slog.String("error", err.Error()),
		)
		a.metrics.ObserveVenueFetch(e.Name, "invalid", elapsed)
		return nil
	}
	a.metrics.ObserveVenueFetch(e.Name, "ok", elapsed)
	return &out
}

type fetchResult struct {
	src *domain.LiquiditySource
	err error
}

// call runs the adapter so that one ignoring its context still cannot hold
// the aggregation past the budget.
func (a *Aggregator) call(ctx context.Context, e venue.Entry, req domain.LiquidityRequest) (*domain.LiquiditySource, error) {
	ch := make(chan fetchResult, 1)
	go func() {
		src, err := e.Source.FetchLiquidity(ctx, req.InputAsset, req.OutputAsset, req.Amount)
		ch <- fetchResult{src: src, err: err}
	}()
	select {
	case r := <-ch:
		if r.err == nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.src, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Aggregator) recordFailure(ctx context.Context, name string, err error, now time.Time) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: timeout after %s", domain.ErrVenueUnavailable, a.opts.CallTimeout)
	}
	parked := a.health.recordFailure(name, err, now)
	a.logger.WarnContext(ctx, "venue fetch failed",
		slog.String("venue", name),
		slog.String("error", err.Error()),
		slog.Bool("parked", parked),
	)
	if parked {
		a.metrics.VenueParked(name)
	}
}

// normalize pins adapter output to the registry's identity and policy and
// cleans order book ladders.
func normalize(src domain.LiquiditySource, e venue.Entry, now time.Time) domain.LiquiditySource {
	src.Venue = e.Name
	if src.Kind == "" {
		src.Kind = e.Policy.Kind
	}
	if src.Timestamp.IsZero() {
		src.Timestamp = now
	}
	if src.Metadata != nil {
		src.Metadata = maps.Clone(src.Metadata)
	}
	if src.Orderbook != nil {
		book := src.Orderbook.Sanitized()
		if e.Policy.TakerFeeBps != nil {
			book.TakerFeeBps = *e.Policy.TakerFeeBps
		}
		src.Orderbook = book
	}
	return src
}

func (a *Aggregator) assemble(results []*domain.LiquiditySource, now time.Time) domain.AggregatedLiquidity {
	liq := domain.AggregatedLiquidity{FetchedAt: now}
	var oldest time.Time
	for _, r := range results {
		if r == nil {
			continue
		}
		liq.Sources = append(liq.Sources, *r)
		liq.TotalDepth += r.Depth
		if oldest.IsZero() || r.Timestamp.Before(oldest) {
			oldest = r.Timestamp
		}
	}
	if !oldest.IsZero() && now.After(oldest) {
		liq.Staleness = now.Sub(oldest)
	}
	SortSources(liq.Sources, a.opts.PriceEpsilon)
	return liq
}

// SortSources orders quotes best price first. Prices within eps (relative)
// are ordered CLOB, RFQ, AMM, then by venue name.
func SortSources(sources []domain.LiquiditySource, eps float64) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if !PricesEqual(a.EffectivePrice, b.EffectivePrice, eps) {
			return a.EffectivePrice > b.EffectivePrice
		}
		if a.Kind.Rank() != b.Kind.Rank() {
			return a.Kind.Rank() < b.Kind.Rank()
		}
		return a.Venue < b.Venue
	})
}

// PricesEqual compares two prices with a relative tolerance.
func PricesEqual(a, b, eps float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b) <= eps*scale
}

// Package routing computes cost-minimising allocations of a swap across
// venues from an aggregated liquidity snapshot.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/liquidity"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
	"github.com/alanyoungcy/swaprouter/internal/mev"
)

// Config tunes route search.
type Config struct {
	MaxRoutes       int
	MaxSplits       int
	EnableSplit     bool
	SplitIncrements int
	SampleCount     int
	PrioritizeCLOB  bool
	PriceEpsilon    float64

	TWAPTriggerRatio    float64
	EnableTWAP          bool
	TWAPMinSlices       int
	TWAPMaxSlices       int
	TWAPBaseInterval    time.Duration
	TWAPMaxInterval     time.Duration
	TWAPSlippageStepPct float64
	TWAPDoublingPct     float64
}

// DefaultConfig returns the optimizer defaults.
func DefaultConfig() Config {
	return Config{
		MaxRoutes:           5,
		MaxSplits:           3,
		EnableSplit:         true,
		SplitIncrements:     20,
		SampleCount:         4,
		PrioritizeCLOB:      true,
		PriceEpsilon:        1e-6,
		TWAPTriggerRatio:    0.3,
		EnableTWAP:          true,
		TWAPMinSlices:       2,
		TWAPMaxSlices:       12,
		TWAPBaseInterval:    5 * time.Second,
		TWAPMaxInterval:     2 * time.Minute,
		TWAPSlippageStepPct: 0.5,
		TWAPDoublingPct:     1.0,
	}
}

// RouteRequest asks for routes for one swap.
type RouteRequest struct {
	InputAsset    string
	OutputAsset   string
	Amount        float64
	AllowedVenues []string
	BypassCache   bool
}

// LiquidityFetcher supplies aggregated quotes.
type LiquidityFetcher interface {
	FetchAggregatedLiquidity(ctx context.Context, req domain.LiquidityRequest) (domain.AggregatedLiquidity, error)
}

// PolicyLookup resolves static venue policy by name.
type PolicyLookup interface {
	Policy(name string) domain.VenueConfig
}

// Optimizer produces ranked route candidates.
type Optimizer struct {
	liquidity LiquidityFetcher
	policies  PolicyLookup
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewOptimizer creates an Optimizer. policies may be nil. m may be nil.
func NewOptimizer(liq LiquidityFetcher, policies PolicyLookup, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Optimizer {
	if cfg.MaxRoutes <= 0 {
		cfg.MaxRoutes = 5
	}
	if cfg.MaxSplits <= 0 {
		cfg.MaxSplits = 1
	}
	if cfg.SplitIncrements <= 0 {
		cfg.SplitIncrements = 20
	}
	if cfg.SampleCount <= 0 {
		cfg.SampleCount = 1
	}
	if cfg.PriceEpsilon <= 0 {
		cfg.PriceEpsilon = 1e-6
	}
	return &Optimizer{
		liquidity: liq,
		policies:  policies,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With(slog.String("component", "optimizer")),
	}
}

// Config returns the optimizer's effective configuration.
func (o *Optimizer) Config() Config { return o.cfg }

// FindOptimalRoutes fetches liquidity and returns candidates best-first.
func (o *Optimizer) FindOptimalRoutes(ctx context.Context, req RouteRequest) ([]domain.RouteCandidate, error) {
	liq, err := o.liquidity.FetchAggregatedLiquidity(ctx, domain.LiquidityRequest{
		InputAsset:    req.InputAsset,
		OutputAsset:   req.OutputAsset,
		Amount:        req.Amount,
		AllowedVenues: req.AllowedVenues,
		BypassCache:   req.BypassCache,
	})
	if err != nil {
		return nil, fmt.Errorf("routing: find routes: %w", err)
	}
	return o.RoutesFromLiquidity(liq, req.Amount)
}

// RoutesFromLiquidity computes candidates from an existing snapshot. Every
// candidate fills the full amount; at most MaxRoutes are returned, sorted by
// expected output after fees.
func (o *Optimizer) RoutesFromLiquidity(liq domain.AggregatedLiquidity, amount float64) ([]domain.RouteCandidate, error) {
	if !(amount > 0) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("routing: %w: amount %v", domain.ErrInvalidRequest, amount)
	}

	models := make([]venueModel, 0, len(liq.Sources))
	for _, src := range liq.Sources {
		models = append(models, newVenueModel(src, o.policy(src.Venue)))
	}

	var candidates []domain.RouteCandidate
	for i, m := range models {
		if _, _, ok := m.quote(amount); !ok {
			continue
		}
		if !policyAllows(m, amount, o.cfg.SampleCount) {
			continue
		}
		alloc := make(allocation, len(models))
		alloc[i] = amount
		candidates = append(candidates, o.buildCandidate(models, alloc, amount))
	}

	if o.cfg.EnableSplit && o.cfg.MaxSplits > 1 && len(models) > 1 {
		if alloc := allocate(models, amount, o.cfg); alloc != nil {
			split := o.buildCandidate(models, alloc, amount)
			if len(split.Splits) > 1 || len(candidates) == 0 {
				candidates = append(candidates, split)
			}
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("routing: %w: insufficient depth for %v across %d venues", domain.ErrNoLiquidity, amount, len(models))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !liquidity.PricesEqual(a.ExpectedOutput, b.ExpectedOutput, o.cfg.PriceEpsilon) {
			return a.ExpectedOutput > b.ExpectedOutput
		}
		if o.cfg.PrioritizeCLOB {
			if ca, cb := clobShare(a), clobShare(b); ca != cb {
				return ca > cb
			}
		}
		return len(a.Splits) < len(b.Splits)
	})
	if len(candidates) > o.cfg.MaxRoutes {
		candidates = candidates[:o.cfg.MaxRoutes]
	}
	for _, c := range candidates {
		o.metrics.RouteComputed(string(c.Strategy.Profile))
	}
	return candidates, nil
}

func (o *Optimizer) policy(venue string) domain.VenueConfig {
	if o.policies == nil {
		return domain.VenueConfig{}
	}
	return o.policies.Policy(venue)
}

// buildCandidate turns an allocation into an annotated candidate.
func (o *Optimizer) buildCandidate(models []venueModel, alloc allocation, amount float64) domain.RouteCandidate {
	c := domain.RouteCandidate{InputAmount: amount}
	var depthUsed, slipWeighted float64

	for i, a := range alloc {
		if a <= 0 {
			continue
		}
		m := models[i]
		out, fee, _ := m.quote(a)
		src := m.src
		c.Splits = append(c.Splits, domain.RouteSplit{
			Venue:          src.Venue,
			Kind:           src.Kind,
			InputAmount:    a,
			ExpectedOutput: out,
			Fee:            fee,
			Source:         &src,
		})
		c.ExpectedOutput += out
		c.FeeTotal += fee
		c.TotalCost += a*m.spot() - out
		depthUsed += m.depth()
		slipWeighted += a * m.sampleSlippage(a, o.cfg.SampleCount)
	}

	c.SlippagePct = slipWeighted / amount
	if depthUsed > 0 {
		c.FootprintRatio = amount / depthUsed
	}
	c.MEVRisk = mev.ClassifyExposure(c.FootprintRatio, c.AMMShare())
	c.Strategy = o.annotate(c)
	return c
}

// annotate picks the execution profile. Routes whose footprint exceeds the
// trigger are TWAP-assisted; slices grow linearly with measured slippage and
// the interval doubles every TWAPDoublingPct of slippage.
func (o *Optimizer) annotate(c domain.RouteCandidate) *domain.RoutingStrategyMetadata {
	meta := &domain.RoutingStrategyMetadata{Profile: domain.ProfileSingleVenue}
	if len(c.Splits) > 1 {
		meta.Profile = domain.ProfileSplit
	}
	if o.cfg.TWAPTriggerRatio > 0 && c.FootprintRatio > o.cfg.TWAPTriggerRatio {
		meta.Profile = domain.ProfileTWAPAssisted
	}
	if !o.cfg.EnableTWAP || meta.Profile != domain.ProfileTWAPAssisted {
		return meta
	}

	n := o.cfg.TWAPMinSlices
	if o.cfg.TWAPSlippageStepPct > 0 {
		n += int(math.Floor(c.SlippagePct / o.cfg.TWAPSlippageStepPct))
	}
	// Enough slices that each one sits under the trigger on its own.
	if need := int(math.Ceil(c.FootprintRatio / o.cfg.TWAPTriggerRatio)); need > n {
		n = need
	}
	meta.RecommendedSlices = clampInt(n, max(o.cfg.TWAPMinSlices, 2), max(o.cfg.TWAPMaxSlices, 2))

	interval := float64(o.cfg.TWAPBaseInterval)
	if o.cfg.TWAPDoublingPct > 0 {
		interval *= math.Pow(2, c.SlippagePct/o.cfg.TWAPDoublingPct)
	}
	if o.cfg.TWAPMaxInterval > 0 && interval > float64(o.cfg.TWAPMaxInterval) {
		interval = float64(o.cfg.TWAPMaxInterval)
	}
	meta.RecommendedInterval = time.Duration(interval)
	return meta
}

func clobShare(c domain.RouteCandidate) float64 {
	var clob float64
	for _, s := range c.Splits {
		if s.Kind == domain.VenueCLOB {
			clob += s.InputAmount
		}
	}
	return clob
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return min(max(v, lo), hi)
}

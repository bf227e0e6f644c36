// Package oracle prices swap legs from two independent oracle families and
// checks routes against the resulting fair value.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
)

// Provider returns the latest USD price for an asset.
type Provider interface {
	GetPrice(ctx context.Context, asset string) (domain.OraclePriceData, error)
}

// Config bounds what counts as a usable price.
type Config struct {
	CallTimeout time.Duration
	// MaxAge is the oldest publish time accepted from either source.
	MaxAge time.Duration
	// MaxConfidenceRatio rejects prices whose confidence interval exceeds
	// this fraction of the price.
	MaxConfidenceRatio float64
	MaxDeviation       float64
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowFunc = now }
}

// WithMetrics records read outcomes and deviations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service reads from a primary on-chain oracle and falls back to a push
// oracle feed when the primary read is missing, stale or too uncertain.
type Service struct {
	primary  Provider
	fallback Provider
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// NewService creates a Service. fallback may be nil.
func NewService(primary, fallback Provider, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Minute
	}
	if cfg.MaxConfidenceRatio <= 0 {
		cfg.MaxConfidenceRatio = 0.02
	}
	if cfg.MaxDeviation <= 0 {
		cfg.MaxDeviation = 0.02
	}
	s := &Service{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "oracle")),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaxDeviation is the configured default deviation ceiling.
func (s *Service) MaxDeviation() float64 { return s.cfg.MaxDeviation }

// GetPrice returns a usable price for asset, from the primary oracle when it
// passes the age and confidence checks and from the fallback otherwise.
func (s *Service) GetPrice(ctx context.Context, asset string) (domain.OraclePriceData, error) {
	p, perr := s.read(ctx, s.primary, asset, domain.OracleOnChain)
	if perr == nil {
		return p, nil
	}
	if s.fallback == nil {
		return domain.OraclePriceData{}, fmt.Errorf("oracle: %s: %w: %w", asset, domain.ErrOracleRejected, perr)
	}

	s.logger.DebugContext(ctx, "primary oracle unusable, trying fallback",
		slog.String("asset", asset),
		slog.String("error", perr.Error()),
	)
	f, ferr := s.read(ctx, s.fallback, asset, domain.OraclePushFallback)
	if ferr != nil {
		return domain.OraclePriceData{}, fmt.Errorf("oracle: %s: %w: primary: %w; fallback: %w",
			asset, domain.ErrOracleRejected, perr, ferr)
	}
	f.Source = domain.OraclePushFallback
	return f, nil
}

func (s *Service) read(ctx context.Context, p Provider, asset string, source domain.OracleSource) (domain.OraclePriceData, error) {
	if p == nil {
		return domain.OraclePriceData{}, errors.New("no provider")
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	d, err := p.GetPrice(callCtx, asset)
	if err == nil {
		err = s.check(d)
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	s.metrics.OracleRead(string(source), outcome)
	if err != nil {
		return domain.OraclePriceData{}, err
	}
	if d.Asset == "" {
		d.Asset = asset
	}
	if d.Source == "" {
		d.Source = source
	}
	return d, nil
}

func (s *Service) check(d domain.OraclePriceData) error {
	if !(d.Price > 0) || math.IsInf(d.Price, 0) {
		return fmt.Errorf("price %v", d.Price)
	}
	if age := s.nowFunc().Sub(d.PublishTime); age > s.cfg.MaxAge {
		return fmt.Errorf("stale: published %s ago", age.Round(time.Millisecond))
	}
	if r := d.ConfidenceRatio(); r > s.cfg.MaxConfidenceRatio {
		return fmt.Errorf("confidence %.4f%% exceeds %.4f%%", r*100, s.cfg.MaxConfidenceRatio*100)
	}
	return nil
}

// pair prices both assets concurrently.
func (s *Service) pair(ctx context.Context, inputAsset, outputAsset string) (in, out domain.OraclePriceData, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var e error
		in, e = s.GetPrice(gctx, inputAsset)
		return e
	})
	g.Go(func() error {
		var e error
		out, e = s.GetPrice(gctx, outputAsset)
		return e
	})
	err = g.Wait()
	return in, out, err
}

// VerifyRoutePrice compares the route's implied price (output per input)
// with the oracle cross price. An excessive deviation is reported in the
// verdict, not returned as an error; err is set only when either asset
// cannot be priced. maxDeviation <= 0 uses the configured ceiling.
func (s *Service) VerifyRoutePrice(ctx context.Context, route domain.RouteCandidate, inputAsset, outputAsset string, maxDeviation float64) (domain.PriceVerification, error) {
	return s.verify(ctx, route.ImpliedPrice(), inputAsset, outputAsset, maxDeviation)
}

// VerifyPlanPrice is VerifyRoutePrice for a built plan.
func (s *Service) VerifyPlanPrice(ctx context.Context, plan *domain.AtomicSwapPlan, maxDeviation float64) (domain.PriceVerification, error) {
	return s.verify(ctx, plan.ImpliedPrice(), plan.InputAsset, plan.OutputAsset, maxDeviation)
}

func (s *Service) verify(ctx context.Context, routePrice float64, inputAsset, outputAsset string, maxDeviation float64) (domain.PriceVerification, error) {
	if maxDeviation <= 0 {
		maxDeviation = s.cfg.MaxDeviation
	}
	in, out, err := s.pair(ctx, inputAsset, outputAsset)
	if err != nil {
		return domain.PriceVerification{}, err
	}

	cross := in.Price / out.Price
	v := domain.PriceVerification{
		OraclePrice:  cross,
		RoutePrice:   routePrice,
		UsedFallback: in.Source == domain.OraclePushFallback || out.Source == domain.OraclePushFallback,
		Input:        &in,
		Output:       &out,
	}
	v.Deviation = math.Abs(routePrice-cross) / cross
	v.IsAcceptable = v.Deviation <= maxDeviation
	s.metrics.ObserveDeviation(v.Deviation)

	switch {
	case !v.IsAcceptable:
		v.Warning = fmt.Sprintf("deviation %.2f%% exceeds %.2f%%", v.Deviation*100, maxDeviation*100)
	case v.UsedFallback:
		v.Warning = "priced from fallback oracle"
	}
	if !v.IsAcceptable {
		s.logger.WarnContext(ctx, "route price outside oracle band",
			slog.String("input", inputAsset),
			slog.String("output", outputAsset),
			slog.Float64("route_price", routePrice),
			slog.Float64("oracle_price", cross),
			slog.Float64("deviation", v.Deviation),
		)
	}
	return v, nil
}

// TradeValueUSD prices amount of asset in USD.
func (s *Service) TradeValueUSD(ctx context.Context, asset string, amount float64) (float64, error) {
	p, err := s.GetPrice(ctx, asset)
	if err != nil {
		return 0, err
	}
	return amount * p.Price, nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/swaprouter/internal/breaker"
	"github.com/alanyoungcy/swaprouter/internal/config"
	"github.com/alanyoungcy/swaprouter/internal/crypto"
	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/executor"
	"github.com/alanyoungcy/swaprouter/internal/liquidity"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
	"github.com/alanyoungcy/swaprouter/internal/mev"
	"github.com/alanyoungcy/swaprouter/internal/oracle"
	"github.com/alanyoungcy/swaprouter/internal/platform/blockengine"
	"github.com/alanyoungcy/swaprouter/internal/platform/gateway"
	"github.com/alanyoungcy/swaprouter/internal/platform/oraclehttp"
	"github.com/alanyoungcy/swaprouter/internal/platform/venuehttp"
	"github.com/alanyoungcy/swaprouter/internal/router"
	"github.com/alanyoungcy/swaprouter/internal/routing"
	"github.com/alanyoungcy/swaprouter/internal/venue"
)

// primaryOracleProvider names the on-chain oracle network in price data.
const primaryOracleProvider = "pyth"

// stack is the routing and execution pipeline assembled from config.
type stack struct {
	metrics    *metrics.Metrics
	registry   *venue.Registry
	aggregator *liquidity.Aggregator
	router     *router.Router
	monitors   *router.Monitors
	oracle     *oracle.Service
	breaker    *breaker.Breaker
	executor   *executor.SwapExecutor
}

// buildStack wires venues through to the swap executor. Optional backends in
// deps switch on their corresponding features.
func buildStack(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*stack, error) {
	m := metrics.New()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	var aggOpts []liquidity.Option
	aggOpts = append(aggOpts, liquidity.WithMetrics(m))
	if cfg.Aggregator.SharedCache && deps.LiquidityCache != nil {
		aggOpts = append(aggOpts, liquidity.WithSharedCache(deps.LiquidityCache))
	}
	agg := liquidity.NewAggregator(registry, aggregatorOptions(cfg), logger, aggOpts...)

	opt := routing.NewOptimizer(agg, registry, optimizerConfig(cfg), m, logger)

	var routerOpts []router.Option
	routerOpts = append(routerOpts, router.WithMetrics(m))
	if deps.SignalBus != nil {
		routerOpts = append(routerOpts, router.WithSignalBus(deps.SignalBus))
	}
	rt := router.New(agg, opt, router.Config{
		FallbackCount:      cfg.Plan.FallbackCount,
		QuoteValidity:      cfg.Plan.QuoteValidity.Duration,
		DefaultSlippageBps: cfg.Plan.DefaultSlippageBps,
		Thresholds: domain.RebalanceThresholds{
			MaxPriceDriftBps:  cfg.Plan.MaxPriceDriftBps,
			MinLiquidityRatio: cfg.Plan.MinLiquidityRatio,
			MaxStaleness:      cfg.Plan.MaxStaleness.Duration,
		},
		MonitorInterval: cfg.Plan.MonitorInterval.Duration,
	}, logger, routerOpts...)

	monitors := router.NewMonitors(rt, func(u domain.PlanUpdate) {
		switch {
		case u.Error != "":
			logger.Warn("plan monitor error",
				slog.String("component", "plan_monitor"),
				slog.String("plan_id", u.PlanID),
				slog.String("error", u.Error),
			)
		case u.Rebuilt:
			attrs := []any{
				slog.String("component", "plan_monitor"),
				slog.String("plan_id", u.PlanID),
			}
			if u.Evaluation != nil {
				attrs = append(attrs, slog.String("reason", string(u.Evaluation.Reason)))
			}
			logger.Info("plan rebuilt", attrs...)
		}
	})

	oracleSvc := buildOracle(cfg, deps, m, logger)

	b := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout.Duration,
	}, m, logger)
	b.OnStateChange(deps.Notifier.BreakerListener(ctx))

	candidate, err := buildCandidateExecutor(cfg, oracleSvc, m, logger)
	if err != nil {
		return nil, err
	}

	var execOpts []executor.Option
	execOpts = append(execOpts, executor.WithMetrics(m), executor.WithNotifier(deps.Notifier))
	if cfg.Executor.RecordExecutions && deps.SwapStore != nil {
		execOpts = append(execOpts, executor.WithJournal(deps.SwapStore))
	}
	if cfg.Executor.ArchiveReports && deps.BlobWriter != nil {
		execOpts = append(execOpts, executor.WithReports(deps.BlobWriter))
	}
	if cfg.Executor.PublishEvents && deps.SignalBus != nil {
		execOpts = append(execOpts, executor.WithSignalBus(deps.SignalBus))
	}
	if cfg.Executor.DistributedLocked && deps.LockManager != nil {
		execOpts = append(execOpts, executor.WithLocker(deps.LockManager))
	}
	var verifier executor.Verifier
	if oracleSvc != nil {
		verifier = oracleSvc
	}
	exec := executor.New(rt, verifier, b, candidate, executor.Config{
		MaxOracleDeviation: cfg.Oracle.MaxDeviation,
		AllowUnverified:    cfg.Executor.AllowUnverified,
		TWAPSliceDelay:     cfg.Executor.TWAPSliceDelay.Duration,
		TWAPMaxSlices:      cfg.Executor.TWAPMaxSlices,
		DedupTTL:           cfg.Executor.DedupTTL.Duration,
		LockTTL:            cfg.Executor.LockTTL.Duration,
		Wallet:             cfg.Executor.Wallet,
	}, logger, execOpts...)

	return &stack{
		metrics:    m,
		registry:   registry,
		aggregator: agg,
		router:     rt,
		monitors:   monitors,
		oracle:     oracleSvc,
		breaker:    b,
		executor:   exec,
	}, nil
}

func buildRegistry(cfg *config.Config) (*venue.Registry, error) {
	registry := venue.NewRegistry()
	for _, name := range cfg.EnabledVenues() {
		v := cfg.Venues[name]
		policy := v.Policy()
		var auth *crypto.HMACAuth
		if v.APIKey != "" && v.APISecret != "" {
			auth = &crypto.HMACAuth{Key: v.APIKey, Secret: v.APISecret}
		}
		client := venuehttp.NewClient(name, policy.Kind, v.URL, auth)
		if err := registry.Register(name, client, policy); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	return registry, nil
}

func aggregatorOptions(cfg *config.Config) liquidity.Options {
	rates := make(map[string]liquidity.RateLimit)
	for name, v := range cfg.Venues {
		if v.RatePerSecond > 0 {
			rates[name] = liquidity.RateLimit{PerSecond: v.RatePerSecond, Burst: v.RateBurst}
		}
	}
	return liquidity.Options{
		CallTimeout:      cfg.Aggregator.CallTimeout.Duration,
		MaxConcurrency:   cfg.Aggregator.MaxConcurrency,
		CacheTTL:         cfg.Aggregator.CacheTTL.Duration,
		FailureThreshold: cfg.Aggregator.FailureThreshold,
		Cooldown:         cfg.Aggregator.Cooldown.Duration,
		PriceEpsilon:     cfg.Aggregator.PriceEpsilon,
		RatePerSecond:    cfg.Aggregator.RatePerSecond,
		RateBurst:        cfg.Aggregator.RateBurst,
		VenueRates:       rates,
	}
}

func optimizerConfig(cfg *config.Config) routing.Config {
	o := cfg.Optimizer
	return routing.Config{
		MaxRoutes:           o.MaxRoutes,
		MaxSplits:           o.MaxSplits,
		EnableSplit:         o.EnableSplit,
		SplitIncrements:     o.SplitIncrements,
		SampleCount:         o.SampleCount,
		PrioritizeCLOB:      o.PrioritizeCLOB,
		PriceEpsilon:        o.PriceEpsilon,
		TWAPTriggerRatio:    o.TWAPTriggerRatio,
		EnableTWAP:          o.EnableTWAP,
		TWAPMinSlices:       o.TWAPMinSlices,
		TWAPMaxSlices:       o.TWAPMaxSlices,
		TWAPBaseInterval:    o.TWAPBaseInterval.Duration,
		TWAPMaxInterval:     o.TWAPMaxInterval.Duration,
		TWAPSlippageStepPct: o.TWAPSlippageStepPct,
		TWAPDoublingPct:     o.TWAPDoublingPct,
	}
}

// buildOracle pairs the HTTP price API with the Redis push-oracle cache. A
// missing primary URL leaves only the cache; a missing cache leaves only the
// primary.
func buildOracle(cfg *config.Config, deps *Dependencies, m *metrics.Metrics, logger *slog.Logger) *oracle.Service {
	var primary oracle.Provider
	if cfg.Oracle.PrimaryURL != "" {
		primary = oraclehttp.NewClient(primaryOracleProvider, domain.OracleOnChain, cfg.Oracle.PrimaryURL, cfg.Oracle.PrimaryAPIKey)
	}
	var fallback oracle.Provider
	if deps.PriceCache != nil {
		fallback = deps.PriceCache
	}
	if primary == nil && fallback != nil {
		primary, fallback = fallback, nil
	}
	if primary == nil {
		logger.Warn("no oracle configured; swaps need executor.allow_unverified",
			slog.String("component", "app"),
		)
		return nil
	}
	return oracle.NewService(primary, fallback, oracle.Config{
		CallTimeout:        cfg.Oracle.CallTimeout.Duration,
		MaxAge:             cfg.Oracle.MaxAge.Duration,
		MaxConfidenceRatio: cfg.Oracle.MaxConfidenceRatio,
		MaxDeviation:       cfg.Oracle.MaxDeviation,
	}, logger, oracle.WithMetrics(m))
}

// buildCandidateExecutor connects the transaction gateway and, when enabled,
// bundle protection.
func buildCandidateExecutor(cfg *config.Config, prices *oracle.Service, m *metrics.Metrics, logger *slog.Logger) (*executor.GatewayExecutor, error) {
	secret, err := crypto.LoadSecret(crypto.SecretSource{
		Raw:           cfg.Gateway.APISecret,
		EncryptedPath: cfg.Gateway.APISecretFile,
		Password:      cfg.SecretsPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: gateway secret: %w", err)
	}
	var auth *crypto.HMACAuth
	if cfg.Gateway.APIKey != "" && secret != "" {
		auth = &crypto.HMACAuth{Key: cfg.Gateway.APIKey, Secret: secret}
	}
	gw := gateway.NewClient(cfg.Gateway.URL, auth, cfg.Gateway.Timeout.Duration)

	var protector *mev.Protector
	if cfg.MEV.Enabled {
		engine := blockengine.NewClient(cfg.MEV.BlockEngineURL, "")
		protector = mev.NewProtector(engine, mev.Config{
			Enabled:            true,
			TipAccount:         cfg.MEV.TipAccount,
			LandingProbability: cfg.MEV.LandingProbability,
			Tip: mev.TipPolicy{
				TipBps:          cfg.MEV.TipBps,
				MinTipLamports:  cfg.MEV.MinTipLamports,
				MaxTipLamports:  cfg.MEV.MaxTipLamports,
				BasePriorityFee: cfg.MEV.BasePriorityFee,
			},
			PollInterval:   cfg.MEV.PollInterval.Duration,
			ConfirmTimeout: cfg.MEV.ConfirmTimeout.Duration,
			MinRisk:        domain.MEVRisk(cfg.MEV.MinRiskForProtection),
		}, m, logger)
	}

	var priceSource executor.PriceSource
	if prices != nil {
		priceSource = prices
	}
	return executor.NewGatewayExecutor(gw, protector, priceSource, cfg.MEV.NativeAsset, logger), nil
}

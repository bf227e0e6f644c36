package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swaprouter/internal/crypto"
	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/executor"
	"github.com/alanyoungcy/swaprouter/internal/feed"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
	"github.com/alanyoungcy/swaprouter/internal/platform/oraclehttp"
	"github.com/alanyoungcy/swaprouter/internal/server"
	"github.com/alanyoungcy/swaprouter/internal/server/handler"
	"github.com/alanyoungcy/swaprouter/internal/server/ws"
)

// pushOracleProvider names the push feed in cached price data.
const pushOracleProvider = "push"

// ServerMode serves plan building, monitoring and swap execution over HTTP.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	st, err := buildStack(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.runDedupJanitor(ctx, g, st.executor)
	if err := a.startHTTPServer(ctx, g, deps, st); err != nil {
		return err
	}

	g.Go(func() error {
		<-ctx.Done()
		st.monitors.StopAll()
		return nil
	})

	return g.Wait()
}

// MonitorMode keeps the push-oracle cache warm. Only health and metrics are
// served.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startPriceFeeder(ctx, g, deps); err != nil {
		return err
	}
	if err := a.startHTTPServer(ctx, g, deps, nil); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the price feeder alongside the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	st, err := buildStack(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if deps.PriceCache != nil {
		if err := a.startPriceFeeder(ctx, g, deps); err != nil {
			return err
		}
	} else {
		a.logger.WarnContext(ctx, "price feeder disabled (redis not configured)")
	}
	a.runDedupJanitor(ctx, g, st.executor)
	if err := a.startHTTPServer(ctx, g, deps, st); err != nil {
		return err
	}

	g.Go(func() error {
		<-ctx.Done()
		st.monitors.StopAll()
		return nil
	})

	return g.Wait()
}

// startPriceFeeder polls the configured feed and relays bus prices into the
// push-oracle cache.
func (a *App) startPriceFeeder(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.PriceCache == nil {
		return fmt.Errorf("app: price feeder requires redis")
	}
	var source feed.Source
	if a.cfg.Oracle.FeedURL != "" {
		source = oraclehttp.NewClient(pushOracleProvider, domain.OraclePushFallback, a.cfg.Oracle.FeedURL, "")
	}
	feeder := feed.NewPriceFeeder(
		deps.SignalBus,
		source,
		deps.PriceCache,
		a.cfg.Oracle.FeedAssets,
		a.cfg.Oracle.FeedInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return feeder.Run(ctx)
	})
	return nil
}

// runDedupJanitor evicts expired idempotency keys once per TTL.
func (a *App) runDedupJanitor(ctx context.Context, g *errgroup.Group, exec *executor.SwapExecutor) {
	ttl := a.cfg.Executor.DedupTTL.Duration
	if ttl <= 0 || exec.Dedup() == nil {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				exec.Dedup().Cleanup()
			}
		}
	})
}

// startHTTPServer registers the REST handlers available for st (nil serves
// health and metrics only) plus the WebSocket hub when a signal bus is wired.
// The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, st *stack) error {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return nil
	}

	signer, err := a.requestSigner()
	if err != nil {
		return err
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
	}
	var m *metrics.Metrics
	if st != nil {
		m = st.metrics
		handlers.Plans = handler.NewPlanHandler(ctx, st.router, st.monitors, a.cfg.Plan.MonitorInterval.Duration, a.logger)
		handlers.Swaps = handler.NewSwapHandler(st.executor, a.logger)
		handlers.Status = handler.NewStatusHandler(st.breaker, st.aggregator)
	} else {
		m = metrics.New()
	}
	handlers.Metrics = m.Handler()
	if deps.SwapStore != nil {
		handlers.Executions = handler.NewExecutionHandler(deps.SwapStore, deps.BlobReader, executor.ReportPath, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hubCfg := ws.Config{
			Mode:           a.cfg.Mode,
			StartedAt:      time.Now().UTC(),
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		}
		if st != nil {
			hubCfg.Status = func() any { return st.breaker.Snapshot() }
		}
		hub = ws.NewHub(deps.SignalBus, a.logger, hubCfg)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Signer:      signer,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Limiter:     deps.RateLimiter,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}

// requestSigner returns the HMAC verifier for inbound requests, or nil when
// signing is not configured.
func (a *App) requestSigner() (*crypto.HMACAuth, error) {
	if a.cfg.Server.SigningKey == "" {
		return nil, nil
	}
	secret, err := crypto.LoadSecret(crypto.SecretSource{
		Raw:           a.cfg.Server.SigningSecret,
		EncryptedPath: a.cfg.Server.SigningSecretFile,
		Password:      a.cfg.SecretsPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: server signing secret: %w", err)
	}
	return &crypto.HMACAuth{Key: a.cfg.Server.SigningKey, Secret: secret}, nil
}

// Package feed keeps the push-oracle price cache warm.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// Source is a pull-based price feed.
type Source interface {
	GetPrice(ctx context.Context, asset string) (domain.OraclePriceData, error)
}

// PriceFeeder writes push-oracle prices into the shared cache. Prices arrive
// either on the oracle bus channel or by polling a Source for a fixed asset
// list; both paths may run at once.
type PriceFeeder struct {
	bus      domain.SignalBus
	source   Source
	cache    domain.PriceCache
	assets   []string
	interval time.Duration
	logger   *slog.Logger
}

// NewPriceFeeder creates a PriceFeeder. bus and source may each be nil.
func NewPriceFeeder(bus domain.SignalBus, source Source, cache domain.PriceCache, assets []string, interval time.Duration, logger *slog.Logger) *PriceFeeder {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PriceFeeder{
		bus:      bus,
		source:   source,
		cache:    cache,
		assets:   assets,
		interval: interval,
		logger:   logger.With(slog.String("component", "price_feeder")),
	}
}

// Run blocks until ctx is cancelled.
func (f *PriceFeeder) Run(ctx context.Context) error {
	f.logger.Info("price feeder started",
		slog.Bool("subscribed", f.bus != nil),
		slog.Int("polled_assets", len(f.assets)),
	)
	defer f.logger.Info("price feeder stopped")

	g, gctx := errgroup.WithContext(ctx)
	if f.bus != nil {
		g.Go(func() error { return f.subscribe(gctx) })
	}
	if f.source != nil && len(f.assets) > 0 {
		g.Go(func() error { return f.poll(gctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (f *PriceFeeder) subscribe(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, domain.ChannelOraclePrices)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.Debug("price feeder handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *PriceFeeder) handleMessage(ctx context.Context, data []byte) error {
	var p domain.OraclePriceData
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.Asset = strings.TrimSpace(p.Asset)
	if p.Asset == "" || p.Price <= 0 {
		return nil
	}
	if p.PublishTime.IsZero() {
		p.PublishTime = time.Now()
	}
	p.Source = domain.OraclePushFallback
	return f.cache.SetPrice(ctx, p)
}

func (f *PriceFeeder) poll(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.pollOnce(ctx)
		}
	}
}

func (f *PriceFeeder) pollOnce(ctx context.Context) {
	for _, asset := range f.assets {
		p, err := f.source.GetPrice(ctx, asset)
		if err != nil {
			f.logger.Warn("price feed poll failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if p.Asset == "" {
			p.Asset = asset
		}
		p.Source = domain.OraclePushFallback
		if err := f.cache.SetPrice(ctx, p); err != nil {
			f.logger.Warn("price cache write failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		}
	}
}

package domain

import (
	"context"
	"time"
)

// LiquidityCache is a shared tier for aggregated quotes. Get reports a miss
// with ok=false and a nil error.
type LiquidityCache interface {
	Get(ctx context.Context, key string) (liq AggregatedLiquidity, ok bool, err error)
	Set(ctx context.Context, key string, liq AggregatedLiquidity, ttl time.Duration) error
}

// PriceCache holds the latest push-oracle prices.
type PriceCache interface {
	SetPrice(ctx context.Context, data OraclePriceData) error
	GetPrice(ctx context.Context, asset string) (OraclePriceData, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// RateLimiter provides distributed rate limiting for the API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

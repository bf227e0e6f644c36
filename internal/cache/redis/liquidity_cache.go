package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LiquidityCache implements domain.LiquidityCache. Aggregations are stored
// as JSON strings so every router instance shares one quote tier.
//
// Key schema:
//
//	liq:{cacheKey} - JSON-encoded AggregatedLiquidity with the entry TTL
type LiquidityCache struct {
	rdb *redis.Client
}

// NewLiquidityCache creates a LiquidityCache backed by the given Client.
func NewLiquidityCache(c *Client) *LiquidityCache {
	return &LiquidityCache{rdb: c.Underlying()}
}

func liquidityKey(key string) string { return "liq:" + key }

// Get returns the cached aggregation for key. A miss is ok=false, err=nil.
func (lc *LiquidityCache) Get(ctx context.Context, key string) (domain.AggregatedLiquidity, bool, error) {
	data, err := lc.rdb.Get(ctx, liquidityKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AggregatedLiquidity{}, false, nil
		}
		return domain.AggregatedLiquidity{}, false, fmt.Errorf("redis: get liquidity %s: %w", key, err)
	}

	var liq domain.AggregatedLiquidity
	if err := json.Unmarshal(data, &liq); err != nil {
		return domain.AggregatedLiquidity{}, false, fmt.Errorf("redis: unmarshal liquidity %s: %w", key, err)
	}
	return liq, true, nil
}

// Set stores liq under key. A non-positive ttl is a no-op; the shared tier
// never holds quotes without an expiry.
func (lc *LiquidityCache) Set(ctx context.Context, key string, liq domain.AggregatedLiquidity, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(liq)
	if err != nil {
		return fmt.Errorf("redis: marshal liquidity %s: %w", key, err)
	}
	if err := lc.rdb.Set(ctx, liquidityKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set liquidity %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LiquidityCache = (*LiquidityCache)(nil)

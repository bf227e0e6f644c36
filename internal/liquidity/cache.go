package liquidity

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// bucketGrowth is the ratio between neighbouring amount buckets; requests
// within ~5% of each other share a cache entry.
const bucketGrowth = 1.05

// sweepThreshold triggers an expired-entry sweep on insert.
const sweepThreshold = 1024

// CacheKey identifies an aggregation by pair, amount bucket and venue set.
func CacheKey(req domain.LiquidityRequest) string {
	venues := "*"
	if len(req.AllowedVenues) > 0 {
		v := slices.Clone(req.AllowedVenues)
		slices.Sort(v)
		v = slices.Compact(v)
		venues = strings.Join(v, ",")
	}
	return fmt.Sprintf("%s|%s|%d|%s", req.InputAsset, req.OutputAsset, amountBucket(req.Amount), venues)
}

func amountBucket(amount float64) int64 {
	if amount <= 0 {
		return 0
	}
	return int64(math.Floor(math.Log(amount) / math.Log(bucketGrowth)))
}

type cacheEntry struct {
	liq     domain.AggregatedLiquidity
	expires time.Time
}

// memoryCache is the in-process tier owned by one Aggregator.
type memoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newMemoryCache(ttl time.Duration) *memoryCache {
	return &memoryCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *memoryCache) get(key string, now time.Time) (domain.AggregatedLiquidity, bool) {
	if c.ttl <= 0 {
		return domain.AggregatedLiquidity{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return domain.AggregatedLiquidity{}, false
	}
	if !now.Before(e.expires) {
		delete(c.entries, key)
		return domain.AggregatedLiquidity{}, false
	}
	return clone(e.liq), true
}

func (c *memoryCache) set(key string, liq domain.AggregatedLiquidity, now time.Time) {
	if c.ttl <= 0 || len(liq.Sources) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= sweepThreshold {
		for k, e := range c.entries {
			if !now.Before(e.expires) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = cacheEntry{liq: clone(liq), expires: now.Add(c.ttl)}
}

// clone copies the source slice so callers cannot reorder cached results.
// Ladders and reserves are treated as immutable and shared.
func clone(liq domain.AggregatedLiquidity) domain.AggregatedLiquidity {
	liq.Sources = slices.Clone(liq.Sources)
	return liq
}

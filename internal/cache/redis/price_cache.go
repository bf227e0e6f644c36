package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PriceCache implements domain.PriceCache using Redis hashes. It holds the
// latest push-oracle read per asset and serves as the fallback when the
// primary on-chain oracle is unavailable.
//
// Key schema:
//
//	price:{asset} - hash with fields "price", "conf", "ts" (unix nanos),
//	                "provider" and "source"
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A positive
// ttl expires prices that stop being refreshed.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(asset string) string {
	return "price:" + asset
}

// SetPrice stores the latest read for data.Asset.
func (pc *PriceCache) SetPrice(ctx context.Context, data domain.OraclePriceData) error {
	if data.Asset == "" {
		return fmt.Errorf("redis: set price: %w", domain.ErrInvalidRequest)
	}
	key := priceKey(data.Asset)
	fields := map[string]interface{}{
		"price":    strconv.FormatFloat(data.Price, 'f', -1, 64),
		"conf":     strconv.FormatFloat(data.Confidence, 'f', -1, 64),
		"ts":       strconv.FormatInt(data.PublishTime.UnixNano(), 10),
		"provider": data.Provider,
		"source":   string(data.Source),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", data.Asset, err)
	}
	return nil
}

// GetPrice retrieves the latest read for an asset.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (domain.OraclePriceData, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset)).Result()
	if err != nil {
		return domain.OraclePriceData{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	return parsePrice(asset, vals)
}

func parsePrice(asset string, vals map[string]string) (domain.OraclePriceData, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.OraclePriceData{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.OraclePriceData{}, fmt.Errorf("redis: parse price %s: %w", asset, err)
	}

	data := domain.OraclePriceData{
		Asset:    asset,
		Price:    price,
		Provider: vals["provider"],
		Source:   domain.OracleSource(vals["source"]),
	}
	if s, ok := vals["conf"]; ok {
		if data.Confidence, err = strconv.ParseFloat(s, 64); err != nil {
			return domain.OraclePriceData{}, fmt.Errorf("redis: parse conf %s: %w", asset, err)
		}
	}
	if s, ok := vals["ts"]; ok {
		nanos, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return domain.OraclePriceData{}, fmt.Errorf("redis: parse ts %s: %w", asset, err)
		}
		data.PublishTime = time.Unix(0, nanos).UTC()
	}
	if data.Source == "" {
		data.Source = domain.OraclePushFallback
	}
	return data, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

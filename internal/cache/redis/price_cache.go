package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each market's last price is stored at "price:{marketID}" with fields
// "price" and "ts" (Unix nanosecond timestamp). The entry reference price
// lives in a separate string key so it survives feed updates.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

func referenceKey(marketID string) string {
	return "price:ref:" + marketID
}

// SetPrice stores the latest price and an update timestamp for a market.
func (pc *PriceCache) SetPrice(ctx context.Context, marketID string, price float64) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(marketID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", marketID, err)
	}
	return nil
}

// GetPrice retrieves the latest price and update time for a market.
// It returns domain.ErrNotFound when no price has been cached yet.
func (pc *PriceCache) GetPrice(ctx context.Context, marketID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", marketID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// SetReference records the reference price the entry-drop rule compares
// against. It is written once when a market enters the watch set.
func (pc *PriceCache) SetReference(ctx context.Context, marketID string, price float64) error {
	val := strconv.FormatFloat(price, 'f', -1, 64)
	if err := pc.rdb.Set(ctx, referenceKey(marketID), val, 0).Err(); err != nil {
		return fmt.Errorf("redis: set reference price %s: %w", marketID, err)
	}
	return nil
}

// GetReference retrieves the reference price for a market, or
// domain.ErrNotFound when none has been recorded.
func (pc *PriceCache) GetReference(ctx context.Context, marketID string) (float64, error) {
	val, err := pc.rdb.Get(ctx, referenceKey(marketID)).Result()
	if err == redis.Nil {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get reference price %s: %w", marketID, err)
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse reference price %s: %w", marketID, err)
	}
	return price, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

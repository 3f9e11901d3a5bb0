package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// MarketOverrideStore implements domain.MarketOverrideStore using PostgreSQL.
type MarketOverrideStore struct {
	pool *pgxpool.Pool
}

// NewMarketOverrideStore creates a new MarketOverrideStore backed by the
// given connection pool.
func NewMarketOverrideStore(pool *pgxpool.Pool) *MarketOverrideStore {
	return &MarketOverrideStore{pool: pool}
}

// Get returns the override for (account, market id). Missing overrides are
// reported as domain.ErrNotFound; callers fall back to the sport default.
func (s *MarketOverrideStore) Get(ctx context.Context, account, marketID string) (domain.MarketOverride, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT account, market_id, entry_drop_pct, entry_absolute_price,
		       take_profit_pct, stop_loss_pct, min_volume, max_volume,
		       order_size, max_daily_loss_usdc, max_exposure_usdc, updated_at
		FROM market_overrides
		WHERE account = $1 AND market_id = $2`, account, marketID)

	var o domain.MarketOverride
	err := row.Scan(
		&o.Account, &o.MarketID, &o.EntryDropPct, &o.EntryAbsolutePrice,
		&o.TakeProfitPct, &o.StopLossPct, &o.MinVolume, &o.MaxVolume,
		&o.OrderSize, &o.MaxDailyLossUSDC, &o.MaxExposureUSDC, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketOverride{}, domain.ErrNotFound
		}
		return domain.MarketOverride{}, fmt.Errorf("postgres: get market override %s/%s: %w", account, marketID, err)
	}
	return o, nil
}

// Upsert creates or replaces the override for (account, market id).
func (s *MarketOverrideStore) Upsert(ctx context.Context, o domain.MarketOverride) error {
	const query = `
		INSERT INTO market_overrides (
			account, market_id, entry_drop_pct, entry_absolute_price,
			take_profit_pct, stop_loss_pct, min_volume, max_volume,
			order_size, max_daily_loss_usdc, max_exposure_usdc, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (account, market_id) DO UPDATE SET
			entry_drop_pct       = EXCLUDED.entry_drop_pct,
			entry_absolute_price = EXCLUDED.entry_absolute_price,
			take_profit_pct      = EXCLUDED.take_profit_pct,
			stop_loss_pct        = EXCLUDED.stop_loss_pct,
			min_volume           = EXCLUDED.min_volume,
			max_volume           = EXCLUDED.max_volume,
			order_size           = EXCLUDED.order_size,
			max_daily_loss_usdc  = EXCLUDED.max_daily_loss_usdc,
			max_exposure_usdc    = EXCLUDED.max_exposure_usdc,
			updated_at           = NOW()`

	_, err := s.pool.Exec(ctx, query,
		o.Account, o.MarketID, o.EntryDropPct, o.EntryAbsolutePrice,
		o.TakeProfitPct, o.StopLossPct, o.MinVolume, o.MaxVolume,
		o.OrderSize, o.MaxDailyLossUSDC, o.MaxExposureUSDC,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market override %s/%s: %w", o.Account, o.MarketID, err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// OrphanStore implements domain.OrphanStore using PostgreSQL.
type OrphanStore struct {
	pool *pgxpool.Pool
}

// NewOrphanStore creates a new OrphanStore backed by the given connection pool.
func NewOrphanStore(pool *pgxpool.Pool) *OrphanStore {
	return &OrphanStore{pool: pool}
}

// Create inserts a new orphan record.
func (s *OrphanStore) Create(ctx context.Context, rec domain.OrphanRecord) error {
	const query = `
		INSERT INTO orphan_records (
			id, account, platform, market_id, exchange_order_id,
			kind, resolution, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Account, string(rec.Platform), rec.MarketID, rec.ExchangeOrderID,
		string(rec.Kind), string(rec.Resolution), rec.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create orphan record %s: %w", rec.ID, err)
	}
	return nil
}

// Resolve applies an explicit resolution to an unresolved orphan record.
func (s *OrphanStore) Resolve(ctx context.Context, id string, res domain.OrphanResolution) error {
	const query = `
		UPDATE orphan_records SET resolution = $2, resolved_at = NOW()
		WHERE id = $1 AND resolution = 'unresolved'`

	tag, err := s.pool.Exec(ctx, query, id, string(res))
	if err != nil {
		return fmt.Errorf("postgres: resolve orphan %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUnresolved returns all unresolved orphan records for an account.
func (s *OrphanStore) ListUnresolved(ctx context.Context, account string) ([]domain.OrphanRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account, platform, market_id, exchange_order_id,
		       kind, resolution, detected_at, resolved_at
		FROM orphan_records
		WHERE account = $1 AND resolution = 'unresolved'
		ORDER BY detected_at DESC`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved orphans: %w", err)
	}
	defer rows.Close()

	var records []domain.OrphanRecord
	for rows.Next() {
		var rec domain.OrphanRecord
		var platform, kind, resolution string
		if err := rows.Scan(
			&rec.ID, &rec.Account, &platform, &rec.MarketID, &rec.ExchangeOrderID,
			&kind, &resolution, &rec.DetectedAt, &rec.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan orphan record: %w", err)
		}
		rec.Platform = domain.Platform(platform)
		rec.Kind = domain.OrphanKind(kind)
		rec.Resolution = domain.OrphanResolution(resolution)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unresolved orphans rows: %w", err)
	}
	return records, nil
}

// ExistsUnresolved reports whether an unresolved record already covers the
// given exchange-side item, keeping repeated scans idempotent.
func (s *OrphanStore) ExistsUnresolved(ctx context.Context, platform domain.Platform, marketID, exchangeOrderID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM orphan_records
			WHERE platform = $1 AND market_id = $2 AND exchange_order_id = $3
			  AND resolution = 'unresolved'
		)`, string(platform), marketID, exchangeOrderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check orphan exists: %w", err)
	}
	return exists, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Rows are
// append-only; the only delete path is DeleteBefore, driven by the cold
// archiver after a successful S3 upload.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append inserts one audit entry. The snapshot maps are stored as JSONB.
func (s *AuditStore) Append(ctx context.Context, e domain.AuditEntry) error {
	orderJSON, err := json.Marshal(e.Order)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit order: %w", err)
	}
	gameJSON, err := json.Marshal(e.GameState)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit game state: %w", err)
	}
	marketJSON, err := json.Marshal(e.MarketData)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit market data: %w", err)
	}
	riskJSON, err := json.Marshal(e.Risk)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit risk: %w", err)
	}

	const query = `
		INSERT INTO audit_log (
			account, event, position_id, order_id,
			order_data, game_state, market_data, risk_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, query,
		e.Account, e.Event, e.PositionID, e.OrderID,
		orderJSON, gameJSON, marketJSON, riskJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: append audit entry %s: %w", e.Event, err)
	}
	return nil
}

const auditSelectCols = `id, account, event, position_id, order_id,
	order_data, game_state, market_data, risk_data, created_at`

func scanAuditRows(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var orderJSON, gameJSON, marketJSON, riskJSON []byte

		if err := rows.Scan(
			&e.ID, &e.Account, &e.Event, &e.PositionID, &e.OrderID,
			&orderJSON, &gameJSON, &marketJSON, &riskJSON, &e.CreatedAt,
		); err != nil {
			return nil, err
		}

		for _, pair := range []struct {
			raw []byte
			dst *map[string]any
		}{
			{orderJSON, &e.Order},
			{gameJSON, &e.GameState},
			{marketJSON, &e.MarketData},
			{riskJSON, &e.Risk},
		} {
			if len(pair.raw) > 0 {
				if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
					return nil, err
				}
			}
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns audit entries for an account with pagination and optional
// time filtering, newest first.
func (s *AuditStore) List(ctx context.Context, account string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT ` + auditSelectCols + ` FROM audit_log WHERE account = $1`
	args := []any{account}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanAuditRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries: %w", err)
	}
	return entries, nil
}

// ListBefore returns audit entries older than cutoff in ascending order,
// used by the cold archiver to page through the oldest rows.
func (s *AuditStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditSelectCols+` FROM audit_log
		 WHERE created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries before cutoff: %w", err)
	}
	defer rows.Close()

	entries, err := scanAuditRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries before cutoff: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes audit entries older than cutoff after they have been
// archived. Returns the number of rows deleted.
func (s *AuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete audit entries before cutoff: %w", err)
	}
	return tag.RowsAffected(), nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, account, market_id, match_id, sport, platform, side,
	entry_price, size, status, entry_order_id, exit_order_id, realized_pnl,
	opened_at, closed_at, exit_price`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var sport, platform, side, status string

	err := row.Scan(
		&p.ID, &p.Account, &p.MarketID, &p.Match, &sport, &platform, &side,
		&p.EntryPrice, &p.Size, &status, &p.EntryOrderID, &p.ExitOrderID,
		&p.RealizedPnL, &p.OpenedAt, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Sport = domain.Sport(sport)
	p.Platform = domain.Platform(platform)
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position. The partial unique index on
// (account, market_id) for active statuses rejects a second live position in
// the same market with domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, account, market_id, match_id, sport, platform, side,
			entry_price, size, status, entry_order_id, exit_order_id,
			realized_pnl, opened_at, closed_at, exit_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Account, p.MarketID, p.Match, string(p.Sport), string(p.Platform), string(p.Side),
		p.EntryPrice, p.Size, string(p.Status), p.EntryOrderID, p.ExitOrderID,
		p.RealizedPnL, p.OpenedAt, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Transition moves a position from one status to another, enforcing the
// state machine both in code and at the row level: the update only applies
// while the stored status still equals from. A zero rows-affected result
// means the row has already moved on (or does not exist) and is reported as
// domain.ErrInvalidTransition.
func (s *PositionStore) Transition(ctx context.Context, id string, from, to domain.PositionStatus) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("postgres: position %s: %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}

	const query = `
		UPDATE positions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: transition position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s not in status %s: %w", id, from, domain.ErrInvalidTransition)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			side           = $2,
			entry_price    = $3,
			size           = $4,
			status         = $5,
			entry_order_id = $6,
			exit_order_id  = $7,
			realized_pnl   = $8,
			closed_at      = $9,
			exit_price     = $10,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(p.Side), p.EntryPrice, p.Size, string(p.Status),
		p.EntryOrderID, p.ExitOrderID, p.RealizedPnL, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListLive returns all open or exiting positions for the given account. The
// query is a single statement and therefore a point-in-time snapshot, which
// the reconciliation scanner relies on when diffing.
func (s *PositionStore) ListLive(ctx context.Context, account string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account = $1 AND status IN ('open', 'exiting')
		 ORDER BY opened_at DESC`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list live positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan live positions: %w", err)
	}
	return positions, nil
}

// ListByMarket returns positions for an account in one market, newest first.
func (s *PositionStore) ListByMarket(ctx context.Context, account, marketID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account = $1 AND market_id = $2
		 ORDER BY opened_at DESC`, account, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by market: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by market: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns closed or cancelled positions older than cutoff,
// used by the cold archiver.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status IN ('closed', 'cancelled') AND closed_at < $1
		 ORDER BY closed_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// ListHistory returns positions for the given account with pagination and
// optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE account = $1`
	args := []any{account}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

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
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

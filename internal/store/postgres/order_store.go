package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, account, position_id, market_id, platform, side,
	price, size, status, exchange_order_id, dry_run, created_at, filled_at, filled_price`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var platform, side, status string

	err := row.Scan(
		&o.ID, &o.Account, &o.PositionID, &o.MarketID, &platform, &side,
		&o.Price, &o.Size, &status, &o.ExchangeOrderID, &o.DryRun,
		&o.CreatedAt, &o.FilledAt, &o.FilledPrice,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Platform = domain.Platform(platform)
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Create inserts a new order record.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, account, position_id, market_id, platform, side,
			price, size, status, exchange_order_id, dry_run, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Account, o.PositionID, o.MarketID, string(o.Platform), string(o.Side),
		o.Price, o.Size, string(o.Status), o.ExchangeOrderID, o.DryRun, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus sets the order status.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update order %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetExchangeOrderID records the exchange's order ID after a placement ack.
func (s *OrderStore) SetExchangeOrderID(ctx context.Context, id, exchangeOrderID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET exchange_order_id = $2 WHERE id = $1`, id, exchangeOrderID)
	if err != nil {
		return fmt.Errorf("postgres: set order %s exchange id: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFilled records the fill price and time and sets status to filled.
func (s *OrderStore) MarkFilled(ctx context.Context, id string, price float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = 'filled', filled_price = $2, filled_at = $3 WHERE id = $1`,
		id, price, at)
	if err != nil {
		return fmt.Errorf("postgres: mark order %s filled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single order by its ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListLive returns pending orders for the given account, the set the
// reconciliation scanner matches against exchange-side open orders.
func (s *OrderStore) ListLive(ctx context.Context, account string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE account = $1 AND status = 'pending'
		 ORDER BY created_at DESC`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list live orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan live order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list live orders rows: %w", err)
	}
	return orders, nil
}

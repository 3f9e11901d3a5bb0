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

// RiskStore implements domain.RiskStore using PostgreSQL.
type RiskStore struct {
	pool *pgxpool.Pool
}

// NewRiskStore creates a new RiskStore backed by the given connection pool.
func NewRiskStore(pool *pgxpool.Pool) *RiskStore {
	return &RiskStore{pool: pool}
}

// Get returns the risk state for an account. A missing row yields a zero
// state for that account rather than an error, so new accounts start clean.
func (s *RiskStore) Get(ctx context.Context, account string) (domain.RiskState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT account, exposure, daily_realized_loss, consecutive_losses,
		       kill_switch, kill_switch_reason, kill_switch_at, loss_day, updated_at
		FROM risk_states WHERE account = $1`, account)

	var st domain.RiskState
	err := row.Scan(
		&st.Account, &st.Exposure, &st.DailyRealizedLoss, &st.ConsecutiveLosses,
		&st.KillSwitch, &st.KillSwitchReason, &st.KillSwitchAt, &st.LossDay, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskState{Account: account, LossDay: time.Now().UTC().Truncate(24 * time.Hour)}, nil
		}
		return domain.RiskState{}, fmt.Errorf("postgres: get risk state %s: %w", account, err)
	}
	return st, nil
}

// Save upserts the full risk state row for the account.
func (s *RiskStore) Save(ctx context.Context, st domain.RiskState) error {
	const query = `
		INSERT INTO risk_states (
			account, exposure, daily_realized_loss, consecutive_losses,
			kill_switch, kill_switch_reason, kill_switch_at, loss_day, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (account) DO UPDATE SET
			exposure            = EXCLUDED.exposure,
			daily_realized_loss = EXCLUDED.daily_realized_loss,
			consecutive_losses  = EXCLUDED.consecutive_losses,
			kill_switch         = EXCLUDED.kill_switch,
			kill_switch_reason  = EXCLUDED.kill_switch_reason,
			kill_switch_at      = EXCLUDED.kill_switch_at,
			loss_day            = EXCLUDED.loss_day,
			updated_at          = NOW()`

	_, err := s.pool.Exec(ctx, query,
		st.Account, st.Exposure, st.DailyRealizedLoss, st.ConsecutiveLosses,
		st.KillSwitch, st.KillSwitchReason, st.KillSwitchAt, st.LossDay,
	)
	if err != nil {
		return fmt.Errorf("postgres: save risk state %s: %w", st.Account, err)
	}
	return nil
}

// AppendKillSwitchEvent records a kill-switch activation.
func (s *RiskStore) AppendKillSwitchEvent(ctx context.Context, evt domain.KillSwitchEvent) error {
	const query = `
		INSERT INTO kill_switch_events (
			id, account, trigger_type, positions_closed, total_pnl, triggered_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		evt.ID, evt.Account, string(evt.Trigger), evt.PositionsClosed, evt.TotalPnL, evt.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append kill switch event %s: %w", evt.ID, err)
	}
	return nil
}

// ListKillSwitchEvents returns kill-switch events for an account, newest
// first, with pagination.
func (s *RiskStore) ListKillSwitchEvents(ctx context.Context, account string, opts domain.ListOpts) ([]domain.KillSwitchEvent, error) {
	query := `
		SELECT id, account, trigger_type, positions_closed, total_pnl, triggered_at
		FROM kill_switch_events WHERE account = $1
		ORDER BY triggered_at DESC`
	args := []any{account}

	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list kill switch events: %w", err)
	}
	defer rows.Close()

	var events []domain.KillSwitchEvent
	for rows.Next() {
		var evt domain.KillSwitchEvent
		var trigger string
		if err := rows.Scan(&evt.ID, &evt.Account, &trigger, &evt.PositionsClosed, &evt.TotalPnL, &evt.TriggeredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan kill switch event: %w", err)
		}
		evt.Trigger = domain.KillSwitchTrigger(trigger)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list kill switch events rows: %w", err)
	}
	return events, nil
}

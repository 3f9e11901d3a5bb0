// Package audit writes the append-only audit trail. Every order transition,
// decision, and risk event lands here with full context snapshots so any
// trade can be reconstructed after the fact.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// Event names recorded in the audit log.
const (
	EventDecision        = "decision"
	EventOrderSubmitted  = "order_submitted"
	EventOrderFilled     = "order_filled"
	EventOrderCancelled  = "order_cancelled"
	EventOrderRejected   = "order_rejected"
	EventOrderTimeout    = "order_timeout"
	EventRiskDenied      = "risk_denied"
	EventKillSwitch      = "kill_switch"
	EventKillSwitchClear = "kill_switch_clear"
	EventOrphanDetected  = "orphan_detected"
	EventOrphanResolved  = "orphan_resolved"
)

const (
	appendRetries    = 3
	appendRetryDelay = 200 * time.Millisecond
)

// Recorder wraps the audit store with retry. Audit writes must not fail
// silently: after exhausting retries the loss is logged at error level with
// the full entry context and the final error is returned so callers that
// gate on the audit trail can refuse to proceed.
type Recorder struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(store domain.AuditStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Record appends one entry, retrying transient store failures with a short
// backoff. It returns the last store error after retries are exhausted; the
// entry is also logged in full so no audit context is lost even when the
// store is down.
func (r *Recorder) Record(ctx context.Context, entry domain.AuditEntry) error {
	var err error
	delay := appendRetryDelay

	for attempt := 0; attempt < appendRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.logDropped(entry, ctx.Err())
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		if err = r.store.Append(ctx, entry); err == nil {
			return nil
		}
	}
	r.logDropped(entry, err)
	return err
}

func (r *Recorder) logDropped(entry domain.AuditEntry, err error) {
	r.logger.Error("audit entry dropped after retries",
		slog.String("account", entry.Account),
		slog.String("event", entry.Event),
		slog.String("position_id", entry.PositionID),
		slog.String("order_id", entry.OrderID),
		slog.String("error", err.Error()),
	)
}

// OrderSnapshot flattens an order into the generic map stored in the entry.
func OrderSnapshot(o domain.Order) map[string]any {
	snap := map[string]any{
		"id":        o.ID,
		"market_id": o.MarketID,
		"platform":  string(o.Platform),
		"side":      string(o.Side),
		"price":     o.Price,
		"size":      o.Size,
		"status":    string(o.Status),
		"dry_run":   o.DryRun,
	}
	if o.ExchangeOrderID != "" {
		snap["exchange_order_id"] = o.ExchangeOrderID
	}
	if o.FilledPrice != nil {
		snap["filled_price"] = *o.FilledPrice
	}
	return snap
}

// GameStateSnapshot flattens a game state snapshot for the entry.
func GameStateSnapshot(gs domain.GameState) map[string]any {
	snap := map[string]any{
		"sport":      string(gs.Sport),
		"match_id":   gs.MatchID,
		"home_score": gs.HomeScore,
		"away_score": gs.AwayScore,
		"terminal":   gs.Terminal,
		"fetched_at": gs.FetchedAt,
	}
	p := gs.Progress
	switch {
	case p.MinutesRemaining != nil:
		snap["minutes_remaining"] = *p.MinutesRemaining
	case p.ElapsedMinutes != nil:
		snap["elapsed_minutes"] = *p.ElapsedMinutes
	case p.Inning != nil:
		snap["inning"] = p.Inning.Inning
		snap["outs_remaining"] = p.Inning.OutsRemaining
	case p.Set != nil:
		snap["set"] = p.Set.Set
		snap["sets_remaining"] = p.Set.SetsRemaining
	case p.Round != nil:
		snap["round"] = *p.Round
	case p.Hole != nil:
		snap["hole"] = p.Hole.Hole
		snap["holes_remaining"] = p.Hole.HolesRemaining
	}
	return snap
}

// RiskSnapshot flattens the risk state for the entry.
func RiskSnapshot(st domain.RiskState) map[string]any {
	return map[string]any{
		"exposure":            st.Exposure,
		"daily_realized_loss": st.DailyRealizedLoss,
		"consecutive_losses":  st.ConsecutiveLosses,
		"kill_switch":         st.KillSwitch,
	}
}

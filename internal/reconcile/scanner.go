// Package reconcile diffs exchange-reported open orders against locally
// tracked positions and orders, recording orphans for operator review. The
// scanner never mutates exchange or position state; resolution is an
// explicit action.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sportsbot/internal/audit"
	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// lockTTL bounds how long a crashed scan can block the next one.
const lockTTL = 2 * time.Minute

// Notifier delivers operational alerts. May be nil.
type Notifier interface {
	Notify(ctx context.Context, event, message string)
}

// Scanner runs the per-account reconciliation pass.
type Scanner struct {
	positions domain.PositionStore
	orders    domain.OrderStore
	orphans   domain.OrphanStore
	exchanges map[domain.Platform]domain.Exchange
	locks     domain.LockManager
	recorder  *audit.Recorder
	notifier  Notifier
	logger    *slog.Logger
}

// NewScanner creates a reconciliation scanner over the given stores and
// exchange adapters.
func NewScanner(
	positions domain.PositionStore,
	orders domain.OrderStore,
	orphans domain.OrphanStore,
	exchanges map[domain.Platform]domain.Exchange,
	locks domain.LockManager,
	recorder *audit.Recorder,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		positions: positions,
		orders:    orders,
		orphans:   orphans,
		exchanges: exchanges,
		locks:     locks,
		recorder:  recorder,
		logger:    logger.With(slog.String("component", "reconcile")),
	}
}

// SetNotifier wires the alert channel for orphan detections.
func (s *Scanner) SetNotifier(n Notifier) { s.notifier = n }

// Scan diffs exchange open orders against local state for one account and
// returns the orphans recorded on this pass. It is idempotent: re-scanning
// unchanged state records nothing new. A scan already running elsewhere
// (ErrLockHeld) is skipped, not an error.
func (s *Scanner) Scan(ctx context.Context, account string) ([]domain.OrphanRecord, error) {
	unlock, err := s.locks.Acquire(ctx, "reconcile:"+account, lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Debug("scan already running", slog.String("account", account))
			return nil, nil
		}
		return nil, fmt.Errorf("reconcile: acquire scan lock: %w", err)
	}
	defer unlock()

	// Snapshot local state before touching the exchanges so the diff is
	// against one consistent point in time.
	liveOrders, err := s.orders.ListLive(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list live orders: %w", err)
	}
	livePositions, err := s.positions.ListLive(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list live positions: %w", err)
	}

	known := make(map[string]bool, len(liveOrders))
	for _, o := range liveOrders {
		if o.ExchangeOrderID != "" {
			known[orderKey(o.Platform, o.ExchangeOrderID)] = true
		}
	}

	var found []domain.OrphanRecord
	seen := make(map[string]bool)

	for platform, ex := range s.exchanges {
		exOrders, err := ex.ListOpenOrders(ctx)
		if err != nil {
			// Transient exchange failure: skip this platform, the next
			// scan covers it.
			s.logger.Warn("open order fetch failed",
				slog.String("platform", string(platform)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, eo := range exOrders {
			key := orderKey(platform, eo.OrderID)
			seen[key] = true
			if known[key] {
				continue
			}
			rec, created, err := s.recordOrphan(ctx, account, platform, eo.MarketID, eo.OrderID, domain.OrphanExchangeSide)
			if err != nil {
				return found, err
			}
			if created {
				found = append(found, rec)
			}
		}
	}

	// Local pending orders with an exchange ID the exchange no longer
	// reports. Possibly a fill the exchange has not surfaced yet, so this
	// is flagged for review and never auto-cancelled.
	for _, o := range liveOrders {
		if o.ExchangeOrderID == "" || o.DryRun {
			continue
		}
		if _, ok := s.exchanges[o.Platform]; !ok {
			continue
		}
		if seen[orderKey(o.Platform, o.ExchangeOrderID)] {
			continue
		}
		rec, created, err := s.recordOrphan(ctx, account, o.Platform, o.MarketID, o.ExchangeOrderID, domain.OrphanLocalSide)
		if err != nil {
			return found, err
		}
		if created {
			found = append(found, rec)
		}
	}

	s.logger.Info("reconciliation scan complete",
		slog.String("account", account),
		slog.Int("live_positions", len(livePositions)),
		slog.Int("live_orders", len(liveOrders)),
		slog.Int("new_orphans", len(found)),
	)
	return found, nil
}

func orderKey(platform domain.Platform, exchangeOrderID string) string {
	return string(platform) + ":" + exchangeOrderID
}

// recordOrphan creates an orphan record unless an unresolved one for the
// same (platform, market, exchange order) already exists.
func (s *Scanner) recordOrphan(
	ctx context.Context,
	account string,
	platform domain.Platform,
	marketID, exchangeOrderID string,
	kind domain.OrphanKind,
) (domain.OrphanRecord, bool, error) {
	exists, err := s.orphans.ExistsUnresolved(ctx, platform, marketID, exchangeOrderID)
	if err != nil {
		return domain.OrphanRecord{}, false, fmt.Errorf("reconcile: orphan lookup: %w", err)
	}
	if exists {
		return domain.OrphanRecord{}, false, nil
	}

	rec := domain.OrphanRecord{
		ID:              uuid.New().String(),
		Account:         account,
		Platform:        platform,
		MarketID:        marketID,
		ExchangeOrderID: exchangeOrderID,
		Kind:            kind,
		Resolution:      domain.OrphanUnresolved,
		DetectedAt:      time.Now().UTC(),
	}
	if err := s.orphans.Create(ctx, rec); err != nil {
		return domain.OrphanRecord{}, false, fmt.Errorf("reconcile: record orphan: %w", err)
	}

	s.logger.Warn("orphan detected",
		slog.String("account", account),
		slog.String("platform", string(platform)),
		slog.String("market_id", marketID),
		slog.String("exchange_order_id", exchangeOrderID),
		slog.String("kind", string(kind)),
	)
	if s.recorder != nil {
		s.recorder.Record(ctx, domain.AuditEntry{
			Account: account,
			Event:   audit.EventOrphanDetected,
			Order: map[string]any{
				"platform":          string(platform),
				"market_id":         marketID,
				"exchange_order_id": exchangeOrderID,
				"kind":              string(kind),
			},
		})
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, "orphan_detected",
			fmt.Sprintf("orphan on %s market %s order %s (%s)", platform, marketID, exchangeOrderID, kind))
	}
	return rec, true, nil
}

// Resolve applies an explicit resolution to an orphan record.
func (s *Scanner) Resolve(ctx context.Context, account, id string, res domain.OrphanResolution) error {
	if err := s.orphans.Resolve(ctx, id, res); err != nil {
		return fmt.Errorf("reconcile: resolve orphan %s: %w", id, err)
	}
	s.logger.Info("orphan resolved",
		slog.String("orphan_id", id),
		slog.String("resolution", string(res)),
	)
	if s.recorder != nil {
		s.recorder.Record(ctx, domain.AuditEntry{
			Account: account,
			Event:   audit.EventOrphanResolved,
			Order:   map[string]any{"orphan_id": id, "resolution": string(res)},
		})
	}
	return nil
}

// Unresolved lists the open orphan records for operator review.
func (s *Scanner) Unresolved(ctx context.Context, account string) ([]domain.OrphanRecord, error) {
	return s.orphans.ListUnresolved(ctx, account)
}

// Run scans the account on a fixed interval until the context ends.
func (s *Scanner) Run(ctx context.Context, account string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Scan(ctx, account); err != nil {
				s.logger.Error("scan failed",
					slog.String("account", account),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

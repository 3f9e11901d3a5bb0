// Package executor is the order execution manager. It owns the position
// state machine (pending -> open -> exiting -> closed, pending -> cancelled),
// submits orders to the exchange adapters, polls for fills, and simulates
// fills in dry-run mode so paper trading exercises identical transitions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sportsbot/internal/audit"
	"github.com/alanyoungcy/sportsbot/internal/domain"
	"github.com/alanyoungcy/sportsbot/internal/risk"
)

var _ risk.PositionCloser = (*Manager)(nil)

// RiskRecorder feeds fill and close accounting back into the risk
// controller. Force-close skips it: the controller settles that itself while
// holding the account lock.
type RiskRecorder interface {
	RecordFill(ctx context.Context, account string, notional float64) error
	RecordClose(ctx context.Context, account string, entryNotional, pnl float64) error
}

// Config carries the execution tunables.
type Config struct {
	// DryRun simulates fills at the requested price with zero exchange
	// interaction. All position transitions are identical to live mode.
	DryRun           bool
	MaxSlippagePct   float64
	FillTimeout      time.Duration
	FillPollInterval time.Duration
}

// Manager submits orders and drives positions through the state machine.
// Exactly one audit entry is written per order transition.
type Manager struct {
	cfg       Config
	positions domain.PositionStore
	orders    domain.OrderStore
	orphans   domain.OrphanStore
	prices    domain.PriceCache
	exchanges map[domain.Platform]domain.Exchange
	risk      RiskRecorder
	limiter   domain.RateLimiter
	recorder  *audit.Recorder
	logger    *slog.Logger
}

// orderRateLimit caps live order submissions per platform per second, shared
// across processes through the limiter backend.
const orderRateLimit = 5

// NewManager creates an execution manager over the given stores and exchange
// adapters.
func NewManager(
	cfg Config,
	positions domain.PositionStore,
	orders domain.OrderStore,
	orphans domain.OrphanStore,
	prices domain.PriceCache,
	exchanges map[domain.Platform]domain.Exchange,
	recorder *audit.Recorder,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:       cfg,
		positions: positions,
		orders:    orders,
		orphans:   orphans,
		prices:    prices,
		exchanges: exchanges,
		recorder:  recorder,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// SetRiskRecorder wires the risk controller's accounting hooks.
func (m *Manager) SetRiskRecorder(r RiskRecorder) { m.risk = r }

// SetRateLimiter wires a shared limiter over live order submission. When nil,
// submissions are not throttled.
func (m *Manager) SetRateLimiter(l domain.RateLimiter) { m.limiter = l }

// EntryRequest carries a risk-approved entry decision into execution.
type EntryRequest struct {
	Account    string
	Platform   domain.Platform
	Sport      domain.Sport
	Match      string
	Decision   domain.Decision
	Side       domain.OrderSide // defaults to buy
	Size       float64          // risk-approved contract count
	GameState  domain.GameState
	RiskState  domain.RiskState
	MarketData map[string]any
}

// ExitRequest carries an exit decision for a live position.
type ExitRequest struct {
	Account    string
	Position   domain.Position
	Price      float64
	Reason     string
	GameState  domain.GameState
	RiskState  domain.RiskState
	MarketData map[string]any
}

// auditCtx is the snapshot context attached to every order audit entry.
type auditCtx struct {
	account    string
	gameState  map[string]any
	marketData map[string]any
	risk       map[string]any
}

func snapshots(account string, gs domain.GameState, rs domain.RiskState, market map[string]any) auditCtx {
	ac := auditCtx{account: account, marketData: market, risk: audit.RiskSnapshot(rs)}
	if gs.MatchID != "" {
		ac.gameState = audit.GameStateSnapshot(gs)
	}
	return ac
}

// OpenPosition executes an entry decision: slippage check, pending position
// and order records, placement (or simulated fill), fill polling, and the
// pending -> open transition. On any failure before a fill the position moves
// pending -> cancelled.
func (m *Manager) OpenPosition(ctx context.Context, req EntryRequest) (domain.Position, error) {
	if err := m.checkSlippage(ctx, req.Decision.MarketID, req.Decision.Price); err != nil {
		return domain.Position{}, err
	}

	side := req.Side
	if side == "" {
		side = domain.OrderSideBuy
	}
	size := req.Size
	if size == 0 {
		size = req.Decision.Size
	}

	now := time.Now().UTC()
	orderID := uuid.New().String()
	pos := domain.Position{
		ID:           uuid.New().String(),
		Account:      req.Account,
		MarketID:     req.Decision.MarketID,
		Match:        req.Match,
		Sport:        req.Sport,
		Platform:     req.Platform,
		Side:         side,
		EntryPrice:   req.Decision.Price,
		Size:         size,
		Status:       domain.PositionStatusPending,
		EntryOrderID: orderID,
		OpenedAt:     now,
	}
	if err := m.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("executor: create position: %w", err)
	}

	order := domain.Order{
		ID:         orderID,
		Account:    req.Account,
		PositionID: pos.ID,
		MarketID:   req.Decision.MarketID,
		Platform:   req.Platform,
		Side:       side,
		Price:      req.Decision.Price,
		Size:       size,
		Status:     domain.OrderStatusPending,
		DryRun:     m.cfg.DryRun,
		CreatedAt:  now,
	}
	if err := m.orders.Create(ctx, order); err != nil {
		return domain.Position{}, fmt.Errorf("executor: create order: %w", err)
	}

	ac := snapshots(req.Account, req.GameState, req.RiskState, req.MarketData)
	if err := m.recordSubmission(ctx, order, ac); err != nil {
		m.cancelPending(ctx, &pos, &order)
		return pos, err
	}

	fill, err := m.placeAndFill(ctx, &order, ac)
	if err != nil {
		if terr := m.positions.Transition(ctx, pos.ID, domain.PositionStatusPending, domain.PositionStatusCancelled); terr != nil {
			m.logger.Error("cancel pending position failed",
				slog.String("position_id", pos.ID),
				slog.String("error", terr.Error()),
			)
		}
		pos.Status = domain.PositionStatusCancelled
		return pos, err
	}

	if err := m.positions.Transition(ctx, pos.ID, domain.PositionStatusPending, domain.PositionStatusOpen); err != nil {
		return pos, fmt.Errorf("executor: open position %s: %w", pos.ID, err)
	}
	pos.Status = domain.PositionStatusOpen
	pos.EntryPrice = fill
	pos.OpenedAt = time.Now().UTC()
	if err := m.positions.Update(ctx, pos); err != nil {
		m.logger.Error("position update after fill failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	if m.risk != nil {
		if err := m.risk.RecordFill(ctx, req.Account, fill*size); err != nil {
			m.logger.Error("risk fill accounting failed",
				slog.String("account", req.Account),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.Float64("entry_price", fill),
		slog.Float64("size", size),
		slog.Bool("dry_run", m.cfg.DryRun),
	)
	return pos, nil
}

// ClosePosition executes an exit decision for a live position. A failed exit
// leaves the position in exiting; the next cycle retries with a fresh price.
func (m *Manager) ClosePosition(ctx context.Context, req ExitRequest) (domain.Position, error) {
	return m.closePosition(ctx, req, false)
}

func (m *Manager) closePosition(ctx context.Context, req ExitRequest, force bool) (domain.Position, error) {
	pos := req.Position

	// Force-close is best effort at whatever price is available and must
	// not be blocked by the slippage gate.
	if !force {
		if err := m.checkSlippage(ctx, pos.MarketID, req.Price); err != nil {
			return pos, err
		}
	}

	switch pos.Status {
	case domain.PositionStatusOpen:
		if err := m.positions.Transition(ctx, pos.ID, domain.PositionStatusOpen, domain.PositionStatusExiting); err != nil {
			return pos, fmt.Errorf("executor: exit position %s: %w", pos.ID, err)
		}
		pos.Status = domain.PositionStatusExiting
	case domain.PositionStatusExiting:
		// retrying after an earlier exit attempt failed
	default:
		return pos, fmt.Errorf("executor: position %s is %s: %w", pos.ID, pos.Status, domain.ErrInvalidTransition)
	}

	exitSide := domain.OrderSideSell
	if pos.Side == domain.OrderSideSell {
		exitSide = domain.OrderSideBuy
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:         uuid.New().String(),
		Account:    req.Account,
		PositionID: pos.ID,
		MarketID:   pos.MarketID,
		Platform:   pos.Platform,
		Side:       exitSide,
		Price:      req.Price,
		Size:       pos.Size,
		Status:     domain.OrderStatusPending,
		DryRun:     m.cfg.DryRun,
		CreatedAt:  now,
	}
	if err := m.orders.Create(ctx, order); err != nil {
		return pos, fmt.Errorf("executor: create exit order: %w", err)
	}
	pos.ExitOrderID = order.ID
	if err := m.positions.Update(ctx, pos); err != nil {
		m.logger.Warn("exit order id update failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	ac := snapshots(req.Account, req.GameState, req.RiskState, req.MarketData)
	if force {
		// Flattening under the kill switch is risk reduction; an audit
		// outage must not keep exposure open.
		m.record(ctx, audit.EventOrderSubmitted, order, ac)
	} else if err := m.recordSubmission(ctx, order, ac); err != nil {
		// The position stays in exiting; the next cycle retries once the
		// audit store recovers.
		m.markStatus(ctx, &order, domain.OrderStatusCancelled)
		return pos, err
	}

	fill, err := m.placeAndFill(ctx, &order, ac)
	if err != nil {
		return pos, err
	}

	pnl := (fill - pos.EntryPrice) * pos.Size
	if pos.Side == domain.OrderSideSell {
		pnl = (pos.EntryPrice - fill) * pos.Size
	}

	if err := m.positions.Transition(ctx, pos.ID, domain.PositionStatusExiting, domain.PositionStatusClosed); err != nil {
		return pos, fmt.Errorf("executor: close position %s: %w", pos.ID, err)
	}
	closedAt := time.Now().UTC()
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &closedAt
	pos.ExitPrice = &fill
	pos.RealizedPnL = pnl
	if err := m.positions.Update(ctx, pos); err != nil {
		m.logger.Error("position update after close failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	if !force && m.risk != nil {
		if err := m.risk.RecordClose(ctx, req.Account, pos.EntryPrice*pos.Size, pnl); err != nil {
			m.logger.Error("risk close accounting failed",
				slog.String("account", req.Account),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", req.Reason),
		slog.Float64("exit_price", fill),
		slog.Float64("pnl", pnl),
		slog.Bool("forced", force),
	)
	return pos, nil
}

// ForceCloseAll closes every live position for the account at the best
// available price. The kill switch calls this while holding the account
// lock; each position's status is re-checked immediately before closing
// since a normal exit may have already moved it.
func (m *Manager) ForceCloseAll(ctx context.Context, account, reason string) (int, float64, error) {
	live, err := m.positions.ListLive(ctx, account)
	if err != nil {
		return 0, 0, fmt.Errorf("executor: list live positions: %w", err)
	}

	var closed int
	var totalPnL float64
	for _, p := range live {
		current, err := m.positions.GetByID(ctx, p.ID)
		if err != nil {
			m.logger.Error("force close status check failed",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !current.Live() {
			continue
		}

		price, _, perr := m.prices.GetPrice(ctx, current.MarketID)
		if perr != nil || price <= 0 {
			price = current.EntryPrice
		}

		res, cerr := m.closePosition(ctx, ExitRequest{
			Account:  account,
			Position: current,
			Price:    price,
			Reason:   reason,
		}, true)
		if cerr != nil {
			m.logger.Error("force close failed",
				slog.String("position_id", current.ID),
				slog.String("error", cerr.Error()),
			)
			continue
		}
		closed++
		totalPnL += res.RealizedPnL
	}
	return closed, totalPnL, nil
}

// checkSlippage compares the proposed execution price against the last-seen
// market price. A cache miss is not a block: with no recent price there is
// nothing to deviate from.
func (m *Manager) checkSlippage(ctx context.Context, marketID string, price float64) error {
	last, _, err := m.prices.GetPrice(ctx, marketID)
	if err != nil || last <= 0 {
		return nil
	}
	dev := math.Abs(price-last) / last
	if dev > m.cfg.MaxSlippagePct {
		return fmt.Errorf("executor: price %.4f deviates %.2f%% from last %.4f: %w",
			price, dev*100, last, domain.ErrSlippageExceeded)
	}
	return nil
}

// placeAndFill runs one order to a terminal order status: filled, rejected,
// cancelled, or orphaned. It mutates order in place and writes the matching
// audit entry. The returned price is the fill price.
func (m *Manager) placeAndFill(ctx context.Context, order *domain.Order, ac auditCtx) (float64, error) {
	if m.cfg.DryRun {
		now := time.Now().UTC()
		if err := m.orders.MarkFilled(ctx, order.ID, order.Price, now); err != nil {
			return 0, fmt.Errorf("executor: mark simulated fill: %w", err)
		}
		order.Status = domain.OrderStatusFilled
		order.FilledAt = &now
		order.FilledPrice = &order.Price
		m.record(ctx, audit.EventOrderFilled, *order, ac)
		return order.Price, nil
	}

	ex, ok := m.exchanges[order.Platform]
	if !ok {
		return 0, fmt.Errorf("executor: no adapter for platform %s", order.Platform)
	}

	if m.limiter != nil {
		allowed, lerr := m.limiter.Allow(ctx, "orders:"+string(order.Platform), orderRateLimit, time.Second)
		if lerr != nil {
			// A broken limiter backend must not halt trading.
			m.logger.Warn("order rate limiter unavailable",
				slog.String("order_id", order.ID),
				slog.String("error", lerr.Error()),
			)
		} else if !allowed {
			m.markStatus(ctx, order, domain.OrderStatusCancelled)
			m.record(ctx, audit.EventOrderCancelled, *order, ac)
			return 0, fmt.Errorf("executor: order %s throttled: %w", order.ID, domain.ErrRateLimited)
		}
	}

	ticket := domain.OrderTicket{
		MarketID: order.MarketID,
		Side:     order.Side,
		Price:    order.Price,
		Size:     order.Size,
	}
	ack, err := ex.PlaceOrder(ctx, ticket)
	if err != nil {
		m.markStatus(ctx, order, domain.OrderStatusRejected)
		m.record(ctx, audit.EventOrderRejected, *order, ac)
		return 0, fmt.Errorf("executor: place order %s: %w", order.ID, err)
	}
	if ack.Status == domain.OrderStatusRejected {
		m.markStatus(ctx, order, domain.OrderStatusRejected)
		m.record(ctx, audit.EventOrderRejected, *order, ac)
		return 0, fmt.Errorf("executor: order %s rejected: %s: %w", order.ID, ack.Reason, domain.ErrExchangeRejected)
	}

	order.ExchangeOrderID = ack.OrderID
	if err := m.orders.SetExchangeOrderID(ctx, order.ID, ack.OrderID); err != nil {
		m.logger.Error("exchange order id update failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	fill, err := m.waitForFill(ctx, ex, ack.OrderID)
	if err == nil {
		now := time.Now().UTC()
		if merr := m.orders.MarkFilled(ctx, order.ID, fill, now); merr != nil {
			return 0, fmt.Errorf("executor: mark fill: %w", merr)
		}
		order.Status = domain.OrderStatusFilled
		order.FilledAt = &now
		order.FilledPrice = &fill
		m.record(ctx, audit.EventOrderFilled, *order, ac)
		return fill, nil
	}

	if errors.Is(err, domain.ErrOrderTimeout) {
		if cerr := ex.CancelOrder(ctx, ack.OrderID); cerr != nil {
			// Cancel failed: the order may still be live on the exchange.
			// Hand it to the reconciliation path instead of dropping it.
			m.logger.Error("cancel after fill timeout failed, flagging orphan candidate",
				slog.String("order_id", order.ID),
				slog.String("exchange_order_id", ack.OrderID),
				slog.String("error", cerr.Error()),
			)
			m.markStatus(ctx, order, domain.OrderStatusOrphaned)
			m.flagOrphan(ctx, *order)
			m.record(ctx, audit.EventOrderTimeout, *order, ac)
			return 0, fmt.Errorf("executor: order %s cancel failed after timeout: %w", order.ID, domain.ErrOrderTimeout)
		}
		m.markStatus(ctx, order, domain.OrderStatusCancelled)
		m.record(ctx, audit.EventOrderCancelled, *order, ac)
		return 0, fmt.Errorf("executor: order %s: %w", order.ID, domain.ErrOrderTimeout)
	}

	m.markStatus(ctx, order, domain.OrderStatusCancelled)
	m.record(ctx, audit.EventOrderCancelled, *order, ac)
	return 0, err
}

// waitForFill polls the exchange until the order fills, the exchange cancels
// it, or the fill timeout expires.
func (m *Manager) waitForFill(ctx context.Context, ex domain.Exchange, exchangeOrderID string) (float64, error) {
	deadline := time.NewTimer(m.cfg.FillTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.FillPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, domain.ErrOrderTimeout
		case <-ticker.C:
			st, err := ex.GetOrder(ctx, exchangeOrderID)
			if err != nil {
				m.logger.Warn("fill poll failed",
					slog.String("exchange_order_id", exchangeOrderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if st.Filled {
				return st.FilledPrice, nil
			}
			if st.Cancelled {
				return 0, fmt.Errorf("executor: order %s cancelled on exchange: %w",
					exchangeOrderID, domain.ErrExchangeRejected)
			}
		}
	}
}

// cancelPending moves a never-placed entry position and its order to
// cancelled.
func (m *Manager) cancelPending(ctx context.Context, pos *domain.Position, order *domain.Order) {
	if err := m.positions.Transition(ctx, pos.ID, domain.PositionStatusPending, domain.PositionStatusCancelled); err != nil {
		m.logger.Error("cancel pending position failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	pos.Status = domain.PositionStatusCancelled
	m.markStatus(ctx, order, domain.OrderStatusCancelled)
}

func (m *Manager) markStatus(ctx context.Context, order *domain.Order, status domain.OrderStatus) {
	if err := m.orders.UpdateStatus(ctx, order.ID, status); err != nil {
		m.logger.Error("order status update failed",
			slog.String("order_id", order.ID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
	order.Status = status
}

// flagOrphan records an orphan candidate for an order whose cancel failed.
// The reconciliation scanner dedupes on (platform, market, exchange order).
func (m *Manager) flagOrphan(ctx context.Context, order domain.Order) {
	exists, err := m.orphans.ExistsUnresolved(ctx, order.Platform, order.MarketID, order.ExchangeOrderID)
	if err != nil {
		m.logger.Error("orphan dedupe check failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if exists {
		return
	}
	rec := domain.OrphanRecord{
		ID:              uuid.New().String(),
		Account:         order.Account,
		Platform:        order.Platform,
		MarketID:        order.MarketID,
		ExchangeOrderID: order.ExchangeOrderID,
		Kind:            domain.OrphanExchangeSide,
		Resolution:      domain.OrphanUnresolved,
		DetectedAt:      time.Now().UTC(),
	}
	if err := m.orphans.Create(ctx, rec); err != nil {
		m.logger.Error("orphan record create failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

// record writes a best-effort audit entry for an order transition. Fill,
// cancel, and reject entries describe an outcome that already happened on
// the exchange; the recorder logs anything it had to drop.
func (m *Manager) record(ctx context.Context, event string, order domain.Order, ac auditCtx) {
	if m.recorder == nil {
		return
	}
	_ = m.recorder.Record(ctx, auditEntry(event, order, ac))
}

// recordSubmission persists the order-submitted entry. Submission is the one
// audit write that gates execution: an order whose audit entry cannot be
// persisted is never placed, so no trade starts unaudited.
func (m *Manager) recordSubmission(ctx context.Context, order domain.Order, ac auditCtx) error {
	if m.recorder == nil {
		return nil
	}
	if err := m.recorder.Record(ctx, auditEntry(audit.EventOrderSubmitted, order, ac)); err != nil {
		return fmt.Errorf("executor: audit order %s: %w", order.ID, errors.Join(domain.ErrAuditUnavailable, err))
	}
	return nil
}

func auditEntry(event string, order domain.Order, ac auditCtx) domain.AuditEntry {
	return domain.AuditEntry{
		Account:    ac.account,
		Event:      event,
		PositionID: order.PositionID,
		OrderID:    order.ID,
		Order:      audit.OrderSnapshot(order),
		GameState:  ac.gameState,
		MarketData: ac.marketData,
		Risk:       ac.risk,
	}
}

package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sportsbot/internal/audit"
	"github.com/alanyoungcy/sportsbot/internal/domain"
)

type memPositions struct {
	mu sync.Mutex
	m  map[string]domain.Position
}

func newMemPositions() *memPositions { return &memPositions{m: make(map[string]domain.Position)} }

func (s *memPositions) Create(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[pos.ID] = pos
	return nil
}

func (s *memPositions) Transition(ctx context.Context, id string, from, to domain.PositionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Status != from {
		return domain.ErrInvalidTransition
	}
	pos.Status = to
	s.m[id] = pos
	return nil
}

func (s *memPositions) Update(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[pos.ID] = pos
	return nil
}

func (s *memPositions) GetByID(ctx context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.m[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositions) ListLive(ctx context.Context, account string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.m {
		if pos.Account == account && pos.Live() {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memPositions) ListByMarket(ctx context.Context, account, marketID string) ([]domain.Position, error) {
	return nil, nil
}

func (s *memPositions) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	return nil, nil
}

func (s *memPositions) ListHistory(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type memOrders struct {
	mu sync.Mutex
	m  map[string]domain.Order
}

func newMemOrders() *memOrders { return &memOrders{m: make(map[string]domain.Order)} }

func (s *memOrders) Create(ctx context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[o.ID] = o
	return nil
}

func (s *memOrders) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	s.m[id] = o
	return nil
}

func (s *memOrders) SetExchangeOrderID(ctx context.Context, id, exchangeOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.ExchangeOrderID = exchangeOrderID
	s.m[id] = o
	return nil
}

func (s *memOrders) MarkFilled(ctx context.Context, id string, price float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = domain.OrderStatusFilled
	o.FilledPrice = &price
	o.FilledAt = &at
	s.m[id] = o
	return nil
}

func (s *memOrders) GetByID(ctx context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrders) ListLive(ctx context.Context, account string) ([]domain.Order, error) {
	return nil, nil
}

func (s *memOrders) single(t *testing.T, status domain.OrderStatus) domain.Order {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.m {
		if o.Status == status {
			return o
		}
	}
	t.Fatalf("no order with status %s", status)
	return domain.Order{}
}

type memOrphans struct {
	mu   sync.Mutex
	recs []domain.OrphanRecord
}

func (s *memOrphans) Create(ctx context.Context, rec domain.OrphanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memOrphans) Resolve(ctx context.Context, id string, res domain.OrphanResolution) error {
	return nil
}

func (s *memOrphans) ListUnresolved(ctx context.Context, account string) ([]domain.OrphanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrphanRecord(nil), s.recs...), nil
}

func (s *memOrphans) ExistsUnresolved(ctx context.Context, platform domain.Platform, marketID, exchangeOrderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.Platform == platform && r.MarketID == marketID && r.ExchangeOrderID == exchangeOrderID {
			return true, nil
		}
	}
	return false, nil
}

type memPrices struct {
	mu sync.Mutex
	m  map[string]float64
}

func newMemPrices() *memPrices { return &memPrices{m: make(map[string]float64)} }

func (c *memPrices) SetPrice(ctx context.Context, marketID string, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[marketID] = price
	return nil
}

func (c *memPrices) GetPrice(ctx context.Context, marketID string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.m[marketID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (c *memPrices) SetReference(ctx context.Context, marketID string, price float64) error {
	return nil
}

func (c *memPrices) GetReference(ctx context.Context, marketID string) (float64, error) {
	return 0, domain.ErrNotFound
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *memAudit) Append(ctx context.Context, e domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memAudit) List(ctx context.Context, account string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.entries, nil
}

func (s *memAudit) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *memAudit) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *memAudit) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Event)
	}
	return out
}

type fakeExchange struct {
	placeErr  error
	ack       domain.OrderAck
	fill      *domain.FillStatus
	cancelErr error

	mu        sync.Mutex
	placed    []domain.OrderTicket
	cancelled []string
}

func (f *fakeExchange) Platform() domain.Platform { return domain.PlatformPolymarket }

func (f *fakeExchange) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeExchange) GetOrderbook(ctx context.Context, id string) (domain.Orderbook, error) {
	return domain.Orderbook{}, domain.ErrNotFound
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (domain.OrderAck, error) {
	f.mu.Lock()
	f.placed = append(f.placed, ticket)
	f.mu.Unlock()
	if f.placeErr != nil {
		return domain.OrderAck{}, f.placeErr
	}
	return f.ack, nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, orderID string) (domain.FillStatus, error) {
	if f.fill == nil {
		return domain.FillStatus{OrderID: orderID}, nil
	}
	return *f.fill, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, orderID)
	f.mu.Unlock()
	return f.cancelErr
}

func (f *fakeExchange) ListOpenOrders(ctx context.Context) ([]domain.ExchangeOrder, error) {
	return nil, nil
}

func (f *fakeExchange) GetBalance(ctx context.Context) (float64, error) { return 1000, nil }

type fakeRisk struct {
	mu     sync.Mutex
	fills  []float64
	closes []float64
}

func (f *fakeRisk) RecordFill(ctx context.Context, account string, notional float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, notional)
	return nil
}

func (f *fakeRisk) RecordClose(ctx context.Context, account string, entryNotional, pnl float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, pnl)
	return nil
}

type fixture struct {
	mgr       *Manager
	positions *memPositions
	orders    *memOrders
	orphans   *memOrphans
	prices    *memPrices
	auditLog  *memAudit
	risk      *fakeRisk
}

func newFixture(dryRun bool, ex domain.Exchange) *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		positions: newMemPositions(),
		orders:    newMemOrders(),
		orphans:   &memOrphans{},
		prices:    newMemPrices(),
		auditLog:  &memAudit{},
		risk:      &fakeRisk{},
	}
	exchanges := map[domain.Platform]domain.Exchange{}
	if ex != nil {
		exchanges[domain.PlatformPolymarket] = ex
	}
	f.mgr = NewManager(
		Config{
			DryRun:           dryRun,
			MaxSlippagePct:   0.02,
			FillTimeout:      30 * time.Millisecond,
			FillPollInterval: 5 * time.Millisecond,
		},
		f.positions, f.orders, f.orphans, f.prices, exchanges,
		audit.NewRecorder(f.auditLog, logger), logger,
	)
	f.mgr.SetRiskRecorder(f.risk)
	return f
}

func entryReq() EntryRequest {
	return EntryRequest{
		Account:  "acct",
		Platform: domain.PlatformPolymarket,
		Sport:    domain.SportNBA,
		Match:    "lakers-celtics",
		Decision: domain.Decision{
			Action:   domain.ActionEnter,
			MarketID: "mkt-1",
			Price:    0.40,
			Size:     10,
		},
		Size: 10,
	}
}

func TestDryRunOpenFillsImmediately(t *testing.T) {
	f := newFixture(true, nil)

	pos, err := f.mgr.OpenPosition(context.Background(), entryReq())
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, 0.40, pos.EntryPrice)

	stored, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)

	order := f.orders.single(t, domain.OrderStatusFilled)
	assert.True(t, order.DryRun)
	assert.Empty(t, order.ExchangeOrderID)

	require.Len(t, f.risk.fills, 1)
	assert.Equal(t, 4.0, f.risk.fills[0])
	assert.Equal(t, []string{audit.EventOrderSubmitted, audit.EventOrderFilled}, f.auditLog.events())
}

func TestLiveOpenMatchesDryRunTransitions(t *testing.T) {
	ex := &fakeExchange{
		ack:  domain.OrderAck{OrderID: "ex-1", Status: domain.OrderStatusPending},
		fill: &domain.FillStatus{OrderID: "ex-1", Filled: true, FilledPrice: 0.41, FilledSize: 10},
	}
	f := newFixture(false, ex)

	pos, err := f.mgr.OpenPosition(context.Background(), entryReq())
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, 0.41, pos.EntryPrice)

	order := f.orders.single(t, domain.OrderStatusFilled)
	assert.Equal(t, "ex-1", order.ExchangeOrderID)
	assert.False(t, order.DryRun)

	// Same transition sequence as dry run, only the adapter is real.
	assert.Equal(t, []string{audit.EventOrderSubmitted, audit.EventOrderFilled}, f.auditLog.events())
}

func TestSlippageExceededAbandonsOrder(t *testing.T) {
	f := newFixture(true, nil)
	require.NoError(t, f.prices.SetPrice(context.Background(), "mkt-1", 0.50))

	req := entryReq()
	req.Decision.Price = 0.60

	_, err := f.mgr.OpenPosition(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Empty(t, f.positions.m)
	assert.Empty(t, f.orders.m)
}

func TestFillTimeoutCancelsOrder(t *testing.T) {
	ex := &fakeExchange{ack: domain.OrderAck{OrderID: "ex-1", Status: domain.OrderStatusPending}}
	f := newFixture(false, ex)

	pos, err := f.mgr.OpenPosition(context.Background(), entryReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderTimeout)

	assert.Equal(t, domain.PositionStatusCancelled, pos.Status)
	assert.Equal(t, []string{"ex-1"}, ex.cancelled)
	f.orders.single(t, domain.OrderStatusCancelled)
	assert.Empty(t, f.orphans.recs)
	assert.Empty(t, f.risk.fills)
}

func TestFailedCancelFlagsOrphanCandidate(t *testing.T) {
	ex := &fakeExchange{
		ack:       domain.OrderAck{OrderID: "ex-1", Status: domain.OrderStatusPending},
		cancelErr: errors.New("exchange unavailable"),
	}
	f := newFixture(false, ex)

	_, err := f.mgr.OpenPosition(context.Background(), entryReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderTimeout)

	f.orders.single(t, domain.OrderStatusOrphaned)
	require.Len(t, f.orphans.recs, 1)
	rec := f.orphans.recs[0]
	assert.Equal(t, domain.OrphanExchangeSide, rec.Kind)
	assert.Equal(t, domain.OrphanUnresolved, rec.Resolution)
	assert.Equal(t, "ex-1", rec.ExchangeOrderID)
	assert.Contains(t, f.auditLog.events(), audit.EventOrderTimeout)
}

type downAudit struct{}

func (downAudit) Append(ctx context.Context, e domain.AuditEntry) error {
	return errors.New("audit db down")
}

func (downAudit) List(ctx context.Context, account string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (downAudit) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (downAudit) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// newDownAuditFixture is newFixture with an audit store that never accepts
// writes.
func newDownAuditFixture(dryRun bool, ex domain.Exchange) *fixture {
	f := newFixture(dryRun, ex)
	f.mgr.recorder = audit.NewRecorder(downAudit{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func TestAuditOutageBlocksEntrySubmission(t *testing.T) {
	ex := &fakeExchange{
		ack:  domain.OrderAck{OrderID: "ex-1", Status: domain.OrderStatusPending},
		fill: &domain.FillStatus{OrderID: "ex-1", Filled: true, FilledPrice: 0.41},
	}
	f := newDownAuditFixture(false, ex)

	pos, err := f.mgr.OpenPosition(context.Background(), entryReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuditUnavailable)

	// The order never reached the exchange and the position never opened.
	assert.Empty(t, ex.placed)
	assert.Equal(t, domain.PositionStatusCancelled, pos.Status)
	stored, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusCancelled, stored.Status)
	f.orders.single(t, domain.OrderStatusCancelled)
	assert.Empty(t, f.risk.fills)
}

func TestAuditOutageLeavesExitRetryable(t *testing.T) {
	f := newDownAuditFixture(true, nil)
	pos := openPosition(t, f)

	_, err := f.mgr.ClosePosition(context.Background(), ExitRequest{
		Account:  "acct",
		Position: pos,
		Price:    0.50,
		Reason:   "take profit",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuditUnavailable)

	// The position holds in exiting so the next cycle retries the close
	// once the audit store recovers.
	stored, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusExiting, stored.Status)
	assert.Empty(t, f.risk.closes)
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return false, nil
}

func TestRateLimitedOrderNeverReachesExchange(t *testing.T) {
	ex := &fakeExchange{}
	f := newFixture(false, ex)
	f.mgr.SetRateLimiter(denyLimiter{})

	pos, err := f.mgr.OpenPosition(context.Background(), entryReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	assert.Equal(t, domain.PositionStatusCancelled, pos.Status)
	assert.Empty(t, ex.placed)
	f.orders.single(t, domain.OrderStatusCancelled)
}

func TestExchangeRejectionCancelsPendingPosition(t *testing.T) {
	ex := &fakeExchange{
		ack: domain.OrderAck{Status: domain.OrderStatusRejected, Reason: "insufficient funds"},
	}
	f := newFixture(false, ex)

	pos, err := f.mgr.OpenPosition(context.Background(), entryReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExchangeRejected)

	assert.Equal(t, domain.PositionStatusCancelled, pos.Status)
	f.orders.single(t, domain.OrderStatusRejected)
	assert.Contains(t, f.auditLog.events(), audit.EventOrderRejected)
}

func openPosition(t *testing.T, f *fixture) domain.Position {
	t.Helper()
	pos := domain.Position{
		ID:         "pos-1",
		Account:    "acct",
		MarketID:   "mkt-1",
		Platform:   domain.PlatformPolymarket,
		Side:       domain.OrderSideBuy,
		EntryPrice: 0.40,
		Size:       10,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.positions.Create(context.Background(), pos))
	return pos
}

func TestCloseRealizesPnL(t *testing.T) {
	f := newFixture(true, nil)
	pos := openPosition(t, f)

	closed, err := f.mgr.ClosePosition(context.Background(), ExitRequest{
		Account:  "acct",
		Position: pos,
		Price:    0.50,
		Reason:   "take profit",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.Equal(t, 0.50, *closed.ExitPrice)
	assert.InDelta(t, 1.0, closed.RealizedPnL, 1e-9)

	require.Len(t, f.risk.closes, 1)
	assert.InDelta(t, 1.0, f.risk.closes[0], 1e-9)
}

func TestExitTimeoutKeepsPositionExiting(t *testing.T) {
	ex := &fakeExchange{ack: domain.OrderAck{OrderID: "ex-1", Status: domain.OrderStatusPending}}
	f := newFixture(false, ex)
	pos := openPosition(t, f)

	_, err := f.mgr.ClosePosition(context.Background(), ExitRequest{
		Account:  "acct",
		Position: pos,
		Price:    0.50,
		Reason:   "take profit",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderTimeout)

	// The position stays in exiting so the next cycle retries at a fresh
	// price instead of stranding it.
	stored, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusExiting, stored.Status)
	assert.Empty(t, f.risk.closes)
}

func TestForceCloseAllRechecksStatus(t *testing.T) {
	f := newFixture(true, nil)
	pos := openPosition(t, f)
	require.NoError(t, f.prices.SetPrice(context.Background(), "mkt-1", 0.50))

	other := pos
	other.ID = "pos-2"
	other.MarketID = "mkt-2"
	require.NoError(t, f.positions.Create(context.Background(), other))

	// Simulate a normal exit racing ahead of the force-close sweep.
	require.NoError(t, f.positions.Transition(context.Background(), "pos-2", domain.PositionStatusOpen, domain.PositionStatusExiting))
	require.NoError(t, f.positions.Transition(context.Background(), "pos-2", domain.PositionStatusExiting, domain.PositionStatusClosed))

	closed, totalPnL, err := f.mgr.ForceCloseAll(context.Background(), "acct", "kill switch")
	require.NoError(t, err)

	assert.Equal(t, 1, closed)
	assert.InDelta(t, 1.0, totalPnL, 1e-9)

	// Force-close accounting settles inside the risk controller, not here.
	assert.Empty(t, f.risk.closes)

	stored, err := f.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
}

package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sportsbot/internal/domain"
	"github.com/alanyoungcy/sportsbot/internal/executor"
	"github.com/alanyoungcy/sportsbot/internal/risk"
)

type fakeTracker struct {
	gs  domain.GameState
	err error
}

func (f *fakeTracker) Poll(ctx context.Context, sport domain.Sport, matchID string) (domain.GameState, error) {
	return f.gs, f.err
}

type fakeAuth struct {
	approved bool
	size     float64
	reason   domain.DenyReason
	state    domain.RiskState

	tickets []domain.OrderTicket
}

func (f *fakeAuth) Authorize(ctx context.Context, account string, ticket domain.OrderTicket, balance float64) (risk.Authorization, error) {
	f.tickets = append(f.tickets, ticket)
	return risk.Authorization{Approved: f.approved, Size: f.size, Reason: f.reason}, nil
}

func (f *fakeAuth) State(ctx context.Context, account string) (domain.RiskState, error) {
	return f.state, nil
}

type fakeTrader struct {
	opens  []executor.EntryRequest
	closes []executor.ExitRequest
}

func (f *fakeTrader) OpenPosition(ctx context.Context, req executor.EntryRequest) (domain.Position, error) {
	f.opens = append(f.opens, req)
	return domain.Position{ID: "pos-new", Status: domain.PositionStatusOpen}, nil
}

func (f *fakeTrader) ClosePosition(ctx context.Context, req executor.ExitRequest) (domain.Position, error) {
	f.closes = append(f.closes, req)
	return domain.Position{ID: req.Position.ID, Status: domain.PositionStatusClosed}, nil
}

type marketExchange struct {
	market domain.Market
}

func (f *marketExchange) Platform() domain.Platform { return domain.PlatformPolymarket }
func (f *marketExchange) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return f.market, nil
}
func (f *marketExchange) GetOrderbook(ctx context.Context, id string) (domain.Orderbook, error) {
	return domain.Orderbook{}, domain.ErrNotFound
}
func (f *marketExchange) PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (domain.OrderAck, error) {
	return domain.OrderAck{}, nil
}
func (f *marketExchange) GetOrder(ctx context.Context, orderID string) (domain.FillStatus, error) {
	return domain.FillStatus{}, domain.ErrNotFound
}
func (f *marketExchange) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *marketExchange) ListOpenOrders(ctx context.Context) ([]domain.ExchangeOrder, error) {
	return nil, nil
}
func (f *marketExchange) GetBalance(ctx context.Context) (float64, error) { return 1000, nil }

type fakePrices struct {
	reference float64
	prices    map[string]float64
}

func (c *fakePrices) SetPrice(ctx context.Context, marketID string, price float64) error {
	if c.prices == nil {
		c.prices = make(map[string]float64)
	}
	c.prices[marketID] = price
	return nil
}

func (c *fakePrices) GetPrice(ctx context.Context, marketID string) (float64, time.Time, error) {
	p, ok := c.prices[marketID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (c *fakePrices) SetReference(ctx context.Context, marketID string, price float64) error {
	if c.reference == 0 {
		c.reference = price
	}
	return nil
}

func (c *fakePrices) GetReference(ctx context.Context, marketID string) (float64, error) {
	if c.reference == 0 {
		return 0, domain.ErrNotFound
	}
	return c.reference, nil
}

type fakePositions struct {
	byMarket []domain.Position
}

func (s *fakePositions) Create(ctx context.Context, pos domain.Position) error { return nil }
func (s *fakePositions) Transition(ctx context.Context, id string, from, to domain.PositionStatus) error {
	return nil
}
func (s *fakePositions) Update(ctx context.Context, pos domain.Position) error { return nil }
func (s *fakePositions) GetByID(ctx context.Context, id string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (s *fakePositions) ListLive(ctx context.Context, account string) ([]domain.Position, error) {
	return nil, nil
}
func (s *fakePositions) ListByMarket(ctx context.Context, account, marketID string) ([]domain.Position, error) {
	return s.byMarket, nil
}
func (s *fakePositions) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	return nil, nil
}
func (s *fakePositions) ListHistory(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type noOverrides struct{}

func (noOverrides) Get(ctx context.Context, account, marketID string) (domain.MarketOverride, error) {
	return domain.MarketOverride{}, domain.ErrNotFound
}
func (noOverrides) Upsert(ctx context.Context, o domain.MarketOverride) error { return nil }

func nbaSports() map[domain.Sport]domain.SportConfig {
	return map[domain.Sport]domain.SportConfig{
		domain.SportNBA: {
			Sport:                   domain.SportNBA,
			EntryDropPct:            0.15,
			EntryAbsolutePrice:      0.35,
			TakeProfitPct:           0.20,
			StopLossPct:             0.10,
			MinVolume:               1000,
			MinTimeRemainingMinutes: 5,
			ExitTimeRemainingSec:    120,
			OrderSize:               10,
		},
	}
}

func nbaMatch() Match {
	return Match{
		MatchID:  "lakers-celtics",
		Sport:    domain.SportNBA,
		MarketID: "mkt-1",
		Platform: domain.PlatformPolymarket,
	}
}

func nbaState(minutesRemaining float64) domain.GameState {
	return domain.GameState{
		Sport:    domain.SportNBA,
		MatchID:  "lakers-celtics",
		Progress: domain.Progress{MinutesRemaining: &minutesRemaining},
	}
}

type harness struct {
	engine    *Engine
	tracker   *fakeTracker
	auth      *fakeAuth
	trader    *fakeTrader
	positions *fakePositions
}

func newHarness(gs domain.GameState, pollErr error, market domain.Market) *harness {
	h := &harness{
		tracker:   &fakeTracker{gs: gs, err: pollErr},
		auth:      &fakeAuth{approved: true, size: 10},
		trader:    &fakeTrader{},
		positions: &fakePositions{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = New(
		Config{Account: "acct", PollInterval: time.Second, PaperBalance: 1000},
		h.tracker,
		h.auth,
		h.trader,
		map[domain.Platform]domain.Exchange{domain.PlatformPolymarket: &marketExchange{market: market}},
		&fakePrices{reference: 0.60},
		h.positions,
		noOverrides{},
		nbaSports(),
		nil,
		nil,
		logger,
	)
	return h
}

// droppedMarket prices a 20% drop below the 0.60 reference.
func droppedMarket() domain.Market {
	return domain.Market{ID: "mkt-1", YesPrice: 0.48, Volume: 5000, Active: true}
}

func TestCycleSubmitsApprovedEntry(t *testing.T) {
	h := newHarness(nbaState(10), nil, droppedMarket())

	done, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)
	assert.False(t, done)

	require.Len(t, h.trader.opens, 1)
	open := h.trader.opens[0]
	assert.Equal(t, "acct", open.Account)
	assert.Equal(t, 10.0, open.Size)
	assert.Equal(t, 0.48, open.Decision.Price)
	require.Len(t, h.auth.tickets, 1)
	assert.Equal(t, domain.OrderSideBuy, h.auth.tickets[0].Side)
}

func TestCycleUsesRiskReducedSize(t *testing.T) {
	h := newHarness(nbaState(10), nil, droppedMarket())
	h.auth.size = 5 // streak reduction shrank the request

	_, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)

	require.Len(t, h.trader.opens, 1)
	assert.Equal(t, 5.0, h.trader.opens[0].Size)
}

func TestCycleDeniedEntryNotSubmitted(t *testing.T) {
	h := newHarness(nbaState(10), nil, droppedMarket())
	h.auth.approved = false
	h.auth.reason = domain.DenyKillSwitch

	_, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)

	assert.Empty(t, h.trader.opens)
}

type fixedOverride struct {
	ov domain.MarketOverride
}

func (f fixedOverride) Get(ctx context.Context, account, marketID string) (domain.MarketOverride, error) {
	return f.ov, nil
}
func (fixedOverride) Upsert(ctx context.Context, o domain.MarketOverride) error { return nil }

func TestCycleThreadsMarketLimitsOntoTicket(t *testing.T) {
	h := newHarness(nbaState(10), nil, droppedMarket())

	sc := h.engine.sports[domain.SportNBA]
	sc.MaxDailyLossUSDC = 75
	h.engine.sports[domain.SportNBA] = sc

	exposure := 150.0
	h.engine.overrides = fixedOverride{ov: domain.MarketOverride{
		Account:         "acct",
		MarketID:        "mkt-1",
		MaxExposureUSDC: &exposure,
	}}

	_, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)

	// The ticket carries the effective limits: the override's exposure cap
	// and the sport default daily loss.
	require.Len(t, h.auth.tickets, 1)
	assert.Equal(t, 150.0, h.auth.tickets[0].MaxExposureUSDC)
	assert.Equal(t, 75.0, h.auth.tickets[0].MaxDailyLossUSDC)
}

func TestCycleExitsOpenPosition(t *testing.T) {
	h := newHarness(nbaState(10), nil, domain.Market{ID: "mkt-1", YesPrice: 0.50, Volume: 5000})
	h.positions.byMarket = []domain.Position{{
		ID:         "pos-1",
		Account:    "acct",
		MarketID:   "mkt-1",
		Side:       domain.OrderSideBuy,
		EntryPrice: 0.40,
		Size:       10,
		Status:     domain.PositionStatusOpen,
	}}

	_, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)

	assert.Empty(t, h.trader.opens)
	require.Len(t, h.trader.closes, 1)
	assert.Equal(t, "pos-1", h.trader.closes[0].Position.ID)
	assert.Equal(t, 0.50, h.trader.closes[0].Price)
}

func TestKillSwitchStillExecutesExits(t *testing.T) {
	h := newHarness(nbaState(10), nil, domain.Market{ID: "mkt-1", YesPrice: 0.50, Volume: 5000})
	h.auth.approved = false
	h.auth.reason = domain.DenyKillSwitch
	h.auth.state = domain.RiskState{Account: "acct", KillSwitch: true}
	h.positions.byMarket = []domain.Position{{
		ID:         "pos-1",
		Account:    "acct",
		MarketID:   "mkt-1",
		Side:       domain.OrderSideBuy,
		EntryPrice: 0.40,
		Size:       10,
		Status:     domain.PositionStatusOpen,
	}}

	_, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)

	// A latched kill switch blocks entries only; the take-profit exit still
	// goes to the executor.
	assert.Empty(t, h.trader.opens)
	require.Len(t, h.trader.closes, 1)
	assert.Equal(t, "pos-1", h.trader.closes[0].Position.ID)
	assert.True(t, h.trader.closes[0].RiskState.KillSwitch)
}

func TestCycleTerminalEvaluatedOnceThenDone(t *testing.T) {
	gs := nbaState(0)
	gs.Terminal = true
	h := newHarness(gs, nil, domain.Market{ID: "mkt-1", YesPrice: 0.90, Volume: 5000})
	h.positions.byMarket = []domain.Position{{
		ID:         "pos-1",
		Account:    "acct",
		MarketID:   "mkt-1",
		Side:       domain.OrderSideBuy,
		EntryPrice: 0.40,
		Size:       10,
		Status:     domain.PositionStatusOpen,
	}}

	done, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)

	assert.True(t, done)
	require.Len(t, h.trader.closes, 1)
	assert.Equal(t, "game over", h.trader.closes[0].Reason)
}

func TestStaleDataSuppressesEntry(t *testing.T) {
	gs := nbaState(10)
	h := newHarness(gs, domain.ErrStaleData, droppedMarket())

	done, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)

	assert.False(t, done)
	assert.Empty(t, h.trader.opens)
}

func TestStaleDataStillManagesOpenPosition(t *testing.T) {
	gs := nbaState(10)
	h := newHarness(gs, domain.ErrStaleData, domain.Market{ID: "mkt-1", YesPrice: 0.50, Volume: 5000})
	h.positions.byMarket = []domain.Position{{
		ID:         "pos-1",
		Account:    "acct",
		MarketID:   "mkt-1",
		Side:       domain.OrderSideBuy,
		EntryPrice: 0.40,
		Size:       10,
		Status:     domain.PositionStatusOpen,
	}}

	_, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)

	require.Len(t, h.trader.closes, 1)
}

func TestMonitorModeNeverSubmits(t *testing.T) {
	h := newHarness(nbaState(10), nil, droppedMarket())
	h.engine.cfg.Monitor = true

	_, err := h.engine.Cycle(context.Background(), nbaMatch())
	require.NoError(t, err)

	assert.Empty(t, h.trader.opens)
	assert.Empty(t, h.auth.tickets)
}

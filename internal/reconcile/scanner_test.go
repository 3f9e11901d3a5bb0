package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

type memOrphans struct {
	recs []domain.OrphanRecord
}

func (s *memOrphans) Create(ctx context.Context, rec domain.OrphanRecord) error {
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memOrphans) Resolve(ctx context.Context, id string, res domain.OrphanResolution) error {
	for i := range s.recs {
		if s.recs[i].ID == id {
			s.recs[i].Resolution = res
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memOrphans) ListUnresolved(ctx context.Context, account string) ([]domain.OrphanRecord, error) {
	var out []domain.OrphanRecord
	for _, r := range s.recs {
		if r.Resolution == domain.OrphanUnresolved {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memOrphans) ExistsUnresolved(ctx context.Context, platform domain.Platform, marketID, exchangeOrderID string) (bool, error) {
	for _, r := range s.recs {
		if r.Resolution == domain.OrphanUnresolved &&
			r.Platform == platform && r.MarketID == marketID && r.ExchangeOrderID == exchangeOrderID {
			return true, nil
		}
	}
	return false, nil
}

type fixedOrders struct {
	live []domain.Order
}

func (s *fixedOrders) Create(ctx context.Context, o domain.Order) error { return nil }
func (s *fixedOrders) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	return nil
}
func (s *fixedOrders) SetExchangeOrderID(ctx context.Context, id, exchangeOrderID string) error {
	return nil
}
func (s *fixedOrders) MarkFilled(ctx context.Context, id string, price float64, at time.Time) error {
	return nil
}
func (s *fixedOrders) GetByID(ctx context.Context, id string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (s *fixedOrders) ListLive(ctx context.Context, account string) ([]domain.Order, error) {
	return s.live, nil
}

type fixedPositions struct {
	live []domain.Position
}

func (s *fixedPositions) Create(ctx context.Context, pos domain.Position) error { return nil }
func (s *fixedPositions) Transition(ctx context.Context, id string, from, to domain.PositionStatus) error {
	return nil
}
func (s *fixedPositions) Update(ctx context.Context, pos domain.Position) error { return nil }
func (s *fixedPositions) GetByID(ctx context.Context, id string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (s *fixedPositions) ListLive(ctx context.Context, account string) ([]domain.Position, error) {
	return s.live, nil
}
func (s *fixedPositions) ListByMarket(ctx context.Context, account, marketID string) ([]domain.Position, error) {
	return nil, nil
}
func (s *fixedPositions) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	return nil, nil
}
func (s *fixedPositions) ListHistory(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type fakeLock struct {
	held     bool
	acquires int
}

func (l *fakeLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.acquires++
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type listingExchange struct {
	platform domain.Platform
	open     []domain.ExchangeOrder
	calls    int
}

func (f *listingExchange) Platform() domain.Platform { return f.platform }
func (f *listingExchange) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (f *listingExchange) GetOrderbook(ctx context.Context, id string) (domain.Orderbook, error) {
	return domain.Orderbook{}, domain.ErrNotFound
}
func (f *listingExchange) PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (domain.OrderAck, error) {
	return domain.OrderAck{}, nil
}
func (f *listingExchange) GetOrder(ctx context.Context, orderID string) (domain.FillStatus, error) {
	return domain.FillStatus{}, domain.ErrNotFound
}
func (f *listingExchange) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *listingExchange) ListOpenOrders(ctx context.Context) ([]domain.ExchangeOrder, error) {
	f.calls++
	return f.open, nil
}
func (f *listingExchange) GetBalance(ctx context.Context) (float64, error) { return 0, nil }

func newTestScanner(ex *listingExchange, orders *fixedOrders, orphans *memOrphans, lock *fakeLock) *Scanner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScanner(
		&fixedPositions{},
		orders,
		orphans,
		map[domain.Platform]domain.Exchange{ex.platform: ex},
		lock,
		nil,
		logger,
	)
}

func TestScanRecordsExchangeSideOrphan(t *testing.T) {
	ex := &listingExchange{
		platform: domain.PlatformKalshi,
		open: []domain.ExchangeOrder{
			{OrderID: "ex-9", MarketID: "mkt-1", Platform: domain.PlatformKalshi},
		},
	}
	orphans := &memOrphans{}
	s := newTestScanner(ex, &fixedOrders{}, orphans, &fakeLock{})

	found, err := s.Scan(context.Background(), "acct")
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, domain.OrphanExchangeSide, found[0].Kind)
	assert.Equal(t, "ex-9", found[0].ExchangeOrderID)
	assert.Equal(t, domain.OrphanUnresolved, found[0].Resolution)
}

func TestScanIsIdempotent(t *testing.T) {
	ex := &listingExchange{
		platform: domain.PlatformKalshi,
		open: []domain.ExchangeOrder{
			{OrderID: "ex-9", MarketID: "mkt-1", Platform: domain.PlatformKalshi},
		},
	}
	orphans := &memOrphans{}
	s := newTestScanner(ex, &fixedOrders{}, orphans, &fakeLock{})
	ctx := context.Background()

	first, err := s.Scan(ctx, "acct")
	require.NoError(t, err)
	second, err := s.Scan(ctx, "acct")
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Len(t, orphans.recs, 1)
}

func TestScanMatchesLocalOrders(t *testing.T) {
	ex := &listingExchange{
		platform: domain.PlatformKalshi,
		open: []domain.ExchangeOrder{
			{OrderID: "ex-9", MarketID: "mkt-1", Platform: domain.PlatformKalshi},
		},
	}
	orders := &fixedOrders{live: []domain.Order{{
		ID:              "ord-1",
		Platform:        domain.PlatformKalshi,
		MarketID:        "mkt-1",
		ExchangeOrderID: "ex-9",
		Status:          domain.OrderStatusPending,
	}}}
	orphans := &memOrphans{}
	s := newTestScanner(ex, orders, orphans, &fakeLock{})

	found, err := s.Scan(context.Background(), "acct")
	require.NoError(t, err)

	assert.Empty(t, found)
	assert.Empty(t, orphans.recs)
}

func TestScanFlagsLocalOrderMissingOnExchange(t *testing.T) {
	ex := &listingExchange{platform: domain.PlatformKalshi}
	orders := &fixedOrders{live: []domain.Order{{
		ID:              "ord-1",
		Platform:        domain.PlatformKalshi,
		MarketID:        "mkt-1",
		ExchangeOrderID: "ex-9",
		Status:          domain.OrderStatusPending,
	}}}
	orphans := &memOrphans{}
	s := newTestScanner(ex, orders, orphans, &fakeLock{})

	found, err := s.Scan(context.Background(), "acct")
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, domain.OrphanLocalSide, found[0].Kind)
}

func TestScanSkippedWhenLockHeld(t *testing.T) {
	ex := &listingExchange{
		platform: domain.PlatformKalshi,
		open: []domain.ExchangeOrder{
			{OrderID: "ex-9", MarketID: "mkt-1", Platform: domain.PlatformKalshi},
		},
	}
	s := newTestScanner(ex, &fixedOrders{}, &memOrphans{}, &fakeLock{held: true})

	found, err := s.Scan(context.Background(), "acct")
	require.NoError(t, err)

	assert.Nil(t, found)
	assert.Zero(t, ex.calls)
}

func TestResolveAppliesResolution(t *testing.T) {
	orphans := &memOrphans{recs: []domain.OrphanRecord{{
		ID:         "orp-1",
		Platform:   domain.PlatformKalshi,
		MarketID:   "mkt-1",
		Resolution: domain.OrphanUnresolved,
	}}}
	ex := &listingExchange{platform: domain.PlatformKalshi}
	s := newTestScanner(ex, &fixedOrders{}, orphans, &fakeLock{})

	require.NoError(t, s.Resolve(context.Background(), "acct", "orp-1", domain.OrphanManualClose))

	unresolved, err := s.Unresolved(context.Background(), "acct")
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

package risk

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

type memRiskStore struct {
	states map[string]domain.RiskState
	events []domain.KillSwitchEvent
}

func newMemRiskStore() *memRiskStore {
	return &memRiskStore{states: make(map[string]domain.RiskState)}
}

func (m *memRiskStore) Get(ctx context.Context, account string) (domain.RiskState, error) {
	if st, ok := m.states[account]; ok {
		return st, nil
	}
	return domain.RiskState{Account: account, LossDay: time.Now().UTC().Truncate(24 * time.Hour)}, nil
}

func (m *memRiskStore) Save(ctx context.Context, st domain.RiskState) error {
	m.states[st.Account] = st
	return nil
}

func (m *memRiskStore) AppendKillSwitchEvent(ctx context.Context, evt domain.KillSwitchEvent) error {
	m.events = append(m.events, evt)
	return nil
}

func (m *memRiskStore) ListKillSwitchEvents(ctx context.Context, account string, opts domain.ListOpts) ([]domain.KillSwitchEvent, error) {
	return m.events, nil
}

type fakeCloser struct {
	calls  int
	closed int
	pnl    float64
}

func (f *fakeCloser) ForceCloseAll(ctx context.Context, account, reason string) (int, float64, error) {
	f.calls++
	return f.closed, f.pnl, nil
}

func testLimits() Limits {
	return Limits{
		MaxExposureUSDC:           500,
		MaxDailyLossUSDC:          100,
		MinBalanceUSDC:            25,
		MaxConsecutiveLosses:      5,
		StreakReductionEnabled:    true,
		StreakReductionPctPerLoss: 0.25,
		MinOrderSize:              1,
	}
}

func newTestController(store domain.RiskStore) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(testLimits(), store, logger)
}

func ticket(price, size float64) domain.OrderTicket {
	return domain.OrderTicket{MarketID: "mkt-1", Side: domain.OrderSideBuy, Price: price, Size: size}
}

func TestAuthorizeApprovesWithinLimits(t *testing.T) {
	c := newTestController(newMemRiskStore())

	auth, err := c.Authorize(context.Background(), "acct", ticket(0.40, 10), 1000)
	require.NoError(t, err)
	assert.True(t, auth.Approved)
	assert.Equal(t, 10.0, auth.Size)
}

func TestAuthorizeDeniesOverExposure(t *testing.T) {
	store := newMemRiskStore()
	c := newTestController(store)
	ctx := context.Background()

	require.NoError(t, c.RecordFill(ctx, "acct", 498))

	auth, err := c.Authorize(ctx, "acct", ticket(0.40, 10), 1000)
	require.NoError(t, err)
	assert.False(t, auth.Approved)
	assert.Equal(t, domain.DenyMaxExposure, auth.Reason)
}

func TestMarketExposureLimitTightensAccountLimit(t *testing.T) {
	c := newTestController(newMemRiskStore())
	ctx := context.Background()

	// Exposure 40 is well under the 500 account limit but at the market's.
	require.NoError(t, c.RecordFill(ctx, "acct", 40))

	tk := ticket(0.40, 10)
	tk.MaxExposureUSDC = 40

	auth, err := c.Authorize(ctx, "acct", tk, 1000)
	require.NoError(t, err)
	assert.False(t, auth.Approved)
	assert.Equal(t, domain.DenyMaxExposure, auth.Reason)

	// Without the market bound the same ticket passes.
	auth, err = c.Authorize(ctx, "acct", ticket(0.40, 10), 1000)
	require.NoError(t, err)
	assert.True(t, auth.Approved)
}

func TestMarketDailyLossLimitDeniesWithoutTripping(t *testing.T) {
	store := newMemRiskStore()
	c := newTestController(store)
	ctx := context.Background()

	// Loss of 50: under the 100 account limit, at the market's.
	require.NoError(t, c.RecordClose(ctx, "acct", 100, -50))

	tk := ticket(0.40, 10)
	tk.MaxDailyLossUSDC = 50

	auth, err := c.Authorize(ctx, "acct", tk, 1000)
	require.NoError(t, err)
	assert.False(t, auth.Approved)
	assert.Equal(t, domain.DenyDailyLoss, auth.Reason)

	// Only the account limit latches the kill switch.
	st, err := c.State(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, st.KillSwitch)
	assert.Empty(t, store.events)
}

func TestExposureReleasedOnClose(t *testing.T) {
	c := newTestController(newMemRiskStore())
	ctx := context.Background()

	require.NoError(t, c.RecordFill(ctx, "acct", 400))
	require.NoError(t, c.RecordClose(ctx, "acct", 400, 50))

	st, err := c.State(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 0.0, st.Exposure)
	assert.Equal(t, 0, st.ConsecutiveLosses)
}

func TestDailyLossTripsKillSwitch(t *testing.T) {
	store := newMemRiskStore()
	c := newTestController(store)
	closer := &fakeCloser{closed: 2, pnl: -40}
	c.SetCloser(closer)
	ctx := context.Background()

	// A single loss exactly at the limit trips the switch.
	require.NoError(t, c.RecordFill(ctx, "acct", 200))
	require.NoError(t, c.RecordClose(ctx, "acct", 200, -100))

	st, err := c.State(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, st.KillSwitch)
	assert.Equal(t, 1, closer.calls)
	require.Len(t, store.events, 1)
	assert.Equal(t, domain.TriggerDailyLoss, store.events[0].Trigger)
	assert.Equal(t, 2, store.events[0].PositionsClosed)
}

func TestLossJustUnderLimitDoesNotTrip(t *testing.T) {
	c := newTestController(newMemRiskStore())
	ctx := context.Background()

	require.NoError(t, c.RecordClose(ctx, "acct", 100, -99.99))

	st, err := c.State(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, st.KillSwitch)
}

func TestKillSwitchLatchesAcrossAuthorize(t *testing.T) {
	c := newTestController(newMemRiskStore())
	ctx := context.Background()

	require.NoError(t, c.Trip(ctx, "acct", "operator stop"))

	auth, err := c.Authorize(ctx, "acct", ticket(0.40, 10), 1000)
	require.NoError(t, err)
	assert.False(t, auth.Approved)
	assert.Equal(t, domain.DenyKillSwitch, auth.Reason)

	// Still denied on a second attempt; the latch does not decay.
	auth, err = c.Authorize(ctx, "acct", ticket(0.40, 10), 1000)
	require.NoError(t, err)
	assert.False(t, auth.Approved)
}

func TestClearResetsKillSwitchAndStreak(t *testing.T) {
	c := newTestController(newMemRiskStore())
	ctx := context.Background()

	require.NoError(t, c.RecordClose(ctx, "acct", 10, -5))
	require.NoError(t, c.Trip(ctx, "acct", "operator stop"))
	require.NoError(t, c.Clear(ctx, "acct"))

	st, err := c.State(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, st.KillSwitch)
	assert.Equal(t, 0, st.ConsecutiveLosses)
	// Daily loss stands until the UTC day rolls.
	assert.Equal(t, 5.0, st.DailyRealizedLoss)

	auth, err := c.Authorize(ctx, "acct", ticket(0.40, 10), 1000)
	require.NoError(t, err)
	assert.True(t, auth.Approved)
}

func TestStreakReductionShrinksSize(t *testing.T) {
	c := newTestController(newMemRiskStore())
	ctx := context.Background()

	// Two losses: factor 1 - 0.25*2 = 0.5.
	require.NoError(t, c.RecordClose(ctx, "acct", 10, -1))
	require.NoError(t, c.RecordClose(ctx, "acct", 10, -1))

	auth, err := c.Authorize(ctx, "acct", ticket(0.40, 10), 1000)
	require.NoError(t, err)
	assert.True(t, auth.Approved)
	assert.Equal(t, 5.0, auth.Size)
}

func TestStreakAtBoundDeniesInsteadOfReducing(t *testing.T) {
	store := newMemRiskStore()
	c := newTestController(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.RecordClose(ctx, "acct", 10, -1))
	}

	auth, err := c.Authorize(ctx, "acct", ticket(0.40, 10), 1000)
	require.NoError(t, err)
	assert.False(t, auth.Approved)
	assert.Equal(t, domain.DenyKillSwitch, auth.Reason)
}

func TestAuthorizeDeniesBelowMinBalance(t *testing.T) {
	c := newTestController(newMemRiskStore())

	// 0.40 * 10 = 4 notional against a balance of 28 leaves 24, under the
	// 25 floor.
	auth, err := c.Authorize(context.Background(), "acct", ticket(0.40, 10), 28)
	require.NoError(t, err)
	assert.False(t, auth.Approved)
	assert.Equal(t, domain.DenyMinBalance, auth.Reason)
}

func TestAuthorizeDeniesSizeBelowFloor(t *testing.T) {
	c := newTestController(newMemRiskStore())
	ctx := context.Background()

	// Three losses: factor 0.25, size 2 -> 0.5, under the 1-contract floor.
	for i := 0; i < 3; i++ {
		require.NoError(t, c.RecordClose(ctx, "acct", 10, -1))
	}

	auth, err := c.Authorize(ctx, "acct", ticket(0.40, 2), 1000)
	require.NoError(t, err)
	assert.False(t, auth.Approved)
	assert.Equal(t, domain.DenySizeFloor, auth.Reason)
}

func TestWinResetsStreak(t *testing.T) {
	c := newTestController(newMemRiskStore())
	ctx := context.Background()

	require.NoError(t, c.RecordClose(ctx, "acct", 10, -1))
	require.NoError(t, c.RecordClose(ctx, "acct", 10, -1))
	require.NoError(t, c.RecordClose(ctx, "acct", 10, 3))

	auth, err := c.Authorize(ctx, "acct", ticket(0.40, 10), 1000)
	require.NoError(t, err)
	assert.True(t, auth.Approved)
	assert.Equal(t, 10.0, auth.Size)
}

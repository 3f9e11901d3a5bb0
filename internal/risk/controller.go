// Package risk implements the account-level risk controller: exposure and
// loss limits checked before every order, the kill switch, and the running
// risk state those checks read.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// Limits are the account-level bounds enforced before every order.
type Limits struct {
	MaxExposureUSDC           float64
	MaxDailyLossUSDC          float64
	MinBalanceUSDC            float64
	MaxConsecutiveLosses      int
	StreakReductionEnabled    bool
	StreakReductionPctPerLoss float64
	MinOrderSize              float64
}

// Authorization is the controller's verdict on a proposed order. When
// approved, Size carries the (possibly streak-reduced) contract count the
// executor must use.
type Authorization struct {
	Approved bool
	Size     float64
	Reason   domain.DenyReason
}

// PositionCloser force-closes every live position for an account. The
// execution manager implements it; the indirection keeps this package free
// of an executor dependency.
type PositionCloser interface {
	ForceCloseAll(ctx context.Context, account, reason string) (closed int, totalPnL float64, err error)
}

// Notifier delivers operational alerts. May be nil.
type Notifier interface {
	Notify(ctx context.Context, event, message string)
}

// Controller is the single writer of per-account risk state. All mutation
// goes through its per-account mutex, so concurrent decision cycles for
// different matches serialize on the same account.
type Controller struct {
	limits Limits
	store  domain.RiskStore
	logger *slog.Logger

	closer   PositionCloser
	notifier Notifier

	mu       sync.Mutex
	accounts map[string]*accountState
}

type accountState struct {
	mu     sync.Mutex
	loaded bool
	state  domain.RiskState
}

// NewController creates a risk controller backed by the given store.
func NewController(limits Limits, store domain.RiskStore, logger *slog.Logger) *Controller {
	return &Controller{
		limits:   limits,
		store:    store,
		logger:   logger.With(slog.String("component", "risk")),
		accounts: make(map[string]*accountState),
	}
}

// SetCloser wires the position closer used when the kill switch fires.
func (c *Controller) SetCloser(closer PositionCloser) { c.closer = closer }

// SetNotifier wires the alert channel for kill-switch events.
func (c *Controller) SetNotifier(n Notifier) { c.notifier = n }

func (c *Controller) account(name string) *accountState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.accounts[name]
	if !ok {
		st = &accountState{}
		c.accounts[name] = st
	}
	return st
}

// load populates the account state from the store on first touch and rolls
// the daily loss counter when the UTC day has changed. Caller holds st.mu.
func (c *Controller) load(ctx context.Context, name string, st *accountState) error {
	if !st.loaded {
		state, err := c.store.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("risk: load state %s: %w", name, err)
		}
		st.state = state
		st.loaded = true
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if !st.state.LossDay.Equal(today) {
		st.state.LossDay = today
		st.state.DailyRealizedLoss = 0
	}
	return nil
}

// save persists the in-memory state. Caller holds st.mu.
func (c *Controller) save(ctx context.Context, st *accountState) error {
	st.state.UpdatedAt = time.Now().UTC()
	return c.store.Save(ctx, st.state)
}

// Authorize decides whether a proposed entry order may be submitted. Checks
// run in a fixed order: kill switch, exposure, daily loss, streak reduction,
// balance, size floor. Denials are verdicts, not errors; the error return is
// for store failures only.
func (c *Controller) Authorize(ctx context.Context, account string, ticket domain.OrderTicket, balance float64) (Authorization, error) {
	st := c.account(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := c.load(ctx, account, st); err != nil {
		return Authorization{}, err
	}
	state := &st.state

	if state.KillSwitch {
		return c.deny(account, ticket, domain.DenyKillSwitch), nil
	}

	// A streak at or past the bound trips the switch even if no close has
	// run since the last loss. Denial wins over reduction at the bound.
	if c.limits.MaxConsecutiveLosses > 0 && state.ConsecutiveLosses >= c.limits.MaxConsecutiveLosses {
		if err := c.trip(ctx, st, domain.TriggerLosingStreak,
			fmt.Sprintf("%d consecutive losses", state.ConsecutiveLosses)); err != nil {
			return Authorization{}, err
		}
		return c.deny(account, ticket, domain.DenyKillSwitch), nil
	}

	// The ticket may carry tighter per-market bounds from the effective
	// sport config; the stricter of market and account wins.
	maxExposure := c.limits.MaxExposureUSDC
	if ticket.MaxExposureUSDC > 0 && ticket.MaxExposureUSDC < maxExposure {
		maxExposure = ticket.MaxExposureUSDC
	}
	if state.Exposure+ticket.Notional() > maxExposure {
		return c.deny(account, ticket, domain.DenyMaxExposure), nil
	}

	if state.DailyRealizedLoss >= c.limits.MaxDailyLossUSDC {
		if err := c.trip(ctx, st, domain.TriggerDailyLoss,
			fmt.Sprintf("daily loss %.2f at limit %.2f", state.DailyRealizedLoss, c.limits.MaxDailyLossUSDC)); err != nil {
			return Authorization{}, err
		}
		return c.deny(account, ticket, domain.DenyDailyLoss), nil
	}

	// A tighter market-level daily loss denies this market's entries but
	// does not trip the kill switch; only the account limit latches it.
	if ticket.MaxDailyLossUSDC > 0 && state.DailyRealizedLoss >= ticket.MaxDailyLossUSDC {
		return c.deny(account, ticket, domain.DenyDailyLoss), nil
	}

	size := ticket.Size
	if c.limits.StreakReductionEnabled && state.ConsecutiveLosses > 0 {
		factor := 1 - c.limits.StreakReductionPctPerLoss*float64(state.ConsecutiveLosses)
		if factor < 0 {
			factor = 0
		}
		size = ticket.Size * factor
		c.logger.Info("order size reduced for losing streak",
			slog.String("account", account),
			slog.Int("consecutive_losses", state.ConsecutiveLosses),
			slog.Float64("original_size", ticket.Size),
			slog.Float64("reduced_size", size),
		)
	}
	if size < c.limits.MinOrderSize {
		return c.deny(account, ticket, domain.DenySizeFloor), nil
	}

	if balance-ticket.Price*size < c.limits.MinBalanceUSDC {
		return c.deny(account, ticket, domain.DenyMinBalance), nil
	}

	return Authorization{Approved: true, Size: size}, nil
}

func (c *Controller) deny(account string, ticket domain.OrderTicket, reason domain.DenyReason) Authorization {
	c.logger.Warn("order denied",
		slog.String("account", account),
		slog.String("market_id", ticket.MarketID),
		slog.String("reason", string(reason)),
		slog.Float64("notional", ticket.Notional()),
	)
	return Authorization{Approved: false, Reason: reason}
}

// RecordFill adds a filled entry's notional to account exposure.
func (c *Controller) RecordFill(ctx context.Context, account string, notional float64) error {
	st := c.account(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := c.load(ctx, account, st); err != nil {
		return err
	}
	st.state.Exposure += notional
	return c.save(ctx, st)
}

// RecordClose releases a closed position's entry notional from exposure and
// applies its realized pnl to the daily loss counter and the losing streak.
// A losing close that pushes either counter to its bound trips the kill
// switch before returning.
func (c *Controller) RecordClose(ctx context.Context, account string, entryNotional, pnl float64) error {
	st := c.account(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := c.load(ctx, account, st); err != nil {
		return err
	}
	state := &st.state

	state.Exposure -= entryNotional
	if state.Exposure < 0 {
		state.Exposure = 0
	}

	if pnl < 0 {
		state.DailyRealizedLoss += -pnl
		state.ConsecutiveLosses++
	} else {
		state.ConsecutiveLosses = 0
	}

	if err := c.save(ctx, st); err != nil {
		return err
	}

	if !state.KillSwitch {
		if state.DailyRealizedLoss >= c.limits.MaxDailyLossUSDC {
			return c.trip(ctx, st, domain.TriggerDailyLoss,
				fmt.Sprintf("daily loss %.2f at limit %.2f", state.DailyRealizedLoss, c.limits.MaxDailyLossUSDC))
		}
		if c.limits.MaxConsecutiveLosses > 0 && state.ConsecutiveLosses >= c.limits.MaxConsecutiveLosses {
			return c.trip(ctx, st, domain.TriggerLosingStreak,
				fmt.Sprintf("%d consecutive losses", state.ConsecutiveLosses))
		}
	}
	return nil
}

// Trip activates the kill switch manually.
func (c *Controller) Trip(ctx context.Context, account, reason string) error {
	st := c.account(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := c.load(ctx, account, st); err != nil {
		return err
	}
	if st.state.KillSwitch {
		return nil
	}
	return c.trip(ctx, st, domain.TriggerManual, reason)
}

// trip latches the switch, persists it FIRST so a crash mid-close cannot
// lose the latch, then force-closes live positions and records the event.
// Caller holds st.mu.
func (c *Controller) trip(ctx context.Context, st *accountState, trigger domain.KillSwitchTrigger, reason string) error {
	state := &st.state
	now := time.Now().UTC()

	state.KillSwitch = true
	state.KillSwitchReason = reason
	state.KillSwitchAt = &now
	if err := c.save(ctx, st); err != nil {
		return fmt.Errorf("risk: persist kill switch: %w", err)
	}

	c.logger.Error("kill switch triggered",
		slog.String("account", state.Account),
		slog.String("trigger", string(trigger)),
		slog.String("reason", reason),
	)

	// The closer runs while we hold the account lock, so it cannot call
	// RecordClose back into this controller. Its accounting is settled here:
	// every live position is closed, so exposure drops to zero and any
	// force-close loss lands on the daily counter.
	var closed int
	var totalPnL float64
	if c.closer != nil {
		var err error
		closed, totalPnL, err = c.closer.ForceCloseAll(ctx, state.Account, reason)
		if err != nil {
			c.logger.Error("kill switch force-close failed",
				slog.String("account", state.Account),
				slog.String("error", err.Error()),
			)
		} else {
			state.Exposure = 0
			if totalPnL < 0 {
				state.DailyRealizedLoss += -totalPnL
			}
			if err := c.save(ctx, st); err != nil {
				c.logger.Error("risk state save after force-close failed",
					slog.String("account", state.Account),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	evt := domain.KillSwitchEvent{
		ID:              uuid.New().String(),
		Account:         state.Account,
		Trigger:         trigger,
		PositionsClosed: closed,
		TotalPnL:        totalPnL,
		TriggeredAt:     now,
	}
	if err := c.store.AppendKillSwitchEvent(ctx, evt); err != nil {
		c.logger.Error("kill switch event append failed",
			slog.String("account", state.Account),
			slog.String("error", err.Error()),
		)
	}

	if c.notifier != nil {
		c.notifier.Notify(ctx, "kill_switch",
			fmt.Sprintf("kill switch on %s: %s (%d positions closed, pnl %.2f)", state.Account, reason, closed, totalPnL))
	}
	return nil
}

// Clear resets the kill switch after operator review. The losing streak is
// cleared with it; the daily loss counter stands until the UTC day rolls.
func (c *Controller) Clear(ctx context.Context, account string) error {
	st := c.account(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := c.load(ctx, account, st); err != nil {
		return err
	}
	state := &st.state
	if !state.KillSwitch {
		return nil
	}

	state.KillSwitch = false
	state.KillSwitchReason = ""
	state.KillSwitchAt = nil
	state.ConsecutiveLosses = 0
	if err := c.save(ctx, st); err != nil {
		return err
	}

	c.logger.Info("kill switch cleared", slog.String("account", account))
	return nil
}

// State returns a copy of the current risk state for an account.
func (c *Controller) State(ctx context.Context, account string) (domain.RiskState, error) {
	st := c.account(account)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := c.load(ctx, account, st); err != nil {
		return domain.RiskState{}, err
	}
	if st.state.Account == "" {
		st.state.Account = account
	}
	return st.state, nil
}

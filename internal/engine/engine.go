// Package engine runs the per-match decision cycle: poll game state, fetch
// market data, evaluate thresholds, gate entries through the risk controller,
// and hand approved decisions to the execution manager. Each tracked match
// runs its own cycle; account-level risk state serializes inside the
// controller.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sportsbot/internal/audit"
	"github.com/alanyoungcy/sportsbot/internal/domain"
	"github.com/alanyoungcy/sportsbot/internal/executor"
	"github.com/alanyoungcy/sportsbot/internal/risk"
	"github.com/alanyoungcy/sportsbot/internal/strategy"
)

// decisionChannel is the pub/sub channel and stream decisions are published
// on for dashboards and alerting.
const (
	decisionChannel = "engine:decisions"
	decisionStream  = "stream:decisions"
)

// Match binds a tracked live match to the market traded against it.
type Match struct {
	MatchID  string
	Sport    domain.Sport
	MarketID string
	Platform domain.Platform
}

// GameSource is the tracker-facing contract.
type GameSource interface {
	Poll(ctx context.Context, sport domain.Sport, matchID string) (domain.GameState, error)
}

// Authorizer is the risk-controller-facing contract.
type Authorizer interface {
	Authorize(ctx context.Context, account string, ticket domain.OrderTicket, balance float64) (risk.Authorization, error)
	State(ctx context.Context, account string) (domain.RiskState, error)
}

// Trader is the execution-manager-facing contract.
type Trader interface {
	OpenPosition(ctx context.Context, req executor.EntryRequest) (domain.Position, error)
	ClosePosition(ctx context.Context, req executor.ExitRequest) (domain.Position, error)
}

// Config carries the engine's cycle parameters.
type Config struct {
	Account      string
	PollInterval time.Duration
	// Monitor evaluates and publishes decisions without ever submitting.
	Monitor bool
	// UseExchangeBalance queries the adapter for the account balance before
	// each authorization; when false PaperBalance is used instead.
	UseExchangeBalance bool
	PaperBalance       float64
}

// Engine wires the decision cycle together.
type Engine struct {
	cfg       Config
	tracker   GameSource
	auth      Authorizer
	trader    Trader
	exchanges map[domain.Platform]domain.Exchange
	prices    domain.PriceCache
	positions domain.PositionStore
	overrides domain.MarketOverrideStore
	sports    map[domain.Sport]domain.SportConfig
	recorder  *audit.Recorder
	bus       domain.SignalBus
	logger    *slog.Logger
}

// New creates an Engine. The bus and recorder may be nil; everything else is
// required.
func New(
	cfg Config,
	tracker GameSource,
	auth Authorizer,
	trader Trader,
	exchanges map[domain.Platform]domain.Exchange,
	prices domain.PriceCache,
	positions domain.PositionStore,
	overrides domain.MarketOverrideStore,
	sports map[domain.Sport]domain.SportConfig,
	recorder *audit.Recorder,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		tracker:   tracker,
		auth:      auth,
		trader:    trader,
		exchanges: exchanges,
		prices:    prices,
		positions: positions,
		overrides: overrides,
		sports:    sports,
		recorder:  recorder,
		bus:       bus,
		logger:    logger.With(slog.String("component", "engine")),
	}
}

// Run drives one decision loop per match until every match reaches a
// terminal state or the context ends.
func (e *Engine) Run(ctx context.Context, matches []Match) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range matches {
		m := m
		g.Go(func() error {
			e.runMatch(ctx, m)
			return nil
		})
	}
	return g.Wait()
}

// runMatch loops one match's cycle on the poll interval. Cycle errors are
// logged and the next tick retries; a terminal game state ends the loop
// after its final evaluation.
func (e *Engine) runMatch(ctx context.Context, m Match) {
	logger := e.logger.With(
		slog.String("match_id", m.MatchID),
		slog.String("market_id", m.MarketID),
	)
	logger.Info("tracking match", slog.String("sport", string(m.Sport)))

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		done, err := e.Cycle(ctx, m)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("cycle failed", slog.String("error", err.Error()))
		}
		if done {
			logger.Info("match finished, polling stopped")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one poll->evaluate->authorize->execute pass for a match. It
// returns true once the match is terminal: the terminal snapshot is
// evaluated exactly once (to trigger the exit) and then excluded from
// further polling.
func (e *Engine) Cycle(ctx context.Context, m Match) (bool, error) {
	gs, err := e.tracker.Poll(ctx, m.Sport, m.MatchID)
	stale := false
	if err != nil {
		// A stale snapshot still manages open positions; it only suppresses
		// new entries until fresh data arrives.
		if errors.Is(err, domain.ErrStaleData) && gs.MatchID != "" {
			stale = true
		} else {
			return false, fmt.Errorf("engine: poll %s: %w", m.MatchID, err)
		}
	}

	ex, ok := e.exchanges[m.Platform]
	if !ok {
		return false, fmt.Errorf("engine: no adapter for platform %s", m.Platform)
	}
	mkt, err := ex.GetMarket(ctx, m.MarketID)
	if err != nil {
		return false, fmt.Errorf("engine: market %s: %w", m.MarketID, err)
	}

	price := mkt.YesPrice
	if cerr := e.prices.SetPrice(ctx, m.MarketID, price); cerr != nil {
		e.logger.Warn("price cache update failed",
			slog.String("market_id", m.MarketID),
			slog.String("error", cerr.Error()),
		)
	}
	ref, err := e.prices.GetReference(ctx, m.MarketID)
	if err != nil || ref <= 0 {
		// First sighting: today's price becomes the reference the drop
		// rule measures against.
		ref = price
		if serr := e.prices.SetReference(ctx, m.MarketID, price); serr != nil {
			e.logger.Warn("reference price store failed",
				slog.String("market_id", m.MarketID),
				slog.String("error", serr.Error()),
			)
		}
	}

	cfg, ok := e.sports[m.Sport]
	if !ok {
		return false, fmt.Errorf("engine: no config for sport %s", m.Sport)
	}
	ov, err := e.overrides.Get(ctx, e.cfg.Account, m.MarketID)
	if err == nil {
		cfg = ov.Apply(cfg)
	} else if !errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("market override lookup failed",
			slog.String("market_id", m.MarketID),
			slog.String("error", err.Error()),
		)
	}

	pos, err := e.livePosition(ctx, m.MarketID)
	if err != nil {
		return false, err
	}

	snap := strategy.MarketSnapshot{
		MarketID:       m.MarketID,
		Price:          price,
		ReferencePrice: ref,
		Volume:         mkt.Volume,
	}
	d := strategy.Evaluate(time.Now().UTC(), gs, snap, cfg, pos)

	e.publishDecision(ctx, d)

	switch d.Action {
	case domain.ActionEnter:
		if e.cfg.Monitor {
			e.logger.Info("entry signal (monitor mode, not submitted)",
				slog.String("market_id", d.MarketID),
				slog.String("reason", d.Reason),
			)
			break
		}
		if stale {
			e.logger.Warn("entry suppressed on stale game data",
				slog.String("match_id", m.MatchID),
			)
			break
		}
		e.enter(ctx, ex, m, d, gs, snap, cfg)
	case domain.ActionExit:
		if e.cfg.Monitor {
			break
		}
		e.exit(ctx, m, d, gs, snap, pos)
	}

	return gs.Terminal, nil
}

// enter gates the decision through the risk controller and submits it. The
// effective sport config carries any per-market limit overrides onto the
// ticket so the controller can take the stricter bound.
func (e *Engine) enter(ctx context.Context, ex domain.Exchange, m Match, d domain.Decision, gs domain.GameState, snap strategy.MarketSnapshot, cfg domain.SportConfig) {
	balance, err := e.balance(ctx, ex)
	if err != nil {
		e.logger.Warn("balance fetch failed, skipping entry",
			slog.String("market_id", d.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}

	ticket := domain.OrderTicket{
		MarketID:         d.MarketID,
		Side:             domain.OrderSideBuy,
		Price:            d.Price,
		Size:             d.Size,
		MaxExposureUSDC:  cfg.MaxExposureUSDC,
		MaxDailyLossUSDC: cfg.MaxDailyLossUSDC,
	}
	auth, err := e.auth.Authorize(ctx, e.cfg.Account, ticket, balance)
	if err != nil {
		e.logger.Error("risk authorization failed",
			slog.String("market_id", d.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}

	rs, err := e.auth.State(ctx, e.cfg.Account)
	if err != nil {
		e.logger.Warn("risk state read failed",
			slog.String("error", err.Error()),
		)
	}

	if !auth.Approved {
		e.denied(ctx, d, gs, snap, rs, auth.Reason)
		return
	}

	req := executor.EntryRequest{
		Account:    e.cfg.Account,
		Platform:   m.Platform,
		Sport:      m.Sport,
		Match:      m.MatchID,
		Decision:   d,
		Size:       auth.Size,
		GameState:  gs,
		RiskState:  rs,
		MarketData: marketData(snap),
	}
	if _, err := e.trader.OpenPosition(ctx, req); err != nil {
		if errors.Is(err, domain.ErrSlippageExceeded) {
			// Abandoned; the next cycle retries with a fresh price.
			e.logger.Warn("entry abandoned on slippage",
				slog.String("market_id", d.MarketID),
				slog.String("error", err.Error()),
			)
			return
		}
		e.logger.Error("entry failed",
			slog.String("market_id", d.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) exit(ctx context.Context, m Match, d domain.Decision, gs domain.GameState, snap strategy.MarketSnapshot, pos *domain.Position) {
	if pos == nil {
		return
	}
	rs, err := e.auth.State(ctx, e.cfg.Account)
	if err != nil {
		e.logger.Warn("risk state read failed", slog.String("error", err.Error()))
	}

	req := executor.ExitRequest{
		Account:    e.cfg.Account,
		Position:   *pos,
		Price:      d.Price,
		Reason:     d.Reason,
		GameState:  gs,
		RiskState:  rs,
		MarketData: marketData(snap),
	}
	if _, err := e.trader.ClosePosition(ctx, req); err != nil {
		e.logger.Error("exit failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// denied audits and publishes a risk denial. Denials are expected outcomes,
// never retried.
func (e *Engine) denied(ctx context.Context, d domain.Decision, gs domain.GameState, snap strategy.MarketSnapshot, rs domain.RiskState, reason domain.DenyReason) {
	e.logger.Info("entry denied by risk controller",
		slog.String("market_id", d.MarketID),
		slog.String("reason", string(reason)),
	)
	if e.recorder != nil {
		e.recorder.Record(ctx, domain.AuditEntry{
			Account: e.cfg.Account,
			Event:   audit.EventRiskDenied,
			Order: map[string]any{
				"market_id": d.MarketID,
				"price":     d.Price,
				"size":      d.Size,
				"reason":    string(reason),
			},
			GameState:  audit.GameStateSnapshot(gs),
			MarketData: marketData(snap),
			Risk:       audit.RiskSnapshot(rs),
		})
	}
	e.publish(ctx, map[string]any{
		"event":     "risk_denied",
		"market_id": d.MarketID,
		"reason":    string(reason),
	})
}

func (e *Engine) livePosition(ctx context.Context, marketID string) (*domain.Position, error) {
	list, err := e.positions.ListByMarket(ctx, e.cfg.Account, marketID)
	if err != nil {
		return nil, fmt.Errorf("engine: positions for market %s: %w", marketID, err)
	}
	for i := range list {
		if list[i].Live() {
			return &list[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) balance(ctx context.Context, ex domain.Exchange) (float64, error) {
	if !e.cfg.UseExchangeBalance {
		return e.cfg.PaperBalance, nil
	}
	return ex.GetBalance(ctx)
}

// publishDecision emits every decision on the signal bus; enter and exit
// decisions additionally land in the audit log.
func (e *Engine) publishDecision(ctx context.Context, d domain.Decision) {
	e.publish(ctx, map[string]any{
		"event":      "decision",
		"action":     string(d.Action),
		"reason":     d.Reason,
		"match_id":   d.MatchID,
		"market_id":  d.MarketID,
		"price":      d.Price,
		"size":       d.Size,
		"decided_at": d.DecidedAt,
	})

	if d.Action == domain.ActionHold || e.recorder == nil {
		return
	}
	e.recorder.Record(ctx, domain.AuditEntry{
		Account:    e.cfg.Account,
		Event:      audit.EventDecision,
		PositionID: d.PositionID,
		Order: map[string]any{
			"action":    string(d.Action),
			"reason":    d.Reason,
			"market_id": d.MarketID,
			"price":     d.Price,
			"size":      d.Size,
		},
	})
}

func (e *Engine) publish(ctx context.Context, payload map[string]any) {
	if e.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, decisionChannel, raw); err != nil {
		e.logger.Debug("decision publish failed", slog.String("error", err.Error()))
	}
	if err := e.bus.StreamAppend(ctx, decisionStream, raw); err != nil {
		e.logger.Debug("decision stream append failed", slog.String("error", err.Error()))
	}
}

func marketData(snap strategy.MarketSnapshot) map[string]any {
	return map[string]any{
		"market_id":       snap.MarketID,
		"price":           snap.Price,
		"reference_price": snap.ReferencePrice,
		"volume":          snap.Volume,
	}
}

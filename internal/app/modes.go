package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sportsbot/internal/audit"
	"github.com/alanyoungcy/sportsbot/internal/crypto"
	"github.com/alanyoungcy/sportsbot/internal/domain"
	"github.com/alanyoungcy/sportsbot/internal/engine"
	"github.com/alanyoungcy/sportsbot/internal/executor"
	"github.com/alanyoungcy/sportsbot/internal/feed"
	"github.com/alanyoungcy/sportsbot/internal/notify"
	"github.com/alanyoungcy/sportsbot/internal/platform/kalshi"
	"github.com/alanyoungcy/sportsbot/internal/platform/polymarket"
	"github.com/alanyoungcy/sportsbot/internal/platform/scores"
	"github.com/alanyoungcy/sportsbot/internal/reconcile"
	"github.com/alanyoungcy/sportsbot/internal/risk"
	"github.com/alanyoungcy/sportsbot/internal/tracker"
)

// engineOptions selects how the shared decision pipeline behaves per mode.
type engineOptions struct {
	// dryRun simulates fills instead of submitting to the exchanges.
	dryRun bool
	// monitor evaluates and publishes decisions without executing anything.
	monitor bool
}

// TradeMode runs the full pipeline with live order submission.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runEngine(ctx, deps, engineOptions{})
}

// PaperMode runs the full pipeline with simulated fills. Every transition
// and audit entry matches live mode.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runEngine(ctx, deps, engineOptions{dryRun: true})
}

// MonitorMode evaluates and publishes decisions without ever executing.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runEngine(ctx, deps, engineOptions{dryRun: true, monitor: true})
}

// runEngine builds the decision pipeline (tracker, risk controller, executor,
// reconciler, engine, price feed) and blocks until the context ends or every
// tracked match settles.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, opts engineOptions) error {
	g, ctx := errgroup.WithContext(ctx)

	exchanges, err := a.buildExchanges()
	if err != nil {
		return err
	}

	matches, sports, err := a.trackedMatches()
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		a.logger.WarnContext(ctx, "no matches configured, nothing to track")
	}

	recorder := audit.NewRecorder(deps.AuditStore, a.logger)
	alerter := notify.NewAlerter(deps.Notifier, a.logger)

	scoreClient := scores.NewClient(
		a.cfg.Scores.BaseURL,
		a.cfg.Scores.ApiKey,
		a.cfg.Scores.RatePerSec,
		a.cfg.Scores.FetchTimeout.Duration,
	)
	gameTracker := tracker.New(scoreClient, deps.GameStates, a.cfg.Engine.MaxConsecutiveStale, a.logger)

	riskCtrl := risk.NewController(risk.Limits{
		MaxExposureUSDC:           a.cfg.Risk.MaxExposureUSDC,
		MaxDailyLossUSDC:          a.cfg.Risk.MaxDailyLossUSDC,
		MinBalanceUSDC:            a.cfg.Risk.MinBalanceUSDC,
		MaxConsecutiveLosses:      a.cfg.Risk.MaxConsecutiveLosses,
		StreakReductionEnabled:    a.cfg.Risk.StreakReductionEnabled,
		StreakReductionPctPerLoss: a.cfg.Risk.StreakReductionPctPerLoss,
		MinOrderSize:              a.cfg.Risk.MinOrderSize,
	}, deps.RiskStore, a.logger)
	riskCtrl.SetNotifier(alerter)

	exec := executor.NewManager(executor.Config{
		DryRun:           opts.dryRun,
		MaxSlippagePct:   a.cfg.Engine.MaxSlippagePct,
		FillTimeout:      a.cfg.Engine.OrderFillTimeout.Duration,
		FillPollInterval: a.cfg.Engine.FillPollInterval.Duration,
	}, deps.PositionStore, deps.OrderStore, deps.OrphanStore, deps.PriceCache, exchanges, recorder, a.logger)
	exec.SetRiskRecorder(riskCtrl)
	exec.SetRateLimiter(deps.RateLimiter)
	riskCtrl.SetCloser(exec)

	eng := engine.New(engine.Config{
		Account:            a.cfg.Account,
		PollInterval:       a.cfg.Engine.PollInterval.Duration,
		Monitor:            opts.monitor,
		UseExchangeBalance: !opts.dryRun,
		PaperBalance:       a.cfg.Engine.PaperBalanceUSDC,
	}, gameTracker, riskCtrl, exec, exchanges, deps.PriceCache, deps.PositionStore,
		deps.OverrideStore, sports, recorder, deps.SignalBus, a.logger)

	g.Go(func() error {
		if err := eng.Run(ctx, matches); err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "all tracked matches settled, shutting down")
		return context.Canceled
	})

	// Reconciliation diffs exchange state against local state. Monitor mode
	// places nothing, so there is nothing of ours to reconcile.
	if !opts.monitor {
		scanner := reconcile.NewScanner(
			deps.PositionStore, deps.OrderStore, deps.OrphanStore,
			exchanges, deps.LockManager, recorder, a.logger,
		)
		scanner.SetNotifier(alerter)
		g.Go(func() error {
			scanner.Run(ctx, a.cfg.Account, a.cfg.Engine.ReconcileInterval.Duration)
			return nil
		})
	}

	if ids := polymarketMarketIDs(matches); len(ids) > 0 && a.cfg.Polymarket.WsHost != "" {
		priceFeed := feed.NewPriceFeed(a.cfg.Polymarket.WsHost, ids, deps.PriceCache, a.logger)
		g.Go(func() error {
			return priceFeed.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, archiveInterval)
		})
	}

	return g.Wait()
}

// buildExchanges constructs one adapter per platform. Credentials are
// optional outside trade mode; public market-data endpoints work without
// them.
func (a *App) buildExchanges() (map[domain.Platform]domain.Exchange, error) {
	exchanges := make(map[domain.Platform]domain.Exchange, 2)

	kc := kalshi.NewClient(a.cfg.Kalshi.BaseURL, a.cfg.Kalshi.ApiKeyID)
	if a.cfg.Kalshi.RsaPrivateKeyPath != "" || a.cfg.Kalshi.EncryptedKeyPath != "" {
		path := a.cfg.Kalshi.RsaPrivateKeyPath
		password := ""
		if path == "" {
			path = a.cfg.Kalshi.EncryptedKeyPath
			password = a.cfg.Kalshi.KeyPassword
		}
		pem, err := crypto.LoadSecret(crypto.SecretConfig{Path: path, Password: password})
		if err != nil {
			return nil, fmt.Errorf("app: load kalshi key: %w", err)
		}
		if err := kc.SetRSAPrivateKey(pem); err != nil {
			return nil, fmt.Errorf("app: parse kalshi key: %w", err)
		}
	}
	exchanges[domain.PlatformKalshi] = kc

	var auth *crypto.HMACAuth
	if a.cfg.Polymarket.ApiKey != "" {
		auth = &crypto.HMACAuth{
			Key:        a.cfg.Polymarket.ApiKey,
			Secret:     a.cfg.Polymarket.ApiSecret,
			Passphrase: a.cfg.Polymarket.Passphrase,
		}
	}
	exchanges[domain.PlatformPolymarket] = polymarket.NewClient(
		a.cfg.Polymarket.ClobHost,
		a.cfg.Polymarket.GammaHost,
		a.cfg.Polymarket.Address,
		auth,
	)

	return exchanges, nil
}

// trackedMatches converts the configured match list into engine matches and
// collects the per-sport threshold configs they reference.
func (a *App) trackedMatches() ([]engine.Match, map[domain.Sport]domain.SportConfig, error) {
	matches := make([]engine.Match, 0, len(a.cfg.Engine.Matches))
	sports := make(map[domain.Sport]domain.SportConfig)

	for _, m := range a.cfg.Engine.Matches {
		sport := domain.Sport(m.Sport)
		sc, ok := a.cfg.SportConfig(sport)
		if !ok {
			return nil, nil, fmt.Errorf("app: match %s: no sport config for %q", m.MatchID, m.Sport)
		}
		sports[sport] = sc
		matches = append(matches, engine.Match{
			MatchID:  m.MatchID,
			Sport:    sport,
			MarketID: m.MarketID,
			Platform: domain.Platform(m.Platform),
		})
	}
	return matches, sports, nil
}

// polymarketMarketIDs returns the CLOB token IDs the websocket feed should
// subscribe to.
func polymarketMarketIDs(matches []engine.Match) []string {
	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		if m.Platform != domain.PlatformPolymarket || m.MarketID == "" || seen[m.MarketID] {
			continue
		}
		seen[m.MarketID] = true
		ids = append(ids, m.MarketID)
	}
	return ids
}

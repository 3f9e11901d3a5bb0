// Package strategy implements the threshold evaluator: a pure decision
// function that turns a game state snapshot plus market data into an enter,
// exit, or hold verdict. It performs no I/O; the engine supplies every input.
package strategy

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// MarketSnapshot carries the market-side inputs for one evaluation.
// ReferencePrice is the price recorded when the market entered the watch
// set; the entry-drop rule measures against it.
type MarketSnapshot struct {
	MarketID       string
	Price          float64
	ReferencePrice float64
	Volume         float64
}

// Evaluate returns the decision for one match on one cycle. Exit conditions
// are checked before entry conditions so a position in a deteriorating market
// is closed rather than averaged into. Missing progress data always holds.
func Evaluate(now time.Time, gs domain.GameState, snap MarketSnapshot, cfg domain.SportConfig, pos *domain.Position) domain.Decision {
	d := domain.Decision{
		Action:    domain.ActionHold,
		MatchID:   gs.MatchID,
		MarketID:  snap.MarketID,
		Price:     snap.Price,
		DecidedAt: now,
	}

	if pos != nil && pos.Live() {
		return evaluateExit(d, gs, snap, cfg, pos)
	}
	return evaluateEntry(d, now, gs, snap, cfg)
}

func evaluateExit(d domain.Decision, gs domain.GameState, snap MarketSnapshot, cfg domain.SportConfig, pos *domain.Position) domain.Decision {
	d.PositionID = pos.ID
	d.Size = pos.Size

	if gs.Terminal {
		d.Action = domain.ActionExit
		d.Reason = "game over"
		return d
	}

	if snap.Price > 0 {
		pnl := pos.UnrealizedPnLPct(snap.Price)
		if cfg.TakeProfitPct > 0 && pnl >= cfg.TakeProfitPct {
			d.Action = domain.ActionExit
			d.Reason = fmt.Sprintf("take profit: pnl %.1f%% >= %.1f%%", pnl*100, cfg.TakeProfitPct*100)
			return d
		}
		if cfg.StopLossPct > 0 && pnl <= -cfg.StopLossPct {
			d.Action = domain.ActionExit
			d.Reason = fmt.Sprintf("stop loss: pnl %.1f%% <= -%.1f%%", pnl*100, cfg.StopLossPct*100)
			return d
		}
	}

	// Clock-based exit only applies to countdown sports.
	if cfg.ExitTimeRemainingSec > 0 && gs.Progress.MinutesRemaining != nil {
		remainingSec := *gs.Progress.MinutesRemaining * 60
		if remainingSec <= cfg.ExitTimeRemainingSec {
			d.Action = domain.ActionExit
			d.Reason = fmt.Sprintf("time exit: %.0fs remaining <= %.0fs", remainingSec, cfg.ExitTimeRemainingSec)
			return d
		}
	}

	d.Reason = "position within thresholds"
	return d
}

func evaluateEntry(d domain.Decision, now time.Time, gs domain.GameState, snap MarketSnapshot, cfg domain.SportConfig) domain.Decision {
	if gs.Terminal {
		d.Reason = "game over"
		return d
	}
	if gs.Progress.Empty() {
		d.Reason = "no progress data"
		return d
	}
	if !cfg.TradingWindow.Contains(now) {
		d.Reason = "outside trading window"
		return d
	}
	if cfg.MinVolume > 0 && snap.Volume < cfg.MinVolume {
		d.Reason = fmt.Sprintf("volume %.0f below minimum %.0f", snap.Volume, cfg.MinVolume)
		return d
	}
	if cfg.MaxVolume > 0 && snap.Volume > cfg.MaxVolume {
		d.Reason = fmt.Sprintf("volume %.0f above maximum %.0f", snap.Volume, cfg.MaxVolume)
		return d
	}

	if reason, ok := progressAllowsEntry(gs, cfg); !ok {
		d.Reason = reason
		return d
	}

	if snap.Price <= 0 {
		d.Reason = "no market price"
		return d
	}

	triggered, reason := entryTriggered(snap, cfg)
	if !triggered {
		d.Reason = reason
		return d
	}

	d.Action = domain.ActionEnter
	d.Reason = reason
	d.Size = cfg.OrderSize
	return d
}

// progressAllowsEntry applies the sport-specific entry bounds to the progress
// variant. Bounds left at zero are not enforced.
func progressAllowsEntry(gs domain.GameState, cfg domain.SportConfig) (string, bool) {
	p := gs.Progress
	switch {
	case p.MinutesRemaining != nil:
		if cfg.MinTimeRemainingMinutes > 0 && *p.MinutesRemaining < cfg.MinTimeRemainingMinutes {
			return fmt.Sprintf("%.1f minutes remaining below minimum %.1f", *p.MinutesRemaining, cfg.MinTimeRemainingMinutes), false
		}
	case p.ElapsedMinutes != nil:
		if cfg.MaxElapsedMinutes > 0 && *p.ElapsedMinutes > cfg.MaxElapsedMinutes {
			return fmt.Sprintf("%.1f minutes elapsed above maximum %.1f", *p.ElapsedMinutes, cfg.MaxElapsedMinutes), false
		}
	case p.Inning != nil:
		if cfg.MaxEntryInning > 0 && p.Inning.Inning > cfg.MaxEntryInning {
			return fmt.Sprintf("inning %d past entry cutoff %d", p.Inning.Inning, cfg.MaxEntryInning), false
		}
		if cfg.MinOutsRemaining > 0 && p.Inning.OutsRemaining < cfg.MinOutsRemaining {
			return fmt.Sprintf("%d outs remaining below minimum %d", p.Inning.OutsRemaining, cfg.MinOutsRemaining), false
		}
	case p.Set != nil:
		if cfg.MaxEntrySet > 0 && p.Set.Set > cfg.MaxEntrySet {
			return fmt.Sprintf("set %d past entry cutoff %d", p.Set.Set, cfg.MaxEntrySet), false
		}
		if cfg.MinSetsRemaining > 0 && p.Set.SetsRemaining < cfg.MinSetsRemaining {
			return fmt.Sprintf("%d sets remaining below minimum %d", p.Set.SetsRemaining, cfg.MinSetsRemaining), false
		}
	case p.Round != nil:
		if cfg.MaxEntryRound > 0 && *p.Round > cfg.MaxEntryRound {
			return fmt.Sprintf("round %d past entry cutoff %d", *p.Round, cfg.MaxEntryRound), false
		}
	case p.Hole != nil:
		if cfg.MaxEntryHole > 0 && p.Hole.Hole > cfg.MaxEntryHole {
			return fmt.Sprintf("hole %d past entry cutoff %d", p.Hole.Hole, cfg.MaxEntryHole), false
		}
		if cfg.MinHolesRemaining > 0 && p.Hole.HolesRemaining < cfg.MinHolesRemaining {
			return fmt.Sprintf("%d holes remaining below minimum %d", p.Hole.HolesRemaining, cfg.MinHolesRemaining), false
		}
	}
	return "", true
}

// entryTriggered checks the price triggers: a drop from the reference price
// or an absolute price floor. Either one entering range triggers.
func entryTriggered(snap MarketSnapshot, cfg domain.SportConfig) (bool, string) {
	if cfg.EntryDropPct > 0 && snap.ReferencePrice > 0 {
		drop := (snap.ReferencePrice - snap.Price) / snap.ReferencePrice
		if drop >= cfg.EntryDropPct {
			return true, fmt.Sprintf("price dropped %.1f%% from reference %.2f", drop*100, snap.ReferencePrice)
		}
	}
	if cfg.EntryAbsolutePrice > 0 && snap.Price <= cfg.EntryAbsolutePrice {
		return true, fmt.Sprintf("price %.2f at or below entry level %.2f", snap.Price, cfg.EntryAbsolutePrice)
	}
	return false, "no entry trigger"
}

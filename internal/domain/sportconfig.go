package domain

import "time"

// TradingWindow bounds the wall-clock hours (UTC) during which new entries
// are allowed. A zero window (both zero) allows trading at any hour.
type TradingWindow struct {
	OpenHour  int
	CloseHour int
}

// Contains reports whether t falls inside the window. Windows that wrap
// midnight (close < open) are supported.
func (w TradingWindow) Contains(t time.Time) bool {
	if w.OpenHour == 0 && w.CloseHour == 0 {
		return true
	}
	h := t.UTC().Hour()
	if w.OpenHour <= w.CloseHour {
		return h >= w.OpenHour && h < w.CloseHour
	}
	return h >= w.OpenHour || h < w.CloseHour
}

// SportConfig holds the per-sport thresholds the evaluator and risk
// controller read. Configuration owns these values; the engine treats them
// as read-only for the duration of a decision cycle.
type SportConfig struct {
	Sport Sport

	// Entry conditions.
	EntryDropPct       float64 // required drop from reference price, e.g. 0.15
	EntryAbsolutePrice float64 // or: enter when price is at/below this
	MinVolume          float64
	MaxVolume          float64
	TradingWindow      TradingWindow

	// Exit conditions.
	TakeProfitPct        float64
	StopLossPct          float64
	ExitTimeRemainingSec float64 // exit when the game clock crosses this

	// Sport-specific entry bounds. Only the fields matching the sport's
	// progress variant are consulted.
	MinTimeRemainingMinutes float64 // nba
	MaxElapsedMinutes       float64 // soccer
	MaxEntryInning          int     // mlb
	MinOutsRemaining        int     // mlb
	MaxEntrySet             int     // tennis
	MinSetsRemaining        int     // tennis
	MaxEntryRound           int     // mma
	MaxEntryHole            int     // golf
	MinHolesRemaining       int     // golf

	// Sizing and account limits.
	OrderSize        float64
	Priority         int
	MaxDailyLossUSDC float64
	MaxExposureUSDC  float64
}

// MarketOverride is a per-market override of a subset of SportConfig fields,
// keyed by (account, market id). Non-nil fields win over the sport default.
type MarketOverride struct {
	Account  string
	MarketID string

	EntryDropPct       *float64
	EntryAbsolutePrice *float64
	TakeProfitPct      *float64
	StopLossPct        *float64
	MinVolume          *float64
	MaxVolume          *float64
	OrderSize          *float64
	MaxDailyLossUSDC   *float64
	MaxExposureUSDC    *float64

	UpdatedAt time.Time
}

// Apply merges the override over the sport default field by field and returns
// the effective config. The receiver and base are left untouched.
func (o MarketOverride) Apply(base SportConfig) SportConfig {
	eff := base
	if o.EntryDropPct != nil {
		eff.EntryDropPct = *o.EntryDropPct
	}
	if o.EntryAbsolutePrice != nil {
		eff.EntryAbsolutePrice = *o.EntryAbsolutePrice
	}
	if o.TakeProfitPct != nil {
		eff.TakeProfitPct = *o.TakeProfitPct
	}
	if o.StopLossPct != nil {
		eff.StopLossPct = *o.StopLossPct
	}
	if o.MinVolume != nil {
		eff.MinVolume = *o.MinVolume
	}
	if o.MaxVolume != nil {
		eff.MaxVolume = *o.MaxVolume
	}
	if o.OrderSize != nil {
		eff.OrderSize = *o.OrderSize
	}
	if o.MaxDailyLossUSDC != nil {
		eff.MaxDailyLossUSDC = *o.MaxDailyLossUSDC
	}
	if o.MaxExposureUSDC != nil {
		eff.MaxExposureUSDC = *o.MaxExposureUSDC
	}
	return eff
}

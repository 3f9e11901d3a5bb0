package domain

import "time"

// RiskState holds the running per-account risk totals. It has a single
// writer (the risk controller) and is read by the execution manager before
// every order.
type RiskState struct {
	Account           string
	Exposure          float64 // sum of live position notionals
	DailyRealizedLoss float64 // today's realized losses, positive number
	ConsecutiveLosses int
	KillSwitch        bool
	KillSwitchReason  string
	KillSwitchAt      *time.Time
	LossDay           time.Time // UTC day the daily loss counter belongs to
	UpdatedAt         time.Time
}

// KillSwitchTrigger classifies why the kill switch fired.
type KillSwitchTrigger string

const (
	TriggerDailyLoss     KillSwitchTrigger = "daily_loss"
	TriggerLosingStreak  KillSwitchTrigger = "losing_streak"
	TriggerManual        KillSwitchTrigger = "manual"
)

// KillSwitchEvent records a kill-switch activation for the audit trail.
type KillSwitchEvent struct {
	ID              string
	Account         string
	Trigger         KillSwitchTrigger
	PositionsClosed int
	TotalPnL        float64
	TriggeredAt     time.Time
}

// DenyReason classifies why the risk controller rejected an order.
type DenyReason string

const (
	DenyKillSwitch    DenyReason = "kill_switch_active"
	DenyMaxExposure   DenyReason = "max_exposure"
	DenyDailyLoss     DenyReason = "daily_loss_limit"
	DenyMinBalance    DenyReason = "balance_below_minimum"
	DenySizeFloor     DenyReason = "size_below_floor"
)

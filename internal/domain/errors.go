package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrStaleData         = errors.New("stale game data")
	ErrRiskDenied        = errors.New("risk denied")
	ErrAuditUnavailable  = errors.New("audit trail unavailable")
	ErrKillSwitchActive  = errors.New("kill switch active")
	ErrExchangeRejected  = errors.New("exchange rejected order")
	ErrSlippageExceeded  = errors.New("slippage exceeds limit")
	ErrOrderTimeout      = errors.New("order fill timeout")
	ErrInvalidTransition = errors.New("invalid position transition")
	ErrLockHeld          = errors.New("lock already held")
	ErrWSDisconnect      = errors.New("websocket disconnected")
)

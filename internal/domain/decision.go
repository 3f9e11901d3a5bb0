package domain

import "time"

// Action is the evaluator's verdict for one match on one cycle.
type Action string

const (
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
	ActionHold  Action = "hold"
)

// Decision is the output of the threshold evaluator: what to do, why, and at
// what price. Exit decisions reference the position they close.
type Decision struct {
	Action     Action
	Reason     string
	MatchID    string
	MarketID   string
	Price      float64
	Size       float64
	PositionID string // set on exit decisions
	DecidedAt  time.Time
}

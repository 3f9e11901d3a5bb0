package domain

import "time"

// InningCount is the MLB progress variant: the current inning plus how many
// outs remain in the game.
type InningCount struct {
	Inning        int
	OutsRemaining int
}

// SetCount is the tennis progress variant: the current set plus how many sets
// remain to be played in a best-of match.
type SetCount struct {
	Set           int
	SetsRemaining int
}

// HoleCount is the golf progress variant: the current hole plus how many holes
// remain in the round.
type HoleCount struct {
	Hole           int
	HolesRemaining int
}

// Progress is a tagged union of sport-specific progress representations.
// Exactly one field is non-nil for a well-formed snapshot; a feed gap leaves
// every field nil, which the evaluator treats as HOLD.
type Progress struct {
	MinutesRemaining *float64     // nba: game clock counting down
	ElapsedMinutes   *float64     // soccer: match clock counting up
	Inning           *InningCount // mlb
	Set              *SetCount    // tennis
	Round            *int         // mma
	Hole             *HoleCount   // golf
}

// Empty reports whether no progress variant is populated (feed gap).
func (p Progress) Empty() bool {
	return p.MinutesRemaining == nil && p.ElapsedMinutes == nil &&
		p.Inning == nil && p.Set == nil && p.Round == nil && p.Hole == nil
}

// GameState is an immutable snapshot of live game progress produced by the
// tracker on each poll. A newer snapshot supersedes an older one; snapshots
// are never mutated after creation.
type GameState struct {
	Sport     Sport
	MatchID   string
	Progress  Progress
	HomeScore int
	AwayScore int
	Terminal  bool
	FetchedAt time.Time
}

// ScoreDiff returns home score minus away score.
func (g GameState) ScoreDiff() int {
	return g.HomeScore - g.AwayScore
}

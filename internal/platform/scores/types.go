package scores

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// gameDTO is the provider's game object. Sport-specific fields are sparse;
// only the ones for the requested sport are populated.
type gameDTO struct {
	Status    string `json:"status"` // "scheduled", "in_progress", "final"
	HomeScore int    `json:"home_team_score"`
	AwayScore int    `json:"visitor_team_score"`

	// nba: period 1-4 (plus OT), clock "MM:SS" counting down within the period
	Period int    `json:"period"`
	Clock  string `json:"time"`

	// soccer
	ElapsedMinutes *float64 `json:"elapsed_minutes"`

	// mlb
	Inning        *int `json:"inning"`
	OutsRemaining *int `json:"outs_remaining"`

	// tennis
	Set           *int `json:"set"`
	SetsRemaining *int `json:"sets_remaining"`

	// mma
	Round *int `json:"round"`

	// golf
	Hole           *int `json:"hole"`
	HolesRemaining *int `json:"holes_remaining"`
}

// terminalStatuses are provider status values that mean the game is over.
var terminalStatuses = map[string]bool{
	"final":     true,
	"finished":  true,
	"completed": true,
	"ft":        true,
}

const nbaPeriodMinutes = 12.0

// toDomain normalizes the provider payload into a GameState snapshot. A
// missing or unparseable progress field yields an empty Progress, which the
// evaluator treats as HOLD rather than an error.
func (g gameDTO) toDomain(sport domain.Sport, matchID string) (domain.GameState, error) {
	state := domain.GameState{
		Sport:     sport,
		MatchID:   matchID,
		HomeScore: g.HomeScore,
		AwayScore: g.AwayScore,
		Terminal:  terminalStatuses[strings.ToLower(g.Status)],
		FetchedAt: time.Now(),
	}

	switch sport {
	case domain.SportNBA:
		if mins, ok := nbaMinutesRemaining(g.Period, g.Clock); ok {
			state.Progress.MinutesRemaining = &mins
		}
	case domain.SportSoccer:
		if g.ElapsedMinutes != nil {
			v := *g.ElapsedMinutes
			state.Progress.ElapsedMinutes = &v
		}
	case domain.SportMLB:
		if g.Inning != nil && g.OutsRemaining != nil {
			state.Progress.Inning = &domain.InningCount{
				Inning:        *g.Inning,
				OutsRemaining: *g.OutsRemaining,
			}
		}
	case domain.SportTennis:
		if g.Set != nil && g.SetsRemaining != nil {
			state.Progress.Set = &domain.SetCount{
				Set:           *g.Set,
				SetsRemaining: *g.SetsRemaining,
			}
		}
	case domain.SportMMA:
		if g.Round != nil {
			v := *g.Round
			state.Progress.Round = &v
		}
	case domain.SportGolf:
		if g.Hole != nil && g.HolesRemaining != nil {
			state.Progress.Hole = &domain.HoleCount{
				Hole:           *g.Hole,
				HolesRemaining: *g.HolesRemaining,
			}
		}
	default:
		return domain.GameState{}, fmt.Errorf("unsupported sport %q", sport)
	}

	return state, nil
}

// nbaMinutesRemaining converts period + clock into total minutes left in
// regulation. Clock is "MM:SS" counting down within the current period; an
// empty or malformed clock reports no progress.
func nbaMinutesRemaining(period int, clock string) (float64, bool) {
	if period < 1 || clock == "" {
		return 0, false
	}

	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	mins, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	secs, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, false
	}

	periodsLeft := 4 - period
	if periodsLeft < 0 {
		// Overtime: only the current clock remains.
		periodsLeft = 0
	}

	remaining := float64(periodsLeft)*nbaPeriodMinutes + float64(mins) + float64(secs)/60
	return remaining, true
}

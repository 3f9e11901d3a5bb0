package scores

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

func TestNBAMinutesRemaining(t *testing.T) {
	tests := []struct {
		name   string
		period int
		clock  string
		want   float64
		ok     bool
	}{
		{"mid fourth quarter", 4, "5:30", 5.5, true},
		{"start of game", 1, "12:00", 48, true},
		{"second quarter", 2, "6:00", 30, true},
		{"overtime counts only the clock", 5, "3:00", 3, true},
		{"empty clock", 4, "", 0, false},
		{"malformed clock", 4, "halftime", 0, false},
		{"pregame period zero", 0, "12:00", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nbaMinutesRemaining(tt.period, tt.clock)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestToDomainNBA(t *testing.T) {
	dto := gameDTO{
		Status:    "in_progress",
		HomeScore: 98,
		AwayScore: 95,
		Period:    4,
		Clock:     "2:00",
	}

	gs, err := dto.toDomain(domain.SportNBA, "lakers-celtics")
	require.NoError(t, err)

	assert.Equal(t, "lakers-celtics", gs.MatchID)
	assert.Equal(t, 98, gs.HomeScore)
	assert.False(t, gs.Terminal)
	require.NotNil(t, gs.Progress.MinutesRemaining)
	assert.InDelta(t, 2.0, *gs.Progress.MinutesRemaining, 1e-9)
}

func TestToDomainTerminalStatus(t *testing.T) {
	dto := gameDTO{Status: "Final", Period: 4, Clock: "0:00"}

	gs, err := dto.toDomain(domain.SportNBA, "m1")
	require.NoError(t, err)
	assert.True(t, gs.Terminal)
}

func TestToDomainMissingProgressYieldsEmpty(t *testing.T) {
	dto := gameDTO{Status: "in_progress"}

	gs, err := dto.toDomain(domain.SportSoccer, "m2")
	require.NoError(t, err)
	assert.Nil(t, gs.Progress.ElapsedMinutes)
}

func TestToDomainUnsupportedSport(t *testing.T) {
	dto := gameDTO{Status: "in_progress"}

	_, err := dto.toDomain(domain.Sport("cricket"), "m3")
	require.Error(t, err)
}

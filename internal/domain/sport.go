// Package domain defines the core types shared across the trading engine:
// game state, positions, orders, risk state, orphan records, and the store
// and cache interfaces implemented by the infrastructure packages.
package domain

// Sport identifies a supported sport. Each sport maps to exactly one
// progress variant on GameState.
type Sport string

const (
	SportNBA    Sport = "nba"
	SportMLB    Sport = "mlb"
	SportSoccer Sport = "soccer"
	SportTennis Sport = "tennis"
	SportMMA    Sport = "mma"
	SportGolf   Sport = "golf"
)

// Valid reports whether s is one of the supported sports.
func (s Sport) Valid() bool {
	switch s {
	case SportNBA, SportMLB, SportSoccer, SportTennis, SportMMA, SportGolf:
		return true
	}
	return false
}

// Platform identifies which exchange a market or order belongs to.
type Platform string

const (
	PlatformKalshi     Platform = "kalshi"
	PlatformPolymarket Platform = "polymarket"
)

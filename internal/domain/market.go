package domain

import "time"

// Market is the normalized view of a prediction market returned by an
// exchange adapter.
type Market struct {
	ID        string
	Platform  Platform
	Title     string
	YesPrice  float64
	NoPrice   float64
	Volume    float64
	Active    bool
	CloseTime time.Time
}

// BookLevel is a single price level in an orderbook.
type BookLevel struct {
	Price float64
	Size  float64
}

// Orderbook is the normalized top-of-book view used for slippage checks.
type Orderbook struct {
	MarketID  string
	Platform  Platform
	Bids      []BookLevel
	Asks      []BookLevel
	FetchedAt time.Time
}

// BestBid returns the highest bid, or zero if the book is empty.
func (b Orderbook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero if the book is empty.
func (b Orderbook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

package kalshi

import (
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// marketDTO represents a market as returned by the Kalshi REST API.
type marketDTO struct {
	Ticker      string  `json:"ticker"`
	EventTicker string  `json:"event_ticker"`
	Title       string  `json:"title"`
	Subtitle    string  `json:"subtitle"`
	Status      string  `json:"status"` // "open", "closed", "settled"
	YesBid      int64   `json:"yes_bid"`
	YesAsk      int64   `json:"yes_ask"`
	NoBid       int64   `json:"no_bid"`
	NoAsk       int64   `json:"no_ask"`
	LastPrice   int64   `json:"last_price"`
	Volume      int64   `json:"volume"`
	Volume24H   int64   `json:"volume_24h"`
	Result      string  `json:"result"` // "yes", "no", "" (unsettled)
	OpenTime    string  `json:"open_time"`
	CloseTime   string  `json:"close_time"`
}

func (m marketDTO) toDomain() domain.Market {
	closeTime, _ := time.Parse(time.RFC3339, m.CloseTime)
	mid := func(bid, ask int64) float64 {
		if bid == 0 && ask == 0 {
			return 0
		}
		return float64(bid+ask) / 200
	}
	return domain.Market{
		ID:        m.Ticker,
		Platform:  domain.PlatformKalshi,
		Title:     m.Title,
		YesPrice:  mid(m.YesBid, m.YesAsk),
		NoPrice:   mid(m.NoBid, m.NoAsk),
		Volume:    float64(m.Volume),
		Active:    m.Status == "open",
		CloseTime: closeTime,
	}
}

// orderbookDTO represents the orderbook for a Kalshi market. Kalshi returns
// yes bids and no bids only.
type orderbookDTO struct {
	Yes []priceLevel `json:"yes"`
	No  []priceLevel `json:"no"`
}

// priceLevel is a single price+quantity entry in the Kalshi orderbook.
type priceLevel struct {
	Price    int64 `json:"price"`    // in cents (1-99)
	Quantity int64 `json:"quantity"` // number of contracts
}

// toDomain converts to the normalized book. A no bid at p cents is a yes ask
// at 100-p cents. Kalshi orders levels best-last; the normalized book wants
// best-first.
func (b orderbookDTO) toDomain(ticker string) domain.Orderbook {
	book := domain.Orderbook{
		MarketID:  ticker,
		Platform:  domain.PlatformKalshi,
		FetchedAt: time.Now(),
	}
	for i := len(b.Yes) - 1; i >= 0; i-- {
		lvl := b.Yes[i]
		book.Bids = append(book.Bids, domain.BookLevel{
			Price: fromCents(lvl.Price),
			Size:  float64(lvl.Quantity),
		})
	}
	for i := len(b.No) - 1; i >= 0; i-- {
		lvl := b.No[i]
		book.Asks = append(book.Asks, domain.BookLevel{
			Price: fromCents(100 - lvl.Price),
			Size:  float64(lvl.Quantity),
		})
	}
	return book
}

// orderRequest represents an order to be placed on the Kalshi exchange.
type orderRequest struct {
	Ticker     string `json:"ticker"`
	Action     string `json:"action"` // "buy" or "sell"
	Side       string `json:"side"`   // "yes" or "no"
	Type       string `json:"type"`   // "market" or "limit"
	Count      int64  `json:"count"`  // number of contracts
	YesPrice   *int64 `json:"yes_price,omitempty"`
	NoPrice    *int64 `json:"no_price,omitempty"`
	Expiration *int64 `json:"expiration_ts,omitempty"` // Unix timestamp for GTD orders
}

// orderDTO is the order object in Kalshi API responses.
type orderDTO struct {
	OrderID        string `json:"order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	PlacedTime     string `json:"placed_time"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCount int64  `json:"taker_fill_count"`
	MakerFillCount int64  `json:"maker_fill_count"`
	LastUpdateTime string `json:"last_update_time"`
}

// orderResponse represents the API response after placing or fetching an order.
type orderResponse struct {
	Order orderDTO `json:"order"`
}

// errorResponse represents a Kalshi API error response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

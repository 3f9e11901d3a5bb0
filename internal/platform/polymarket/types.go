package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// orderDTO represents an order as returned by the Polymarket CLOB API.
type orderDTO struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	MarketID     string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"` // "BUY" or "SELL"
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Owner        string `json:"owner"`
	CreatedAt    string `json:"created_at"`
}

// orderResultDTO is the response from placing an order via the CLOB API.
type orderResultDTO struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// bookDTO is the CLOB orderbook response. Levels are strings and the CLOB
// orders them best-last; the normalized book wants best-first.
type bookDTO struct {
	AssetID string     `json:"asset_id"`
	Bids    []levelDTO `json:"bids"`
	Asks    []levelDTO `json:"asks"`
}

type levelDTO struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (b bookDTO) toDomain(tokenID string) domain.Orderbook {
	book := domain.Orderbook{
		MarketID:  tokenID,
		Platform:  domain.PlatformPolymarket,
		FetchedAt: time.Now(),
	}
	for i := len(b.Bids) - 1; i >= 0; i-- {
		price, _ := strconv.ParseFloat(b.Bids[i].Price, 64)
		size, _ := strconv.ParseFloat(b.Bids[i].Size, 64)
		book.Bids = append(book.Bids, domain.BookLevel{Price: price, Size: size})
	}
	for i := len(b.Asks) - 1; i >= 0; i-- {
		price, _ := strconv.ParseFloat(b.Asks[i].Price, 64)
		size, _ := strconv.ParseFloat(b.Asks[i].Size, 64)
		book.Asks = append(book.Asks, domain.BookLevel{Price: price, Size: size})
	}
	return book
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// gammaMarket represents a market as returned by the Polymarket Gamma API.
type gammaMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.55\",\"0.45\"]"
	Volume        string   `json:"volume"`
	EndDateISO    string   `json:"end_date_iso"`
	ClobTokenIDs  string   `json:"clob_token_ids"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
}

// toDomain normalizes a Gamma market for one of its outcome tokens. The
// token's position in clob_token_ids selects which outcome price is the
// yes price.
func (m gammaMarket) toDomain(tokenID string) domain.Market {
	dm := domain.Market{
		ID:       tokenID,
		Platform: domain.PlatformPolymarket,
		Title:    m.Question,
		Active:   bool(m.Active) && !m.Closed,
	}

	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.CloseTime = t
		}
	}

	var tokenIDs []string
	_ = json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs)
	var prices []string
	_ = json.Unmarshal([]byte(m.OutcomePrices), &prices)

	idx := 0
	for i, id := range tokenIDs {
		if id == tokenID {
			idx = i
			break
		}
	}
	if idx < len(prices) {
		if p, err := strconv.ParseFloat(prices[idx], 64); err == nil {
			dm.YesPrice = p
			dm.NoPrice = 1 - p
		}
	}

	return dm
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type wsCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// wsBookMessage is a full orderbook snapshot delivered over WebSocket.
type wsBookMessage struct {
	AssetID   string     `json:"asset_id"`
	Bids      []levelDTO `json:"bids"`
	Asks      []levelDTO `json:"asks"`
	Timestamp string     `json:"timestamp"`
}

// wsPriceMessage is the most recent trade price for an asset.
type wsPriceMessage struct {
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

func parseWSTimestamp(raw string) time.Time {
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// The CLOB sends Unix milliseconds.
		return time.UnixMilli(ts)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}

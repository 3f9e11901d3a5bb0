// Package polymarket implements the domain.Exchange adapter for the
// Polymarket CLOB API, with market metadata from the Gamma API. Requests
// are authenticated with HMAC L2 headers built from pre-derived API
// credentials.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/crypto"
	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// Client is the REST client for Polymarket. Market IDs are CLOB token IDs.
type Client struct {
	clobURL    string
	gammaURL   string
	address    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a new Polymarket client.
//
// clobURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// gammaURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
// address is the funder wallet address the API credentials were derived for.
func NewClient(clobURL, gammaURL, address string, auth *crypto.HMACAuth) *Client {
	return &Client{
		clobURL:  clobURL,
		gammaURL: gammaURL,
		address:  address,
		auth:     auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Platform identifies this adapter.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformPolymarket
}

// GetMarket looks up the Gamma market that carries the given CLOB token ID
// and returns the normalized view for that token's outcome.
func (c *Client) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	params := url.Values{}
	params.Set("clob_token_ids", id)

	body, err := c.doGet(ctx, c.gammaURL+"/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: get market %s: %w", id, err)
	}

	var markets []gammaMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: decode markets: %w", err)
	}
	if len(markets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket: market for token %s: %w", id, domain.ErrNotFound)
	}

	return markets[0].toDomain(id), nil
}

// GetOrderbook returns the normalized CLOB book for a token.
func (c *Client) GetOrderbook(ctx context.Context, id string) (domain.Orderbook, error) {
	params := url.Values{}
	params.Set("token_id", id)

	body, err := c.doGet(ctx, c.clobURL+"/book?"+params.Encode())
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("polymarket: get orderbook %s: %w", id, err)
	}

	var book bookDTO
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.Orderbook{}, fmt.Errorf("polymarket: decode orderbook: %w", err)
	}

	return book.toDomain(id), nil
}

// PlaceOrder submits a GTC limit order. Exchange rejections come back as an
// OrderAck carrying the reject message, not a transport error.
func (c *Client) PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (domain.OrderAck, error) {
	side := "BUY"
	if ticket.Side == domain.OrderSideSell {
		side = "SELL"
	}

	reqBody := map[string]any{
		"order": map[string]any{
			"tokenID": ticket.MarketID,
			"price":   strconv.FormatFloat(ticket.Price, 'f', -1, 64),
			"size":    strconv.FormatFloat(ticket.Size, 'f', -1, 64),
			"side":    side,
			"maker":   c.address,
			"taker":   "0x0000000000000000000000000000000000000000",
		},
		"owner":     c.auth.Key,
		"orderType": "GTC",
	}

	body, err := c.doAuthenticated(ctx, http.MethodPost, "/order", reqBody)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket: place order: %w", err)
	}

	var result orderResultDTO
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket: decode order result: %w", err)
	}

	ack := domain.OrderAck{OrderID: result.OrderID}
	switch {
	case !result.Success:
		ack.Status = domain.OrderStatusRejected
		ack.Reason = result.ErrorMsg
	case result.Status == "matched":
		ack.Status = domain.OrderStatusFilled
	default:
		ack.Status = domain.OrderStatusPending
	}
	return ack, nil
}

// GetOrder returns the fill status of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.FillStatus, error) {
	body, err := c.doAuthenticated(ctx, http.MethodGet, "/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return domain.FillStatus{}, fmt.Errorf("polymarket: get order %s: %w", orderID, err)
	}

	var o orderDTO
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.FillStatus{}, fmt.Errorf("polymarket: decode order: %w", err)
	}

	fs := domain.FillStatus{
		OrderID:   o.ID,
		Filled:    o.Status == "matched" || o.Status == "filled",
		Cancelled: o.Status == "cancelled",
	}
	if fs.Filled {
		fs.FilledPrice, _ = strconv.ParseFloat(o.Price, 64)
		fs.FilledSize, _ = strconv.ParseFloat(o.SizeMatched, 64)
	}
	return fs, nil
}

// CancelOrder cancels a single order by its ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body, err := c.doAuthenticated(ctx, http.MethodDelete, "/order", map[string]any{
		"orderID": orderID,
	})
	if err != nil {
		return fmt.Errorf("polymarket: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("polymarket: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket: cancel %s: %s: %w", orderID, result.ErrorMsg, domain.ErrExchangeRejected)
	}
	return nil
}

// ListOpenOrders returns all open orders for the authenticated account.
func (c *Client) ListOpenOrders(ctx context.Context) ([]domain.ExchangeOrder, error) {
	body, err := c.doAuthenticated(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket: list open orders: %w", err)
	}

	var dtos []orderDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("polymarket: decode orders: %w", err)
	}

	orders := make([]domain.ExchangeOrder, 0, len(dtos))
	for _, o := range dtos {
		side := domain.OrderSideBuy
		if o.Side == "SELL" {
			side = domain.OrderSideSell
		}
		price, _ := strconv.ParseFloat(o.Price, 64)
		size, _ := strconv.ParseFloat(o.OriginalSize, 64)
		orders = append(orders, domain.ExchangeOrder{
			OrderID:  o.ID,
			MarketID: o.AssetID,
			Platform: domain.PlatformPolymarket,
			Side:     side,
			Price:    price,
			Size:     size,
		})
	}
	return orders, nil
}

// GetBalance returns the available USDC collateral balance.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	body, err := c.doAuthenticated(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL", nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket: get balance: %w", err)
	}

	var resp struct {
		Balance string `json:"balance"` // USDC base units (6 decimals)
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket: decode balance: %w", err)
	}

	raw, err := strconv.ParseFloat(resp.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket: parse balance %q: %w", resp.Balance, err)
	}
	return raw / 1e6, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticated builds, signs (HMAC L2), sends, and reads an HTTP request
// against the CLOB API. It returns the raw response body.
func (c *Client) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.clobURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range c.auth.L2Headers(c.address, method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// doGet sends an unauthenticated GET request and returns the raw body.
func (c *Client) doGet(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors where a
// sentinel exists.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusBadRequest, http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrExchangeRejected, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.Exchange = (*Client)(nil)

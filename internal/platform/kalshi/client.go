// Package kalshi implements the domain.Exchange adapter for the Kalshi
// exchange REST API (RSA-PSS signed requests).
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// Client is the REST client for the Kalshi exchange API.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// apiKeyID is the Kalshi API key identifier.
func NewClient(baseURL, apiKeyID string) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// Platform identifies this adapter.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformKalshi
}

// GetMarket returns the normalized market for the given ticker.
func (c *Client) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(id))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: get market %s: %w", id, err)
	}

	var resp struct {
		Market marketDTO `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: decode market: %w", err)
	}

	return resp.Market.toDomain(), nil
}

// GetOrderbook returns the normalized orderbook for the given ticker.
// Kalshi reports yes bids and no bids; a no bid at price p is a yes ask
// at 100-p cents.
func (c *Client) GetOrderbook(ctx context.Context, id string) (domain.Orderbook, error) {
	path := fmt.Sprintf("/markets/%s/orderbook", url.PathEscape(id))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Orderbook{}, fmt.Errorf("kalshi: get orderbook %s: %w", id, err)
	}

	var resp struct {
		Orderbook orderbookDTO `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Orderbook{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}

	return resp.Orderbook.toDomain(id), nil
}

// PlaceOrder submits a limit order for the yes side of the market.
// Exchange rejections come back as an OrderAck with the reject reason, not
// as a transport error.
func (c *Client) PlaceOrder(ctx context.Context, ticket domain.OrderTicket) (domain.OrderAck, error) {
	yesPrice := toCents(ticket.Price)
	req := orderRequest{
		Ticker:   ticket.MarketID,
		Action:   string(ticket.Side),
		Side:     "yes",
		Type:     "limit",
		Count:    int64(math.Round(ticket.Size)),
		YesPrice: &yesPrice,
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", req)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("kalshi: place order: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	ack := domain.OrderAck{OrderID: resp.Order.OrderID, Status: domain.OrderStatusPending}
	switch resp.Order.Status {
	case "canceled":
		ack.Status = domain.OrderStatusRejected
		ack.Reason = "order immediately cancelled"
	case "executed":
		ack.Status = domain.OrderStatusFilled
	}
	return ack, nil
}

// GetOrder returns the fill status of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.FillStatus, error) {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.FillStatus{}, fmt.Errorf("kalshi: get order %s: %w", orderID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.FillStatus{}, fmt.Errorf("kalshi: decode order: %w", err)
	}

	o := resp.Order
	fs := domain.FillStatus{
		OrderID:   o.OrderID,
		Filled:    o.Status == "executed",
		Cancelled: o.Status == "canceled",
	}
	if fs.Filled {
		fs.FilledPrice = fromCents(o.YesPrice)
		fs.FilledSize = float64(o.TakerFillCount + o.MakerFillCount)
	}
	return fs, nil
}

// CancelOrder cancels an existing order by its ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	_, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}

	return nil
}

// ListOpenOrders returns all resting orders for the account.
func (c *Client) ListOpenOrders(ctx context.Context) ([]domain.ExchangeOrder, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/orders?status=resting", nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: list open orders: %w", err)
	}

	var resp struct {
		Orders []orderDTO `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode open orders: %w", err)
	}

	orders := make([]domain.ExchangeOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, domain.ExchangeOrder{
			OrderID:  o.OrderID,
			MarketID: o.Ticker,
			Platform: domain.PlatformKalshi,
			Side:     domain.OrderSide(o.Action),
			Price:    fromCents(o.YesPrice),
			Size:     float64(o.RemainingCount),
		})
	}
	return orders, nil
}

// GetBalance returns the available account balance in dollars.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("kalshi: get balance: %w", err)
	}

	var resp struct {
		Balance int64 `json:"balance"` // cents
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("kalshi: decode balance: %w", err)
	}
	return float64(resp.Balance) / 100, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs (RSA), sends, and reads an HTTP request
// against the Kalshi API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// Sign the request with RSA.
	if err := c.signRequest(req, method, path); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
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

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// signRequest adds RSA authentication headers to the HTTP request.
// Kalshi uses RSA-PSS-SHA256 signatures over the timestamp + method + path
// message string.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	if c.privateKey == nil {
		return fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	// The message to sign is: timestamp + method + path
	message := ts + method + path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	encodedSig := base64.StdEncoding.EncodeToString(signature)

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", encodedSig)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)

	return nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors where a
// sentinel exists, keeping rejection and throttling distinguishable upstream.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	case http.StatusBadRequest, http.StatusConflict:
		return fmt.Errorf("kalshi: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrExchangeRejected)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("kalshi: unauthorized: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

func toCents(price float64) int64 {
	return int64(math.Round(price * 100))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}

// Compile-time interface check.
var _ domain.Exchange = (*Client)(nil)

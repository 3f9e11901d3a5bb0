package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

const (
	writeWait = 10 * time.Second

	// pongWait bounds how long a silent connection is considered alive;
	// pingPeriod must be shorter so a pong arrives before the deadline.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// BookUpdateHandler receives full orderbook snapshots from the "book" channel.
type BookUpdateHandler func(book domain.Orderbook)

// TradePriceHandler receives prices from the "last_trade_price" channel.
type TradePriceHandler func(marketID string, price float64, at time.Time)

// WSClient streams real-time market data from the Polymarket CLOB websocket.
// It keeps the connection alive with pings, reconnects with backoff, and
// replays subscriptions after a reconnect.
type WSClient struct {
	wsURL string

	mu            sync.RWMutex
	conn          *websocket.Conn
	closed        bool
	subscriptions []wsCommand

	handlerMu sync.RWMutex
	onBook    BookUpdateHandler
	onTrade   TradePriceHandler

	done chan struct{}
}

// NewWSClient creates a client for the given websocket endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect dials the endpoint, starts the read and keep-alive loops, and
// replays any subscriptions registered before a disconnect.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	w.conn = conn

	go w.readLoop()
	go w.keepAlive()

	for _, cmd := range w.subscriptions {
		if err := w.write(cmd); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscription: %w", err)
		}
	}
	return nil
}

// Subscribe registers the token IDs on the given channels ("book",
// "last_trade_price"). Subscriptions survive reconnects.
func (w *WSClient) Subscribe(ctx context.Context, channels []string, tokenIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	for _, ch := range channels {
		cmd := wsCommand{Type: "subscribe", Channel: ch, Assets: tokenIDs}
		if err := w.write(cmd); err != nil {
			return fmt.Errorf("polymarket/ws: subscribe to %s: %w", ch, err)
		}
		w.subscriptions = append(w.subscriptions, cmd)
	}
	return nil
}

// Close sends a close frame and stops the loops. Safe to call more than once.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// OnBookUpdate sets the handler for orderbook snapshots. The last handler
// set wins; register before Connect.
func (w *WSClient) OnBookUpdate(handler BookUpdateHandler) {
	w.handlerMu.Lock()
	w.onBook = handler
	w.handlerMu.Unlock()
}

// OnTradePrice sets the handler for last trade prices. The last handler set
// wins; register before Connect.
func (w *WSClient) OnTradePrice(handler TradePriceHandler) {
	w.handlerMu.Lock()
	w.onTrade = handler
	w.handlerMu.Unlock()
}

// write marshals and sends a command. Caller must hold w.mu.
func (w *WSClient) write(cmd wsCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) current() *websocket.Conn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn
}

// readLoop pulls messages off the socket and dispatches them. A read error
// on a live client triggers reconnection; the new Connect starts a fresh
// readLoop, so this one returns.
func (w *WSClient) readLoop() {
	conn := w.current()
	if conn == nil {
		return
	}
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.reconnect()
			}
			return
		}
		w.dispatch(message)
	}
}

// keepAlive pings at pingPeriod until the connection dies or the client
// closes.
func (w *WSClient) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn := w.current()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes a raw message by its type field. Messages that fail to
// parse are dropped; the feed tolerates gaps and the next update corrects.
func (w *WSClient) dispatch(raw []byte) {
	var envelope struct {
		MsgType string `json:"msg_type"`
		Event   string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	msgType := envelope.MsgType
	if msgType == "" {
		msgType = envelope.Event
	}

	switch msgType {
	case "book":
		w.dispatchBook(raw)
	case "last_trade_price":
		w.dispatchTrade(raw)
	}
}

func (w *WSClient) dispatchBook(raw []byte) {
	var msg wsBookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	book := bookDTO{AssetID: msg.AssetID, Bids: msg.Bids, Asks: msg.Asks}.toDomain(msg.AssetID)
	book.FetchedAt = parseWSTimestamp(msg.Timestamp)

	w.handlerMu.RLock()
	handler := w.onBook
	w.handlerMu.RUnlock()
	if handler != nil {
		handler(book)
	}
}

func (w *WSClient) dispatchTrade(raw []byte) {
	var msg wsPriceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return
	}

	w.handlerMu.RLock()
	handler := w.onTrade
	w.handlerMu.RUnlock()
	if handler != nil {
		handler(msg.AssetID, price, parseWSTimestamp(msg.Timestamp))
	}
}

// reconnect redials with exponential backoff until it succeeds or the
// client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

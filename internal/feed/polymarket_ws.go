// Package feed keeps the price cache warm from the Polymarket CLOB
// websocket so the executor's slippage check compares against a live
// last-seen price instead of the previous poll.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
	"github.com/alanyoungcy/sportsbot/internal/platform/polymarket"
)

// storeTimeout bounds each cache write triggered by a websocket message.
const storeTimeout = 2 * time.Second

// PriceFeed subscribes to book and last-trade-price updates for the tracked
// Polymarket markets and writes every observed price into the price cache.
// The underlying client reconnects with backoff on its own.
type PriceFeed struct {
	wsURL     string
	marketIDs []string
	prices    domain.PriceCache
	logger    *slog.Logger
}

// NewPriceFeed creates a feed for the given CLOB token IDs.
func NewPriceFeed(wsURL string, marketIDs []string, prices domain.PriceCache, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:     wsURL,
		marketIDs: marketIDs,
		prices:    prices,
		logger:    logger.With(slog.String("component", "price_feed")),
	}
}

// Run connects, subscribes, and blocks until the context ends. Initial
// connection failures are retried so a feed outage never takes the engine
// down with it.
func (f *PriceFeed) Run(ctx context.Context) error {
	if len(f.marketIDs) == 0 {
		f.logger.Info("no markets to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	client := polymarket.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBookUpdate(func(book domain.Orderbook) {
		f.store(book.MarketID, bookPrice(book))
	})
	client.OnTradePrice(func(marketID string, price float64, at time.Time) {
		f.store(marketID, price)
	})

	for {
		err := client.Connect(ctx)
		if err == nil {
			break
		}
		f.logger.Warn("websocket connect failed, retrying",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if err := client.Subscribe(ctx, []string{"book", "last_trade_price"}, f.marketIDs); err != nil {
		return err
	}
	f.logger.Info("price feed subscribed", slog.Int("markets", len(f.marketIDs)))

	<-ctx.Done()
	return ctx.Err()
}

// store writes one observed price. Cache failures are logged, never fatal;
// the next message retries.
func (f *PriceFeed) store(marketID string, price float64) {
	if price <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := f.prices.SetPrice(ctx, marketID, price); err != nil {
		f.logger.Warn("price cache write failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

// bookPrice reduces a book snapshot to one comparison price: the bid/ask
// midpoint, or whichever side exists when the book is one-sided.
func bookPrice(book domain.Orderbook) float64 {
	bid, ask := book.BestBid(), book.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}

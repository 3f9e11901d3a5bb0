package domain

import "context"

// Exchange is the typed adapter contract each platform client implements.
// Rejections must be surfaced through OrderAck.Reason or a wrapped
// ErrExchangeRejected so callers can distinguish them from transport errors.
type Exchange interface {
	Platform() Platform
	GetMarket(ctx context.Context, id string) (Market, error)
	GetOrderbook(ctx context.Context, id string) (Orderbook, error)
	PlaceOrder(ctx context.Context, ticket OrderTicket) (OrderAck, error)
	GetOrder(ctx context.Context, orderID string) (FillStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
	ListOpenOrders(ctx context.Context) ([]ExchangeOrder, error)
	GetBalance(ctx context.Context) (float64, error)
}

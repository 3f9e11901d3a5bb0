package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the local order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusOrphaned  OrderStatus = "orphaned"
)

// OrderTicket is the request handed to an exchange adapter. Price and size
// are in the exchange's display units (USDC per contract, contracts).
type OrderTicket struct {
	MarketID string
	Side     OrderSide
	Price    float64
	Size     float64

	// Per-market risk bounds from the effective sport config, after any
	// market override. Zero means no market-level bound; only the account
	// limit applies. The risk controller reads these; adapters ignore them.
	MaxExposureUSDC  float64
	MaxDailyLossUSDC float64
}

// Notional returns price * size.
func (t OrderTicket) Notional() float64 {
	return t.Price * t.Size
}

// OrderAck is the exchange's response to a placed order.
type OrderAck struct {
	OrderID string
	Status  OrderStatus
	Reason  string // reject reason when Status is rejected
}

// FillStatus is a point-in-time view of an order on the exchange.
type FillStatus struct {
	OrderID     string
	Filled      bool
	FilledPrice float64
	FilledSize  float64
	Cancelled   bool
}

// ExchangeOrder is an open order as reported by the exchange, used by the
// reconciliation scanner.
type ExchangeOrder struct {
	OrderID  string
	MarketID string
	Platform Platform
	Side     OrderSide
	Price    float64
	Size     float64
}

// Order is the locally persisted record of an order submitted (or simulated)
// by the execution manager.
type Order struct {
	ID              string
	Account         string
	PositionID      string
	MarketID        string
	Platform        Platform
	Side            OrderSide
	Price           float64
	Size            float64
	Status          OrderStatus
	ExchangeOrderID string
	DryRun          bool
	CreatedAt       time.Time
	FilledAt        *time.Time
	FilledPrice     *float64
}

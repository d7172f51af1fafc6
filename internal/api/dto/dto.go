package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubmitOrderRequest struct {
	OrderID        string          `json:"order_id,omitempty"`
	ClientID       string          `json:"client_id" binding:"required"`
	Instrument     string          `json:"instrument" binding:"required"`
	Side           string          `json:"side" binding:"required"`
	Type           string          `json:"type" binding:"required"`
	Price          decimal.Decimal `json:"price,omitempty"`
	Quantity       decimal.Decimal `json:"quantity" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type SubmitOrderResponse struct {
	Order  Order     `json:"order"`
	Trades []Trade   `json:"trades"`
	Book   Orderbook `json:"book"`
}

type CancelOrderRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	Instrument string `json:"instrument,omitempty"`
}

type SnapshotRequest struct {
	Instrument string `json:"instrument" binding:"required"`
}

type Order struct {
	OrderID        string          `json:"order_id"`
	ClientID       string          `json:"client_id"`
	Instrument     string          `json:"instrument"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Remaining      decimal.Decimal `json:"remaining"`
	Status         string          `json:"status"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Trade struct {
	TradeID    string          `json:"trade_id"`
	Instrument string          `json:"instrument"`
	BuyOrder   string          `json:"buy_order_id"`
	SellOrder  string          `json:"sell_order_id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Timestamp  time.Time       `json:"timestamp"`
}

type Level struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

type Orderbook struct {
	Instrument string    `json:"instrument"`
	Bids       []Level   `json:"bids"`
	Asks       []Level   `json:"asks"`
	Timestamp  time.Time `json:"timestamp"`
}

type Position struct {
	ClientID    string          `json:"client_id"`
	Instrument  string          `json:"instrument"`
	NetQuantity decimal.Decimal `json:"net_quantity"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	LastUpdated time.Time       `json:"last_updated"`
}

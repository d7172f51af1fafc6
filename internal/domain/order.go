package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string
type OrderType string
type OrderStatus string

const (
	Buy             Side        = "BUY"
	Sell            Side        = "SELL"
	Limit           OrderType   = "LIMIT"
	Market          OrderType   = "MARKET"
	Open            OrderStatus = "OPEN"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Filled          OrderStatus = "FILLED"
	Cancelled       OrderStatus = "CANCELLED"
	Rejected        OrderStatus = "REJECTED"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Order struct {
	ID             string
	ClientID       string
	Instrument     string
	Side           Side
	Type           OrderType
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         OrderStatus
	IdempotencyKey string
	RejectReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining is the quantity still open for matching.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Terminal reports whether the order is in an absorbing state.
func (o *Order) Terminal() bool {
	switch o.Status {
	case Filled, Cancelled, Rejected:
		return true
	}
	return false
}

// Resting reports whether the order is eligible to sit in the book.
func (o *Order) Resting() bool {
	return (o.Status == Open || o.Status == PartiallyFilled) && o.Remaining().IsPositive()
}

// Fill applies a fill of qty and moves the status accordingly.
// qty must not exceed Remaining(); the book owner guarantees that.
func (o *Order) Fill(qty decimal.Decimal, now time.Time) {
	if qty.GreaterThan(o.Remaining()) {
		panic("domain: fill exceeds remaining quantity")
	}
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	if o.Remaining().IsZero() {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
	o.UpdatedAt = now
}

func (o *Order) Clone() *Order {
	c := *o
	return &c
}

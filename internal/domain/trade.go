package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is immutable once created. Price is the resting order's
// price at the moment of match.
type Trade struct {
	ID         string
	Instrument string
	BuyOrder   string
	SellOrder  string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Timestamp  time.Time
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is derived purely from the trade stream: a buy adds
// +quantity to net and +price*quantity to cost, a sell negates both.
type Position struct {
	ClientID    string
	Instrument  string
	NetQuantity decimal.Decimal
	TotalCost   decimal.Decimal
	LastUpdated time.Time
}

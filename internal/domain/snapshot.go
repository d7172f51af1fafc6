package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotLevel is one aggregated price level: total remaining
// quantity at the price plus the running cumulative from the top of
// that side.
type SnapshotLevel struct {
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Cumulative decimal.Decimal
}

// OrderbookSnapshot is a top-N aggregated view of one book. It is
// advisory; the event stream is authoritative.
type OrderbookSnapshot struct {
	Instrument string
	Bids       []SnapshotLevel
	Asks       []SnapshotLevel
	Timestamp  time.Time
}

func (s *OrderbookSnapshot) DeepCopy() *OrderbookSnapshot {
	c := *s
	c.Bids = append([]SnapshotLevel(nil), s.Bids...)
	c.Asks = append([]SnapshotLevel(nil), s.Asks...)
	return &c
}

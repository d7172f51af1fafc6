package core

import (
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"github.com/olyamironova/exchange-core/internal/domain"
)

// OrderBook keeps one instrument's resting orders in two price
// ladders. Each ladder is a red-black treemap of price -> level with
// the best price at Min(), so best-of-side is O(log L) and iteration
// for snapshots walks levels best-first. The id index gives O(1)
// removal; it is the only back-pointer from orders into the ladders
// and is owned exclusively by the book.
type OrderBook struct {
	instrument string
	bids       *treemap.Map
	asks       *treemap.Map
	index      map[string]*levelNode
}

func priceAscending(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

func priceDescending(a, b interface{}) int {
	return b.(decimal.Decimal).Cmp(a.(decimal.Decimal))
}

func NewOrderBook(instrument string) *OrderBook {
	return &OrderBook{
		instrument: instrument,
		bids:       treemap.NewWith(priceDescending),
		asks:       treemap.NewWith(priceAscending),
		index:      make(map[string]*levelNode),
	}
}

func (b *OrderBook) ladder(side domain.Side) *treemap.Map {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order at the tail of its price level,
// creating the level if absent.
func (b *OrderBook) Insert(o *domain.Order) {
	if !o.Resting() {
		panic("orderbook: inserting non-resting order " + o.ID)
	}
	if _, dup := b.index[o.ID]; dup {
		panic("orderbook: duplicate order id " + o.ID)
	}
	ladder := b.ladder(o.Side)
	var level *priceLevel
	if v, ok := ladder.Get(o.Price); ok {
		level = v.(*priceLevel)
	} else {
		level = newPriceLevel(o.Price)
		ladder.Put(o.Price, level)
	}
	b.index[o.ID] = level.enqueue(o)
}

// Remove takes an order out of the book by id, dropping its level if
// it becomes empty. Returns false when the order is not resident.
func (b *OrderBook) Remove(orderID string) (*domain.Order, bool) {
	n, ok := b.index[orderID]
	if !ok {
		return nil, false
	}
	delete(b.index, orderID)
	n.level.unlink(n)
	if n.level.empty() {
		b.ladder(n.order.Side).Remove(n.level.price)
	}
	return n.order, true
}

// PeekBest returns the head order of the best level on the given
// side, or nil when that side is empty.
func (b *OrderBook) PeekBest(side domain.Side) *domain.Order {
	_, v := b.ladder(side).Min()
	if v == nil {
		return nil
	}
	return v.(*priceLevel).head.order
}

// Reduce records a partial fill of qty against a resting order,
// keeping the level's aggregate volume consistent. The order stays at
// its queue position. Fully filled orders must be removed instead.
func (b *OrderBook) Reduce(orderID string, qty decimal.Decimal) {
	n, ok := b.index[orderID]
	if !ok {
		panic("orderbook: reduce on unknown order " + orderID)
	}
	n.level.reduce(qty)
}

// BestBid returns the best bid price, or false when the bid side is
// empty.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	k, _ := b.bids.Min()
	if k == nil {
		return decimal.Zero, false
	}
	return k.(decimal.Decimal), true
}

// BestAsk returns the best ask price, or false when the ask side is
// empty.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	k, _ := b.asks.Min()
	if k == nil {
		return decimal.Zero, false
	}
	return k.(decimal.Decimal), true
}

// Size is the number of resting orders across both sides.
func (b *OrderBook) Size() int {
	return len(b.index)
}

// Snapshot aggregates the top levels of both sides with cumulative
// depth. levels <= 0 captures the whole book.
func (b *OrderBook) Snapshot(levels int) *domain.OrderbookSnapshot {
	return &domain.OrderbookSnapshot{
		Instrument: b.instrument,
		Bids:       aggregate(b.bids, levels),
		Asks:       aggregate(b.asks, levels),
		Timestamp:  time.Now().UTC(),
	}
}

func aggregate(ladder *treemap.Map, levels int) []domain.SnapshotLevel {
	out := make([]domain.SnapshotLevel, 0, ladder.Size())
	cumulative := decimal.Zero
	it := ladder.Iterator()
	for it.Next() {
		if levels > 0 && len(out) == levels {
			break
		}
		level := it.Value().(*priceLevel)
		cumulative = cumulative.Add(level.volume)
		out = append(out, domain.SnapshotLevel{
			Price:      level.price,
			Quantity:   level.volume,
			Cumulative: cumulative,
		})
	}
	return out
}

package core

import (
	"github.com/shopspring/decimal"

	"github.com/olyamironova/exchange-core/internal/domain"
)

// levelNode is one resting order's slot in a price level's FIFO
// queue. Nodes are linked intrusively so removal by id is O(1).
type levelNode struct {
	order *domain.Order
	level *priceLevel
	prev  *levelNode
	next  *levelNode
}

// priceLevel holds every resting order at one price in arrival
// order. volume tracks the sum of remaining quantities so snapshots
// do not walk the queue.
type priceLevel struct {
	price  decimal.Decimal
	head   *levelNode
	tail   *levelNode
	volume decimal.Decimal
	count  int
}

func newPriceLevel(price decimal.Decimal) *priceLevel {
	return &priceLevel{price: price, volume: decimal.Zero}
}

func (l *priceLevel) enqueue(o *domain.Order) *levelNode {
	n := &levelNode{order: o, level: l}
	if l.head == nil {
		l.head = n
	} else {
		l.tail.next = n
		n.prev = l.tail
	}
	l.tail = n
	l.volume = l.volume.Add(o.Remaining())
	l.count++
	return n
}

func (l *priceLevel) unlink(n *levelNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.volume = l.volume.Sub(n.order.Remaining())
	l.count--
}

func (l *priceLevel) reduce(qty decimal.Decimal) {
	l.volume = l.volume.Sub(qty)
}

func (l *priceLevel) empty() bool {
	return l.head == nil
}

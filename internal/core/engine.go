package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/olyamironova/exchange-core/internal/domain"
)

const (
	engineQueueDepth = 1024
	tradeRingSize    = 1000
)

// Fill pairs a trade with the post-fill state of both participating
// orders, cloned at the moment of match.
type Fill struct {
	Trade *domain.Trade
	Maker *domain.Order
	Taker *domain.Order
}

// MatchResult is what one submit produced: the taker's final state
// and every fill in match order.
type MatchResult struct {
	Taker *domain.Order
	Fills []Fill
}

func (r *MatchResult) Trades() []*domain.Trade {
	trades := make([]*domain.Trade, 0, len(r.Fills))
	for _, f := range r.Fills {
		trades = append(trades, f.Trade)
	}
	return trades
}

// MatchSink receives match outcomes inside the engine's serialized
// section, so persistence and publication order per instrument equals
// match order. A persistence failure surfaced here does not undo the
// match; the durable record catches up on recovery.
type MatchSink interface {
	OrderMatched(ctx context.Context, res *MatchResult) error
	OrderCancelled(ctx context.Context, o *domain.Order) error
}

type submitCmd struct {
	ctx   context.Context
	order *domain.Order
	resp  chan submitReply
}

type submitReply struct {
	res *MatchResult
	err error
}

type cancelCmd struct {
	ctx     context.Context
	orderID string
	resp    chan cancelReply
}

type cancelReply struct {
	order *domain.Order
	err   error
}

type snapshotCmd struct {
	levels int
	resp   chan *domain.OrderbookSnapshot
}

type tradesCmd struct {
	limit int
	resp  chan []*domain.Trade
}

// Engine owns one instrument's book. All commands funnel through a
// single goroutine reading from a bounded queue, so at most one
// command executes against the book at any instant and no mid-match
// state is ever observable.
type Engine struct {
	instrument string
	book       *OrderBook
	recent     []*domain.Trade
	sink       MatchSink
	commands   chan interface{}
	done       chan struct{}
}

func NewEngine(instrument string, sink MatchSink) *Engine {
	return &Engine{
		instrument: instrument,
		book:       NewOrderBook(instrument),
		sink:       sink,
		commands:   make(chan interface{}, engineQueueDepth),
		done:       make(chan struct{}),
	}
}

// Restore inserts a recovered order directly into the book with its
// recorded filled quantity. Only valid before Start; insertion order
// must follow created_at so time priority is preserved.
func (e *Engine) Restore(o *domain.Order) {
	e.book.Insert(o)
}

// Start launches the serialization loop. It runs until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.commands:
			switch c := cmd.(type) {
			case submitCmd:
				res := e.applySubmit(c.order)
				var err error
				if e.sink != nil {
					err = e.sink.OrderMatched(c.ctx, res)
				}
				c.resp <- submitReply{res: res, err: err}
			case cancelCmd:
				o, err := e.applyCancel(c.orderID)
				if err == nil && e.sink != nil {
					err = e.sink.OrderCancelled(c.ctx, o)
				}
				c.resp <- cancelReply{order: o, err: err}
			case snapshotCmd:
				c.resp <- e.book.Snapshot(c.levels)
			case tradesCmd:
				c.resp <- e.recentTrades(c.limit)
			}
		}
	}
}

func (e *Engine) enqueue(ctx context.Context, cmd interface{}) error {
	select {
	case e.commands <- cmd:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit runs the order through matching on the engine goroutine and
// blocks until the match and its sink callbacks complete.
func (e *Engine) Submit(ctx context.Context, o *domain.Order) (*MatchResult, error) {
	cmd := submitCmd{ctx: ctx, order: o, resp: make(chan submitReply, 1)}
	if err := e.enqueue(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.resp:
		return r.res, r.err
	case <-e.done:
		return nil, ErrEngineStopped
	}
}

// Cancel removes a resting order. It is ordered with respect to
// submissions on the same engine: it observes all prior matches and
// blocks subsequent ones until complete.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	cmd := cancelCmd{ctx: ctx, orderID: orderID, resp: make(chan cancelReply, 1)}
	if err := e.enqueue(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.resp:
		return r.order, r.err
	case <-e.done:
		return nil, ErrEngineStopped
	}
}

// Snapshot captures an aggregated top-N view on the engine queue, so
// it never observes mid-match state.
func (e *Engine) Snapshot(ctx context.Context, levels int) (*domain.OrderbookSnapshot, error) {
	cmd := snapshotCmd{levels: levels, resp: make(chan *domain.OrderbookSnapshot, 1)}
	if err := e.enqueue(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case snap := <-cmd.resp:
		return snap, nil
	case <-e.done:
		return nil, ErrEngineStopped
	}
}

// RecentTrades returns up to limit trades, newest first.
func (e *Engine) RecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	cmd := tradesCmd{limit: limit, resp: make(chan []*domain.Trade, 1)}
	if err := e.enqueue(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case trades := <-cmd.resp:
		return trades, nil
	case <-e.done:
		return nil, ErrEngineStopped
	}
}

// applySubmit is the matching algorithm: walk the opposite half-book
// best-first, trading at the resting price, until the taker is done
// or prices no longer cross. Limit remainders rest; market remainders
// are rejected, keeping any fills already made.
func (e *Engine) applySubmit(taker *domain.Order) *MatchResult {
	res := &MatchResult{Taker: taker}
	opposite := taker.Side.Opposite()

	for taker.Remaining().IsPositive() {
		maker := e.book.PeekBest(opposite)
		if maker == nil {
			break
		}
		if taker.Type == domain.Limit && !crosses(taker, maker) {
			break
		}

		now := time.Now().UTC()
		qty := decimal.Min(taker.Remaining(), maker.Remaining())
		price := maker.Price

		// Unlink before the fill zeroes the maker's remaining, so the
		// level volume accounting stays exact.
		if qty.Equal(maker.Remaining()) {
			e.book.Remove(maker.ID)
		} else {
			e.book.Reduce(maker.ID, qty)
		}
		maker.Fill(qty, now)
		taker.Fill(qty, now)

		trade := &domain.Trade{
			ID:         uuid.NewString(),
			Instrument: e.instrument,
			BuyOrder:   orderIDOnSide(taker, maker, domain.Buy),
			SellOrder:  orderIDOnSide(taker, maker, domain.Sell),
			Price:      price,
			Quantity:   qty,
			Timestamp:  now,
		}
		e.recordTrade(trade)
		res.Fills = append(res.Fills, Fill{
			Trade: trade,
			Maker: maker.Clone(),
			Taker: taker.Clone(),
		})
	}

	if taker.Remaining().IsPositive() {
		switch taker.Type {
		case domain.Limit:
			e.book.Insert(taker)
		case domain.Market:
			taker.Status = domain.Rejected
			taker.RejectReason = "insufficient liquidity"
			taker.UpdatedAt = time.Now().UTC()
		}
	}

	e.assertUncrossed()
	return res
}

func (e *Engine) applyCancel(orderID string) (*domain.Order, error) {
	o, ok := e.book.Remove(orderID)
	if !ok {
		return nil, ErrOrderNotFound
	}
	o.Status = domain.Cancelled
	o.UpdatedAt = time.Now().UTC()
	return o, nil
}

func (e *Engine) recordTrade(t *domain.Trade) {
	e.recent = append(e.recent, t)
	if len(e.recent) > tradeRingSize {
		e.recent = e.recent[len(e.recent)-tradeRingSize:]
	}
}

func (e *Engine) recentTrades(limit int) []*domain.Trade {
	if limit <= 0 || limit > len(e.recent) {
		limit = len(e.recent)
	}
	out := make([]*domain.Trade, 0, limit)
	for i := len(e.recent) - 1; i >= len(e.recent)-limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

// assertUncrossed guards the no-crossed-book-at-rest invariant after
// every command. A violation is silent corruption, so it aborts.
func (e *Engine) assertUncrossed() {
	bid, okBid := e.book.BestBid()
	ask, okAsk := e.book.BestAsk()
	if okBid && okAsk && bid.GreaterThanOrEqual(ask) {
		logrus.WithField("instrument", e.instrument).
			Panicln("crossed book at rest: bid", bid, "ask", ask)
	}
}

func crosses(taker, maker *domain.Order) bool {
	if taker.Side == domain.Buy {
		return maker.Price.LessThanOrEqual(taker.Price)
	}
	return maker.Price.GreaterThanOrEqual(taker.Price)
}

func orderIDOnSide(a, b *domain.Order, side domain.Side) string {
	if a.Side == side {
		return a.ID
	}
	return b.ID
}

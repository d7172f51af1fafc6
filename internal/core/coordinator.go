package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/port"
)

const maxDecimalPlaces = 8

// Kafka topics.
const (
	topicOrders          = "orders"
	topicTrades          = "trades"
	topicOrderbookUpdate = "orderbook-updates"
	topicOrderEvents     = "order-events"
)

type Config struct {
	SnapshotInterval  time.Duration
	SnapshotDepth     int
	IdempotencyTTL    time.Duration
	PersistMaxRetries uint64
}

func DefaultConfig() Config {
	return Config{
		SnapshotInterval:  60 * time.Second,
		SnapshotDepth:     20,
		IdempotencyTTL:    time.Hour,
		PersistMaxRetries: 5,
	}
}

// SubmitResult is the synchronous answer to a submit: the final order
// state, the trades the match produced and the post-match top of book.
type SubmitResult struct {
	Order  *domain.Order
	Trades []*domain.Trade
	Book   *domain.OrderbookSnapshot
}

// Coordinator is the only component external callers interact with.
// It owns the per-instrument engines, enforces idempotency, drives
// persistence and publishes events. It implements MatchSink, so all
// persistence triggered by a match runs inside the owning engine's
// serialized section.
type Coordinator struct {
	repo   port.Repository
	cache  port.Cache
	events port.EventLog
	cfg    Config

	mu      sync.RWMutex
	engines map[string]*Engine
	runCtx  context.Context
}

func NewCoordinator(repo port.Repository, cache port.Cache, events port.EventLog, cfg Config) *Coordinator {
	if cfg.SnapshotDepth <= 0 {
		cfg.SnapshotDepth = 20
	}
	return &Coordinator{
		repo:    repo,
		cache:   cache,
		events:  events,
		cfg:     cfg,
		engines: make(map[string]*Engine),
	}
}

// Start recovers warm books from the record store and launches the
// snapshot scheduler. Engines live until ctx is done.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runCtx = ctx
	if err := c.recover(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if c.cfg.SnapshotInterval > 0 {
		go newSnapshotScheduler(c, c.cfg.SnapshotInterval).Run(ctx)
	}
	return nil
}

// SubmitOrder validates, resolves idempotency, persists the order
// open, dispatches it to the owning engine and returns the final
// state with trades and the post-match top of book.
func (c *Coordinator) SubmitOrder(ctx context.Context, o *domain.Order) (*SubmitResult, error) {
	if err := validateSubmit(o); err != nil {
		return nil, err
	}

	if o.IdempotencyKey != "" {
		if prior := c.resolveIdempotent(ctx, o.IdempotencyKey); prior != nil {
			return &SubmitResult{Order: prior, Book: c.bookFor(ctx, prior.Instrument)}, nil
		}
	}

	now := time.Now().UTC()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = domain.Open
	o.FilledQuantity = decimal.Zero
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := c.persist(ctx, func() error { return c.repo.SaveOrder(ctx, o) }); err != nil {
		// A unique idempotency_key constraint trip means a concurrent
		// duplicate won the race; hand back the winner.
		if o.IdempotencyKey != "" {
			if prior, lerr := c.repo.LoadOrderByIdempotencyKey(ctx, o.IdempotencyKey); lerr == nil && prior != nil && prior.ID != o.ID {
				return &SubmitResult{Order: prior, Book: c.bookFor(ctx, prior.Instrument)}, nil
			}
		}
		return nil, err
	}

	// The key mapping is written only after the order is durable, so
	// a crash in between merely loses idempotency, never creates an
	// orphan mapping.
	if o.IdempotencyKey != "" {
		if ok, err := c.cache.PutIdempotencyKey(ctx, o.IdempotencyKey, o.ID, c.cfg.IdempotencyTTL); err != nil {
			logrus.WithField("orderId", o.ID).Warnln("idempotency mapping write failed: ", err.Error())
		} else if !ok {
			logrus.WithField("orderId", o.ID).Warnln("idempotency key already mapped, first writer wins")
		}
	}

	c.appendEvent(ctx, o, domain.EventCreated)
	c.publishOrder(ctx, o)

	engine := c.engineFor(o.Instrument)
	res, err := engine.Submit(ctx, o)
	if err != nil {
		return nil, err
	}

	book, serr := engine.Snapshot(ctx, c.cfg.SnapshotDepth)
	if serr != nil {
		book = &domain.OrderbookSnapshot{Instrument: o.Instrument, Timestamp: time.Now().UTC()}
	} else {
		c.publishBook(ctx, book)
	}

	// Clone: a resting remainder stays owned by the engine and may be
	// filled by later commands while the caller still holds this.
	return &SubmitResult{Order: res.Taker.Clone(), Trades: res.Trades(), Book: book}, nil
}

// CancelOrder removes a resting order. Cancelling an already terminal
// order returns it unchanged and produces no events.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID, instrument string) (*domain.Order, error) {
	var stored *domain.Order
	if instrument == "" {
		var err error
		stored, err = c.repo.LoadOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if stored == nil {
			return nil, ErrOrderNotFound
		}
		instrument = stored.Instrument
	}

	if engine, ok := c.engine(instrument); ok {
		o, err := engine.Cancel(ctx, orderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}

	// Not in the warm book: either terminal, or recovered state that
	// never reached an engine. The record store decides.
	if stored == nil {
		var err error
		stored, err = c.repo.LoadOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	if stored == nil {
		return nil, ErrOrderNotFound
	}
	if stored.Terminal() {
		return stored, nil
	}

	stored.Status = domain.Cancelled
	stored.UpdatedAt = time.Now().UTC()
	if err := c.persist(ctx, func() error { return c.repo.SaveOrder(ctx, stored) }); err != nil {
		return nil, err
	}
	c.appendEvent(ctx, stored, domain.EventCancelled)
	c.publishOrder(ctx, stored)
	return stored, nil
}

func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := c.repo.LoadOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// GetBook serves the aggregated book from warm engine state, falling
// back to the last persisted snapshot for cold instruments.
func (c *Coordinator) GetBook(ctx context.Context, instrument string, levels int) (*domain.OrderbookSnapshot, error) {
	if levels <= 0 {
		levels = c.cfg.SnapshotDepth
	}
	if levels > 100 {
		levels = 100
	}
	if engine, ok := c.engine(instrument); ok {
		return engine.Snapshot(ctx, levels)
	}
	snap, err := c.repo.LoadLatestSnapshot(ctx, instrument)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if snap == nil {
		snap = &domain.OrderbookSnapshot{Instrument: instrument, Timestamp: time.Now().UTC()}
	}
	return snap, nil
}

func (c *Coordinator) GetRecentTrades(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if engine, ok := c.engine(instrument); ok {
		trades, err := engine.RecentTrades(ctx, limit)
		if err != nil {
			return nil, err
		}
		if len(trades) > 0 {
			return trades, nil
		}
	}
	trades, err := c.repo.LoadRecentTrades(ctx, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return trades, nil
}

func (c *Coordinator) GetPositions(ctx context.Context, clientID string) ([]*domain.Position, error) {
	positions, err := c.repo.LoadPositions(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return positions, nil
}

// RequestSnapshot captures, persists and publishes a book snapshot on
// demand, outside the periodic schedule.
func (c *Coordinator) RequestSnapshot(ctx context.Context, instrument string) (*domain.OrderbookSnapshot, error) {
	engine, ok := c.engine(instrument)
	if !ok {
		return nil, ErrInstrumentNotFound
	}
	return c.captureSnapshot(ctx, engine)
}

// captureSnapshot runs on the engine queue for consistency, then
// persists and fans out. Persist failures are logged and do not fail
// the capture; snapshots are advisory.
func (c *Coordinator) captureSnapshot(ctx context.Context, engine *Engine) (*domain.OrderbookSnapshot, error) {
	snap, err := engine.Snapshot(ctx, c.cfg.SnapshotDepth)
	if err != nil {
		return nil, err
	}
	if err := c.repo.SaveSnapshot(ctx, snap); err != nil {
		logrus.WithField("instrument", snap.Instrument).Warnln("snapshot persist failed: ", err.Error())
	}
	c.publishBook(ctx, snap)
	return snap, nil
}

// OrderMatched implements MatchSink. It runs on the engine goroutine:
// one transaction per trade covering the trade row, both orders and
// both position deltas, then events and fan-out in match order.
func (c *Coordinator) OrderMatched(ctx context.Context, res *MatchResult) error {
	for _, fill := range res.Fills {
		if err := c.persistFill(ctx, fill); err != nil {
			return err
		}
		c.appendEvent(ctx, fill.Maker, domain.EventTypeFor(fill.Maker.Status))
		c.appendEvent(ctx, fill.Taker, domain.EventTypeFor(fill.Taker.Status))
		c.publishTrade(ctx, fill.Trade)
		c.publishOrder(ctx, fill.Maker)
		c.publishOrder(ctx, fill.Taker)
	}

	if res.Taker.Status == domain.Rejected {
		if err := c.persist(ctx, func() error { return c.repo.SaveOrder(ctx, res.Taker) }); err != nil {
			return err
		}
		c.appendEvent(ctx, res.Taker, domain.EventRejected)
		c.publishOrder(ctx, res.Taker)
	}
	return nil
}

// OrderCancelled implements MatchSink.
func (c *Coordinator) OrderCancelled(ctx context.Context, o *domain.Order) error {
	if err := c.persist(ctx, func() error { return c.repo.SaveOrder(ctx, o) }); err != nil {
		return err
	}
	c.appendEvent(ctx, o, domain.EventCancelled)
	c.publishOrder(ctx, o)
	return nil
}

// persistFill writes one fill atomically. A trade id conflict means a
// replay; the whole unit is skipped so positions never double-count.
func (c *Coordinator) persistFill(ctx context.Context, fill Fill) error {
	return c.persist(ctx, func() error {
		tx, err := c.repo.BeginTx(ctx)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback(ctx)
			}
		}()

		inserted, err := tx.SaveTrade(ctx, fill.Trade)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if err := tx.SaveOrder(ctx, fill.Maker); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, fill.Taker); err != nil {
			return err
		}

		buyer, seller := fill.Maker, fill.Taker
		if fill.Taker.Side == domain.Buy {
			buyer, seller = fill.Taker, fill.Maker
		}
		cost := fill.Trade.Price.Mul(fill.Trade.Quantity)
		if err := tx.ApplyPositionDelta(ctx, buyer.ClientID, fill.Trade.Instrument, fill.Trade.Quantity, cost); err != nil {
			return err
		}
		if err := tx.ApplyPositionDelta(ctx, seller.ClientID, fill.Trade.Instrument, fill.Trade.Quantity.Neg(), cost.Neg()); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		committed = true
		return nil
	})
}

// persist retries a record-store write with bounded exponential
// backoff. Exhaustion surfaces ErrPersistence; it never unwinds an
// already executed match.
func (c *Coordinator) persist(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.PersistMaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (c *Coordinator) resolveIdempotent(ctx context.Context, key string) *domain.Order {
	id, err := c.cache.GetIdempotencyKey(ctx, key)
	if err != nil {
		logrus.Warnln("idempotency cache lookup failed: ", err.Error())
	}
	if id != "" {
		if o, err := c.repo.LoadOrder(ctx, id); err == nil && o != nil {
			return o
		}
	}
	// The cache entry may have been evicted; the key persisted on the
	// order row still resolves.
	if o, err := c.repo.LoadOrderByIdempotencyKey(ctx, key); err == nil && o != nil {
		return o
	}
	return nil
}

func (c *Coordinator) appendEvent(ctx context.Context, o *domain.Order, t domain.EventType) {
	ev := &domain.OrderEvent{
		OrderID:   o.ID,
		Type:      t,
		Order:     *o,
		Timestamp: time.Now().UTC(),
	}
	if err := c.repo.AppendOrderEvent(ctx, ev); err != nil {
		logrus.WithField("orderId", o.ID).Warnln("event append failed: ", err.Error())
	}
	c.logAppend(ctx, topicOrderEvents, o.ID, ev)
}

func (c *Coordinator) publishOrder(ctx context.Context, o *domain.Order) {
	c.logAppend(ctx, topicOrders, o.ID, o)
	c.fanOut(ctx, "orders:"+o.Instrument, o)
}

func (c *Coordinator) publishTrade(ctx context.Context, t *domain.Trade) {
	c.logAppend(ctx, topicTrades, t.ID, t)
	c.fanOut(ctx, "trades:"+t.Instrument, t)
}

func (c *Coordinator) publishBook(ctx context.Context, snap *domain.OrderbookSnapshot) {
	c.logAppend(ctx, topicOrderbookUpdate, snap.Instrument, snap)
	c.fanOut(ctx, "orderbook:"+snap.Instrument, snap)
}

func (c *Coordinator) logAppend(ctx context.Context, topic, key string, payload interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Append(ctx, topic, key, payload); err != nil {
		logrus.WithField("topic", topic).Warnln("event log append failed: ", err.Error())
	}
}

func (c *Coordinator) fanOut(ctx context.Context, channel string, payload interface{}) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Publish(ctx, channel, payload); err != nil {
		logrus.WithField("channel", channel).Warnln("fan-out publish failed: ", err.Error())
	}
}

func (c *Coordinator) bookFor(ctx context.Context, instrument string) *domain.OrderbookSnapshot {
	snap, err := c.GetBook(ctx, instrument, c.cfg.SnapshotDepth)
	if err != nil {
		return &domain.OrderbookSnapshot{Instrument: instrument, Timestamp: time.Now().UTC()}
	}
	return snap
}

func (c *Coordinator) engine(instrument string) (*Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.engines[instrument]
	return e, ok
}

func (c *Coordinator) engineFor(instrument string) *Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.engines[instrument]; ok {
		return e
	}
	e := NewEngine(instrument, c)
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	e.Start(ctx)
	c.engines[instrument] = e
	return e
}

func (c *Coordinator) instruments() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.engines))
	for i := range c.engines {
		out = append(out, i)
	}
	return out
}

func validateSubmit(o *domain.Order) error {
	if o.Instrument == "" {
		return fmt.Errorf("%w: instrument required", ErrValidation)
	}
	if o.ClientID == "" {
		return fmt.Errorf("%w: client_id required", ErrValidation)
	}
	switch o.Side {
	case domain.Buy, domain.Sell:
	default:
		return fmt.Errorf("%w: side %q", ErrValidation, o.Side)
	}
	switch o.Type {
	case domain.Limit, domain.Market:
	default:
		return fmt.Errorf("%w: type %q", ErrValidation, o.Type)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if o.Quantity.Exponent() < -maxDecimalPlaces {
		return fmt.Errorf("%w: quantity precision exceeds %d decimal places", ErrValidation, maxDecimalPlaces)
	}
	if o.Type == domain.Limit {
		if !o.Price.IsPositive() {
			return fmt.Errorf("%w: limit order requires a positive price", ErrValidation)
		}
		if o.Price.Exponent() < -maxDecimalPlaces {
			return fmt.Errorf("%w: price precision exceeds %d decimal places", ErrValidation, maxDecimalPlaces)
		}
	} else if !o.Price.IsZero() {
		return fmt.Errorf("%w: market order must not carry a price", ErrValidation)
	}
	return nil
}

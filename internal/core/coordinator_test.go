package core

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olyamironova/exchange-core/internal/adapter/in_memory"
	"github.com/olyamironova/exchange-core/internal/domain"
)

type coordFixture struct {
	coord *Coordinator
	repo  *in_memory.MemoryRepo
	cache *in_memory.MemoryCache
	log   *in_memory.MemoryLog
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	repo := in_memory.NewMemoryRepo()
	cache := in_memory.NewMemoryCache()
	log := in_memory.NewMemoryLog()

	cfg := DefaultConfig()
	cfg.SnapshotInterval = 0 // no background scheduler in tests
	coord := NewCoordinator(repo, cache, log, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, coord.Start(ctx))

	return &coordFixture{coord: coord, repo: repo, cache: cache, log: log}
}

func submitInput(clientID string, side domain.Side, typ domain.OrderType, price, qty string) *domain.Order {
	o := &domain.Order{
		ClientID:   clientID,
		Instrument: "BTC-USD",
		Side:       side,
		Type:       typ,
		Quantity:   dec(qty),
	}
	if typ == domain.Limit {
		o.Price = dec(price)
	}
	return o
}

func TestSubmitThenGetRoundTrip(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	res, err := f.coord.SubmitOrder(ctx, submitInput("alice", domain.Sell, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)
	require.NotEmpty(t, res.Order.ID)
	assert.Equal(t, domain.Open, res.Order.Status)

	got, err := f.coord.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, got.ID)
	assert.Equal(t, res.Order.Status, got.Status)
	assert.True(t, got.Quantity.Equal(dec("1.0")))
}

func TestValidationRejectsBadInput(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	cases := map[string]*domain.Order{
		"bad side": {ClientID: "a", Instrument: "BTC-USD", Side: "SIDEWAYS", Type: domain.Limit, Price: dec("1"), Quantity: dec("1")},
		"bad type": {ClientID: "a", Instrument: "BTC-USD", Side: domain.Buy, Type: "STOP", Price: dec("1"), Quantity: dec("1")},
		"zero qty": {ClientID: "a", Instrument: "BTC-USD", Side: domain.Buy, Type: domain.Limit, Price: dec("1"), Quantity: decimal.Zero},
		"limit without price": {ClientID: "a", Instrument: "BTC-USD", Side: domain.Buy, Type: domain.Limit, Quantity: dec("1")},
		"market with price":   {ClientID: "a", Instrument: "BTC-USD", Side: domain.Buy, Type: domain.Market, Price: dec("1"), Quantity: dec("1")},
		"price too precise":   {ClientID: "a", Instrument: "BTC-USD", Side: domain.Buy, Type: domain.Limit, Price: dec("0.123456789"), Quantity: dec("1")},
		"qty too precise":     {ClientID: "a", Instrument: "BTC-USD", Side: domain.Buy, Type: domain.Limit, Price: dec("1"), Quantity: dec("0.123456789")},
		"missing instrument":  {ClientID: "a", Side: domain.Buy, Type: domain.Limit, Price: dec("1"), Quantity: dec("1")},
	}

	for name, o := range cases {
		_, err := f.coord.SubmitOrder(ctx, o)
		assert.ErrorIs(t, err, ErrValidation, name)
	}
	assert.Empty(t, f.repo.Events(), "rejected input is never persisted")
}

func TestIdempotentSubmission(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	first := submitInput("alice", domain.Buy, domain.Limit, "70000", "1.0")
	first.IdempotencyKey = "K"
	res1, err := f.coord.SubmitOrder(ctx, first)
	require.NoError(t, err)

	eventsBefore := len(f.repo.Events())

	second := submitInput("alice", domain.Buy, domain.Limit, "70000", "1.0")
	second.IdempotencyKey = "K"
	res2, err := f.coord.SubmitOrder(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, res1.Order.ID, res2.Order.ID)
	assert.Empty(t, res2.Trades)
	assert.Len(t, f.repo.Events(), eventsBefore, "idempotency hit produces no events")
}

func TestIdempotencySurvivesCacheExpiry(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	first := submitInput("alice", domain.Buy, domain.Limit, "70000", "1.0")
	first.IdempotencyKey = "K"
	res1, err := f.coord.SubmitOrder(ctx, first)
	require.NoError(t, err)

	// The key persisted on the order row resolves even after the
	// cache entry is gone.
	f.cache.Expire("K")

	second := submitInput("alice", domain.Buy, domain.Limit, "70000", "1.0")
	second.IdempotencyKey = "K"
	res2, err := f.coord.SubmitOrder(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, res1.Order.ID, res2.Order.ID)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	res, err := f.coord.SubmitOrder(ctx, submitInput("alice", domain.Sell, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)

	first, err := f.coord.CancelOrder(ctx, res.Order.ID, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, first.Status)

	eventsBefore := len(f.repo.Events())

	second, err := f.coord.CancelOrder(ctx, res.Order.ID, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, second.Status)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.repo.Events(), eventsBefore, "second cancel produces no events")
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newCoordFixture(t)
	_, err := f.coord.CancelOrder(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelFallsBackToStorage(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	// An active order in storage for an instrument with no warm
	// engine, as after a partial recovery.
	stale := submitInput("bob", domain.Buy, domain.Limit, "100", "1.0")
	stale.ID = "stale-1"
	stale.Instrument = "ETH-USD"
	stale.Status = domain.Open
	require.NoError(t, f.repo.SaveOrder(ctx, stale))

	cancelled, err := f.coord.CancelOrder(ctx, "stale-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, cancelled.Status)

	got, err := f.coord.GetOrder(ctx, "stale-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, got.Status)
}

func TestMatchPersistsTradesAndPositions(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	_, err := f.coord.SubmitOrder(ctx, submitInput("seller", domain.Sell, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)
	res, err := f.coord.SubmitOrder(ctx, submitInput("buyer", domain.Buy, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	buyerPos, err := f.coord.GetPositions(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, buyerPos, 1)
	assert.True(t, buyerPos[0].NetQuantity.Equal(dec("1.0")))
	assert.True(t, buyerPos[0].TotalCost.Equal(dec("70000")))

	sellerPos, err := f.coord.GetPositions(ctx, "seller")
	require.NoError(t, err)
	require.Len(t, sellerPos, 1)
	assert.True(t, sellerPos[0].NetQuantity.Equal(dec("-1.0")))
	assert.True(t, sellerPos[0].TotalCost.Equal(dec("-70000")))

	// Conservation: nets for the instrument sum to zero.
	assert.True(t, buyerPos[0].NetQuantity.Add(sellerPos[0].NetQuantity).IsZero())

	trades, err := f.coord.GetRecentTrades(ctx, "BTC-USD", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(dec("70000")))
}

func TestMarketRejectionIsPersisted(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	_, err := f.coord.SubmitOrder(ctx, submitInput("seller", domain.Sell, domain.Limit, "70000", "0.5"))
	require.NoError(t, err)

	res, err := f.coord.SubmitOrder(ctx, submitInput("buyer", domain.Buy, domain.Market, "", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, domain.Rejected, res.Order.Status)
	require.Len(t, res.Trades, 1)

	stored, err := f.coord.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Rejected, stored.Status)
	assert.True(t, stored.FilledQuantity.Equal(dec("0.5")))

	var rejected bool
	for _, ev := range f.repo.Events() {
		if ev.OrderID == res.Order.ID && ev.Type == domain.EventRejected {
			rejected = true
		}
	}
	assert.True(t, rejected, "rejection event appended")
}

func TestEventsArriveInLifecycleOrder(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	maker, err := f.coord.SubmitOrder(ctx, submitInput("seller", domain.Sell, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)
	_, err = f.coord.SubmitOrder(ctx, submitInput("b1", domain.Buy, domain.Limit, "70000", "0.4"))
	require.NoError(t, err)
	_, err = f.coord.SubmitOrder(ctx, submitInput("b2", domain.Buy, domain.Limit, "70000", "0.6"))
	require.NoError(t, err)

	var types []domain.EventType
	for _, ev := range f.repo.Events() {
		if ev.OrderID == maker.Order.ID {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []domain.EventType{
		domain.EventCreated,
		domain.EventPartiallyFilled,
		domain.EventFilled,
	}, types)
}

func TestRequestSnapshotPersistsAndPublishes(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	_, err := f.coord.SubmitOrder(ctx, submitInput("alice", domain.Sell, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)

	snap, err := f.coord.RequestSnapshot(ctx, "BTC-USD")
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)

	stored, err := f.repo.LoadLatestSnapshot(ctx, "BTC-USD")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Asks, 1)

	assert.NotEmpty(t, f.cache.Published("orderbook:BTC-USD"))
	assert.NotEmpty(t, f.log.Records(topicOrderbookUpdate))

	_, err = f.coord.RequestSnapshot(ctx, "NO-SUCH")
	assert.ErrorIs(t, err, ErrInstrumentNotFound)
}

func TestRecoveryRebuildsEquivalentBooks(t *testing.T) {
	repo := in_memory.NewMemoryRepo()
	cfg := DefaultConfig()
	cfg.SnapshotInterval = 0

	ctxA, cancelA := context.WithCancel(context.Background())
	a := NewCoordinator(repo, in_memory.NewMemoryCache(), nil, cfg)
	require.NoError(t, a.Start(ctxA))

	ctx := context.Background()
	_, err := a.SubmitOrder(ctx, submitInput("s1", domain.Sell, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)
	_, err = a.SubmitOrder(ctx, submitInput("s2", domain.Sell, domain.Limit, "70000", "0.5"))
	require.NoError(t, err)
	_, err = a.SubmitOrder(ctx, submitInput("s3", domain.Sell, domain.Limit, "70100", "2.0"))
	require.NoError(t, err)
	_, err = a.SubmitOrder(ctx, submitInput("b1", domain.Buy, domain.Limit, "69900", "1.5"))
	require.NoError(t, err)
	// Partial fill so a PARTIALLY_FILLED order must recover with its
	// recorded filled quantity.
	_, err = a.SubmitOrder(ctx, submitInput("b2", domain.Buy, domain.Limit, "70000", "0.4"))
	require.NoError(t, err)

	before, err := a.GetBook(ctx, "BTC-USD", 20)
	require.NoError(t, err)
	cancelA() // shutdown

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	b := NewCoordinator(repo, in_memory.NewMemoryCache(), nil, cfg)
	require.NoError(t, b.Start(ctxB))

	after, err := b.GetBook(ctx, "BTC-USD", 20)
	require.NoError(t, err)

	require.Len(t, after.Asks, len(before.Asks))
	for i := range before.Asks {
		assert.True(t, after.Asks[i].Price.Equal(before.Asks[i].Price))
		assert.True(t, after.Asks[i].Quantity.Equal(before.Asks[i].Quantity))
	}
	require.Len(t, after.Bids, len(before.Bids))
	for i := range before.Bids {
		assert.True(t, after.Bids[i].Price.Equal(before.Bids[i].Price))
		assert.True(t, after.Bids[i].Quantity.Equal(before.Bids[i].Quantity))
	}
}

func TestRecoveryPreservesTimePriority(t *testing.T) {
	repo := in_memory.NewMemoryRepo()
	cfg := DefaultConfig()
	cfg.SnapshotInterval = 0

	ctxA, cancelA := context.WithCancel(context.Background())
	a := NewCoordinator(repo, in_memory.NewMemoryCache(), nil, cfg)
	require.NoError(t, a.Start(ctxA))

	ctx := context.Background()
	first, err := a.SubmitOrder(ctx, submitInput("s1", domain.Sell, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)
	_, err = a.SubmitOrder(ctx, submitInput("s2", domain.Sell, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)
	cancelA()

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	b := NewCoordinator(repo, in_memory.NewMemoryCache(), nil, cfg)
	require.NoError(t, b.Start(ctxB))

	res, err := b.SubmitOrder(ctx, submitInput("buyer", domain.Buy, domain.Limit, "70000", "1.0"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, first.Order.ID, res.Trades[0].SellOrder, "recovered book keeps arrival order")
}

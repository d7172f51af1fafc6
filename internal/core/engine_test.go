package core

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olyamironova/exchange-core/internal/domain"
)

func startEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine("BTC-USD", nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e.Start(ctx)
	return e
}

func newOrder(side domain.Side, typ domain.OrderType, price, qty string) *domain.Order {
	o := &domain.Order{
		ID:         uuid.NewString(),
		ClientID:   "client-" + uuid.NewString()[:8],
		Instrument: "BTC-USD",
		Side:       side,
		Type:       typ,
		Quantity:   dec(qty),
		Status:     domain.Open,
	}
	if typ == domain.Limit {
		o.Price = dec(price)
	}
	return o
}

func submit(t *testing.T, e *Engine, o *domain.Order) *MatchResult {
	t.Helper()
	res, err := e.Submit(context.Background(), o)
	require.NoError(t, err)
	return res
}

func TestFullMatchAtLimitPrice(t *testing.T) {
	e := startEngine(t)

	a := newOrder(domain.Sell, domain.Limit, "70000", "1.0")
	submit(t, e, a)
	b := newOrder(domain.Buy, domain.Limit, "70000", "1.0")
	res := submit(t, e, b)

	require.Len(t, res.Fills, 1)
	trade := res.Fills[0].Trade
	assert.True(t, trade.Price.Equal(dec("70000")))
	assert.True(t, trade.Quantity.Equal(dec("1.0")))
	assert.Equal(t, a.ID, trade.SellOrder)
	assert.Equal(t, b.ID, trade.BuyOrder)

	assert.Equal(t, domain.Filled, a.Status)
	assert.Equal(t, domain.Filled, b.Status)

	snap, err := e.Snapshot(context.Background(), 20)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestPartialFillRestsRemainder(t *testing.T) {
	e := startEngine(t)

	a := newOrder(domain.Sell, domain.Limit, "70000", "0.5")
	submit(t, e, a)
	b := newOrder(domain.Buy, domain.Limit, "70000", "1.0")
	res := submit(t, e, b)

	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Trade.Quantity.Equal(dec("0.5")))
	assert.Equal(t, domain.Filled, a.Status)
	assert.Equal(t, domain.PartiallyFilled, b.Status)
	assert.True(t, b.FilledQuantity.Equal(dec("0.5")))
	assert.True(t, b.Remaining().Equal(dec("0.5")))

	snap, err := e.Snapshot(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(dec("70000")))
	assert.True(t, snap.Bids[0].Quantity.Equal(dec("0.5")))
}

func TestTimePriorityPicksEarliestMaker(t *testing.T) {
	e := startEngine(t)

	a := newOrder(domain.Sell, domain.Limit, "70000", "1.0")
	submit(t, e, a)
	b := newOrder(domain.Sell, domain.Limit, "70000", "1.0")
	submit(t, e, b)
	c := newOrder(domain.Buy, domain.Limit, "70000", "1.0")
	res := submit(t, e, c)

	require.Len(t, res.Fills, 1)
	assert.Equal(t, a.ID, res.Fills[0].Trade.SellOrder, "earliest arrival at the price matches first")
	assert.Equal(t, domain.Filled, a.Status)
	assert.Equal(t, domain.Open, b.Status)
	assert.Equal(t, domain.Filled, c.Status)
}

func TestMarketOrderWalksBestPrices(t *testing.T) {
	e := startEngine(t)

	submit(t, e, newOrder(domain.Sell, domain.Limit, "70000", "0.3"))
	submit(t, e, newOrder(domain.Sell, domain.Limit, "70100", "0.3"))
	submit(t, e, newOrder(domain.Sell, domain.Limit, "70200", "0.3"))

	m := newOrder(domain.Buy, domain.Market, "", "0.7")
	res := submit(t, e, m)

	require.Len(t, res.Fills, 3)
	assert.True(t, res.Fills[0].Trade.Price.Equal(dec("70000")))
	assert.True(t, res.Fills[0].Trade.Quantity.Equal(dec("0.3")))
	assert.True(t, res.Fills[1].Trade.Price.Equal(dec("70100")))
	assert.True(t, res.Fills[1].Trade.Quantity.Equal(dec("0.3")))
	assert.True(t, res.Fills[2].Trade.Price.Equal(dec("70200")))
	assert.True(t, res.Fills[2].Trade.Quantity.Equal(dec("0.1")))
	assert.Equal(t, domain.Filled, m.Status)

	snap, err := e.Snapshot(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(dec("70200")))
	assert.True(t, snap.Asks[0].Quantity.Equal(dec("0.2")))
}

func TestMarketOrderInsufficientLiquidity(t *testing.T) {
	e := startEngine(t)

	submit(t, e, newOrder(domain.Sell, domain.Limit, "70000", "0.5"))

	m := newOrder(domain.Buy, domain.Market, "", "1.0")
	res := submit(t, e, m)

	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Trade.Quantity.Equal(dec("0.5")))
	assert.Equal(t, domain.Rejected, m.Status)
	assert.Equal(t, "insufficient liquidity", m.RejectReason)
	assert.True(t, m.FilledQuantity.Equal(dec("0.5")), "partial fills are retained")

	snap, err := e.Snapshot(context.Background(), 20)
	require.NoError(t, err)
	assert.Empty(t, snap.Asks)
	assert.Empty(t, snap.Bids, "rejected remainder never rests")
}

func TestLimitOrderDoesNotCrossWorsePrice(t *testing.T) {
	e := startEngine(t)

	submit(t, e, newOrder(domain.Sell, domain.Limit, "70100", "1.0"))
	b := newOrder(domain.Buy, domain.Limit, "70000", "1.0")
	res := submit(t, e, b)

	assert.Empty(t, res.Fills)
	assert.Equal(t, domain.Open, b.Status)

	snap, err := e.Snapshot(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	e := startEngine(t)

	o := newOrder(domain.Sell, domain.Limit, "70000", "1.0")
	submit(t, e, o)

	cancelled, err := e.Cancel(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, cancelled.Status)

	snap, serr := e.Snapshot(context.Background(), 20)
	require.NoError(t, serr)
	assert.Empty(t, snap.Asks)

	_, err = e.Cancel(context.Background(), o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestFillSequenceSumsToFilledQuantity(t *testing.T) {
	e := startEngine(t)

	submit(t, e, newOrder(domain.Sell, domain.Limit, "70000", "0.25"))
	submit(t, e, newOrder(domain.Sell, domain.Limit, "70000", "0.25"))
	submit(t, e, newOrder(domain.Sell, domain.Limit, "70100", "0.5"))

	b := newOrder(domain.Buy, domain.Limit, "70100", "1.0")
	res := submit(t, e, b)

	require.Len(t, res.Fills, 3)
	sum := decimal.Zero
	for _, f := range res.Fills {
		sum = sum.Add(f.Trade.Quantity)
	}
	assert.True(t, sum.Equal(b.FilledQuantity))
	assert.True(t, sum.Equal(dec("1.0")))
	assert.Equal(t, domain.Filled, b.Status)
}

func TestLevelVolumeAfterFullFillOfQueueHead(t *testing.T) {
	e := startEngine(t)

	submit(t, e, newOrder(domain.Sell, domain.Limit, "70000", "0.25"))
	submit(t, e, newOrder(domain.Sell, domain.Limit, "70000", "0.25"))
	// Consume exactly the head of the level; the survivor's volume
	// must be all that remains.
	submit(t, e, newOrder(domain.Buy, domain.Limit, "70000", "0.25"))

	snap, err := e.Snapshot(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Quantity.Equal(dec("0.25")))
}

func TestRecentTradesNewestFirst(t *testing.T) {
	e := startEngine(t)

	submit(t, e, newOrder(domain.Sell, domain.Limit, "70000", "0.3"))
	submit(t, e, newOrder(domain.Sell, domain.Limit, "70100", "0.3"))
	submit(t, e, newOrder(domain.Buy, domain.Limit, "70100", "0.6"))

	trades, err := e.RecentTrades(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].Price.Equal(dec("70100")), "newest trade first")
	assert.True(t, trades[1].Price.Equal(dec("70000")))

	one, err := e.RecentTrades(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
}

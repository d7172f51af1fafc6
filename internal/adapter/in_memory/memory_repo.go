package in_memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/port"
)

var _ port.Repository = (*MemoryRepo)(nil)

type storedOrder struct {
	order *domain.Order
	seq   int64
}

// MemoryRepo is a record store for tests and storage-free runs. It
// mirrors the pg adapter's semantics: upsert orders, unique
// idempotency keys, trade-id conflict detection, atomic position
// deltas.
type MemoryRepo struct {
	mu          sync.Mutex
	seq         int64
	orders      map[string]*storedOrder
	byIdemKey   map[string]string
	trades      map[string]*domain.Trade
	tradeOrder  []string
	events      []*domain.OrderEvent
	nextEventID int64
	snapshots   map[string][]*domain.OrderbookSnapshot
	positions   map[string]map[string]*domain.Position
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:    make(map[string]*storedOrder),
		byIdemKey: make(map[string]string),
		trades:    make(map[string]*domain.Trade),
		snapshots: make(map[string][]*domain.OrderbookSnapshot),
		positions: make(map[string]map[string]*domain.Position),
	}
}

func (r *MemoryRepo) saveOrderLocked(o *domain.Order) error {
	if o.IdempotencyKey != "" {
		if prior, ok := r.byIdemKey[o.IdempotencyKey]; ok && prior != o.ID {
			return errors.New("in_memory: duplicate idempotency key")
		}
		r.byIdemKey[o.IdempotencyKey] = o.ID
	}
	if existing, ok := r.orders[o.ID]; ok {
		existing.order = o.Clone()
		return nil
	}
	r.seq++
	r.orders[o.ID] = &storedOrder{order: o.Clone(), seq: r.seq}
	return nil
}

func (r *MemoryRepo) SaveOrder(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveOrderLocked(o)
}

func (r *MemoryRepo) LoadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.orders[orderID]
	if !ok {
		return nil, nil
	}
	return s.order.Clone(), nil
}

func (r *MemoryRepo) LoadOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byIdemKey[key]
	if !ok {
		return nil, nil
	}
	s, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return s.order.Clone(), nil
}

func (r *MemoryRepo) LoadOpenOrders(ctx context.Context, instrument string) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stored []*storedOrder
	for _, s := range r.orders {
		if s.order.Instrument == instrument && s.order.Resting() {
			stored = append(stored, s)
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		if stored[i].order.CreatedAt.Equal(stored[j].order.CreatedAt) {
			return stored[i].seq < stored[j].seq
		}
		return stored[i].order.CreatedAt.Before(stored[j].order.CreatedAt)
	})
	res := make([]*domain.Order, 0, len(stored))
	for _, s := range stored {
		res = append(res, s.order.Clone())
	}
	return res, nil
}

func (r *MemoryRepo) ListOpenOrderInstruments(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var res []string
	for _, s := range r.orders {
		if s.order.Resting() && !seen[s.order.Instrument] {
			seen[s.order.Instrument] = true
			res = append(res, s.order.Instrument)
		}
	}
	sort.Strings(res)
	return res, nil
}

func (r *MemoryRepo) AppendOrderEvent(ctx context.Context, ev *domain.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEventID++
	ev.ID = r.nextEventID
	c := *ev
	r.events = append(r.events, &c)
	return nil
}

// Events returns the append-only event log, for assertions.
func (r *MemoryRepo) Events() []*domain.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.OrderEvent(nil), r.events...)
}

func (r *MemoryRepo) SaveSnapshot(ctx context.Context, snap *domain.OrderbookSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snap.Instrument] = append(r.snapshots[snap.Instrument], snap.DeepCopy())
	return nil
}

func (r *MemoryRepo) LoadLatestSnapshot(ctx context.Context, instrument string) (*domain.OrderbookSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := r.snapshots[instrument]
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[len(snaps)-1].DeepCopy(), nil
}

func (r *MemoryRepo) LoadRecentTrades(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Trade
	for i := len(r.tradeOrder) - 1; i >= 0 && len(res) < limit; i-- {
		t := r.trades[r.tradeOrder[i]]
		if t.Instrument == instrument {
			c := *t
			res = append(res, &c)
		}
	}
	return res, nil
}

func (r *MemoryRepo) LoadPositions(ctx context.Context, clientID string) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Position
	for _, p := range r.positions[clientID] {
		c := *p
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Instrument < res[j].Instrument })
	return res, nil
}

func (r *MemoryRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	return &memTx{repo: r}, nil
}

type stagedDelta struct {
	clientID   string
	instrument string
	qty        decimal.Decimal
	cost       decimal.Decimal
}

// memTx stages writes and applies them atomically on Commit under
// the repo lock.
type memTx struct {
	repo   *MemoryRepo
	trade  *domain.Trade
	orders []*domain.Order
	deltas []stagedDelta
	done   bool
}

func (t *memTx) SaveTrade(ctx context.Context, tr *domain.Trade) (bool, error) {
	t.repo.mu.Lock()
	_, exists := t.repo.trades[tr.ID]
	t.repo.mu.Unlock()
	if exists {
		return false, nil
	}
	c := *tr
	t.trade = &c
	return true, nil
}

func (t *memTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	t.orders = append(t.orders, o.Clone())
	return nil
}

func (t *memTx) ApplyPositionDelta(ctx context.Context, clientID, instrument string, qty, cost decimal.Decimal) error {
	t.deltas = append(t.deltas, stagedDelta{clientID: clientID, instrument: instrument, qty: qty, cost: cost})
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("in_memory: tx already finished")
	}
	t.done = true

	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.trade != nil {
		if _, exists := r.trades[t.trade.ID]; exists {
			return nil
		}
		r.trades[t.trade.ID] = t.trade
		r.tradeOrder = append(r.tradeOrder, t.trade.ID)
	}
	for _, o := range t.orders {
		if err := r.saveOrderLocked(o); err != nil {
			return err
		}
	}
	for _, d := range t.deltas {
		byInstrument, ok := r.positions[d.clientID]
		if !ok {
			byInstrument = make(map[string]*domain.Position)
			r.positions[d.clientID] = byInstrument
		}
		p, ok := byInstrument[d.instrument]
		if !ok {
			p = &domain.Position{
				ClientID:    d.clientID,
				Instrument:  d.instrument,
				NetQuantity: decimal.Zero,
				TotalCost:   decimal.Zero,
			}
			byInstrument[d.instrument] = p
		}
		p.NetQuantity = p.NetQuantity.Add(d.qty)
		p.TotalCost = p.TotalCost.Add(d.cost)
		if t.trade != nil {
			p.LastUpdated = t.trade.Timestamp
		}
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/olyamironova/exchange-core/internal/domain"
)

// Repository is the durable record store. Load methods return
// (nil, nil) when the entity does not exist. The store guarantees
// read-after-write consistency on the keys below.
type Repository interface {
	SaveOrder(ctx context.Context, o *domain.Order) error
	LoadOrder(ctx context.Context, orderID string) (*domain.Order, error)
	LoadOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)

	// LoadOpenOrders returns open and partially filled orders for an
	// instrument ordered by created_at ascending (FIFO for recovery).
	LoadOpenOrders(ctx context.Context, instrument string) ([]*domain.Order, error)
	ListOpenOrderInstruments(ctx context.Context) ([]string, error)

	AppendOrderEvent(ctx context.Context, ev *domain.OrderEvent) error

	SaveSnapshot(ctx context.Context, snap *domain.OrderbookSnapshot) error
	LoadLatestSnapshot(ctx context.Context, instrument string) (*domain.OrderbookSnapshot, error)

	LoadRecentTrades(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error)
	LoadPositions(ctx context.Context, clientID string) ([]*domain.Position, error)

	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is one atomic unit: trade insert, both order updates and both
// position deltas commit or roll back together, which is what makes
// position updates idempotent per trade.
type Tx interface {
	// SaveTrade returns false when the trade id is already persisted,
	// in which case the caller must skip the rest of the unit.
	SaveTrade(ctx context.Context, t *domain.Trade) (bool, error)
	SaveOrder(ctx context.Context, o *domain.Order) error
	ApplyPositionDelta(ctx context.Context, clientID, instrument string, qty, cost decimal.Decimal) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

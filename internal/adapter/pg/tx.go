package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/port"
)

var _ port.Tx = (*pgTx)(nil)

type pgTx struct {
	tx pgx.Tx
}

// SaveTrade inserts with ON CONFLICT DO NOTHING; zero rows affected
// means the trade was already persisted and the unit is a replay.
func (t *pgTx) SaveTrade(ctx context.Context, tr *domain.Trade) (bool, error) {
	if tr == nil {
		return false, errors.New("pg: nil trade")
	}
	tag, err := t.tx.Exec(ctx, `
INSERT INTO trades(trade_id, instrument, buy_order_id, sell_order_id, price, quantity, executed_at)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (trade_id) DO NOTHING
`, tr.ID, tr.Instrument, tr.BuyOrder, tr.SellOrder, tr.Price, tr.Quantity, tr.Timestamp)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("pg: nil order")
	}
	return saveOrder(ctx, t.tx, o)
}

// ApplyPositionDelta adds a signed delta atomically; the upsert keys
// on (client_id, instrument).
func (t *pgTx) ApplyPositionDelta(ctx context.Context, clientID, instrument string, qty, cost decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO client_positions(client_id, instrument, net_quantity, total_cost, last_updated)
VALUES($1,$2,$3,$4,$5)
ON CONFLICT (client_id, instrument) DO UPDATE SET
  net_quantity = client_positions.net_quantity + EXCLUDED.net_quantity,
  total_cost = client_positions.total_cost + EXCLUDED.total_cost,
  last_updated = EXCLUDED.last_updated
`, clientID, instrument, qty, cost, time.Now().UTC())
	return err
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

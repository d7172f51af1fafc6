package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/port"
)

var _ port.Repository = (*Repo)(nil)

// querier is satisfied by both the pool and a transaction, so the
// statement helpers below serve either.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repo struct {
	pool *pgxpool.Pool
}

// NewRepo connects and verifies readiness. Call Close when done.
func NewRepo(ctx context.Context, dsn string) (*Repo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

const saveOrderSQL = `
INSERT INTO orders(order_id, client_id, instrument, side, type, price, quantity, filled_quantity, status, idempotency_key, reject_reason, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (order_id) DO UPDATE SET
  filled_quantity = EXCLUDED.filled_quantity,
  status = EXCLUDED.status,
  reject_reason = EXCLUDED.reject_reason,
  updated_at = EXCLUDED.updated_at
`

func saveOrder(ctx context.Context, q querier, o *domain.Order) error {
	var key *string
	if o.IdempotencyKey != "" {
		key = &o.IdempotencyKey
	}
	_, err := q.Exec(ctx, saveOrderSQL,
		o.ID, o.ClientID, o.Instrument, string(o.Side), string(o.Type),
		o.Price, o.Quantity, o.FilledQuantity, string(o.Status), key,
		o.RejectReason, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *Repo) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("pg: nil order")
	}
	return saveOrder(ctx, r.pool, o)
}

const orderColumns = `order_id, client_id, instrument, side, type, price, quantity, filled_quantity, status, COALESCE(idempotency_key, ''), reject_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var side, typ, status string
	err := row.Scan(&o.ID, &o.ClientID, &o.Instrument, &side, &typ,
		&o.Price, &o.Quantity, &o.FilledQuantity, &status,
		&o.IdempotencyKey, &o.RejectReason, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func (r *Repo) LoadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
}

func (r *Repo) LoadOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key))
}

// LoadOpenOrders returns resting orders ordered by created_at ASC so
// recovery reproduces time priority by plain insertion.
func (r *Repo) LoadOpenOrders(ctx context.Context, instrument string) ([]*domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE instrument = $1 AND status IN ('OPEN','PARTIALLY_FILLED')
ORDER BY created_at ASC
`, instrument)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r *Repo) ListOpenOrderInstruments(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT instrument FROM orders WHERE status IN ('OPEN','PARTIALLY_FILLED')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r *Repo) AppendOrderEvent(ctx context.Context, ev *domain.OrderEvent) error {
	data, err := json.Marshal(ev.Order)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
INSERT INTO order_events(order_id, event_type, event_data, created_at)
VALUES($1,$2,$3,$4)
RETURNING event_id
`, ev.OrderID, string(ev.Type), data, ev.Timestamp).Scan(&ev.ID)
}

func (r *Repo) SaveSnapshot(ctx context.Context, snap *domain.OrderbookSnapshot) error {
	if snap == nil {
		return errors.New("pg: nil snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO order_book_snapshots(instrument, captured_at, snapshot)
VALUES($1,$2,$3)
`, snap.Instrument, snap.Timestamp, data)
	return err
}

func (r *Repo) LoadLatestSnapshot(ctx context.Context, instrument string) (*domain.OrderbookSnapshot, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `
SELECT snapshot FROM order_book_snapshots
WHERE instrument = $1
ORDER BY captured_at DESC
LIMIT 1
`, instrument).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *Repo) LoadRecentTrades(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error) {
	rows, err := r.pool.Query(ctx, `
SELECT trade_id, instrument, buy_order_id, sell_order_id, price, quantity, executed_at
FROM trades
WHERE instrument = $1
ORDER BY executed_at DESC
LIMIT $2
`, instrument, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.Instrument, &t.BuyOrder, &t.SellOrder,
			&t.Price, &t.Quantity, &t.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, &t)
	}
	return res, rows.Err()
}

func (r *Repo) LoadPositions(ctx context.Context, clientID string) ([]*domain.Position, error) {
	rows, err := r.pool.Query(ctx, `
SELECT client_id, instrument, net_quantity, total_cost, last_updated
FROM client_positions
WHERE client_id = $1
ORDER BY instrument
`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.ClientID, &p.Instrument, &p.NetQuantity,
			&p.TotalCost, &p.LastUpdated); err != nil {
			return nil, err
		}
		res = append(res, &p)
	}
	return res, rows.Err()
}

func (r *Repo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

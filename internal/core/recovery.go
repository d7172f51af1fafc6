package core

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// recover rebuilds warm books from the orders table alone. Trades
// were persisted atomically with the matching filled_quantity
// updates, so replaying trades is unnecessary: the post-state is
// already on the orders. Snapshots and the event log are derived data
// and are not consulted.
func (c *Coordinator) recover(ctx context.Context) error {
	instruments, err := c.repo.ListOpenOrderInstruments(ctx)
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}

	for _, instrument := range instruments {
		orders, err := c.repo.LoadOpenOrders(ctx, instrument)
		if err != nil {
			return fmt.Errorf("load open orders for %s: %w", instrument, err)
		}

		engine := NewEngine(instrument, c)
		// Orders arrive ordered by created_at ascending, so plain
		// insertion reproduces time priority.
		for _, o := range orders {
			engine.Restore(o)
		}
		engine.Start(ctx)

		c.mu.Lock()
		c.engines[instrument] = engine
		c.mu.Unlock()

		logrus.WithField("instrument", instrument).
			Infoln("recovered order book with ", len(orders), " resting orders")
	}
	return nil
}

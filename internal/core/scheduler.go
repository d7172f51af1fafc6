package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// snapshotScheduler periodically captures every active instrument's
// book. Captures run as commands on each engine's queue, so they are
// serialized with matching and never observe mid-match state.
type snapshotScheduler struct {
	coord    *Coordinator
	interval time.Duration
}

func newSnapshotScheduler(c *Coordinator, interval time.Duration) *snapshotScheduler {
	return &snapshotScheduler{coord: c, interval: interval}
}

func (s *snapshotScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.captureAll(ctx)
		}
	}
}

func (s *snapshotScheduler) captureAll(ctx context.Context) {
	for _, instrument := range s.coord.instruments() {
		engine, ok := s.coord.engine(instrument)
		if !ok {
			continue
		}
		if _, err := s.coord.captureSnapshot(ctx, engine); err != nil {
			logrus.WithField("instrument", instrument).
				Warnln("scheduled snapshot failed: ", err.Error())
		}
	}
}

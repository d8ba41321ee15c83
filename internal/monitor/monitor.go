// Package monitor implements the deadline sweep that flags soon-to-close
// grants and publishes urgency alerts.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/alert"
	"github.com/adc-ops/grantwatch/internal/grant"
	"github.com/adc-ops/grantwatch/internal/metrics"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// DeadlineMonitor periodically scans for records whose deadline has entered
// the urgency window and fires a single urgency alert per record.
type DeadlineMonitor struct {
	store     grant.Store
	publisher alert.Publisher
	clock     Clock
	logger    *zap.Logger
	window    time.Duration
}

// New builds a DeadlineMonitor.
func New(store grant.Store, publisher alert.Publisher, clock Clock, logger *zap.Logger, window time.Duration) *DeadlineMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadlineMonitor{
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		window:    window,
	}
}

// Sweep flags every due record and publishes its urgency alert. The flag is
// persisted before the alert goes out, so a crash in between loses the alert
// rather than duplicating it on the next sweep. Returns the number of records
// flagged.
func (m *DeadlineMonitor) Sweep(ctx context.Context) (int, error) {
	start := m.clock.Now()
	due, err := m.store.DueForUrgency(ctx, start, m.window)
	if err != nil {
		metrics.ObserveSweep(m.clock.Now().Sub(start), 0)
		return 0, err
	}

	flagged := 0
	for _, g := range due {
		if err := m.store.MarkUrgencyAlerted(ctx, g.ID); err != nil {
			m.logger.Error("failed to flag urgent grant",
				zap.String("grant_id", g.ID),
				zap.Error(err),
			)
			continue
		}
		flagged++

		days, _ := g.DaysUntilDeadline(start)
		m.publisher.Publish(alert.Urgent(g, days, start))
		m.logger.Info("grant deadline entered urgency window",
			zap.String("grant_id", g.ID),
			zap.String("title", g.Title),
			zap.Int("days_remaining", days),
		)
	}

	metrics.ObserveSweep(m.clock.Now().Sub(start), flagged)
	return flagged, nil
}

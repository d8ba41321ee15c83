// Package scheduler drives the ingestion cadences and the deadline sweep on
// cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/ingest"
	"github.com/adc-ops/grantwatch/internal/monitor"
)

// Default timeout applied to every scheduled run.
const runTimeout = 10 * time.Minute

// Scheduler owns the cron runner and the job registrations. Each cadence
// group gets its own entry so a slow regional scrape never delays the broad
// daily run.
type Scheduler struct {
	cron     *cron.Cron
	pipeline *ingest.Pipeline
	monitor  *monitor.DeadlineMonitor
	logger   *zap.Logger
	base     context.Context
}

// New builds a Scheduler and registers one cron entry per cadence group plus
// the deadline sweep. Groups without any configured source are skipped.
func New(
	pipeline *ingest.Pipeline,
	deadlineMonitor *monitor.DeadlineMonitor,
	groups map[string]string,
	sweepSpec string,
	logger *zap.Logger,
) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:     cron.New(),
		pipeline: pipeline,
		monitor:  deadlineMonitor,
		logger:   logger,
		base:     context.Background(),
	}

	// Deterministic registration order for logs.
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !pipeline.HasGroup(name) {
			logger.Warn("cadence group has no sources, skipping schedule",
				zap.String("group", name),
			)
			continue
		}
		group := name
		if _, err := s.cron.AddFunc(groups[name], func() { s.runGroup(group) }); err != nil {
			return nil, fmt.Errorf("schedule group %q: %w", name, err)
		}
		logger.Info("scheduled ingestion group",
			zap.String("group", name),
			zap.String("spec", groups[name]),
		)
	}

	if _, err := s.cron.AddFunc(sweepSpec, s.runSweep); err != nil {
		return nil, fmt.Errorf("schedule deadline sweep: %w", err)
	}
	logger.Info("scheduled deadline sweep", zap.String("spec", sweepSpec))

	return s, nil
}

// Start begins firing cron entries in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to finish or the context
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunAllAsync triggers a full ingestion pass in the background, for the
// manual API trigger. The result lands in the logs.
func (s *Scheduler) RunAllAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(s.base, runTimeout)
		defer cancel()
		s.pipeline.RunAll(ctx)
	}()
}

// RunGroupAsync triggers one cadence group in the background.
func (s *Scheduler) RunGroupAsync(group string) {
	go s.runGroup(group)
}

// HasGroup reports whether any configured source belongs to the group.
func (s *Scheduler) HasGroup(group string) bool {
	return s.pipeline.HasGroup(group)
}

func (s *Scheduler) runGroup(group string) {
	ctx, cancel := context.WithTimeout(s.base, runTimeout)
	defer cancel()
	s.pipeline.RunGroup(ctx, group)
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(s.base, runTimeout)
	defer cancel()
	if _, err := s.monitor.Sweep(ctx); err != nil {
		s.logger.Error("deadline sweep failed", zap.Error(err))
	}
}

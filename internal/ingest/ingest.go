// Package ingest runs the discovery pipeline: fetch candidates from source
// adapters, filter and score them, persist via upsert, and emit discovery
// alerts for newly created high-relevance records.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/alert"
	"github.com/adc-ops/grantwatch/internal/grant"
	"github.com/adc-ops/grantwatch/internal/metrics"
	"github.com/adc-ops/grantwatch/internal/scoring"
	"github.com/adc-ops/grantwatch/internal/source"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Pipeline wires sources, scoring, storage, and alerting together.
type Pipeline struct {
	adapters  []source.Adapter
	scorer    *scoring.Scorer
	store     grant.Store
	publisher alert.Publisher
	clock     Clock
	logger    *zap.Logger
	// threshold is the minimum relevance score for a discovery alert.
	threshold int
}

// Result summarizes one pipeline run for logs and the manual trigger API.
type Result struct {
	Sources   int `json:"sources"`
	Fetched   int `json:"fetched"`
	Admitted  int `json:"admitted"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
	Alerted   int `json:"alerted"`
	SourceErr int `json:"source_errors"`
}

func (r *Result) merge(other Result) {
	r.Sources += other.Sources
	r.Fetched += other.Fetched
	r.Admitted += other.Admitted
	r.Created += other.Created
	r.Updated += other.Updated
	r.Failed += other.Failed
	r.Alerted += other.Alerted
	r.SourceErr += other.SourceErr
}

// New builds a Pipeline.
func New(
	adapters []source.Adapter,
	scorer *scoring.Scorer,
	store grant.Store,
	publisher alert.Publisher,
	clock Clock,
	logger *zap.Logger,
	threshold int,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		adapters:  adapters,
		scorer:    scorer,
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		threshold: threshold,
	}
}

// RunAll processes every configured source in configuration order.
func (p *Pipeline) RunAll(ctx context.Context) Result {
	var total Result
	for _, a := range p.adapters {
		total.merge(p.runAdapter(ctx, a))
	}
	p.logRun("full ingestion run finished", total)
	return total
}

// RunGroup processes only the sources in one cadence group, in configuration
// order. Unknown groups yield an empty result.
func (p *Pipeline) RunGroup(ctx context.Context, group string) Result {
	var total Result
	for _, a := range p.adapters {
		if a.Group() != group {
			continue
		}
		total.merge(p.runAdapter(ctx, a))
	}
	p.logRun("group ingestion run finished", total, zap.String("group", group))
	return total
}

// HasGroup reports whether any configured source belongs to the group.
func (p *Pipeline) HasGroup(group string) bool {
	for _, a := range p.adapters {
		if a.Group() == group {
			return true
		}
	}
	return false
}

// runAdapter fetches and processes one source. Fetch failures are absorbed
// here so one broken source never interrupts the rest of the run.
func (p *Pipeline) runAdapter(ctx context.Context, a source.Adapter) Result {
	result := Result{Sources: 1}

	start := p.clock.Now()
	candidates, err := a.Fetch(ctx)
	metrics.ObserveFetch(a.Name(), err != nil, p.clock.Now().Sub(start))
	if err != nil {
		p.logger.Warn("source fetch failed, skipping",
			zap.String("source", a.Name()),
			zap.Error(err),
		)
		result.SourceErr++
		return result
	}
	result.Fetched = len(candidates)

	for i := range candidates {
		p.processCandidate(ctx, a.Name(), &candidates[i], &result)
	}
	return result
}

func (p *Pipeline) processCandidate(ctx context.Context, src string, c *grant.Candidate, result *Result) {
	admitted := p.scorer.Admit(c.Text())
	metrics.ObserveCandidate(src, admitted)
	if !admitted {
		return
	}
	result.Admitted++

	c.TruncateDescription()
	c.Keywords = p.scorer.Keywords(c.Text())
	base := p.scorer.Score(c.Text())
	c.RelevanceScore = scoring.Composite(base, c.Scope, c.Deadline, c.MaxAmount, p.clock.Now())

	persisted, outcome, err := p.upsert(ctx, *c)
	if err != nil {
		p.logger.Error("candidate upsert failed",
			zap.String("source", src),
			zap.String("title", c.Title),
			zap.Error(err),
		)
		metrics.ObserveUpsert(src, "failed")
		result.Failed++
		return
	}

	switch outcome {
	case grant.OutcomeCreated:
		metrics.ObserveUpsert(src, "created")
		result.Created++
		if persisted.RelevanceScore >= p.threshold {
			p.publisher.Publish(alert.Discovered(persisted, p.clock.Now()))
			result.Alerted++
		}
	case grant.OutcomeUpdated:
		metrics.ObserveUpsert(src, "updated")
		result.Updated++
	}
}

// upsert retries exactly once on a natural-key conflict. A conflict means a
// concurrent writer created the record between our lookup and insert; the
// retry lands on the update path.
func (p *Pipeline) upsert(ctx context.Context, c grant.Candidate) (grant.Grant, grant.UpsertOutcome, error) {
	persisted, outcome, err := p.store.Upsert(ctx, c)
	if errors.Is(err, grant.ErrConflict) {
		persisted, outcome, err = p.store.Upsert(ctx, c)
	}
	return persisted, outcome, err
}

func (p *Pipeline) logRun(msg string, r Result, fields ...zap.Field) {
	fields = append(fields,
		zap.Int("sources", r.Sources),
		zap.Int("fetched", r.Fetched),
		zap.Int("admitted", r.Admitted),
		zap.Int("created", r.Created),
		zap.Int("updated", r.Updated),
		zap.Int("failed", r.Failed),
		zap.Int("alerted", r.Alerted),
		zap.Int("source_errors", r.SourceErr),
	)
	p.logger.Info(msg, fields...)
}

// Package source implements the adapters that pull funding-opportunity
// candidates from configured external sources. Three adapter kinds cover the
// source landscape: structured JSON APIs, heuristic HTML scraping, and RSS
// feeds. Adapters fail soft: a broken source yields an error for the caller
// to log, never a panic, and never blocks other sources.
package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/config"
	"github.com/adc-ops/grantwatch/internal/grant"
)

// Adapter pulls candidates from one external source.
type Adapter interface {
	// Name is the configured source identifier, used in logs and metrics.
	Name() string
	// Scope is the territorial scope stamped onto every candidate.
	Scope() grant.Scope
	// Group is the cadence group this source belongs to.
	Group() string
	// Fetch retrieves and parses the source's current listings. The returned
	// slice may be empty; callers treat an error as a skipped source.
	Fetch(ctx context.Context) ([]grant.Candidate, error)
}

// Clock abstracts time for deadline defaulting in adapters.
type Clock interface {
	Now() time.Time
}

// Options carries shared adapter dependencies.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Clock     Clock
	Logger    *zap.Logger
	// InternationalKeywords pre-filter listings from English-language
	// structured sources before the Spanish scoring pass sees them.
	InternationalKeywords []string
}

// Build constructs the adapter for one configured source.
func Build(cfg config.SourceConfig, opts Options) (Adapter, error) {
	scope, ok := grant.ParseScope(cfg.Scope)
	if !ok {
		return nil, fmt.Errorf("source %q: unknown scope %q", cfg.Name, cfg.Scope)
	}
	base := baseAdapter{
		name:        cfg.Name,
		issuingBody: cfg.IssuingBody,
		scope:       scope,
		group:       cfg.Group,
		url:         cfg.URL,
		opts:        opts,
	}
	switch cfg.Kind {
	case config.KindStructured:
		return newStructuredAdapter(base), nil
	case config.KindHeuristic:
		return newHeuristicAdapter(base), nil
	case config.KindFeed:
		return newFeedAdapter(base), nil
	default:
		return nil, fmt.Errorf("source %q: unknown kind %q", cfg.Name, cfg.Kind)
	}
}

// BuildAll constructs adapters for every configured source.
func BuildAll(cfgs []config.SourceConfig, opts Options) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		a, err := Build(cfg, opts)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

type baseAdapter struct {
	name        string
	issuingBody string
	scope       grant.Scope
	group       string
	url         string
	opts        Options
}

func (b baseAdapter) Name() string       { return b.name }
func (b baseAdapter) Scope() grant.Scope { return b.scope }
func (b baseAdapter) Group() string      { return b.group }

func (b baseAdapter) timeout() time.Duration {
	if b.opts.Timeout > 0 {
		return b.opts.Timeout
	}
	return 30 * time.Second
}

func (b baseAdapter) now() time.Time {
	if b.opts.Clock != nil {
		return b.opts.Clock.Now()
	}
	return time.Now().UTC()
}

func (b baseAdapter) logger() *zap.Logger {
	if b.opts.Logger != nil {
		return b.opts.Logger
	}
	return zap.NewNop()
}

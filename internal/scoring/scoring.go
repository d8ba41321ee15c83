// Package scoring implements the relevance scorer: a pure, deterministic
// mapping from listing text to an integer score, plus the hard admission
// filter and the scope-aware composite used for prioritization.
package scoring

import (
	"strings"
	"time"

	"github.com/adc-ops/grantwatch/internal/grant"
)

// Points per keyword hit and the clamp ceiling.
const (
	domainKeywordPoints    = 10
	secondaryKeywordPoints = 2
	maxScore               = 100
)

// Scorer holds the configured keyword sets. Keywords are matched by
// substring containment on lower-cased text, not tokenization, so
// overlapping keywords each contribute independently.
type Scorer struct {
	domain    []string
	secondary []string
}

// New builds a Scorer. Keywords are normalized to lower case once here so
// every Score call stays allocation-light.
func New(domain, secondary []string) *Scorer {
	return &Scorer{
		domain:    lowerAll(domain),
		secondary: lowerAll(secondary),
	}
}

// Admit reports whether the text contains at least one domain keyword. This
// is the hard filter applied before a candidate is scored or persisted.
func (s *Scorer) Admit(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range s.domain {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Score computes the relevance score for the text: +10 per domain keyword
// present, +2 per secondary keyword, clamped to [0,100].
func (s *Scorer) Score(text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range s.domain {
		if strings.Contains(lower, kw) {
			score += domainKeywordPoints
		}
	}
	for _, kw := range s.secondary {
		if strings.Contains(lower, kw) {
			score += secondaryKeywordPoints
		}
	}
	return clamp(score)
}

// Keywords returns the domain keywords present in the text, in configured
// order. These are stored on the record for display and search.
func (s *Scorer) Keywords(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range s.domain {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// Scope bonuses for the composite score. Broader reach ranks higher;
// private foundations sit alongside provincial calls.
var scopeBonus = map[grant.Scope]int{
	grant.ScopeInternational: 25,
	grant.ScopeNational:      20,
	grant.ScopeRegional:      15,
	grant.ScopeProvincial:    10,
	grant.ScopeLocal:         5,
	grant.ScopePrivate:       10,
}

// Composite layers prioritization bonuses on top of a base relevance score:
// a fixed scope bonus, a time-pressure bonus that grows as the deadline
// nears, and an amount bonus for well-funded calls. Used for deadline-monitor
// prioritization and sort order, never for the admission filter. The result
// is clamped to [0,100].
func Composite(base int, scope grant.Scope, deadline *time.Time, maxAmount *float64, now time.Time) int {
	score := base + scopeBonus[scope]

	if deadline != nil {
		days := int(deadline.Sub(now).Hours() / 24)
		switch {
		case days >= 0 && days < 15:
			score += 15
		case days >= 15 && days < 30:
			score += 10
		}
	}

	if maxAmount != nil {
		switch {
		case *maxAmount > 100_000:
			score += 20
		case *maxAmount > 50_000:
			score += 15
		case *maxAmount > 20_000:
			score += 10
		}
	}

	return clamp(score)
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

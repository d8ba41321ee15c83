// Package grant defines the core types and store contracts for the grant
// discovery engine: the canonical funding-opportunity record, the candidate
// shape produced by source adapters, and the persistence interface.
package grant

import (
	"strings"
	"time"
)

// Scope classifies the territorial reach of the issuing body.
type Scope string

// Supported scopes, broadest to narrowest plus private foundations.
const (
	ScopeInternational Scope = "international"
	ScopeNational      Scope = "national"
	ScopeRegional      Scope = "regional"
	ScopeProvincial    Scope = "provincial"
	ScopeLocal         Scope = "local"
	ScopePrivate       Scope = "private"
)

// ParseScope validates a scope string from config or query parameters.
func ParseScope(s string) (Scope, bool) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeInternational:
		return ScopeInternational, true
	case ScopeNational:
		return ScopeNational, true
	case ScopeRegional:
		return ScopeRegional, true
	case ScopeProvincial:
		return ScopeProvincial, true
	case ScopeLocal:
		return ScopeLocal, true
	case ScopePrivate:
		return ScopePrivate, true
	default:
		return "", false
	}
}

// Status tracks the lifecycle of a call for applications.
type Status string

// Supported statuses. New records always start as StatusOpen.
const (
	StatusOpen            Status = "open"
	StatusClosed          Status = "closed"
	StatusUnderEvaluation Status = "under_evaluation"
	StatusGranted         Status = "granted"
	StatusDenied          Status = "denied"
)

// ParseStatus validates a status string from query parameters.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOpen:
		return StatusOpen, true
	case StatusClosed:
		return StatusClosed, true
	case StatusUnderEvaluation:
		return StatusUnderEvaluation, true
	case StatusGranted:
		return StatusGranted, true
	case StatusDenied:
		return StatusDenied, true
	default:
		return "", false
	}
}

// MaxDescriptionLen bounds the description stored for every record.
const MaxDescriptionLen = 500

// Grant is the canonical persisted record for one funding opportunity.
type Grant struct {
	// ID is assigned by the store at first persistence and never changes.
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	IssuingBody string     `json:"issuing_body"`
	Description string     `json:"description"`
	SourceURL   string     `json:"source_url"`
	Scope       Scope      `json:"scope"`
	MaxAmount   *float64   `json:"max_amount,omitempty"`
	Published   *time.Time `json:"published_date,omitempty"`
	Deadline    *time.Time `json:"deadline_date,omitempty"`
	Status      Status     `json:"status"`
	// Keywords holds the matched domain keywords, derived at ingestion.
	Keywords []string `json:"keywords"`
	// RelevanceScore is recomputed on every ingestion pass, clamped to [0,100].
	RelevanceScore int `json:"relevance_score"`
	// Applied is owned by the staff-facing CRUD collaborator; ingestion
	// never writes it.
	Applied bool `json:"applied"`
	// UrgencyAlerted flips false to true exactly once, by the deadline
	// monitor, and is never reset.
	UrgencyAlerted bool      `json:"urgency_alerted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NaturalKey is the deduplication identity. Sources publish no stable
// external IDs, so (title, issuing body) is the only usable key.
type NaturalKey struct {
	Title       string
	IssuingBody string
}

// Key returns the record's natural key.
func (g Grant) Key() NaturalKey {
	return NaturalKey{Title: g.Title, IssuingBody: g.IssuingBody}
}

// DaysUntilDeadline reports whole days remaining before the deadline,
// rounded up. Returns 0 and false when no deadline is set.
func (g Grant) DaysUntilDeadline(now time.Time) (int, bool) {
	if g.Deadline == nil {
		return 0, false
	}
	diff := g.Deadline.Sub(now)
	days := int((diff + 24*time.Hour - time.Nanosecond) / (24 * time.Hour))
	return days, true
}

// Candidate is a not-yet-persisted record produced by a source adapter,
// pending relevance filtering and deduplication.
type Candidate struct {
	Title       string
	IssuingBody string
	Description string
	SourceURL   string
	Scope       Scope
	MaxAmount   *float64
	Published   *time.Time
	Deadline    *time.Time
	// DeadlineConfident is false when the deadline is the provisional
	// default rather than a value extracted from the listing.
	DeadlineConfident bool
	Keywords          []string
	RelevanceScore    int
}

// Key returns the candidate's natural key.
func (c Candidate) Key() NaturalKey {
	return NaturalKey{Title: c.Title, IssuingBody: c.IssuingBody}
}

// TruncateDescription bounds the description at ingestion. The cut is
// rune-based so accented text is never split mid-character.
func (c *Candidate) TruncateDescription() {
	runes := []rune(c.Description)
	if len(runes) > MaxDescriptionLen {
		c.Description = string(runes[:MaxDescriptionLen])
	}
}

// Text returns the concatenated title and description used for keyword
// matching and scoring.
func (c Candidate) Text() string {
	return c.Title + " " + c.Description
}

package grant

import (
	"context"
	"errors"
	"time"
)

// Store errors shared by every implementation.
var (
	// ErrNotFound is returned when no record matches the requested id.
	ErrNotFound = errors.New("grant not found")
	// ErrConflict signals a concurrent write anomaly on the same natural
	// key. Callers retry once with a fresh pass before giving up.
	ErrConflict = errors.New("concurrent upsert conflict")
)

// UpsertOutcome tells the caller whether an upsert inserted a new record or
// refreshed an existing one. Only created records trigger discovery alerts.
type UpsertOutcome string

// Upsert outcomes.
const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Scope  Scope
	Status Status
	// Search is a case-insensitive substring match over title, description
	// and issuing body.
	Search string
	Limit  int
	Offset int
}

// Store is the persistence contract for grant records. Implementations must
// make Upsert all-or-nothing per natural key; the engine holds no locks of
// its own.
type Store interface {
	// Upsert looks the candidate up by natural key. No match: insert with
	// a fresh id, status open, urgency flag clear. Match: overwrite every
	// ingestion-owned field and recompute the score, preserving Applied
	// and UrgencyAlerted, which belong to other actors. Repeated ingestion
	// of an unchanged listing is idempotent in effect.
	Upsert(ctx context.Context, c Candidate) (Grant, UpsertOutcome, error)

	// Get fetches one record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Grant, error)

	// List returns records matching the filter ordered by relevance
	// descending, then deadline ascending with open-ended calls last.
	List(ctx context.Context, f Filter) ([]Grant, error)

	// DueForUrgency selects records whose deadline falls within the window
	// from now and that are open, not applied for, and not yet alerted.
	DueForUrgency(ctx context.Context, now time.Time, window time.Duration) ([]Grant, error)

	// MarkUrgencyAlerted flips the urgency flag. The flip is monotonic;
	// marking an already-flagged record is a no-op.
	MarkUrgencyAlerted(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}

// Clock abstracts time.Now so scoring and the deadline monitor are testable.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints record identifiers at first persistence.
type IDGenerator interface {
	NewID() (string, error)
}

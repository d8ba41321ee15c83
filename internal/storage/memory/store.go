// Package memory provides a map-backed grant store guarded by a mutex.
// It backs tests and single-process deployments that need no durability.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adc-ops/grantwatch/internal/grant"
)

// Store implements grant.Store with an in-memory map keyed by record id.
type Store struct {
	mu     sync.Mutex
	grants map[string]grant.Grant
	byKey  map[grant.NaturalKey]string
	ids    grant.IDGenerator
	clock  grant.Clock
}

// New builds an empty Store.
func New(ids grant.IDGenerator, clock grant.Clock) *Store {
	return &Store{
		grants: make(map[string]grant.Grant),
		byKey:  make(map[grant.NaturalKey]string),
		ids:    ids,
		clock:  clock,
	}
}

// Upsert inserts or refreshes the record for the candidate's natural key.
func (s *Store) Upsert(_ context.Context, c grant.Candidate) (grant.Grant, grant.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if id, ok := s.byKey[c.Key()]; ok {
		existing := s.grants[id]
		updated := applyCandidate(existing, c, now)
		s.grants[id] = updated
		return updated, grant.OutcomeUpdated, nil
	}

	id, err := s.ids.NewID()
	if err != nil {
		return grant.Grant{}, "", err
	}
	created := grant.Grant{
		ID:             id,
		Title:          c.Title,
		IssuingBody:    c.IssuingBody,
		Description:    c.Description,
		SourceURL:      c.SourceURL,
		Scope:          c.Scope,
		MaxAmount:      c.MaxAmount,
		Published:      c.Published,
		Deadline:       c.Deadline,
		Status:         grant.StatusOpen,
		Keywords:       c.Keywords,
		RelevanceScore: c.RelevanceScore,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.grants[id] = created
	s.byKey[c.Key()] = id
	return created, grant.OutcomeCreated, nil
}

// applyCandidate overwrites the ingestion-owned fields of an existing record.
// Identity, lifecycle, and staff-owned fields survive: ID, CreatedAt, Status,
// Applied, UrgencyAlerted. A provisional deadline never replaces a real one.
func applyCandidate(existing grant.Grant, c grant.Candidate, now time.Time) grant.Grant {
	existing.Description = c.Description
	existing.SourceURL = c.SourceURL
	existing.Scope = c.Scope
	existing.MaxAmount = c.MaxAmount
	existing.Published = c.Published
	existing.Keywords = c.Keywords
	existing.RelevanceScore = c.RelevanceScore
	if c.DeadlineConfident || existing.Deadline == nil {
		existing.Deadline = c.Deadline
	}
	existing.UpdatedAt = now
	return existing
}

// Get fetches one record by id.
func (s *Store) Get(_ context.Context, id string) (grant.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return grant.Grant{}, grant.ErrNotFound
	}
	return g, nil
}

// List returns matching records ordered by relevance descending, then
// deadline ascending with open-ended calls last.
func (s *Store) List(_ context.Context, f grant.Filter) ([]grant.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]grant.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		if matches(g, f) {
			matched = append(matched, g)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		switch {
		case a.Deadline == nil && b.Deadline == nil:
			return a.ID < b.ID
		case a.Deadline == nil:
			return false
		case b.Deadline == nil:
			return true
		case !a.Deadline.Equal(*b.Deadline):
			return a.Deadline.Before(*b.Deadline)
		default:
			return a.ID < b.ID
		}
	})

	return paginate(matched, f.Limit, f.Offset), nil
}

func matches(g grant.Grant, f grant.Filter) bool {
	if f.Scope != "" && g.Scope != f.Scope {
		return false
	}
	if f.Status != "" && g.Status != f.Status {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		haystack := strings.ToLower(g.Title + " " + g.Description + " " + g.IssuingBody)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

func paginate(in []grant.Grant, limit, offset int) []grant.Grant {
	if offset >= len(in) {
		return []grant.Grant{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// DueForUrgency selects open, unapplied, unalerted records whose deadline
// falls inside the window.
func (s *Store) DueForUrgency(_ context.Context, now time.Time, window time.Duration) ([]grant.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(window)
	var due []grant.Grant
	for _, g := range s.grants {
		if g.Deadline == nil || g.UrgencyAlerted || g.Applied || g.Status != grant.StatusOpen {
			continue
		}
		if g.Deadline.After(now) && !g.Deadline.After(cutoff) {
			due = append(due, g)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Deadline.Before(*due[j].Deadline)
	})
	return due, nil
}

// MarkUrgencyAlerted flips the urgency flag for the record.
func (s *Store) MarkUrgencyAlerted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return grant.ErrNotFound
	}
	if g.UrgencyAlerted {
		return nil
	}
	g.UrgencyAlerted = true
	g.UpdatedAt = s.clock.Now()
	s.grants[id] = g
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

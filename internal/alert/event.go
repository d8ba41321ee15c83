// Package alert defines the event structures published when grants are
// discovered or approach their deadline, and the hub that fans them out.
package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/adc-ops/grantwatch/internal/grant"
)

// Kind denotes the type of alert represented by an Event.
type Kind string

// Supported alert kinds.
const (
	// KindDiscovered fires once when a new, sufficiently relevant record
	// is first persisted. Updates never re-fire it.
	KindDiscovered Kind = "grant.discovered"
	// KindUrgent fires once per record when its deadline enters the
	// urgency window.
	KindUrgent Kind = "grant.urgent"
)

// Event is one alert payload. The persisted record is the durable source of
// truth; events are best-effort notifications for connected listeners.
type Event struct {
	Kind Kind      `json:"kind"`
	TS   time.Time `json:"ts"`

	GrantID     string      `json:"grant_id"`
	Title       string      `json:"title"`
	IssuingBody string      `json:"issuing_body,omitempty"`
	Scope       grant.Scope `json:"scope,omitempty"`
	Relevance   int         `json:"relevance_score,omitempty"`
	Deadline    *time.Time  `json:"deadline_date,omitempty"`
	MaxAmount   *float64    `json:"max_amount,omitempty"`
	SourceURL   string      `json:"source_url,omitempty"`

	// DaysRemaining is only meaningful for urgency events.
	DaysRemaining int `json:"days_remaining,omitempty"`
}

// Discovered builds the event for a newly created record.
func Discovered(g grant.Grant, ts time.Time) Event {
	return Event{
		Kind:        KindDiscovered,
		TS:          ts,
		GrantID:     g.ID,
		Title:       g.Title,
		IssuingBody: g.IssuingBody,
		Scope:       g.Scope,
		Relevance:   g.RelevanceScore,
		Deadline:    g.Deadline,
		MaxAmount:   g.MaxAmount,
		SourceURL:   g.SourceURL,
	}
}

// Urgent builds the event for a record entering the urgency window.
func Urgent(g grant.Grant, daysRemaining int, ts time.Time) Event {
	return Event{
		Kind:          KindUrgent,
		TS:            ts,
		GrantID:       g.ID,
		Title:         g.Title,
		DaysRemaining: daysRemaining,
	}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.GrantID == "" {
		return errors.New("grant id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Title == "" {
		return errors.New("title is required")
	}
	switch e.Kind {
	case KindDiscovered:
		if e.IssuingBody == "" {
			return errors.New("discovery event requires issuing body")
		}
	case KindUrgent:
		if e.DaysRemaining < 0 {
			return errors.New("days remaining must be >= 0")
		}
	default:
		return fmt.Errorf("unknown alert kind %q", e.Kind)
	}
	return nil
}

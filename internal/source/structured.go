package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/grant"
)

// structuredAdapter consumes JSON portals that publish machine-readable
// opportunity lists, such as the EU funding and tenders portal. These sources
// publish in English, so listings pass a translated keyword pre-filter here
// before the Spanish relevance pass downstream.
type structuredAdapter struct {
	baseAdapter
	client *http.Client
}

// opportunityDoc mirrors the portal response envelope.
type opportunityDoc struct {
	Opportunities []opportunityItem `json:"opportunities"`
}

type opportunityItem struct {
	Identifier   string   `json:"identifier"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Budget       *float64 `json:"budget"`
	DeadlineDate string   `json:"deadlineDate"`
	URL          string   `json:"url"`
}

func newStructuredAdapter(base baseAdapter) *structuredAdapter {
	return &structuredAdapter{
		baseAdapter: base,
		client:      &http.Client{Timeout: base.timeout()},
	}
}

// Fetch pulls and decodes the opportunity list.
func (a *structuredAdapter) Fetch(ctx context.Context) ([]grant.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("source %s: build request: %w", a.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if a.opts.UserAgent != "" {
		req.Header.Set("User-Agent", a.opts.UserAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source %s: fetch: %w", a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %s: unexpected status %d", a.name, resp.StatusCode)
	}

	var doc opportunityDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("source %s: decode response: %w", a.name, err)
	}

	candidates := make([]grant.Candidate, 0, len(doc.Opportunities))
	for _, item := range doc.Opportunities {
		if item.Title == "" {
			continue
		}
		if !a.matchesInternationalKeywords(item.Title + " " + item.Description) {
			continue
		}
		candidates = append(candidates, a.toCandidate(item))
	}
	a.logger().Debug("structured source fetched",
		zap.String("source", a.name),
		zap.Int("listings", len(doc.Opportunities)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func (a *structuredAdapter) toCandidate(item opportunityItem) grant.Candidate {
	c := grant.Candidate{
		Title:       item.Title,
		IssuingBody: a.issuingBody,
		Description: item.Description,
		SourceURL:   item.URL,
		Scope:       a.scope,
		MaxAmount:   item.Budget,
	}
	if c.SourceURL == "" {
		c.SourceURL = a.url
	}
	// Portal entries without a deadline are open-ended calls; the record
	// keeps a null deadline rather than inheriting the provisional default
	// used for unparsed free text.
	if when, ok := parsePortalDate(item.DeadlineDate); ok {
		c.Deadline = &when
		c.DeadlineConfident = true
	}
	return c
}

// matchesInternationalKeywords admits listings whose text contains at least
// one of the configured English keywords. An empty keyword list admits all.
func (a *structuredAdapter) matchesInternationalKeywords(text string) bool {
	if len(a.opts.InternationalKeywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range a.opts.InternationalKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func parsePortalDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

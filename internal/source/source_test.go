package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adc-ops/grantwatch/internal/config"
	"github.com/adc-ops/grantwatch/internal/grant"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func buildAdapter(t *testing.T, kind, url string, opts Options) Adapter {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = fixedClock{now: testNow}
	}
	a, err := Build(config.SourceConfig{
		Name:        "test-source",
		IssuingBody: "Ministerio del Interior",
		Scope:       "national",
		URL:         url,
		Kind:        kind,
		Group:       "broad",
	}, opts)
	require.NoError(t, err)
	return a
}

// TestBuildRejectsUnknownKind guards the factory against config drift.
func TestBuildRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := Build(config.SourceConfig{
		Name:        "x",
		IssuingBody: "b",
		Scope:       "national",
		URL:         "https://example.org",
		Kind:        "ftp",
		Group:       "broad",
	}, Options{})
	require.Error(t, err)
}

// TestStructuredFetch covers JSON decoding, the English keyword pre-filter,
// and open-ended listings staying without a deadline.
func TestStructuredFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"opportunities": [
				{
					"identifier": "EU-2026-CP-01",
					"title": "Civil protection equipment call",
					"description": "Funding for rescue equipment",
					"budget": 2000000,
					"deadlineDate": "2026-06-30",
					"url": "https://example.org/eu/cp-01"
				},
				{
					"identifier": "EU-2026-AG-02",
					"title": "Agricultural modernization call",
					"description": "Tractors and irrigation",
					"budget": 500000,
					"deadlineDate": "2026-07-15"
				},
				{
					"identifier": "EU-2026-EM-03",
					"title": "Emergency coordination networks",
					"description": "Cross-border emergency response"
				}
			]
		}`))
	}))
	defer srv.Close()

	a := buildAdapter(t, config.KindStructured, srv.URL, Options{
		InternationalKeywords: []string{"civil protection", "emergency", "rescue"},
	})

	candidates, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2, "agricultural listing must be pre-filtered out")

	first := candidates[0]
	assert.Equal(t, "Civil protection equipment call", first.Title)
	assert.Equal(t, "Ministerio del Interior", first.IssuingBody)
	assert.Equal(t, grant.ScopeNational, first.Scope)
	assert.Equal(t, "https://example.org/eu/cp-01", first.SourceURL)
	require.NotNil(t, first.MaxAmount)
	assert.InDelta(t, 2_000_000, *first.MaxAmount, 0.01)
	require.NotNil(t, first.Deadline)
	assert.True(t, first.DeadlineConfident)
	assert.Equal(t, time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC), *first.Deadline)

	undated := candidates[1]
	assert.Nil(t, undated.Deadline, "open-ended calls keep a null deadline")
	assert.False(t, undated.DeadlineConfident)
	assert.Equal(t, srv.URL, undated.SourceURL, "listings without a url fall back to the source url")
}

// TestStructuredFetchBadStatus checks non-200 responses surface as errors.
func TestStructuredFetchBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := buildAdapter(t, config.KindStructured, srv.URL, Options{})
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
}

// TestHeuristicFetch scrapes a bulletin-style page and checks title,
// description, deadline, and amount reconstruction.
func TestHeuristicFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body>
			<div class="convocatoria">
				<h2>Ayudas para equipamiento de protección civil</h2>
				<p>Subvenciones por importe de hasta 50000 euros.</p>
				<p>El plazo de presentación finaliza el 15/09/2026.</p>
				<a href="/detalle/123">Ver convocatoria</a>
			</div>
			<div class="subvencion">
				<h3>Dotación para agrupaciones de voluntariado</h3>
				<p>Sin fecha publicada.</p>
			</div>
			<div class="ayuda">
				<p>Bloque sin título, debe ignorarse.</p>
			</div>
		</body></html>`))
	}))
	defer srv.Close()

	a := buildAdapter(t, config.KindHeuristic, srv.URL, Options{})

	candidates, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2, "untitled blocks are skipped")

	first := candidates[0]
	assert.Equal(t, "Ayudas para equipamiento de protección civil", first.Title)
	assert.Contains(t, first.Description, "50000 euros")
	assert.Equal(t, srv.URL+"/detalle/123", first.SourceURL)
	require.NotNil(t, first.Deadline)
	assert.True(t, first.DeadlineConfident)
	assert.Equal(t, time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC), *first.Deadline)
	require.NotNil(t, first.MaxAmount)
	assert.InDelta(t, 50000, *first.MaxAmount, 0.01)

	second := candidates[1]
	assert.False(t, second.DeadlineConfident)
	require.NotNil(t, second.Deadline)
	assert.Equal(t, testNow.AddDate(0, 3, 0), *second.Deadline)
	assert.Equal(t, srv.URL, second.SourceURL, "blocks without a link fall back to the page url")
}

// TestHeuristicFetchServerDown checks network failures surface as errors.
func TestHeuristicFetchServerDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	a := buildAdapter(t, config.KindHeuristic, srv.URL, Options{})
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
}

// TestFeedFetch parses an RSS feed and checks markup stripping plus deadline
// extraction from the summary body.
func TestFeedFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Boletín de subvenciones</title>
    <item>
      <title>Subvenciones para formación de voluntariado</title>
      <link>https://example.org/bol/456</link>
      <description>&lt;p&gt;Presupuesto de 2 millones €. Solicitudes hasta el 01/12/2026.&lt;/p&gt;</description>
      <pubDate>Mon, 09 Mar 2026 08:00:00 GMT</pubDate>
    </item>
    <item>
      <title></title>
      <description>Elemento sin título</description>
    </item>
  </channel>
</rss>`))
	}))
	defer srv.Close()

	a := buildAdapter(t, config.KindFeed, srv.URL, Options{})

	candidates, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1, "untitled items are skipped")

	c := candidates[0]
	assert.Equal(t, "Subvenciones para formación de voluntariado", c.Title)
	assert.NotContains(t, c.Description, "<p>")
	assert.Equal(t, "https://example.org/bol/456", c.SourceURL)
	require.NotNil(t, c.MaxAmount)
	assert.InDelta(t, 2_000_000, *c.MaxAmount, 0.01)
	require.NotNil(t, c.Deadline)
	assert.True(t, c.DeadlineConfident)
	assert.Equal(t, time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC), *c.Deadline)
	require.NotNil(t, c.Published)
	assert.Equal(t, time.Date(2026, time.March, 9, 8, 0, 0, 0, time.UTC), *c.Published)
}

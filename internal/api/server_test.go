package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/alert"
	"github.com/adc-ops/grantwatch/internal/config"
	"github.com/adc-ops/grantwatch/internal/grant"
	"github.com/adc-ops/grantwatch/internal/id/uuid"
	"github.com/adc-ops/grantwatch/internal/metrics"
	"github.com/adc-ops/grantwatch/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type stubTrigger struct {
	mu        sync.Mutex
	allRuns   int
	groupRuns []string
	groups    map[string]bool
}

func (t *stubTrigger) RunAllAsync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allRuns++
}

func (t *stubTrigger) RunGroupAsync(group string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groupRuns = append(t.groupRuns, group)
}

func (t *stubTrigger) HasGroup(group string) bool {
	return t.groups[group]
}

type stubSubscriber struct {
	events chan alert.Event
}

func (s *stubSubscriber) Subscribe() (<-chan alert.Event, func()) {
	return s.events, func() {}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *memory.Store, *stubTrigger, *stubSubscriber) {
	t.Helper()
	store := memory.New(uuid.NewUUIDGenerator(), fixedClock{now: testNow})
	trigger := &stubTrigger{groups: map[string]bool{"broad": true, "regional": true}}
	sub := &stubSubscriber{events: make(chan alert.Event, 4)}
	srv := NewServer(store, trigger, sub, zap.NewNop(), cfg)
	return srv, store, trigger, sub
}

func seedGrant(t *testing.T, store grant.Store, title string, scope grant.Scope, score int) grant.Grant {
	t.Helper()
	deadline := testNow.AddDate(0, 1, 0)
	g, _, err := store.Upsert(context.Background(), grant.Candidate{
		Title:             title,
		IssuingBody:       "Ministerio del Interior",
		Description:       "Ayudas de protección civil",
		Scope:             scope,
		Deadline:          &deadline,
		DeadlineConfident: true,
		RelevanceScore:    score,
	})
	require.NoError(t, err)
	return g
}

// TestHealthEndpoints checks liveness and readiness.
func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t, config.Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

// TestRunAllAccepted checks the manual full-run trigger.
func TestRunAllAccepted(t *testing.T) {
	t.Parallel()

	srv, _, trigger, _ := newTestServer(t, config.Config{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest/run", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, trigger.allRuns)
}

// TestRunGroup covers both the known-group and unknown-group paths.
func TestRunGroup(t *testing.T) {
	t.Parallel()

	srv, _, trigger, _ := newTestServer(t, config.Config{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest/run/regional", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"regional"}, trigger.groupRuns)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest/run/hourly", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestListGrants checks ordering, filters, and the empty default shape.
func TestListGrants(t *testing.T) {
	t.Parallel()

	srv, store, _, _ := newTestServer(t, config.Config{})
	seedGrant(t, store, "Convocatoria alta", grant.ScopeNational, 90)
	seedGrant(t, store, "Convocatoria media", grant.ScopeRegional, 60)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/grants", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Grants []grant.Grant `json:"grants"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "Convocatoria alta", body.Grants[0].Title)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/grants?scope=regional", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "Convocatoria media", body.Grants[0].Title)
}

// TestListGrantsRejectsBadParams checks query validation.
func TestListGrantsRejectsBadParams(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t, config.Config{})

	for _, query := range []string{
		"?scope=galactic",
		"?status=pending",
		"?limit=abc",
		"?offset=-3",
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/grants"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

// TestGetGrant covers lookup and the 404 path.
func TestGetGrant(t *testing.T) {
	t.Parallel()

	srv, store, _, _ := newTestServer(t, config.Config{})
	g := seedGrant(t, store, "Convocatoria única", grant.ScopeNational, 80)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/grants/"+g.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got grant.Grant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, g.ID, got.ID)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/grants/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestAPIKeyMiddleware checks header and query key acceptance.
func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv, _, _, _ := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestRequestIDHeader checks every response carries a request id.
func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv, _, _, _ := newTestServer(t, config.Config{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

// TestStreamAlerts checks SSE framing over a live connection.
func TestStreamAlerts(t *testing.T) {
	t.Parallel()

	srv, _, _, sub := newTestServer(t, config.Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/alerts/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	sub.events <- alert.Event{
		Kind:        alert.KindDiscovered,
		TS:          testNow,
		GrantID:     "0192d9f2-7e1a-7c00-8000-000000000001",
		Title:       "Ayudas para equipamiento",
		IssuingBody: "Ministerio del Interior",
	}

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: grant.discovered", strings.TrimSpace(eventLine))

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: "))

	var evt alert.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(dataLine), "data: ")), &evt))
	assert.Equal(t, "Ayudas para equipamiento", evt.Title)
}

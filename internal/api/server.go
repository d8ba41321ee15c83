// Package api exposes the HTTP interface for the grant discovery engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/alert"
	"github.com/adc-ops/grantwatch/internal/config"
	"github.com/adc-ops/grantwatch/internal/grant"
	"github.com/adc-ops/grantwatch/internal/metrics"
)

// Trigger starts ingestion runs in the background.
type Trigger interface {
	RunAllAsync()
	RunGroupAsync(group string)
	HasGroup(group string) bool
}

// Subscriber registers live listeners for alert events.
type Subscriber interface {
	Subscribe() (<-chan alert.Event, func())
}

// Server wires HTTP handlers to the store, the scheduler, and the alert hub.
type Server struct {
	router  chi.Router
	store   grant.Store
	trigger Trigger
	alerts  Subscriber
	logger  *zap.Logger
	cfg     config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store grant.Store,
	trigger Trigger,
	alerts Subscriber,
	logger *zap.Logger,
	cfg config.Config,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   store,
		trigger: trigger,
		alerts:  alerts,
		logger:  logger,
		cfg:     cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(60 * time.Second))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Route("/v1", func(r chi.Router) {
			r.Route("/ingest", func(r chi.Router) {
				r.Post("/run", s.runAll)
				r.Post("/run/{group}", s.runGroup)
			})
			r.Route("/grants", func(r chi.Router) {
				r.Get("/", s.listGrants)
				r.Get("/{grant_id}", s.getGrant)
			})
		})
	})

	// The SSE stream is long-lived and must not sit behind the timeout
	// handler.
	r.Get("/v1/alerts/stream", s.streamAlerts)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency; a probe read proves it answers.
	if _, err := s.store.List(r.Context(), grant.Filter{Limit: 1}); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runAll(w http.ResponseWriter, _ *http.Request) {
	s.trigger.RunAllAsync()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) runGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	if !s.trigger.HasGroup(group) {
		s.writeError(w, http.StatusNotFound, "unknown cadence group")
		return
	}
	s.trigger.RunGroupAsync(group)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "group": group})
}

const defaultListLimit = 50

func (s *Server) listGrants(w http.ResponseWriter, r *http.Request) {
	f, ok := s.parseFilter(w, r)
	if !ok {
		return
	}
	grants, err := s.store.List(r.Context(), f)
	if err != nil {
		s.logger.Error("list grants failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list grants")
		return
	}
	if grants == nil {
		grants = []grant.Grant{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"grants": grants, "count": len(grants)})
}

func (s *Server) parseFilter(w http.ResponseWriter, r *http.Request) (grant.Filter, bool) {
	q := r.URL.Query()
	f := grant.Filter{Limit: defaultListLimit}

	if raw := q.Get("scope"); raw != "" {
		scope, ok := grant.ParseScope(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown scope")
			return grant.Filter{}, false
		}
		f.Scope = scope
	}
	if raw := q.Get("status"); raw != "" {
		status, ok := grant.ParseStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status")
			return grant.Filter{}, false
		}
		f.Status = status
	}
	f.Search = q.Get("search")
	if raw := q.Get("limit"); raw != "" {
		limit, err := parsePositiveInt(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return grant.Filter{}, false
		}
		f.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := parsePositiveInt(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "offset must be a positive integer")
			return grant.Filter{}, false
		}
		f.Offset = offset
	}
	return f, true
}

func (s *Server) getGrant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "grant_id")
	g, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "grant not found")
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

// streamAlerts serves alert events over SSE until the client disconnects.
func (s *Server) streamAlerts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := s.alerts.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("marshal alert event failed", zap.Error(err))
				continue
			}
			if _, err := w.Write([]byte("event: " + string(evt.Kind) + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative value")
	}
	return n, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

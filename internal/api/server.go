// Package api exposes the HTTP interface for the search-scrape service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/if001/search-scrape/internal/config"
	"github.com/if001/search-scrape/internal/metrics"
	"github.com/if001/search-scrape/internal/scrape"
)

// SearchRunner executes one search query end to end.
type SearchRunner interface {
	Run(ctx context.Context, query scrape.SearchQuery) ([]scrape.Document, error)
}

// Server wires HTTP handlers to the pipeline runners. Two runners exist so
// the enable_browser flag can pick between rendered-fetch escalation and a
// lightweight-only pipeline per request; both share the limiter and cache.
type Server struct {
	router   chi.Router
	browser  SearchRunner
	httpOnly SearchRunner
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil browser
// runner degrades enable_browser requests to the lightweight-only runner.
func NewServer(browser, httpOnly SearchRunner, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if browser == nil {
		browser = httpOnly
	}
	s := &Server{
		browser:  browser,
		httpOnly: httpOnly,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(5 * time.Minute))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.search)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type searchRequest struct {
	Q         string `json:"q"`
	K         int    `json:"k"`
	Region    string `json:"region"`
	Language  string `json:"language"`
	TimeRange string `json:"time_range"`
	// EnableBrowser defaults to true when omitted.
	EnableBrowser *bool `json:"enable_browser"`
}

type docOut struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

type searchResponse struct {
	Query string   `json:"query"`
	K     int      `json:"k"`
	Docs  []docOut `json:"docs"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	query, err := s.toQuery(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runner := s.browser
	if req.EnableBrowser != nil && !*req.EnableBrowser {
		runner = s.httpOnly
	}

	// Per-URL failures are absorbed by the pipeline; an error here means the
	// search engine itself failed.
	docs, err := runner.Run(r.Context(), query)
	if err != nil {
		s.logger.Error("search failed",
			zap.String("query", req.Q), zap.Error(err))
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}

	out := make([]docOut, 0, len(docs))
	for _, d := range docs {
		out = append(out, docOut{URL: d.URL, Title: d.Title, Markdown: d.Markdown})
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: req.Q, K: query.Limit, Docs: out})
}

func (s *Server) toQuery(req searchRequest) (scrape.SearchQuery, error) {
	if req.Q == "" {
		return scrape.SearchQuery{}, fmt.Errorf("q is required")
	}
	k := req.K
	if k == 0 {
		k = s.cfg.Search.DefaultLimit
	}
	if k < 1 || k > s.cfg.Search.MaxLimit {
		return scrape.SearchQuery{}, fmt.Errorf("k must be between 1 and %d", s.cfg.Search.MaxLimit)
	}
	region := req.Region
	if region == "" {
		region = s.cfg.Search.DefaultRegion
	}
	tr, err := parseTimeRange(req.TimeRange)
	if err != nil {
		return scrape.SearchQuery{}, err
	}
	return scrape.SearchQuery{
		Term:  req.Q,
		Limit: k,
		Options: scrape.SearchOptions{
			Language:  req.Language,
			Region:    region,
			TimeRange: tr,
		},
	}, nil
}

func parseTimeRange(raw string) (scrape.TimeRange, error) {
	switch scrape.TimeRange(raw) {
	case "", scrape.TimeRangeAny:
		return scrape.TimeRangeAny, nil
	case scrape.TimeRangeDay, scrape.TimeRangeWeek, scrape.TimeRangeMonth, scrape.TimeRangeYear:
		return scrape.TimeRange(raw), nil
	default:
		return "", fmt.Errorf("time_range must be one of any, d, w, m, y")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestIDFrom(r.Context())),
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
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
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
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// requestIDFrom returns the ID stamped by requestIDMiddleware, or "" when the
// request never passed through it.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

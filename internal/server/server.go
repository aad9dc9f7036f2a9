// Package server exposes the ranking engine over a local HTTP JSON API for
// the browser extension glue, plus Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abelbrown/linkstreak/internal/embed"
	"github.com/abelbrown/linkstreak/internal/indexer"
	"github.com/abelbrown/linkstreak/internal/logging"
	"github.com/abelbrown/linkstreak/internal/metrics"
	"github.com/abelbrown/linkstreak/internal/otel"
	"github.com/abelbrown/linkstreak/internal/search"
	"github.com/abelbrown/linkstreak/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeValidation  = "validation_error"
	ErrCodeStale       = "stale"
	ErrCodeUnavailable = "unavailable"
	ErrCodeInternal    = "internal_error"
)

// ErrorResponse is the body of every error: {"error": {"code", "message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail holds the code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Config wires a Server. Indexer, Provider and Registry are optional.
type Config struct {
	Engine   *search.Engine
	Indexer  *indexer.Coordinator
	Provider *embed.Provider
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Events   *otel.Logger
}

// Server handles the API. The most recent result set is kept so blocks can
// return the filtered list.
type Server struct {
	engine   *search.Engine
	store    *store.Store
	indexer  *indexer.Coordinator
	provider *embed.Provider
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	events   *otel.Logger
	started  time.Time

	mu   sync.Mutex
	last *search.ResultSet
}

// New creates a server.
func New(cfg Config) *Server {
	s := &Server{
		engine:   cfg.Engine,
		store:    cfg.Engine.Store(),
		indexer:  cfg.Indexer,
		provider: cfg.Provider,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		started:  time.Now(),
	}
	if s.events == nil {
		s.events = otel.NewNullLogger()
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/explain", s.handleExplain)
	mux.HandleFunc("POST /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/block", s.handleBlock)
	mux.HandleFunc("GET /api/weights", s.handleGetWeights)
	mux.HandleFunc("PUT /api/weights", s.handlePutWeights)
	mux.HandleFunc("POST /api/index", s.handleIndex)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info("HTTP API listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) setLast(set *search.ResultSet) {
	s.mu.Lock()
	s.last = set
	s.mu.Unlock()
}

func (s *Server) lastSet() *search.ResultSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// decode reads a JSON body into dst, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// internalError logs err and reports a generic failure.
func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	logging.Error("API request failed", "op", op, "error", err)
	s.events.Error(otel.KindError, "server", err)
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, op+" failed")
}

package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/abelbrown/linkstreak/internal/embed"
	"github.com/abelbrown/linkstreak/internal/fetch"
	"github.com/abelbrown/linkstreak/internal/health"
	"github.com/abelbrown/linkstreak/internal/indexer"
	"github.com/abelbrown/linkstreak/internal/otel"
	"github.com/abelbrown/linkstreak/internal/search"
	"github.com/abelbrown/linkstreak/internal/settings"
)

// SearchRequest is the body of POST /api/search. Filters default to the
// stored filter state.
type SearchRequest struct {
	search.Request
	Filters *settings.FilterState `json:"filters,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decode(w, r, &req) {
		return
	}

	fs := settings.FilterState{}
	if req.Filters != nil {
		fs = *req.Filters
	} else {
		stored, err := s.store.FilterState()
		if err != nil {
			s.internalError(w, "load filters", err)
			return
		}
		fs = stored
	}

	set, err := s.engine.Search(r.Context(), req.Request, fs)
	switch {
	case errors.Is(err, search.ErrStale):
		writeError(w, http.StatusConflict, ErrCodeStale, "superseded by a newer search")
		return
	case err != nil && r.Context().Err() != nil:
		// Client went away; nothing to write.
		return
	case err != nil:
		s.internalError(w, "search", err)
		return
	}

	s.setLast(set)
	writeJSON(w, http.StatusOK, set)
}

// ExplainRequest is the body of POST /api/explain.
type ExplainRequest struct {
	Focus       string `json:"focus"`
	Ambient     string `json:"ambient"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Headings    string `json:"headings"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req ExplainRequest
	if !decode(w, r, &req) {
		return
	}
	meta := health.Meta{Title: req.Title, Description: req.Description, Headings: req.Headings}
	x, err := s.engine.Explain(r.Context(), req.Focus, req.Ambient, meta)
	switch {
	case errors.Is(err, search.ErrNothingToExplain):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, embed.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		writeJSON(w, http.StatusOK, x)
	}
}

// HealthRequest is the body of POST /api/health: either a cached URL or
// metadata to rate directly.
type HealthRequest struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Headings    string `json:"headings"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var req HealthRequest
	if !decode(w, r, &req) {
		return
	}
	if req.URL != "" {
		h, err := s.engine.ComputeHealth(req.URL)
		if err != nil {
			s.internalError(w, "health", err)
			return
		}
		writeJSON(w, http.StatusOK, h)
		return
	}
	writeJSON(w, http.StatusOK, health.Calculate(&health.Meta{
		Title:       req.Title,
		Description: req.Description,
		Headings:    req.Headings,
	}))
}

// BlockRequest is the body of POST /api/block. Kind is "url" (default) or
// "domain".
type BlockRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "url is required")
		return
	}

	var (
		set *search.ResultSet
		err error
	)
	switch req.Kind {
	case "", "url":
		set, err = s.engine.BlockURL(s.lastSet(), req.URL, req.Title)
	case "domain":
		set, err = s.engine.BlockDomain(s.lastSet(), req.URL)
	default:
		writeError(w, http.StatusBadRequest, ErrCodeValidation, `kind must be "url" or "domain"`)
		return
	}
	if err != nil {
		s.internalError(w, "block", err)
		return
	}
	if set != nil {
		s.setLast(set)
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := s.store.Weights()
	if err != nil {
		s.internalError(w, "load weights", err)
		return
	}
	writeJSON(w, http.StatusOK, weights)
}

func (s *Server) handlePutWeights(w http.ResponseWriter, r *http.Request) {
	var patch settings.WeightsPatch
	if !decode(w, r, &patch) {
		return
	}
	current, err := s.store.Weights()
	if err != nil {
		s.internalError(w, "load weights", err)
		return
	}
	next := current.Merge(patch)
	if err := next.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if err := s.store.SaveWeights(next); err != nil {
		s.internalError(w, "save weights", err)
		return
	}
	s.events.Emit(otel.Event{Kind: otel.KindSettingsChange, Comp: "server", Msg: settings.KeyWeights})
	writeJSON(w, http.StatusOK, next)
}

// IndexRequest is the body of POST /api/index. URLs are fetched; Pages
// carry metadata the extension already extracted and are always re-embedded.
type IndexRequest struct {
	URLs  []string     `json:"urls"`
	Pages []fetch.Page `json:"pages"`
}

// IndexResult reports one page.
type IndexResult struct {
	URL      string          `json:"url"`
	Outcome  indexer.Outcome `json:"outcome"`
	Embedded bool            `json:"embedded"`
	Error    string          `json:"error,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "indexer not running")
		return
	}
	var req IndexRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.URLs) == 0 && len(req.Pages) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "urls or pages required")
		return
	}

	var results []indexer.Result
	if len(req.URLs) > 0 {
		results = s.indexer.Index(r.Context(), req.URLs)
	}
	for _, p := range req.Pages {
		if p.URL == "" {
			continue
		}
		results = append(results, s.indexer.Reindex(r.Context(), p))
	}

	out := make([]IndexResult, 0, len(results))
	for _, res := range results {
		ir := IndexResult{URL: res.URL, Outcome: res.Outcome, Embedded: res.Embedded}
		if res.Err != nil {
			ir.Error = res.Err.Error()
		}
		out = append(out, ir)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Provider      *embed.Status `json:"provider,omitempty"`
	CacheEntries  int           `json:"cacheEntries"`
	SessionVecs   int           `json:"sessionVectors"`
	DroppedEvents uint64        `json:"droppedEvents"`
	UptimeSeconds float64       `json:"uptimeSeconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count()
	if err != nil {
		s.internalError(w, "count cache", err)
		return
	}
	s.metrics.SetCacheEntries(n)

	resp := StatusResponse{
		CacheEntries:  n,
		SessionVecs:   s.engine.SessionCacheLen(),
		DroppedEvents: s.events.Dropped(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if s.provider != nil {
		st := s.provider.Status().Current()
		resp.Provider = &st
		s.metrics.SetProviderReady(st.State == embed.StateReady)
	}
	writeJSON(w, http.StatusOK, resp)
}

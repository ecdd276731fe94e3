// Package api exposes the query and pipeline-control HTTP surface over the
// store. All payloads are JSON except the export downloads.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-intel/internal/export"
	"github.com/sells-group/pharmacy-intel/internal/model"
	"github.com/sells-group/pharmacy-intel/internal/pipeline"
	"github.com/sells-group/pharmacy-intel/internal/store"
)

// Trigger starts pipeline runs. Implemented by *pipeline.Pipeline.
type Trigger interface {
	Start(ctx context.Context) (*model.Run, error)
	Running() bool
}

// Server routes API requests to the store and the pipeline.
type Server struct {
	store   store.Store
	trigger Trigger
}

// NewServer builds a Server over the given store and pipeline trigger.
func NewServer(st store.Store, trigger Trigger) *Server {
	return &Server{store: st, trigger: trigger}
}

// Router returns the chi handler for the full API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/pipeline/trigger", s.handleTrigger)
		r.Get("/pipeline/status", s.handleStatus)
		r.Get("/pharmacies", s.handleSearch)
		r.Get("/pharmacies/{npi}", s.handleGet)
		r.Patch("/pharmacies/{npi}", s.handleUpdateContact)
		r.Get("/changes", s.handleChanges)
		r.Get("/runs", s.handleRuns)
		r.Get("/exports/{format}", s.handleExport)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTrigger starts a background run and returns immediately; progress is
// polled via /api/pipeline/status.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	run, err := s.trigger.Start(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrRunActive) {
			writeError(w, http.StatusConflict, "a run is already in progress")
			return
		}
		zap.L().Error("api: trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(r.Context())
	if err != nil {
		zap.L().Error("api: load latest run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run status")
		return
	}
	if run == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "never_run"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.Search(r.Context(), searchFilter(r))
	if err != nil {
		zap.L().Error("api: search", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	npi := chi.URLParam(r, "npi")
	p, err := s.store.Get(r.Context(), npi)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pharmacy not found")
			return
		}
		zap.L().Error("api: get pharmacy", zap.String("npi", npi), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdateContact accepts the CRM-owned fields only; everything else on
// the record belongs to the pipeline.
func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	npi := chi.URLParam(r, "npi")

	var req struct {
		ContactEmail *string `json:"contact_email"`
		Notes        *string `json:"notes"`
		DealStatus   *string `json:"deal_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ContactEmail == nil && req.Notes == nil && req.DealStatus == nil {
		writeError(w, http.StatusBadRequest, "no updatable fields in request")
		return
	}

	err := s.store.UpdateContact(r.Context(), npi, req.ContactEmail, req.Notes, req.DealStatus)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pharmacy not found")
			return
		}
		zap.L().Error("api: update contact", zap.String("npi", npi), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}

	p, err := s.store.Get(r.Context(), npi)
	if err != nil {
		zap.L().Error("api: reload pharmacy", zap.String("npi", npi), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update succeeded but reload failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ChangeFilter{
		NPI:    q.Get("npi"),
		Type:   model.ChangeType(q.Get("type")),
		Limit:  parseIntOr(q.Get("limit"), 0),
		Offset: parseIntOr(q.Get("offset"), 0),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}

	changes, err := s.store.ListChanges(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list changes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list changes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntOr(r.URL.Query().Get("limit"), 20)
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleExport streams a filtered export; the filter params match /api/pharmacies.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	contentType := export.ContentType(format)
	if contentType == "" {
		writeError(w, http.StatusNotFound, "unsupported export format")
		return
	}

	rows, err := s.store.ExportRows(r.Context(), searchFilter(r))
	if err != nil {
		zap.L().Error("api: export rows", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	filename := fmt.Sprintf("pharmacies_%s.%s", time.Now().UTC().Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	targets, _ := strconv.ParseBool(r.URL.Query().Get("targets"))
	if targets {
		err = export.WriteTargets(w, format, rows)
	} else {
		err = export.Write(w, format, rows)
	}
	if err != nil {
		zap.L().Error("api: write export", zap.Error(err))
	}
}

// searchFilter maps query params onto the store filter; zero values are
// ignored by the store.
func searchFilter(r *http.Request) store.SearchFilter {
	q := r.URL.Query()
	independent, _ := strconv.ParseBool(q.Get("independent_only"))
	return store.SearchFilter{
		Query:           q.Get("q"),
		State:           q.Get("state"),
		City:            q.Get("city"),
		Zip:             q.Get("zip"),
		IndependentOnly: independent,
		MinScore:        parseFloatOr(q.Get("min_score"), 0),
		SortBy:          q.Get("sort"),
		Page:            parseIntOr(q.Get("page"), 0),
		PageSize:        parseIntOr(q.Get("page_size"), 0),
	}
}

func parseIntOr(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func parseFloatOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/engine"
	"github.com/lazypower/tierctl/internal/store"
	"github.com/lazypower/tierctl/internal/tier"
)

type objectJSON struct {
	ID           string     `json:"id"`
	Location     string     `json:"location"`
	Tier         tier.Tier  `json:"tier"`
	LastAccess   *time.Time `json:"last_access"`
	AccessCount  int        `json:"access_count"`
	PatternScore float64    `json:"pattern_score"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toJSON(o store.TrackedObject) objectJSON {
	return objectJSON{
		ID:           o.ID,
		Location:     o.Location,
		Tier:         o.Tier,
		LastAccess:   o.LastAccess,
		AccessCount:  o.AccessCount,
		PatternScore: o.PatternScore,
		CreatedAt:    o.CreatedAt,
	}
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	var filter *tier.Tier
	if q := r.URL.Query().Get("tier"); q != "" {
		t, err := tier.Parse(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = &t
	}

	objs, err := s.ctrl.DB.GetAll(r.Context())
	if err != nil {
		s.catalogError(w, err)
		return
	}
	out := make([]objectJSON, 0, len(objs))
	for _, o := range objs {
		if filter != nil && o.Tier != *filter {
			continue
		}
		out = append(out, toJSON(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": out, "count": len(out)})
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	obj, err := s.ctrl.DB.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	if err != nil {
		s.catalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(obj))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	s.cycle(w, r, engine.RunOptions{DryRun: true, ShowScores: r.URL.Query().Get("scores") == "true"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DryRun     bool `json:"dry_run"`
		ShowScores bool `json:"show_scores"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.cycle(w, r, engine.RunOptions{DryRun: req.DryRun, ShowScores: req.ShowScores})
}

func (s *Server) cycle(w http.ResponseWriter, r *http.Request, opts engine.RunOptions) {
	rep, err := s.ctrl.RunCycle(r.Context(), opts)
	if errors.Is(err, engine.ErrCycleRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.catalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	in, err := s.ctrl.Inspect(r.Context())
	if err != nil {
		s.catalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts":   in.Counts,
		"problems": in.Problems(),
		"checked":  len(in.Findings),
		"skipped":  len(in.Skipped),
	})
}

func (s *Server) catalogError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", zap.Error(err))
	if errors.Is(err, store.ErrCatalogUnavailable) || errors.Is(err, store.ErrMalformedCatalog) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

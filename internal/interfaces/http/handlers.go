package http

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/smartacus/smartacus/internal/persistence"
	"github.com/smartacus/smartacus/internal/pipeline"
)

const shortlistCacheKey = "smartacus:shortlist"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// shortlistView is the API shape of a stored shortlist snapshot.
type shortlistView struct {
	RunID          string              `json:"run_id"`
	Items          []shortlistItemView `json:"items"`
	TotalValue     float64             `json:"total_value"`
	StabilityScore float64             `json:"stability_score"`
	Frozen         bool                `json:"frozen"`
	Active         bool                `json:"active"`
	CreatedAt      time.Time           `json:"created_at"`
}

type shortlistItemView struct {
	Rank  int     `json:"rank"`
	ASIN  string  `json:"asin"`
	Score int     `json:"score"`
	Value float64 `json:"risk_adjusted_value"`
}

// shortlistFilters narrow the shortlist payload. The same parameters
// apply to the JSON and CSV surfaces.
type shortlistFilters struct {
	minScore int
	minValue float64
	maxItems int
}

func parseShortlistFilters(r *http.Request) shortlistFilters {
	var f shortlistFilters
	q := r.URL.Query()
	if v := q.Get("min_score"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.minScore = n
		}
	}
	if v := q.Get("min_value"); v != "" {
		if x, err := strconv.ParseFloat(v, 64); err == nil && x > 0 {
			f.minValue = x
		}
	}
	if v := q.Get("max_items"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.maxItems = n
		}
	}
	return f
}

func (f shortlistFilters) active() bool {
	return f.minScore > 0 || f.minValue > 0 || f.maxItems > 0
}

func (f shortlistFilters) keep(score int, value float64) bool {
	if f.minScore > 0 && score < f.minScore {
		return false
	}
	if f.minValue > 0 && value < f.minValue {
		return false
	}
	return true
}

// handleShortlist serves the active shortlist, falling back to the
// most recent snapshot from a completed run. Degraded runs never
// surface here: their snapshots are frozen and were never activated,
// and the fallback only considers completed runs.
func (s *Server) handleShortlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filters := parseShortlistFilters(r)

	// The cache holds the unfiltered payload only.
	if !filters.active() {
		if cached, ok := s.cache.Get(ctx, shortlistCacheKey); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
	}

	snap, err := s.loadShortlist(r)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no shortlist available yet")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	byASIN, err := s.shortlistArtifacts(r, snap.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	view := shortlistView{
		RunID:          snap.RunID,
		TotalValue:     snap.TotalValue,
		StabilityScore: snap.StabilityScore,
		Frozen:         snap.Frozen,
		Active:         snap.Active,
		CreatedAt:      snap.CreatedAt,
	}
	for i, asin := range snap.ASINs {
		item := shortlistItemView{Rank: i + 1, ASIN: asin}
		if i < len(snap.Scores) {
			item.Score = snap.Scores[i]
		}
		if a, ok := byASIN[asin]; ok {
			item.Value = a.RiskAdjustedValue
		}
		if !filters.keep(item.Score, item.Value) {
			continue
		}
		view.Items = append(view.Items, item)
		if filters.maxItems > 0 && len(view.Items) == filters.maxItems {
			break
		}
	}

	raw, err := json.Marshal(view)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !filters.active() {
		s.cache.Set(ctx, shortlistCacheKey, raw)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) loadShortlist(r *http.Request) (*persistence.ShortlistSnapshot, error) {
	snap, err := s.repo.Shortlists().Active(r.Context())
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	return s.repo.Shortlists().LatestCompleted(r.Context())
}

func (s *Server) shortlistArtifacts(r *http.Request, runID string) (map[string]*persistence.OpportunityArtifact, error) {
	artifacts, err := s.repo.Artifacts().ByRun(r.Context(), runID)
	if err != nil {
		return nil, err
	}
	byASIN := make(map[string]*persistence.OpportunityArtifact, len(artifacts))
	for i := range artifacts {
		byASIN[artifacts[i].ASIN] = &artifacts[i]
	}
	return byASIN, nil
}

// handleShortlistExport renders the shortlist as CSV with the full
// per-item scoring detail from the run's artifacts. It honors the
// same query filters as the JSON surface.
func (s *Server) handleShortlistExport(w http.ResponseWriter, r *http.Request) {
	filters := parseShortlistFilters(r)

	snap, err := s.loadShortlist(r)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no shortlist available yet")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	byASIN, err := s.shortlistArtifacts(r, snap.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=shortlist_%s.csv", snap.RunID))

	cw := csv.NewWriter(w)
	cw.Write([]string{"rank", "asin", "score", "window_days", "urgency",
		"monthly_profit", "annual_value", "risk_adjusted_value", "thesis", "action"})
	written := 0
	for i, asin := range snap.ASINs {
		score := 0
		if i < len(snap.Scores) {
			score = snap.Scores[i]
		}
		a := byASIN[asin]
		value := 0.0
		if a != nil {
			score = a.FinalScore
			value = a.RiskAdjustedValue
		}
		if !filters.keep(score, value) {
			continue
		}

		row := []string{strconv.Itoa(i + 1), asin}
		if a != nil {
			row = append(row,
				strconv.Itoa(a.FinalScore),
				strconv.Itoa(a.WindowDays),
				a.UrgencyLabel,
				strconv.FormatFloat(a.MonthlyProfit, 'f', 2, 64),
				strconv.FormatFloat(a.AnnualValue, 'f', 2, 64),
				strconv.FormatFloat(a.RiskAdjustedValue, 'f', 2, 64),
				a.Thesis,
				a.Action,
			)
		} else {
			row = append(row, strconv.Itoa(score), "", "", "", "", "", "", "")
		}
		cw.Write(row)
		written++
		if filters.maxItems > 0 && written == filters.maxItems {
			break
		}
	}
	cw.Flush()
}

// handleOpportunities lists the active run's non-rejected artifacts.
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	minScore := 0
	if v := r.URL.Query().Get("min_score"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			minScore = n
		}
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	artifacts, err := s.repo.Artifacts().ActiveOpportunities(r.Context(), minScore, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         len(artifacts),
		"opportunities": artifacts,
	})
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	latest, err := s.repo.Runs().Latest(r.Context())
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"running": s.trigger != nil && s.trigger.Running(),
	}
	if latest != nil {
		resp["latest_run"] = latest
	}
	writeJSON(w, http.StatusOK, resp)
}

// runRequest is the optional POST body of /pipeline/run.
type runRequest struct {
	ASINs         []string `json:"asins,omitempty"`
	MaxASINs      int      `json:"max_asins,omitempty"`
	SkipDiscovery bool     `json:"skip_discovery,omitempty"`
}

func (s *Server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusNotImplemented, "pipeline trigger not configured")
		return
	}

	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	runID, started := s.trigger.StartRun(pipeline.Options{
		ASINs:         req.ASINs,
		MaxASINs:      req.MaxASINs,
		SkipDiscovery: req.SkipDiscovery,
	})
	if !started {
		writeError(w, http.StatusConflict, "a pipeline run is already in progress")
		return
	}
	s.cache.Invalidate(r.Context(), shortlistCacheKey)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "run_id": runID})
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if s.budget == nil {
		writeError(w, http.StatusNotImplemented, "budget ledger not configured")
		return
	}
	st, err := s.budget.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "unknown route")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/advisor/internal/modules/backtest"
	"github.com/aristath/advisor/internal/scheduler"
)

const defaultRunLimit = 50

// RunResponse is a stored run with its summary.
type RunResponse struct {
	Run     *backtest.Result `json:"run"`
	Summary backtest.Summary `json:"summary"`
}

// handleHealth reports whether every attached database answers its integrity check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	databases := make(map[string]string, len(s.databases))
	for _, db := range s.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			databases[db.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		databases[db.Name()] = "ok"
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "advisor",
		"databases": databases,
	}
	if status != http.StatusOK {
		response["status"] = "unhealthy"
	}

	s.writeJSON(w, status, response)
}

// handleListRuns lists stored runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []backtest.RunSummary{}
	}

	s.writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns one run with all window records
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.runs.Get(r.Context(), id)
	if errors.Is(err, backtest.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	s.writeJSON(w, http.StatusOK, RunResponse{Run: run, Summary: backtest.Summarize(run.Records)})
}

// handleRecommendation returns the current live recommendation
func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recommendations.Current()
	if errors.Is(err, scheduler.ErrNoRecommendation) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read recommendation")
		s.writeError(w, http.StatusInternalServerError, "failed to read recommendation")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

// handleRefreshRecommendation recomputes the recommendation synchronously
func (s *Server) handleRefreshRecommendation(w http.ResponseWriter, r *http.Request) {
	if err := s.refreshJob.Run(); err != nil {
		s.log.Error().Err(err).Str("job", s.refreshJob.Name()).Msg("Manual job run failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.handleRecommendation(w, r)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

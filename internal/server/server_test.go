package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/advisor/internal/database"
	"github.com/aristath/advisor/internal/modules/backtest"
	"github.com/aristath/advisor/internal/modules/optimization"
	"github.com/aristath/advisor/internal/scheduler"
	"github.com/aristath/advisor/pkg/formulas"
)

type fakeRuns struct {
	runs  []backtest.RunSummary
	run   *backtest.Result
	limit int
	err   error
}

func (f *fakeRuns) List(ctx context.Context, limit int) ([]backtest.RunSummary, error) {
	f.limit = limit
	return f.runs, f.err
}

func (f *fakeRuns) Get(ctx context.Context, id string) (*backtest.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.run == nil || f.run.RunID != id {
		return nil, backtest.ErrRunNotFound
	}
	return f.run, nil
}

type fakeJob struct {
	store *scheduler.RecommendationStore
	err   error
}

func (j *fakeJob) Name() string { return "recommend" }

func (j *fakeJob) Run() error {
	if j.err != nil {
		return j.err
	}
	j.store.Set(&scheduler.Recommendation{
		Budget:    1000,
		Portfolio: &backtest.Portfolio{Branch: optimization.BranchMaxSharpe, Weights: map[string]float64{"AAA": 1}},
	})
	return nil
}

func newTestServer(t *testing.T, runs RunStore, store *scheduler.RecommendationStore, job scheduler.Job) *Server {
	t.Helper()
	db, err := database.New(database.Config{Path: ":memory:", Profile: database.ProfileStandard, Name: database.NameRuns})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	backtest.NewMetrics(reg)

	return New(Config{
		Log:             zerolog.Nop(),
		Port:            0,
		DevMode:         true,
		Runs:            runs,
		Recommendations: store,
		RefreshJob:      job,
		Gatherer:        reg,
		Databases:       []*database.DB{db},
	})
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeRuns{}, scheduler.NewRecommendationStore(), nil)

	rec := do(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"runs": "ok"}, body["databases"])
}

func TestListRuns(t *testing.T) {
	runs := &fakeRuns{runs: []backtest.RunSummary{{ID: "a", Windows: 3}}}
	s := newTestServer(t, runs, scheduler.NewRecommendationStore(), nil)

	rec := do(t, s, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultRunLimit, runs.limit)

	var body []backtest.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "a", body[0].ID)

	rec = do(t, s, http.MethodGet, "/api/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, runs.limit)

	rec = do(t, s, http.MethodGet, "/api/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRuns_EmptyIsArray(t *testing.T) {
	s := newTestServer(t, &fakeRuns{}, scheduler.NewRecommendationStore(), nil)

	rec := do(t, s, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestListRuns_StoreError(t *testing.T) {
	s := newTestServer(t, &fakeRuns{err: errors.New("disk")}, scheduler.NewRecommendationStore(), nil)

	rec := do(t, s, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetRun(t *testing.T) {
	run := &backtest.Result{
		RunID:     "run-1",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Records: []backtest.PerformanceRecord{
			{Metrics: formulas.Metrics{Sharpe: 1}},
			{Metrics: formulas.Metrics{Sharpe: 3}},
		},
	}
	s := newTestServer(t, &fakeRuns{run: run}, scheduler.NewRecommendationStore(), nil)

	rec := do(t, s, http.MethodGet, "/api/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.Run.RunID)
	assert.Equal(t, 2, body.Summary.Windows)
	assert.InDelta(t, 2.0, body.Summary.MeanSharpe, 1e-12)

	rec = do(t, s, http.MethodGet, "/api/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecommendation(t *testing.T) {
	store := scheduler.NewRecommendationStore()
	s := newTestServer(t, &fakeRuns{}, store, nil)

	rec := do(t, s, http.MethodGet, "/api/recommendation")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store.Set(&scheduler.Recommendation{Budget: 500, Portfolio: &backtest.Portfolio{Branch: optimization.BranchEqualWeight}})
	rec = do(t, s, http.MethodGet, "/api/recommendation")
	require.Equal(t, http.StatusOK, rec.Code)

	var body scheduler.Recommendation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 500.0, body.Budget)
	assert.Equal(t, optimization.BranchEqualWeight, body.Portfolio.Branch)
}

func TestRefreshRecommendation(t *testing.T) {
	store := scheduler.NewRecommendationStore()
	s := newTestServer(t, &fakeRuns{}, store, &fakeJob{store: store})

	rec := do(t, s, http.MethodPost, "/api/recommendation/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "max_sharpe")

	failing := newTestServer(t, &fakeRuns{}, store, &fakeJob{err: errors.New("offline")})
	rec = do(t, failing, http.MethodPost, "/api/recommendation/refresh")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRefreshRecommendation_NotRegisteredWithoutJob(t *testing.T) {
	s := newTestServer(t, &fakeRuns{}, scheduler.NewRecommendationStore(), nil)

	rec := do(t, s, http.MethodPost, "/api/recommendation/refresh")
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, &fakeRuns{}, scheduler.NewRecommendationStore(), nil)

	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "advisor_backtest_windows_total")
}

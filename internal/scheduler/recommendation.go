package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/advisor/internal/modules/backtest"
	"github.com/aristath/advisor/internal/modules/dataset"
)

// ErrNoRecommendation is returned before the first recommendation is computed.
var ErrNoRecommendation = errors.New("no recommendation computed yet")

// Recommendation is a live portfolio and when it was computed.
type Recommendation struct {
	Portfolio  *backtest.Portfolio `json:"portfolio"`
	Budget     float64             `json:"budget"`
	ComputedAt time.Time           `json:"computed_at"`
}

// RecommendationStore holds the most recent recommendation.
type RecommendationStore struct {
	mu      sync.RWMutex
	current *Recommendation
}

// NewRecommendationStore creates an empty store.
func NewRecommendationStore() *RecommendationStore {
	return &RecommendationStore{}
}

// Set replaces the stored recommendation.
func (s *RecommendationStore) Set(r *Recommendation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = r
}

// Current returns the stored recommendation or ErrNoRecommendation.
func (s *RecommendationStore) Current() (*Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoRecommendation
	}
	return s.current, nil
}

// DatasetLoader loads aligned price history.
type DatasetLoader interface {
	LoadDataset(symbols []string) (*dataset.Dataset, error)
}

// PriceSyncer refreshes stored price history.
type PriceSyncer interface {
	Sync(ctx context.Context, symbols []string, period string) error
}

// Recommender trains on the latest history and builds a portfolio.
type Recommender interface {
	Recommend(ctx context.Context, ds *dataset.Dataset, budget float64) (*backtest.Portfolio, error)
}

// RecommendJob refreshes prices and recomputes the live recommendation.
type RecommendJob struct {
	log         zerolog.Logger
	symbols     []string
	budget      float64
	period      string
	syncer      PriceSyncer
	loader      DatasetLoader
	recommender Recommender
	store       *RecommendationStore
	timeout     time.Duration
	running     sync.Mutex
}

// RecommendJobConfig holds configuration for the recommendation job
type RecommendJobConfig struct {
	Log     zerolog.Logger
	Symbols []string
	Budget  float64
	// Period is the history span refreshed before each run. Ignored when Syncer is nil.
	Period      string
	Syncer      PriceSyncer
	Loader      DatasetLoader
	Recommender Recommender
	Store       *RecommendationStore
	Timeout     time.Duration
}

// NewRecommendJob creates a new recommendation job
func NewRecommendJob(cfg RecommendJobConfig) *RecommendJob {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &RecommendJob{
		log:         cfg.Log.With().Str("job", "recommend").Logger(),
		symbols:     cfg.Symbols,
		budget:      cfg.Budget,
		period:      cfg.Period,
		syncer:      cfg.Syncer,
		loader:      cfg.Loader,
		recommender: cfg.Recommender,
		store:       cfg.Store,
		timeout:     timeout,
	}
}

// Name returns the job name
func (j *RecommendJob) Name() string {
	return "recommend"
}

// Run executes the job. A run that starts while another is in progress is skipped.
func (j *RecommendJob) Run() error {
	if !j.running.TryLock() {
		j.log.Warn().Msg("Recommendation already running")
		return nil
	}
	defer j.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	startTime := time.Now()

	if j.syncer != nil {
		if err := j.syncer.Sync(ctx, j.symbols, j.period); err != nil {
			return fmt.Errorf("failed to refresh prices: %w", err)
		}
	}

	ds, err := j.loader.LoadDataset(j.symbols)
	if err != nil {
		return fmt.Errorf("failed to load prices: %w", err)
	}

	portfolio, err := j.recommender.Recommend(ctx, ds, j.budget)
	if err != nil {
		return fmt.Errorf("failed to compute recommendation: %w", err)
	}

	j.store.Set(&Recommendation{
		Portfolio:  portfolio,
		Budget:     j.budget,
		ComputedAt: time.Now().UTC(),
	})

	j.log.Info().
		Str("as_of", portfolio.AsOf.Format("2006-01-02")).
		Str("branch", string(portfolio.Branch)).
		Int("assets", len(portfolio.Allocation.Shares)).
		Float64("leftover", portfolio.Allocation.Leftover).
		Dur("duration", time.Since(startTime)).
		Msg("Recommendation updated")
	return nil
}

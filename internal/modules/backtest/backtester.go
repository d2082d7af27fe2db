package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/advisor/internal/domain"
	"github.com/aristath/advisor/internal/modules/dataset"
	"github.com/aristath/advisor/internal/modules/features"
	"github.com/aristath/advisor/internal/modules/forecasting"
	"github.com/aristath/advisor/internal/modules/optimization"
	"github.com/aristath/advisor/internal/utils"
	"github.com/aristath/advisor/pkg/formulas"
)

// Forecaster trains on one feature table and predicts the next return.
type Forecaster interface {
	TrainAndPredict(table *features.Table) (*forecasting.Forecast, error)
}

// PortfolioConstructor turns forecasts and a covariance matrix into weights
// and a share allocation.
type PortfolioConstructor interface {
	Optimize(expected map[string]float64, cov [][]float64, symbols []string, prices map[string]float64, budget float64) (*optimization.Result, error)
}

// Deps are the pluggable stages of the pipeline.
type Deps struct {
	Transformer features.Transformer
	Forecaster  Forecaster
	Constructor PortfolioConstructor
	// Metrics is optional.
	Metrics *Metrics
}

// Backtester runs walk-forward evaluations. It holds no per-run state and is
// safe to reuse across runs.
type Backtester struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
}

// New creates a backtester.
func New(cfg Config, deps Deps, log zerolog.Logger) (*Backtester, error) {
	if deps.Transformer == nil || deps.Forecaster == nil || deps.Constructor == nil {
		return nil, errors.New("backtest: transformer, forecaster and constructor are required")
	}
	return &Backtester{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  log.With().Str("component", "backtester").Logger(),
	}, nil
}

// Config returns the effective configuration.
func (b *Backtester) Config() Config {
	return b.cfg
}

type state int

const (
	stateScheduling state = iota
	stateTraining
	stateOptimizing
	stateScoring
	stateAdvance
	stateDone
)

func (s state) String() string {
	switch s {
	case stateScheduling:
		return "scheduling"
	case stateTraining:
		return "training"
	case stateOptimizing:
		return "optimizing"
	case stateScoring:
		return "scoring"
	case stateAdvance:
		return "advance"
	default:
		return "done"
	}
}

// windowRun is the window-local working set. It is rebuilt from scratch for
// every window and dropped once the record is folded into the accumulator.
type windowRun struct {
	window      Window
	train       *dataset.Dataset
	forecasts   map[string]*forecasting.Forecast
	annotations []Annotation
	portfolio   *Portfolio
	record      *PerformanceRecord
}

// accumulator is the only state carried between windows.
type accumulator struct {
	records []PerformanceRecord
}

// Run evaluates every complete window of ds in chronological order.
// A dataset shorter than one window returns an empty result together with
// an error wrapping domain.ErrInsufficientHistory. Cancelling ctx stops the
// run between stages and returns the windows scored so far with ctx.Err().
func (b *Backtester) Run(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	timer := utils.NewTimer("backtest_run", b.log).Observe(b.deps.Metrics.observeRun)
	defer timer.Stop()

	result := &Result{
		RunID:     uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Config:    b.cfg,
		Symbols:   ds.Symbols(),
		Records:   []PerformanceRecord{},
	}

	windows := Schedule(ds.Dates(), b.cfg.TrainDays, b.cfg.TestDays)
	if len(windows) == 0 {
		return result, fmt.Errorf("dataset has %d rows, one window needs %d: %w",
			ds.Len(), b.cfg.TrainDays+b.cfg.TestDays, domain.ErrInsufficientHistory)
	}

	b.log.Info().
		Str("run_id", result.RunID).
		Int("windows", len(windows)).
		Int("assets", len(result.Symbols)).
		Msg("Starting walk-forward backtest")

	acc := &accumulator{records: []PerformanceRecord{}}
	next := 0
	var w *windowRun

	for st := stateScheduling; st != stateDone; {
		if err := ctx.Err(); err != nil {
			result.Records = acc.records
			return result, err
		}

		switch st {
		case stateScheduling:
			if next >= len(windows) {
				st = stateDone
				continue
			}
			w = &windowRun{window: windows[next]}
			w.train = ds.SliceIndex(w.window.TrainStart, w.window.TrainEnd)
			b.log.Info().
				Int("window", w.window.Index).
				Time("train_from", w.window.TrainFrom).
				Time("test_from", w.window.TestFrom).
				Msg("Window scheduled")
			st = stateTraining

		case stateTraining:
			forecasts, annotations, err := b.train(ctx, w.train)
			if err != nil {
				result.Records = acc.records
				return result, fmt.Errorf("window %d training: %w", w.window.Index, err)
			}
			w.forecasts = forecasts
			w.annotations = annotations
			st = stateOptimizing

		case stateOptimizing:
			p, err := b.optimize(w.train, w.forecasts, w.annotations, b.cfg.Budget)
			if err != nil {
				result.Records = acc.records
				return result, fmt.Errorf("window %d optimizing: %w", w.window.Index, err)
			}
			w.portfolio = p
			st = stateScoring

		case stateScoring:
			test := ds.SliceIndex(w.window.TestStart, w.window.TestEnd)
			returns := portfolioReturns(test, w.portfolio.Weights)
			w.record = &PerformanceRecord{
				Window:    w.window,
				Metrics:   formulas.Evaluate(returns, b.cfg.RiskFreeAnnual, b.cfg.PeriodsPerYear),
				Portfolio: *w.portfolio,
			}
			b.deps.Metrics.observeWindow(w.record)
			b.log.Info().
				Int("window", w.window.Index).
				Str("branch", string(w.portfolio.Branch)).
				Float64("sharpe", w.record.Metrics.Sharpe).
				Float64("sortino", w.record.Metrics.Sortino).
				Float64("max_drawdown", w.record.Metrics.MaxDrawdown).
				Msg("Window scored")
			st = stateAdvance

		case stateAdvance:
			acc.records = append(acc.records, *w.record)
			w = nil
			next++
			st = stateScheduling
		}
	}

	result.Records = acc.records
	if n := len(acc.records); n > 0 {
		final := acc.records[n-1].Portfolio
		result.Final = &final
	}
	return result, nil
}

// portfolioReturns is the per-period return of a constant-weight portfolio
// over the rows of test. An empty portfolio holds cash and earns zero.
func portfolioReturns(test *dataset.Dataset, weights map[string]float64) []float64 {
	periods := test.Len() - 1
	if periods < 0 {
		periods = 0
	}
	held := make([]string, 0, len(weights))
	for sym, w := range weights {
		if w > 0 {
			held = append(held, sym)
		}
	}
	if len(held) == 0 {
		return make([]float64, periods)
	}
	return formulas.WeightedReturns(test.Returns(held), weights)
}

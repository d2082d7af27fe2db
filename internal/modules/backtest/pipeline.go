package backtest

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/advisor/internal/domain"
	"github.com/aristath/advisor/internal/modules/dataset"
	"github.com/aristath/advisor/internal/modules/forecasting"
	"github.com/aristath/advisor/internal/modules/optimization"
)

// train fits one forecast per asset using only the rows of train. Assets
// whose forecast fails are excluded with an annotation. Up to cfg.Workers
// assets train concurrently; results are reduced in symbol order so the
// outcome does not depend on scheduling.
func (b *Backtester) train(ctx context.Context, train *dataset.Dataset) (map[string]*forecasting.Forecast, []Annotation, error) {
	symbols := train.Symbols()
	dates := train.Dates()
	forecasts := make([]*forecasting.Forecast, len(symbols))
	failures := make([]error, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			table, err := b.deps.Transformer.Transform(symbol, dates, train.Closes(symbol))
			if err != nil {
				failures[i] = err
				return nil
			}
			forecasts[i], failures[i] = b.deps.Forecaster.TrainAndPredict(table)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := make(map[string]*forecasting.Forecast, len(symbols))
	var annotations []Annotation
	for i, symbol := range symbols {
		if err := failures[i]; err != nil {
			reason := ReasonForecastFailed
			if errors.Is(err, domain.ErrInsufficientData) {
				reason = ReasonInsufficientData
			}
			annotations = append(annotations, Annotation{Kind: AnnotationExcluded, Symbol: symbol, Reason: reason})
			b.deps.Metrics.observeExclusion(reason)
			b.log.Warn().Err(err).Str("symbol", symbol).Str("reason", reason).Msg("Asset excluded from window")
			continue
		}
		out[symbol] = forecasts[i]
	}
	return out, annotations, nil
}

// optimize builds the portfolio for the surviving assets from the training
// covariance and the closes on the last training date. When no asset
// survived, every asset of the window is held in equal weights.
func (b *Backtester) optimize(train *dataset.Dataset, forecasts map[string]*forecasting.Forecast, annotations []Annotation, budget float64) (*Portfolio, error) {
	if train.Len() == 0 {
		return nil, fmt.Errorf("empty training range: %w", domain.ErrInsufficientHistory)
	}
	asOf := train.Date(train.Len() - 1)

	universe := make([]string, 0, len(forecasts))
	for _, symbol := range train.Symbols() {
		if _, ok := forecasts[symbol]; ok {
			universe = append(universe, symbol)
		}
	}

	expected := make(map[string]float64, len(universe))
	for _, symbol := range universe {
		expected[symbol] = forecasts[symbol].Prediction
	}

	// An empty universe falls back to every asset of the window
	held := universe
	if len(held) == 0 {
		held = train.Symbols()
	}
	prices := map[string]float64{}
	if len(held) > 0 {
		latest, err := train.LatestPrice(asOf)
		if err != nil {
			return nil, err
		}
		for _, symbol := range held {
			prices[symbol] = latest[symbol]
		}
	}

	var (
		res        *optimization.Result
		correlated []dataset.CorrelationPair
	)
	if len(universe) == 0 {
		annotations = append(annotations, Annotation{Kind: AnnotationEmptyUniverse, Reason: domain.ErrEmptyUniverse.Error()})
		b.log.Warn().Time("as_of", asOf).Int("assets", len(held)).Msg("No asset survived training, using equal weights")
		res = optimization.EqualWeight(held, prices, budget, optimization.ReasonEmptyUniverse)
	} else {
		var err error
		res, correlated, err = b.construct(train, universe, expected, prices, budget)
		if err != nil {
			// Infeasible inputs are recovered with equal weights
			b.log.Warn().Err(err).Time("as_of", asOf).Msg("Optimization infeasible, using equal weights")
			res = optimization.EqualWeight(universe, prices, budget, optimization.ReasonOptimizationInfeasible)
		}
	}

	if res.FellBack() {
		annotations = append(annotations, Annotation{Kind: AnnotationFallback, Reason: string(res.FallbackReason)})
		b.deps.Metrics.observeFallback(string(res.FallbackReason))
	}

	return &Portfolio{
		AsOf:           asOf,
		Universe:       universe,
		Expected:       expected,
		Prices:         prices,
		Weights:        res.Weights,
		Allocation:     res.Allocation,
		Branch:         res.Branch,
		FallbackReason: res.FallbackReason,
		Correlated:     correlated,
		Annotations:    annotations,
	}, nil
}

// Recommend builds the live portfolio from the trailing TrainDays rows of ds,
// ending at its latest date. A shorter dataset uses every row it has.
func (b *Backtester) Recommend(ctx context.Context, ds *dataset.Dataset, budget float64) (*Portfolio, error) {
	if ds.Len() == 0 {
		return nil, fmt.Errorf("no price history: %w", domain.ErrInsufficientHistory)
	}
	start := ds.Len() - b.cfg.TrainDays
	if start < 0 {
		start = 0
	}
	train := ds.SliceIndex(start, ds.Len())

	forecasts, annotations, err := b.train(ctx, train)
	if err != nil {
		return nil, err
	}
	p, err := b.optimize(train, forecasts, annotations, budget)
	if err != nil {
		return nil, err
	}

	b.log.Info().
		Time("as_of", p.AsOf).
		Str("branch", string(p.Branch)).
		Int("assets", len(p.Universe)).
		Float64("leftover", p.Allocation.Leftover).
		Msg("Live recommendation built")
	return p, nil
}

// construct estimates the training covariance of universe and runs the
// portfolio constructor. Errors wrap domain.ErrOptimizationInfeasible.
// Highly correlated pairs of the estimate are returned alongside.
func (b *Backtester) construct(train *dataset.Dataset, universe []string, expected, prices map[string]float64, budget float64) (*optimization.Result, []dataset.CorrelationPair, error) {
	c, err := train.CovarianceAll(dataset.CovarianceOptions{Symbols: universe, Shrinkage: b.cfg.Shrinkage})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrOptimizationInfeasible, err)
	}

	correlated := c.HighCorrelations(dataset.HighCorrelationThreshold)
	for _, pair := range correlated {
		b.log.Debug().
			Str("symbol1", pair.Symbol1).
			Str("symbol2", pair.Symbol2).
			Float64("correlation", pair.Correlation).
			Msg("Highly correlated assets in universe")
	}

	res, err := b.deps.Constructor.Optimize(expected, c.Matrix, c.Symbols, prices, budget)
	if err != nil {
		return nil, correlated, fmt.Errorf("%w: %v", domain.ErrOptimizationInfeasible, err)
	}
	return res, correlated, nil
}

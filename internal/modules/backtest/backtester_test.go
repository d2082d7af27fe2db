package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/advisor/internal/domain"
	"github.com/aristath/advisor/internal/modules/dataset"
	"github.com/aristath/advisor/internal/modules/features"
	"github.com/aristath/advisor/internal/modules/optimization"
)

func assertPortfolioInvariants(t *testing.T, p Portfolio, budget float64) {
	t.Helper()
	sum := 0.0
	for _, w := range p.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
		assert.LessOrEqual(t, w, 1.0)
		sum += w
	}
	if len(p.Weights) > 0 {
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	spent := 0.0
	for sym, shares := range p.Allocation.Shares {
		assert.GreaterOrEqual(t, shares, int64(1))
		spent += float64(shares) * p.Prices[sym]
	}
	assert.LessOrEqual(t, spent, budget+1e-6)
	assert.GreaterOrEqual(t, p.Allocation.Leftover, 0.0)
	assert.InDelta(t, budget-spent, p.Allocation.Leftover, 1e-6)
}

func TestRun_OneWindowFor900Periods(t *testing.T) {
	ds := syntheticDataset(t, 900)
	cfg := DefaultConfig()
	cfg.RiskFreeAnnual = 0.02

	result, err := newBacktester(t, cfg, realDeps()).Run(context.Background(), ds)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, 756, rec.Window.TestStart)
	assert.Equal(t, 125, rec.Metrics.Periods)
	assert.Equal(t, ds.Date(755), rec.Portfolio.AsOf)
	assertPortfolioInvariants(t, rec.Portfolio, cfg.Budget)

	require.NotNil(t, result.Final)
	assert.Equal(t, rec.Portfolio.Weights, result.Final.Weights)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, result.Symbols)
}

func TestRun_RecordsInWindowOrder(t *testing.T) {
	ds := syntheticDataset(t, 120)
	result, err := newBacktester(t, smallConfig(), realDeps()).Run(context.Background(), ds)
	require.NoError(t, err)

	require.Len(t, result.Records, 3)
	for i, rec := range result.Records {
		assert.Equal(t, i, rec.Window.Index)
		assert.Equal(t, 19, rec.Metrics.Periods)
		assert.LessOrEqual(t, rec.Metrics.MaxDrawdown, 0.0)
		assert.Equal(t, ds.Date(rec.Window.TrainEnd-1), rec.Portfolio.AsOf)
		assertPortfolioInvariants(t, rec.Portfolio, 100000)
	}
	assert.Equal(t, result.Records[2].Portfolio.AsOf, result.Final.AsOf)
}

func TestRun_ExcludesAssetWithFewUsableRows(t *testing.T) {
	deps := realDeps()
	deps.Transformer = thinTransformer{
		inner:  features.NewTechnical(features.ModeBaseline),
		symbol: "BBB",
		usable: 5,
	}

	result, err := newBacktester(t, smallConfig(), deps).Run(context.Background(), syntheticDataset(t, 120))
	require.NoError(t, err)
	require.Len(t, result.Records, 3)

	for _, rec := range result.Records {
		assert.Equal(t, []string{"BBB"}, rec.Excluded())
		assert.Equal(t, []string{"AAA", "CCC"}, rec.Portfolio.Universe)
		assert.NotContains(t, rec.Portfolio.Weights, "BBB")
		assert.Contains(t, rec.Portfolio.Annotations, Annotation{
			Kind:   AnnotationExcluded,
			Symbol: "BBB",
			Reason: ReasonInsufficientData,
		})
		assertPortfolioInvariants(t, rec.Portfolio, 100000)
	}
}

// excludeAll drops every asset of syntheticDataset from training.
func excludeAll() features.Transformer {
	var tr features.Transformer = features.NewTechnical(features.ModeBaseline)
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		tr = thinTransformer{inner: tr, symbol: sym, usable: 0}
	}
	return tr
}

func TestRun_EmptyUniverseFallsBackToEqualWeight(t *testing.T) {
	deps := realDeps()
	deps.Transformer = excludeAll()

	result, err := newBacktester(t, smallConfig(), deps).Run(context.Background(), syntheticDataset(t, 120))
	require.NoError(t, err)
	require.Len(t, result.Records, 3)

	for _, rec := range result.Records {
		p := rec.Portfolio
		assert.Empty(t, p.Universe)
		assert.Equal(t, optimization.BranchEqualWeight, p.Branch)
		assert.Equal(t, optimization.ReasonEmptyUniverse, p.FallbackReason)
		require.Len(t, p.Weights, 3)
		for _, sym := range []string{"AAA", "BBB", "CCC"} {
			assert.InDelta(t, 1.0/3, p.Weights[sym], 1e-12)
		}
		assertPortfolioInvariants(t, p, smallConfig().Budget)
		assert.NotEmpty(t, p.Allocation.Shares)

		assert.Equal(t, 19, rec.Metrics.Periods)
		assert.Greater(t, rec.Metrics.Volatility, 0.0)

		kinds := []AnnotationKind{}
		for _, a := range p.Annotations {
			kinds = append(kinds, a.Kind)
		}
		assert.Equal(t, []AnnotationKind{
			AnnotationExcluded, AnnotationExcluded, AnnotationExcluded,
			AnnotationEmptyUniverse, AnnotationFallback,
		}, kinds)
	}

	assert.Equal(t, 3, Summarize(result.Records).FallbackWindows)
}

func TestRun_EmptyUniverseOnFlatPricesScoresZero(t *testing.T) {
	deps := realDeps()
	inner := features.NewTechnical(features.ModeBaseline)
	deps.Transformer = thinTransformer{inner: thinTransformer{inner: inner, symbol: "AAA", usable: 0}, symbol: "BBB", usable: 0}

	result, err := newBacktester(t, smallConfig(), deps).Run(context.Background(), flatDataset(t, 100))
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	for _, rec := range result.Records {
		assert.Equal(t, map[string]float64{"AAA": 0.5, "BBB": 0.5}, rec.Portfolio.Weights)
		assert.Equal(t, 0.0, rec.Metrics.Sharpe)
		assert.Equal(t, 0.0, rec.Metrics.Volatility)
		assert.Equal(t, 0.0, rec.Metrics.MaxDrawdown)
	}
}

func TestRun_ReportsHighlyCorrelatedAssets(t *testing.T) {
	n := 120
	ds, err := dataset.FromColumns(tradingDays(n), map[string][]float64{
		"AAA": wavyCloses(n, 100, 0.0008, 0.03, 0.31, 0.0),
		"BBB": wavyCloses(n, 50, 0.0008, 0.03, 0.31, 0.0),
		"CCC": wavyCloses(n, 2500, 0.0005, 0.02, 0.53, 2.3),
	})
	require.NoError(t, err)

	result, err := newBacktester(t, smallConfig(), realDeps()).Run(context.Background(), ds)
	require.NoError(t, err)
	require.NotEmpty(t, result.Records)

	for _, rec := range result.Records {
		require.NotEmpty(t, rec.Portfolio.Correlated)
		pair := rec.Portfolio.Correlated[0]
		assert.Equal(t, "AAA", pair.Symbol1)
		assert.Equal(t, "BBB", pair.Symbol2)
		assert.InDelta(t, 1.0, pair.Correlation, 1e-9)
	}
}

type failingConstructor struct{}

func (failingConstructor) Optimize(map[string]float64, [][]float64, []string, map[string]float64, float64) (*optimization.Result, error) {
	return nil, errors.New("solver exploded")
}

func TestRun_InfeasibleOptimizationFallsBackToEqualWeight(t *testing.T) {
	deps := realDeps()
	deps.Constructor = failingConstructor{}

	result, err := newBacktester(t, smallConfig(), deps).Run(context.Background(), syntheticDataset(t, 120))
	require.NoError(t, err)
	require.Len(t, result.Records, 3)

	for _, rec := range result.Records {
		p := rec.Portfolio
		require.Len(t, p.Universe, 3)
		assert.Equal(t, optimization.BranchEqualWeight, p.Branch)
		assert.Equal(t, optimization.ReasonOptimizationInfeasible, p.FallbackReason)
		for _, sym := range p.Universe {
			assert.InDelta(t, 1.0/float64(len(p.Universe)), p.Weights[sym], 1e-12)
		}
		assertPortfolioInvariants(t, p, smallConfig().Budget)

		last := p.Annotations[len(p.Annotations)-1]
		assert.Equal(t, AnnotationFallback, last.Kind)
		assert.Equal(t, string(optimization.ReasonOptimizationInfeasible), last.Reason)
	}
}

func TestRun_FlatPricesScoreZero(t *testing.T) {
	result, err := newBacktester(t, smallConfig(), realDeps()).Run(context.Background(), flatDataset(t, 100))
	require.NoError(t, err)
	require.NotEmpty(t, result.Records)

	for _, rec := range result.Records {
		assert.Equal(t, 0.0, rec.Metrics.Sharpe)
		assert.Equal(t, 0.0, rec.Metrics.Sortino)
		assert.Equal(t, 0.0, rec.Metrics.Volatility)
		assert.Equal(t, 0.0, rec.Metrics.MaxDrawdown)
		assert.Equal(t, optimization.ReasonCovarianceSingular, rec.Portfolio.FallbackReason)
		assert.Contains(t, rec.Portfolio.Annotations, Annotation{Kind: AnnotationFallback, Reason: string(optimization.ReasonCovarianceSingular)})
	}
}

func TestRun_TrainingNeverSeesTestRows(t *testing.T) {
	spy := &spyTransformer{
		inner:  features.NewTechnical(features.ModeBaseline),
		ranges: make(chan [2]time.Time, 64),
	}
	deps := realDeps()
	deps.Transformer = spy

	ds := syntheticDataset(t, 120)
	result, err := newBacktester(t, smallConfig(), deps).Run(context.Background(), ds)
	require.NoError(t, err)
	close(spy.ranges)

	windows := Schedule(ds.Dates(), 60, 20)
	calls := 0
	for r := range spy.ranges {
		w := windows[calls/3]
		assert.Equal(t, w.TrainFrom, r[0])
		assert.Equal(t, w.TrainTo, r[1])
		assert.True(t, r[1].Before(w.TestFrom))
		calls++
	}
	assert.Equal(t, 3*len(result.Records), calls)
}

func TestRun_FuturePricesDoNotChangePastPortfolios(t *testing.T) {
	n := 120
	dates := tradingDays(n)
	base := map[string][]float64{
		"AAA": wavyCloses(n, 100, 0.0008, 0.03, 0.31, 0.0),
		"BBB": wavyCloses(n, 40, 0.0003, 0.05, 0.17, 1.1),
		"CCC": wavyCloses(n, 2500, 0.0005, 0.02, 0.53, 2.3),
	}
	shocked := map[string][]float64{}
	for sym, closes := range base {
		c := append([]float64(nil), closes...)
		for i := 100; i < n; i++ {
			c[i] *= 0.5
		}
		shocked[sym] = c
	}

	dsA, err := dataset.FromColumns(dates, base)
	require.NoError(t, err)
	dsB, err := dataset.FromColumns(dates, shocked)
	require.NoError(t, err)

	b := newBacktester(t, smallConfig(), realDeps())
	ra, err := b.Run(context.Background(), dsA)
	require.NoError(t, err)
	rb, err := b.Run(context.Background(), dsB)
	require.NoError(t, err)

	require.Len(t, ra.Records, 3)
	require.Len(t, rb.Records, 3)
	for i := range ra.Records {
		// every window trains on rows before 100
		assert.Equal(t, ra.Records[i].Portfolio.Weights, rb.Records[i].Portfolio.Weights)
		assert.Equal(t, ra.Records[i].Portfolio.Allocation, rb.Records[i].Portfolio.Allocation)
	}
	assert.Equal(t, ra.Records[1].Metrics, rb.Records[1].Metrics)
}

func TestRun_ParallelTrainingIsDeterministic(t *testing.T) {
	ds := syntheticDataset(t, 120)

	sequential := smallConfig()
	parallel := smallConfig()
	parallel.Workers = 4

	ra, err := newBacktester(t, sequential, realDeps()).Run(context.Background(), ds)
	require.NoError(t, err)
	rb, err := newBacktester(t, parallel, realDeps()).Run(context.Background(), ds)
	require.NoError(t, err)

	require.Equal(t, len(ra.Records), len(rb.Records))
	for i := range ra.Records {
		assert.Equal(t, ra.Records[i].Metrics, rb.Records[i].Metrics)
		assert.Equal(t, ra.Records[i].Portfolio, rb.Records[i].Portfolio)
	}
	assert.NotEqual(t, ra.RunID, rb.RunID)
}

func TestRun_InsufficientHistory(t *testing.T) {
	result, err := newBacktester(t, smallConfig(), realDeps()).Run(context.Background(), syntheticDataset(t, 79))
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
	require.NotNil(t, result)
	assert.Empty(t, result.Records)
	assert.Nil(t, result.Final)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newBacktester(t, smallConfig(), realDeps()).Run(ctx, syntheticDataset(t, 120))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Records)
}

func TestRecommend_UsesTrailingWindow(t *testing.T) {
	ds := syntheticDataset(t, 130)
	spy := &spyTransformer{
		inner:  features.NewTechnical(features.ModeBaseline),
		ranges: make(chan [2]time.Time, 8),
	}
	deps := realDeps()
	deps.Transformer = spy

	p, err := newBacktester(t, smallConfig(), deps).Recommend(context.Background(), ds, 50000)
	require.NoError(t, err)
	close(spy.ranges)

	assert.Equal(t, ds.Date(129), p.AsOf)
	for r := range spy.ranges {
		assert.Equal(t, ds.Date(70), r[0])
		assert.Equal(t, ds.Date(129), r[1])
	}
	assertPortfolioInvariants(t, *p, 50000)
}

func TestNew_RequiresStages(t *testing.T) {
	_, err := New(smallConfig(), Deps{}, zerolog.Nop())
	assert.Error(t, err)
}

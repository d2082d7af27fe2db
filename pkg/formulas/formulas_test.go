package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSharpeRatio(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, 0.0}
	std := math.Sqrt(500e-6 / 3)

	t.Run("zero risk free", func(t *testing.T) {
		expected := math.Sqrt(252) * 0.005 / std
		assert.InDelta(t, expected, SharpeRatio(returns, 0, 252), 1e-9)
	})

	t.Run("annual risk free is de-annualized", func(t *testing.T) {
		expected := math.Sqrt(252) * (0.005 - 0.0252/252) / std
		assert.InDelta(t, expected, SharpeRatio(returns, 0.0252, 252), 1e-9)
	})

	t.Run("empty series", func(t *testing.T) {
		assert.Equal(t, 0.0, SharpeRatio(nil, 0.02, 252))
	})

	t.Run("zero deviation", func(t *testing.T) {
		assert.Equal(t, 0.0, SharpeRatio([]float64{0.01, 0.01, 0.01}, 0, 252))
	})

	t.Run("non-positive periods falls back to 252", func(t *testing.T) {
		assert.InDelta(t, SharpeRatio(returns, 0, 252), SharpeRatio(returns, 0, 0), 1e-12)
	})
}

func TestSortinoRatio(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, 0.0}

	// Downside subset is {-0.01, 0.0}: sample std = sqrt(50e-6)
	expected := math.Sqrt(252) * 0.005 / math.Sqrt(50e-6)
	assert.InDelta(t, expected, SortinoRatio(returns, 0, 252), 1e-9)

	assert.Equal(t, 0.0, SortinoRatio(nil, 0, 252), "empty series")
	assert.Equal(t, 0.0, SortinoRatio([]float64{0.01, 0.02, 0.03}, 0, 252), "no downside returns")
	assert.Equal(t, 0.0, SortinoRatio([]float64{0.01, -0.02, 0.03}, 0, 252), "single downside return has no deviation")
	assert.Equal(t, 0.0, SortinoRatio([]float64{0, 0, 0}, 0, 252), "flat downside")
}

func TestAnnualizedVolatility(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, 0.0}
	assert.InDelta(t, math.Sqrt(500e-6/3)*math.Sqrt(252), AnnualizedVolatility(returns, 252), 1e-12)
	assert.Equal(t, 0.0, AnnualizedVolatility(nil, 252))
	assert.Equal(t, 0.0, AnnualizedVolatility([]float64{0.05}, 252))
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, -0.5, MaxDrawdown([]float64{0.1, -0.5, 0.2}), 1e-12)
	assert.Equal(t, 0.0, MaxDrawdown(nil))
	assert.Equal(t, 0.0, MaxDrawdown([]float64{0.01, 0, 0.03, 0.02}), "non-decreasing wealth has no drawdown")

	// Two consecutive 10% losses from the first peak
	assert.InDelta(t, -0.19, MaxDrawdown([]float64{0.0, -0.1, -0.1, 0.05}), 1e-12)
}

func TestMaxDrawdown_NeverPositive(t *testing.T) {
	series := [][]float64{
		{0.02, -0.03, 0.01, -0.04, 0.05},
		{-0.5, 0.9, -0.2},
		{0, 0, 0},
	}
	for _, s := range series {
		assert.LessOrEqual(t, MaxDrawdown(s), 0.0)
	}
}

func TestWealthCurve(t *testing.T) {
	curve := WealthCurve([]float64{0.1, -0.5})
	assert.InDeltaSlice(t, []float64{1.1, 0.55}, curve, 1e-12)
}

func TestCalculateReturns(t *testing.T) {
	assert.InDeltaSlice(t, []float64{0.01, -0.5}, CalculateReturns([]float64{100, 101, 50.5}), 1e-12)
	assert.Empty(t, CalculateReturns([]float64{100}))
	assert.Equal(t, []float64{0}, CalculateReturns([]float64{0, 5}), "zero base price contributes no return")
}

func TestWeightedReturns(t *testing.T) {
	returns := map[string][]float64{
		"A": {0.01, 0.02},
		"B": {-0.01, 0.04},
		"C": {0.5, 0.5},
	}
	weights := map[string]float64{"A": 0.25, "B": 0.75}

	got := WeightedReturns(returns, weights)
	assert.InDeltaSlice(t, []float64{0.25*0.01 - 0.75*0.01, 0.25*0.02 + 0.75*0.04}, got, 1e-12)
	assert.Empty(t, WeightedReturns(map[string][]float64{}, weights))
}

func TestEvaluate_FlatSeries(t *testing.T) {
	m := Evaluate(make([]float64, 125), 0.02, 252)
	assert.Equal(t, 0.0, m.Sharpe)
	assert.Equal(t, 0.0, m.Sortino)
	assert.Equal(t, 0.0, m.Volatility)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 0.0, m.TotalReturn)
	assert.Equal(t, 125, m.Periods)
}

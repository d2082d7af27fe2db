package dataset

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/advisor/internal/domain"
)

func rampDataset(t *testing.T, n int) *Dataset {
	t.Helper()
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = 100 + float64(i) + 3*math.Sin(float64(i))
		b[i] = 50 + 2*math.Cos(float64(i)*0.7)
	}
	ds, err := FromColumns(datesN(n), map[string][]float64{"A": a, "B": b})
	require.NoError(t, err)
	return ds
}

func datesN(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = day(i)
	}
	return out
}

func TestCovariance_SymmetricWithinRange(t *testing.T) {
	ds := rampDataset(t, 60)

	cov, err := ds.Covariance(day(10), day(40), CovarianceOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, cov.Symbols)
	assert.Equal(t, 30, cov.Observations)
	require.Len(t, cov.Matrix, 2)
	assert.InDelta(t, cov.Matrix[0][1], cov.Matrix[1][0], 1e-15)
	assert.Greater(t, cov.Matrix[0][0], 0.0)
	assert.Greater(t, cov.Matrix[1][1], 0.0)
}

func TestCovariance_IgnoresRowsOutsideRange(t *testing.T) {
	ds := rampDataset(t, 60)
	inRange, err := ds.Covariance(day(10), day(40), CovarianceOptions{})
	require.NoError(t, err)

	// Rewriting prices after the range must not change the estimate
	a := ds.Closes("A")
	b := ds.Closes("B")
	for i := 40; i < 60; i++ {
		a[i] *= 3
		b[i] /= 2
	}
	mutated, err := FromColumns(ds.Dates(), map[string][]float64{"A": a, "B": b})
	require.NoError(t, err)

	again, err := mutated.Covariance(day(10), day(40), CovarianceOptions{})
	require.NoError(t, err)
	assert.Equal(t, inRange.Matrix, again.Matrix)
}

func TestCovariance_InsufficientHistory(t *testing.T) {
	ds := rampDataset(t, 60)

	// Two assets need four rows
	_, err := ds.Covariance(day(0), day(3), CovarianceOptions{})
	assert.True(t, errors.Is(err, domain.ErrInsufficientHistory))

	_, err = ds.Covariance(day(0), day(4), CovarianceOptions{})
	assert.NoError(t, err)
}

func TestCovariance_SelectSubset(t *testing.T) {
	ds := rampDataset(t, 30)
	cov, err := ds.CovarianceAll(CovarianceOptions{Symbols: []string{"B"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, cov.Symbols)
	require.Len(t, cov.Matrix, 1)
}

func TestCovariance_EmptyUniverse(t *testing.T) {
	ds := rampDataset(t, 30)
	_, err := ds.CovarianceAll(CovarianceOptions{Symbols: []string{}})
	assert.True(t, errors.Is(err, domain.ErrEmptyUniverse))
}

func TestLedoitWolfShrinkage(t *testing.T) {
	sample := [][]float64{
		{0.04, 0.01, 0.002},
		{0.01, 0.03, 0.004},
		{0.002, 0.004, 0.02},
	}

	shrunk, err := applyLedoitWolfShrinkage(sample)
	require.NoError(t, err)
	require.Len(t, shrunk, 3)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, shrunk[i][j], shrunk[j][i], 1e-15, "symmetric")
		}
	}

	// Diagonal is pulled toward the average variance (0.03)
	assert.Less(t, shrunk[0][0], 0.04)
	assert.Greater(t, shrunk[2][2], 0.02)

	single, err := applyLedoitWolfShrinkage([][]float64{{0.5}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5}}, single)
}

func TestHighCorrelations(t *testing.T) {
	cov := &Covariance{
		Symbols: []string{"A", "B", "C"},
		Matrix: [][]float64{
			{1.0, 0.9, 0.0},
			{0.9, 1.0, -0.1},
			{0.0, -0.1, 1.0},
		},
	}

	pairs := cov.HighCorrelations(HighCorrelationThreshold)
	require.Len(t, pairs, 1)
	assert.Equal(t, "A", pairs[0].Symbol1)
	assert.Equal(t, "B", pairs[0].Symbol2)
	assert.InDelta(t, 0.9, pairs[0].Correlation, 1e-12)
}

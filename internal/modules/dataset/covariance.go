package dataset

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/advisor/internal/domain"
)

// HighCorrelationThreshold is the absolute correlation reported as "high".
const HighCorrelationThreshold = 0.80

// CovarianceOptions selects assets and estimator for Covariance.
type CovarianceOptions struct {
	Symbols   []string // nil means every asset
	Shrinkage bool     // shrink toward a constant-correlation target
}

// Covariance is a daily-return covariance matrix ordered by Symbols.
type Covariance struct {
	Symbols      []string
	Matrix       [][]float64
	Observations int // number of price rows the estimate used
}

// CorrelationPair is a pair of assets whose returns move together.
type CorrelationPair struct {
	Symbol1     string  `json:"symbol1" msgpack:"symbol1"`
	Symbol2     string  `json:"symbol2" msgpack:"symbol2"`
	Correlation float64 `json:"correlation" msgpack:"correlation"`
}

// MinObservations is the smallest number of rows that keeps an n-asset
// covariance estimate well conditioned.
func MinObservations(assets int) int {
	return assets + 2
}

// Covariance estimates the covariance of daily returns using only rows in
// [start, end). It fails with ErrInsufficientHistory when the range holds
// fewer than MinObservations rows.
func (d *Dataset) Covariance(start, end time.Time, opts CovarianceOptions) (*Covariance, error) {
	window := d.Slice(start, end)
	if opts.Symbols != nil {
		window = window.Select(opts.Symbols)
	}
	return window.covariance(opts.Shrinkage)
}

// CovarianceAll estimates the covariance over every row of the dataset.
func (d *Dataset) CovarianceAll(opts CovarianceOptions) (*Covariance, error) {
	window := d
	if opts.Symbols != nil {
		window = d.Select(opts.Symbols)
	}
	return window.covariance(opts.Shrinkage)
}

func (d *Dataset) covariance(shrink bool) (*Covariance, error) {
	symbols := d.Symbols()
	if len(symbols) == 0 {
		return nil, fmt.Errorf("covariance: %w", domain.ErrEmptyUniverse)
	}
	if need := MinObservations(len(symbols)); d.Len() < need {
		return nil, fmt.Errorf("covariance needs %d rows for %d assets, range has %d: %w",
			need, len(symbols), d.Len(), domain.ErrInsufficientHistory)
	}

	returns := d.Returns(symbols)
	matrix, err := calculateSampleCovariance(returns, symbols)
	if err != nil {
		return nil, err
	}
	if shrink {
		matrix, err = applyLedoitWolfShrinkage(matrix)
		if err != nil {
			return nil, fmt.Errorf("failed to apply shrinkage: %w", err)
		}
	}

	return &Covariance{Symbols: symbols, Matrix: matrix, Observations: d.Len()}, nil
}

// HighCorrelations extracts pairs whose absolute correlation is at least threshold.
func (c *Covariance) HighCorrelations(threshold float64) []CorrelationPair {
	pairs := make([]CorrelationPair, 0)
	n := len(c.Matrix)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			vi, vj := c.Matrix[i][i], c.Matrix[j][j]
			if vi <= 0 || vj <= 0 {
				continue
			}
			corr := c.Matrix[i][j] / math.Sqrt(vi*vj)
			if math.Abs(corr) >= threshold {
				pairs = append(pairs, CorrelationPair{
					Symbol1:     c.Symbols[i],
					Symbol2:     c.Symbols[j],
					Correlation: corr,
				})
			}
		}
	}
	return pairs
}

// calculateSampleCovariance calculates the sample covariance matrix (N-1 denominator).
// Element (i,j) is the covariance between symbols[i] and symbols[j].
func calculateSampleCovariance(returns map[string][]float64, symbols []string) ([][]float64, error) {
	var returnLength int
	for k, symbol := range symbols {
		r, ok := returns[symbol]
		if !ok {
			return nil, fmt.Errorf("missing returns for %s", symbol)
		}
		if k == 0 {
			returnLength = len(r)
		}
		if len(r) != returnLength {
			return nil, fmt.Errorf("inconsistent return lengths: expected %d, got %d for %s", returnLength, len(r), symbol)
		}
	}
	if returnLength < 2 {
		return nil, fmt.Errorf("need at least 2 return observations, got %d: %w", returnLength, domain.ErrInsufficientHistory)
	}

	n := len(symbols)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := stat.Covariance(returns[symbols[i]], returns[symbols[j]], nil)
			cov[i][j] = v
			if i != j {
				cov[j][i] = v
			}
		}
	}

	return cov, nil
}

// applyLedoitWolfShrinkage shrinks a sample covariance matrix toward a
// constant-correlation target: average variance on the diagonal, average
// covariance off it. Intensity is estimated from the dispersion of the sample
// elements and capped at 0.5.
func applyLedoitWolfShrinkage(sampleCov [][]float64) ([][]float64, error) {
	n := len(sampleCov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	if n == 1 {
		return [][]float64{{sampleCov[0][0]}}, nil
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sampleCov[i][i]
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sampleCov[i][j]
			}
		}
	}
	avgVar /= float64(n)
	avgCov /= float64(n * (n - 1))

	target := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			switch {
			case i == j:
				target.Set(i, j, avgVar)
			case avgVar > 0:
				target.Set(i, j, avgCov)
			}
		}
	}

	shrinkage := 0.2
	if n > 2 && avgVar > 0 {
		var sumSqDiff, sumSample, sumSqSample float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				diff := sampleCov[i][j] - target.At(i, j)
				sumSqDiff += diff * diff
				sumSample += sampleCov[i][j]
				sumSqSample += sampleCov[i][j] * sampleCov[i][j]
			}
		}
		count := float64(n * n)
		meanSqDiff := sumSqDiff / count
		meanSample := sumSample / count
		varSample := sumSqSample/count - meanSample*meanSample

		if varSample > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(0.5, math.Max(0.0, varSample/(varSample+meanSqDiff)))
		}
	}

	sample := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sample.Set(i, j, sampleCov[i][j])
		}
	}

	// Σ_shrunk = (1-δ) Σ_sample + δ Σ_target
	var shrunkSample, shrunkTarget, result mat.Dense
	shrunkSample.Scale(1-shrinkage, sample)
	shrunkTarget.Scale(shrinkage, target)
	result.Add(&shrunkSample, &shrunkTarget)

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = mat.Row(nil, i, &result)
	}
	return out, nil
}

// Package formulas holds the pure risk and return calculations used to score
// portfolio return streams.
package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultPeriodsPerYear is the number of trading days used to annualize daily figures.
const DefaultPeriodsPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation (N-1 denominator).
// Fewer than two observations have no dispersion and yield 0.
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	sd := stat.StdDev(data, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// CalculateReturns converts prices to simple periodic returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// WeightedReturns combines per-asset return series into one portfolio series.
// Assets missing from weights contribute nothing. All series must share the
// same length; the shortest length wins otherwise.
func WeightedReturns(returns map[string][]float64, weights map[string]float64) []float64 {
	length := -1
	for _, r := range returns {
		if length < 0 || len(r) < length {
			length = len(r)
		}
	}
	if length <= 0 {
		return []float64{}
	}

	assets := make([]string, 0, len(returns))
	for asset := range returns {
		assets = append(assets, asset)
	}
	// fixed summation order keeps results reproducible
	sort.Strings(assets)

	portfolio := make([]float64, length)
	for _, asset := range assets {
		r := returns[asset]
		w := weights[asset]
		if w == 0 {
			continue
		}
		for t := 0; t < length; t++ {
			portfolio[t] += w * r[t]
		}
	}
	return portfolio
}

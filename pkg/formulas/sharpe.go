package formulas

import (
	"math"
)

// periodsOrDefault guards against a zero or negative annualization factor.
func periodsOrDefault(periodsPerYear int) int {
	if periodsPerYear <= 0 {
		return DefaultPeriodsPerYear
	}
	return periodsPerYear
}

// SharpeRatio calculates the annualized Sharpe ratio of a periodic return series.
//
// Formula:
//
//	Sharpe = sqrt(periodsPerYear) * (mean(returns) - riskFreeAnnual/periodsPerYear) / std(returns)
//
// Args:
//
//	returns: ordered periodic returns without gaps
//	riskFreeAnnual: annual risk-free rate as a decimal (0.02 for 2%)
//	periodsPerYear: 252 for daily data
//
// Returns:
//
//	The ratio, or 0 when the series is empty or has zero standard deviation.
func SharpeRatio(returns []float64, riskFreeAnnual float64, periodsPerYear int) float64 {
	if len(returns) == 0 {
		return 0
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return 0
	}

	ppy := periodsOrDefault(periodsPerYear)
	excess := Mean(returns) - riskFreeAnnual/float64(ppy)

	return math.Sqrt(float64(ppy)) * excess / stdDev
}

// SortinoRatio calculates the annualized Sortino ratio.
//
// The numerator matches SharpeRatio. The denominator is the sample standard
// deviation of the returns that are <= 0, annualized by the same
// sqrt(periodsPerYear) factor.
//
// Returns:
//
//	The ratio, or 0 when there are fewer than two non-positive returns or
//	their deviation is zero.
func SortinoRatio(returns []float64, riskFreeAnnual float64, periodsPerYear int) float64 {
	if len(returns) == 0 {
		return 0
	}

	downside := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r <= 0 {
			downside = append(downside, r)
		}
	}

	downsideDeviation := StdDev(downside)
	if downsideDeviation == 0 {
		return 0
	}

	ppy := periodsOrDefault(periodsPerYear)
	excess := Mean(returns) - riskFreeAnnual/float64(ppy)

	return math.Sqrt(float64(ppy)) * excess / downsideDeviation
}

// AnnualizedVolatility calculates std(returns) * sqrt(periodsPerYear).
func AnnualizedVolatility(returns []float64, periodsPerYear int) float64 {
	ppy := periodsOrDefault(periodsPerYear)
	return StdDev(returns) * math.Sqrt(float64(ppy))
}

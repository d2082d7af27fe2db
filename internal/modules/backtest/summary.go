package backtest

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates the records of a run.
type Summary struct {
	Windows        int     `json:"windows"`
	MeanSharpe     float64 `json:"mean_sharpe"`
	MedianSharpe   float64 `json:"median_sharpe"`
	MeanSortino    float64 `json:"mean_sortino"`
	MeanVolatility float64 `json:"mean_volatility"`
	WorstDrawdown  float64 `json:"worst_drawdown"`
	// FallbackWindows counts windows whose portfolio did not come from the max-Sharpe solve.
	FallbackWindows int `json:"fallback_windows"`
	// ExcludedAssets counts asset exclusions summed over windows.
	ExcludedAssets int `json:"excluded_assets"`
}

// Summarize computes the aggregate view of records. All fields are zero for no records.
func Summarize(records []PerformanceRecord) Summary {
	s := Summary{Windows: len(records)}
	if len(records) == 0 {
		return s
	}

	sharpe := make([]float64, len(records))
	sortino := make([]float64, len(records))
	vol := make([]float64, len(records))
	for i, r := range records {
		sharpe[i] = r.Metrics.Sharpe
		sortino[i] = r.Metrics.Sortino
		vol[i] = r.Metrics.Volatility
		if r.Metrics.MaxDrawdown < s.WorstDrawdown {
			s.WorstDrawdown = r.Metrics.MaxDrawdown
		}
		if r.Portfolio.FallbackReason != "" {
			s.FallbackWindows++
		}
		s.ExcludedAssets += len(r.Excluded())
	}

	s.MeanSharpe = stat.Mean(sharpe, nil)
	s.MeanSortino = stat.Mean(sortino, nil)
	s.MeanVolatility = stat.Mean(vol, nil)

	sorted := append([]float64(nil), sharpe...)
	sort.Float64s(sorted)
	if mid := len(sorted) / 2; len(sorted)%2 == 1 {
		s.MedianSharpe = sorted[mid]
	} else {
		s.MedianSharpe = (sorted[mid-1] + sorted[mid]) / 2
	}

	return s
}

package domain

import "errors"

// Error kinds shared by the dataset, forecasting, optimization and backtest modules.
// Callers match them with errors.Is; producers wrap them with context.
var (
	// ErrInsufficientHistory means a requested date range holds too few observations.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrInsufficientData means an asset's feature table has too few usable rows.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrOptimizationInfeasible means the ratio-maximizing solve could not produce weights.
	ErrOptimizationInfeasible = errors.New("optimization infeasible")

	// ErrEmptyUniverse means no assets reached the optimization step.
	ErrEmptyUniverse = errors.New("empty universe")

	// ErrDegenerateStatistic means a risk statistic had a zero denominator.
	// Metric functions resolve it to 0 instead of returning it.
	ErrDegenerateStatistic = errors.New("degenerate statistic")
)

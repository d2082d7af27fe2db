package optimization

// DefaultCleanCutoff is the absolute weight below which a position is dropped.
const DefaultCleanCutoff = 1e-4

// Config holds the constructor parameters.
type Config struct {
	// RiskFreeAnnual is converted to a per-period rate for the Sharpe objective.
	RiskFreeAnnual float64
	PeriodsPerYear int
	LowerBound     float64
	UpperBound     float64
	CleanCutoff    float64
}

// DefaultConfig returns long-only bounds with a zero risk-free rate.
func DefaultConfig() Config {
	return Config{
		PeriodsPerYear: 252,
		LowerBound:     0,
		UpperBound:     1,
		CleanCutoff:    DefaultCleanCutoff,
	}
}

// Branch identifies which solve produced the weights.
type Branch string

const (
	BranchMaxSharpe     Branch = "max_sharpe"
	BranchMinVolatility Branch = "min_volatility"
	BranchEqualWeight   Branch = "equal_weight"
	BranchEmptyUniverse Branch = "empty_universe"
)

// FallbackReason records why the max-Sharpe solve was not used.
type FallbackReason string

const (
	ReasonNone                   FallbackReason = ""
	ReasonCovarianceSingular     FallbackReason = "covariance_singular"
	ReasonNoPositiveExcessReturn FallbackReason = "no_positive_excess_return"
	ReasonSolverFailed           FallbackReason = "solver_failed"
	ReasonDegenerateSolution     FallbackReason = "degenerate_solution"
	ReasonBoundsInfeasible       FallbackReason = "bounds_infeasible"
	// ReasonOptimizationInfeasible marks a window whose inputs could not be
	// optimized at all, for example a covariance over too few rows.
	ReasonOptimizationInfeasible FallbackReason = "optimization_infeasible"
	// ReasonEmptyUniverse marks a window where no asset produced a forecast
	// and every available asset is held in equal proportion.
	ReasonEmptyUniverse FallbackReason = "empty_universe"
)

// Allocation is a whole-share purchase plan.
type Allocation struct {
	Shares   map[string]int64 `json:"shares" msgpack:"shares"`
	Spent    float64          `json:"spent" msgpack:"spent"`
	Leftover float64          `json:"leftover" msgpack:"leftover"`
}

// Result is the output of one portfolio construction.
type Result struct {
	Weights        map[string]float64 `json:"weights" msgpack:"weights"`
	Allocation     Allocation         `json:"allocation" msgpack:"allocation"`
	Branch         Branch             `json:"branch" msgpack:"branch"`
	FallbackReason FallbackReason     `json:"fallback_reason,omitempty" msgpack:"fallback_reason,omitempty"`
	// Ex-ante per-period portfolio statistics of the cleaned weights.
	ExpectedReturn float64 `json:"expected_return" msgpack:"expected_return"`
	Volatility     float64 `json:"volatility" msgpack:"volatility"`
}

// FellBack reports whether a fallback branch was taken.
func (r *Result) FellBack() bool {
	return r.FallbackReason != ReasonNone
}

package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// conditionThreshold is the smallest accepted ratio of the smallest to the
// largest covariance eigenvalue.
const conditionThreshold = 1e-10

// Constructor turns expected returns and a covariance matrix into cleaned
// long-only weights and a whole-share allocation.
type Constructor struct {
	cfg       Config
	optimizer *MVOptimizer
	log       zerolog.Logger
}

// NewConstructor creates a portfolio constructor.
func NewConstructor(cfg Config, log zerolog.Logger) *Constructor {
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 252
	}
	if cfg.UpperBound <= 0 {
		cfg.UpperBound = 1
	}
	if cfg.CleanCutoff <= 0 {
		cfg.CleanCutoff = DefaultCleanCutoff
	}
	return &Constructor{
		cfg:       cfg,
		optimizer: NewMVOptimizer(cfg.LowerBound, cfg.UpperBound),
		log:       log.With().Str("component", "portfolio_constructor").Logger(),
	}
}

// Optimize solves for max-Sharpe weights over symbols, falling back to the
// minimum-variance portfolio (and then to equal weights) with a recorded
// reason. expected holds per-period returns and cov is ordered like symbols.
// An empty universe yields empty weights, no shares and the whole budget left over.
func (c *Constructor) Optimize(
	expected map[string]float64,
	cov [][]float64,
	symbols []string,
	prices map[string]float64,
	budget float64,
) (*Result, error) {
	n := len(symbols)
	if n == 0 {
		return emptyResult(budget), nil
	}

	if len(cov) != n {
		return nil, fmt.Errorf("covariance matrix size %d doesn't match symbol count %d", len(cov), n)
	}
	sigma := mat.NewSymDense(n, nil)
	for i := range cov {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix row %d has size %d, expected %d", i, len(cov[i]), n)
		}
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, (cov[i][j]+cov[j][i])/2)
		}
	}

	mu := make([]float64, n)
	for i, sym := range symbols {
		ret, ok := expected[sym]
		if !ok {
			return nil, fmt.Errorf("missing expected return for %s", sym)
		}
		mu[i] = ret
	}

	riskFree := c.cfg.RiskFreeAnnual / float64(c.cfg.PeriodsPerYear)
	weights, branch, reason := c.solve(mu, sigma, riskFree)
	if reason != ReasonNone {
		c.log.Warn().
			Str("branch", string(branch)).
			Str("reason", string(reason)).
			Int("assets", n).
			Msg("Max-Sharpe solve not used, fell back")
	}

	cleaned := CleanWeights(symbols, weights, c.cfg.CleanCutoff)
	ret, variance := portfolioMoments(mu, sigma, weightVector(symbols, cleaned), 0)

	result := &Result{
		Weights:        cleaned,
		Allocation:     Allocate(cleaned, prices, budget),
		Branch:         branch,
		FallbackReason: reason,
		ExpectedReturn: ret,
		Volatility:     math.Sqrt(math.Max(variance, 0)),
	}

	c.log.Debug().
		Str("branch", string(branch)).
		Float64("expected_return", result.ExpectedReturn).
		Float64("volatility", result.Volatility).
		Float64("leftover", result.Allocation.Leftover).
		Msg("Portfolio constructed")

	return result, nil
}

// EqualWeight builds an equal-weight portfolio over symbols without any
// solve, recording reason as the fallback. No symbols keeps the whole budget.
func EqualWeight(symbols []string, prices map[string]float64, budget float64, reason FallbackReason) *Result {
	if len(symbols) == 0 {
		return emptyResult(budget)
	}
	weights := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		weights[sym] = 1.0 / float64(len(symbols))
	}
	return &Result{
		Weights:        weights,
		Allocation:     Allocate(weights, prices, budget),
		Branch:         BranchEqualWeight,
		FallbackReason: reason,
	}
}

func emptyResult(budget float64) *Result {
	return &Result{
		Weights:    map[string]float64{},
		Allocation: Allocation{Shares: map[string]int64{}, Leftover: budget},
		Branch:     BranchEmptyUniverse,
	}
}

// solve runs the decision chain and returns raw weights ordered like mu.
func (c *Constructor) solve(mu []float64, sigma *mat.SymDense, riskFree float64) ([]float64, Branch, FallbackReason) {
	n := len(mu)

	if float64(n)*c.cfg.UpperBound < 1-1e-12 || float64(n)*c.cfg.LowerBound > 1+1e-12 {
		return equalWeights(n), BranchEqualWeight, ReasonBoundsInfeasible
	}

	reason := ReasonNone
	switch {
	case !wellConditioned(sigma):
		reason = ReasonCovarianceSingular
	case maxFloat(mu)-riskFree <= 0:
		reason = ReasonNoPositiveExcessReturn
	default:
		w, err := c.optimizer.MaxSharpe(mu, sigma, riskFree)
		if err != nil {
			c.log.Debug().Err(err).Msg("Max-Sharpe solve failed")
			reason = ReasonSolverFailed
		} else if excess, _ := portfolioMoments(mu, sigma, w, riskFree); excess <= 0 {
			reason = ReasonDegenerateSolution
		} else {
			return w, BranchMaxSharpe, ReasonNone
		}
	}

	w, err := c.optimizer.MinVolatility(sigma)
	if err != nil {
		c.log.Debug().Err(err).Msg("Min-volatility solve failed")
		return equalWeights(n), BranchEqualWeight, reason
	}
	return w, BranchMinVolatility, reason
}

// wellConditioned reports whether sigma is positive definite within the
// condition threshold.
func wellConditioned(sigma *mat.SymDense) bool {
	var eig mat.EigenSym
	if ok := eig.Factorize(sigma, false); !ok {
		return false
	}
	values := eig.Values(nil)
	minEig, maxEig := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		minEig = math.Min(minEig, v)
		maxEig = math.Max(maxEig, v)
	}
	if maxEig <= 0 || math.IsNaN(maxEig) {
		return false
	}
	return minEig/maxEig >= conditionThreshold
}

// CleanWeights zeroes weights whose magnitude is below cutoff and
// renormalizes the rest to sum to 1. Negative weights are clipped to zero.
// If nothing survives the cutoff the original weights are normalized instead.
func CleanWeights(symbols []string, weights []float64, cutoff float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	sum := 0.0
	for i, sym := range symbols {
		w := weights[i]
		if math.Abs(w) < cutoff || w < 0 {
			w = 0
		}
		out[sym] = w
		sum += w
	}
	if sum <= 0 {
		for i, sym := range symbols {
			out[sym] = math.Max(weights[i], 0)
			sum += out[sym]
		}
		if sum <= 0 {
			return out
		}
	}
	for sym := range out {
		out[sym] /= sum
	}
	return out
}

func weightVector(symbols []string, weights map[string]float64) []float64 {
	w := make([]float64, len(symbols))
	for i, sym := range symbols {
		w[i] = weights[sym]
	}
	return w
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}

func maxFloat(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		m = math.Max(m, v)
	}
	return m
}

// SortedSymbols returns the keys of weights in ascending order.
func SortedSymbols(weights map[string]float64) []string {
	out := make([]string, 0, len(weights))
	for sym := range weights {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	penaltyWeight = 1000.0

	// stationaryTolerance is the gradient norm below which the equal-weight
	// start is already optimal.
	stationaryTolerance = 1e-10
)

// acceptedStatuses are the convergence statuses treated as a solution.
var acceptedStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
	optimize.MethodConverge:      true,
}

// MVOptimizer performs long-only mean-variance optimization with a uniform
// weight bound for every asset. The budget constraint is enforced with a
// quadratic penalty and the bounds by projection.
type MVOptimizer struct {
	lower float64
	upper float64
}

// NewMVOptimizer creates a new mean-variance optimizer.
func NewMVOptimizer(lower, upper float64) *MVOptimizer {
	return &MVOptimizer{lower: lower, upper: upper}
}

// MaxSharpe maximizes (μ'w − r_f) / sqrt(w'Σw) with per-period inputs.
func (mvo *MVOptimizer) MaxSharpe(mu []float64, sigma *mat.SymDense, riskFree float64) ([]float64, error) {
	n := len(mu)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := mvo.projectToBounds(x)
			excess, variance := portfolioMoments(mu, sigma, xProj, riskFree)
			stdDev := math.Sqrt(math.Max(variance, 1e-10))

			obj := -excess / stdDev
			obj += sumPenalty(xProj)
			return obj
		},
		Grad: func(grad, x []float64) {
			xProj := mvo.projectToBounds(x)
			excess, variance := portfolioMoments(mu, sigma, xProj, riskFree)
			stdDev := math.Sqrt(math.Max(variance, 1e-10))

			for i := 0; i < n; i++ {
				var dVariance float64
				for j := 0; j < n; j++ {
					dVariance += 2 * sigma.At(i, j) * xProj[j]
				}
				grad[i] = -mu[i]/stdDev + excess*dVariance/(2*stdDev*stdDev*stdDev)
			}
			addSumPenaltyGradient(grad, xProj)
		},
	}

	result, err := mvo.minimize(problem, n)
	if err != nil {
		return nil, err
	}
	return mvo.finalize(result.X)
}

// MinVolatility minimizes w'Σw.
func (mvo *MVOptimizer) MinVolatility(sigma *mat.SymDense) ([]float64, error) {
	n := sigma.SymmetricDim()
	mu := make([]float64, n)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := mvo.projectToBounds(x)
			_, variance := portfolioMoments(mu, sigma, xProj, 0)
			return variance + sumPenalty(xProj)
		},
		Grad: func(grad, x []float64) {
			xProj := mvo.projectToBounds(x)
			for i := 0; i < n; i++ {
				grad[i] = 0
				for j := 0; j < n; j++ {
					grad[i] += 2 * sigma.At(i, j) * xProj[j]
				}
			}
			addSumPenaltyGradient(grad, xProj)
		},
	}

	result, err := mvo.minimize(problem, n)
	if err != nil {
		// a flat objective surface still leaves a feasible point behind
		if result != nil {
			if w, ferr := mvo.finalize(result.X); ferr == nil {
				return w, nil
			}
		}
		return nil, err
	}
	return mvo.finalize(result.X)
}

// minimize starts from equal weights, runs BFGS and retries with
// Nelder-Mead when BFGS errors or stops without converging.
// A start with a vanishing gradient is returned as converged.
// On failure the last attempted result is returned with the error.
func (mvo *MVOptimizer) minimize(problem optimize.Problem, n int) (*optimize.Result, error) {
	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	grad := make([]float64, n)
	problem.Grad(grad, initial)
	if floats.Norm(grad, 2) <= stationaryTolerance {
		return &optimize.Result{
			Location: optimize.Location{X: initial, F: problem.Func(initial), Gradient: grad},
			Status:   optimize.GradientThreshold,
		}, nil
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err == nil && acceptedStatuses[result.Status] {
		return result, nil
	}

	retry, retryErr := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if retryErr != nil {
		if retry == nil {
			retry = result
		}
		return retry, fmt.Errorf("optimization failed: %w", retryErr)
	}
	if !acceptedStatuses[retry.Status] {
		return retry, fmt.Errorf("optimization did not converge: status=%v", retry.Status)
	}
	return retry, nil
}

// finalize projects the solver output to the bounds and normalizes it to sum to 1.
func (mvo *MVOptimizer) finalize(x []float64) ([]float64, error) {
	xFinal := mvo.projectToBounds(x)
	sum := 0.0
	for _, w := range xFinal {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("non-finite weight in solution")
		}
		sum += w
	}
	if sum <= 1e-10 {
		return nil, fmt.Errorf("solution weights sum to %g", sum)
	}
	for i := range xFinal {
		xFinal[i] = math.Max(0, xFinal[i]/sum)
	}
	return xFinal, nil
}

// projectToBounds projects weights to [lower, upper].
func (mvo *MVOptimizer) projectToBounds(x []float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(mvo.lower, math.Min(mvo.upper, x[i]))
	}
	return proj
}

// portfolioMoments returns μ'w − r_f and w'Σw.
func portfolioMoments(mu []float64, sigma *mat.SymDense, w []float64, riskFree float64) (float64, float64) {
	var ret, variance float64
	for i := range w {
		ret += mu[i] * w[i]
		for j := range w {
			variance += w[i] * w[j] * sigma.At(i, j)
		}
	}
	return ret - riskFree, variance
}

func sumPenalty(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return penaltyWeight * (sum - 1.0) * (sum - 1.0)
}

func addSumPenaltyGradient(grad, x []float64) {
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	for i := range grad {
		grad[i] += 2 * penaltyWeight * (sum - 1.0)
	}
}

package forecasting

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var errNotFitted = errors.New("model is not fitted")

// Ridge is an L2-penalised linear regression on standardised features.
// The objective is (1/n)·||y − ȳ − Zβ||² + λ·||β||² where Z holds the
// standardised feature columns, so λ is independent of the sample size.
type Ridge struct {
	Lambda float64

	means     []float64
	scales    []float64
	coef      []float64
	intercept float64
	fitted    bool
}

// NewRidge creates an unfitted ridge model.
func NewRidge(lambda float64) *Ridge {
	if lambda < 0 {
		lambda = 0
	}
	return &Ridge{Lambda: lambda}
}

// Fit estimates the coefficients by solving the penalised normal equations.
func (r *Ridge) Fit(x [][]float64, y []float64) error {
	n := len(x)
	if n == 0 {
		return fmt.Errorf("fit: no rows")
	}
	if len(y) != n {
		return fmt.Errorf("fit: %d rows but %d targets", n, len(y))
	}
	p := len(x[0])
	if p == 0 {
		return fmt.Errorf("fit: no feature columns")
	}

	r.means = make([]float64, p)
	r.scales = make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			if len(x[i]) != p {
				return fmt.Errorf("fit: row %d has %d columns, want %d", i, len(x[i]), p)
			}
			col[i] = x[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		r.means[j] = mean
		// constant columns carry no signal; scale 1 keeps them at zero
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		r.scales[j] = std
	}

	z := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			z.Set(i, j, (x[i][j]-r.means[j])/r.scales[j])
		}
	}
	yMean := stat.Mean(y, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yc.SetVec(i, y[i]-yMean)
	}

	var ztz mat.Dense
	ztz.Mul(z.T(), z)
	a := mat.NewSymDense(p, nil)
	penalty := r.Lambda * float64(n)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := ztz.At(i, j)
			if i == j {
				v += penalty
			}
			a.SetSym(i, j, v)
		}
	}

	var rhs mat.VecDense
	rhs.MulVec(z.T(), yc)

	beta := mat.NewVecDense(p, nil)
	var chol mat.Cholesky
	if chol.Factorize(a) {
		if err := chol.SolveVecTo(beta, &rhs); err != nil {
			return fmt.Errorf("fit: solve normal equations: %w", err)
		}
	} else {
		// λ = 0 with collinear features: fall back to least squares
		if err := beta.SolveVec(a, &rhs); err != nil {
			return fmt.Errorf("fit: normal equations are singular: %w", err)
		}
	}

	r.coef = make([]float64, p)
	for j := 0; j < p; j++ {
		r.coef[j] = beta.AtVec(j)
		if math.IsNaN(r.coef[j]) || math.IsInf(r.coef[j], 0) {
			return fmt.Errorf("fit: non-finite coefficient for column %d", j)
		}
	}
	r.intercept = yMean
	r.fitted = true
	return nil
}

// Predict applies the fitted model to each row.
func (r *Ridge) Predict(x [][]float64) ([]float64, error) {
	if !r.fitted {
		return nil, errNotFitted
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(r.coef) {
			return nil, fmt.Errorf("predict: row %d has %d columns, want %d", i, len(row), len(r.coef))
		}
		v := r.intercept
		for j, c := range r.coef {
			v += c * (row[j] - r.means[j]) / r.scales[j]
		}
		out[i] = v
	}
	return out, nil
}

// FeatureImportance is the absolute standardised coefficient of each column.
func (r *Ridge) FeatureImportance() []float64 {
	out := make([]float64, len(r.coef))
	for j, c := range r.coef {
		out[j] = math.Abs(c)
	}
	return out
}

// Coefficients returns the coefficients in original feature units and the intercept.
func (r *Ridge) Coefficients() ([]float64, float64) {
	coef := make([]float64, len(r.coef))
	intercept := r.intercept
	for j, c := range r.coef {
		coef[j] = c / r.scales[j]
		intercept -= coef[j] * r.means[j]
	}
	return coef, intercept
}

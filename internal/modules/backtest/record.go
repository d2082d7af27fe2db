package backtest

import (
	"time"

	"github.com/aristath/advisor/internal/modules/dataset"
	"github.com/aristath/advisor/internal/modules/optimization"
	"github.com/aristath/advisor/pkg/formulas"
)

// AnnotationKind classifies a recovered condition inside a window.
type AnnotationKind string

const (
	// AnnotationExcluded marks an asset dropped from the window's universe.
	AnnotationExcluded AnnotationKind = "excluded"
	// AnnotationFallback marks a portfolio built by a fallback solve.
	AnnotationFallback AnnotationKind = "fallback"
	// AnnotationEmptyUniverse marks a window where no asset survived training.
	AnnotationEmptyUniverse AnnotationKind = "empty_universe"
)

// Exclusion reasons.
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonForecastFailed   = "forecast_failed"
)

// Annotation records a condition that was recovered without aborting the run.
type Annotation struct {
	Kind   AnnotationKind `json:"kind" msgpack:"kind"`
	Symbol string         `json:"symbol,omitempty" msgpack:"symbol,omitempty"`
	Reason string         `json:"reason" msgpack:"reason"`
}

// Portfolio is the outcome of training and optimizing on one training range.
type Portfolio struct {
	AsOf time.Time `json:"as_of" msgpack:"as_of"`
	// Universe lists the assets that produced a forecast.
	Universe       []string                    `json:"universe" msgpack:"universe"`
	Expected       map[string]float64          `json:"expected" msgpack:"expected"`
	Prices         map[string]float64          `json:"prices" msgpack:"prices"`
	Weights        map[string]float64          `json:"weights" msgpack:"weights"`
	Allocation     optimization.Allocation     `json:"allocation" msgpack:"allocation"`
	Branch         optimization.Branch         `json:"branch" msgpack:"branch"`
	FallbackReason optimization.FallbackReason `json:"fallback_reason,omitempty" msgpack:"fallback_reason,omitempty"`
	// Correlated lists universe pairs whose training returns correlate strongly.
	Correlated  []dataset.CorrelationPair `json:"correlated,omitempty" msgpack:"correlated,omitempty"`
	Annotations []Annotation              `json:"annotations,omitempty" msgpack:"annotations,omitempty"`
}

// PerformanceRecord scores one window's portfolio on its test range.
type PerformanceRecord struct {
	Window    Window           `json:"window" msgpack:"window"`
	Metrics   formulas.Metrics `json:"metrics" msgpack:"metrics"`
	Portfolio Portfolio        `json:"portfolio" msgpack:"portfolio"`
}

// Excluded returns the symbols excluded in this window.
func (r *PerformanceRecord) Excluded() []string {
	var out []string
	for _, a := range r.Portfolio.Annotations {
		if a.Kind == AnnotationExcluded {
			out = append(out, a.Symbol)
		}
	}
	return out
}

// Result is the output of one backtest run.
type Result struct {
	RunID     string              `json:"run_id" msgpack:"run_id"`
	CreatedAt time.Time           `json:"created_at" msgpack:"created_at"`
	Config    Config              `json:"config" msgpack:"config"`
	Symbols   []string            `json:"symbols" msgpack:"symbols"`
	Records   []PerformanceRecord `json:"records" msgpack:"records"`
	// Final is the portfolio of the most recent complete window.
	Final *Portfolio `json:"final,omitempty" msgpack:"final,omitempty"`
}

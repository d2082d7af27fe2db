// Package forecasting fits a regression model per asset on a chronological
// training prefix and predicts the next-period return from the live row.
package forecasting

// Model is a tabular regressor. Implementations are single-use: the trainer
// asks the factory for a fresh model for every fit.
type Model interface {
	Fit(x [][]float64, y []float64) error
	Predict(x [][]float64) ([]float64, error)
	// FeatureImportance returns one non-negative value per feature column of
	// the fitted model.
	FeatureImportance() []float64
}

// ModelFactory creates an unfitted model.
type ModelFactory func() Model

// RidgeFactory returns a factory for ridge models with the given penalty.
func RidgeFactory(lambda float64) ModelFactory {
	return func() Model {
		return NewRidge(lambda)
	}
}

package forecasting

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/advisor/internal/domain"
	"github.com/aristath/advisor/internal/modules/features"
)

// Defaults for the trainer configuration.
const (
	DefaultTrainFraction = 0.9
	DefaultMinUsableRows = 12
)

// Config controls the chronological split and the usable-row threshold.
type Config struct {
	// TrainFraction is the share of usable rows in the training prefix.
	TrainFraction float64
	// MinUsableRows is the minimum number of target-defined rows needed to train.
	MinUsableRows int
}

// DefaultConfig returns the 90/10 split with a 12 row minimum.
func DefaultConfig() Config {
	return Config{TrainFraction: DefaultTrainFraction, MinUsableRows: DefaultMinUsableRows}
}

// Forecast is the per-asset output of one training run.
type Forecast struct {
	Symbol string    `json:"symbol" msgpack:"symbol"`
	AsOf   time.Time `json:"as_of" msgpack:"as_of"`
	// Prediction is the expected return for the period after AsOf.
	Prediction        float64            `json:"prediction" msgpack:"prediction"`
	RMSE              float64            `json:"rmse" msgpack:"rmse"`
	MAE               float64            `json:"mae" msgpack:"mae"`
	DirectionAccuracy float64            `json:"direction_accuracy" msgpack:"direction_accuracy"`
	FeatureImportance map[string]float64 `json:"feature_importance" msgpack:"feature_importance"`
	TrainSize         int                `json:"train_size" msgpack:"train_size"`
	TestSize          int                `json:"test_size" msgpack:"test_size"`
	HeldOutPredicted  []float64          `json:"held_out_predicted,omitempty" msgpack:"held_out_predicted,omitempty"`
	HeldOutActual     []float64          `json:"held_out_actual,omitempty" msgpack:"held_out_actual,omitempty"`
}

// Trainer fits one model per feature table.
type Trainer struct {
	cfg      Config
	newModel ModelFactory
	log      zerolog.Logger
}

// NewTrainer creates a trainer. Zero config values fall back to the defaults.
func NewTrainer(cfg Config, factory ModelFactory, log zerolog.Logger) *Trainer {
	if cfg.TrainFraction <= 0 || cfg.TrainFraction >= 1 {
		cfg.TrainFraction = DefaultTrainFraction
	}
	if cfg.MinUsableRows <= 0 {
		cfg.MinUsableRows = DefaultMinUsableRows
	}
	if factory == nil {
		factory = RidgeFactory(0)
	}
	return &Trainer{
		cfg:      cfg,
		newModel: factory,
		log:      log.With().Str("component", "forecaster").Logger(),
	}
}

// SplitSizes returns the training prefix and held-out suffix sizes for n usable rows.
// The suffix is ceil((1-fraction)·n) rows and never empty.
func SplitSizes(n int, trainFraction float64) (train, test int) {
	test = int(math.Ceil((1 - trainFraction) * float64(n)))
	// guard against 0.1*n landing a hair above an integer
	if exact := (1 - trainFraction) * float64(n); math.Abs(exact-math.Round(exact)) < 1e-9 {
		test = int(math.Round(exact))
	}
	if test < 1 {
		test = 1
	}
	if test > n-1 {
		test = n - 1
	}
	return n - test, test
}

// TrainAndPredict fits a fresh model on the chronological prefix of the usable
// rows, scores it on the suffix and predicts from the table's final row.
// It fails with domain.ErrInsufficientData when fewer than MinUsableRows rows
// are usable or the final row has undefined features.
func (t *Trainer) TrainAndPredict(table *features.Table) (*Forecast, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}

	usable := table.Usable()
	if len(usable) < t.cfg.MinUsableRows {
		return nil, fmt.Errorf("%s: %d usable rows, need %d: %w",
			table.Symbol, len(usable), t.cfg.MinUsableRows, domain.ErrInsufficientData)
	}
	live, ok := table.Live()
	if !ok {
		return nil, fmt.Errorf("%s: live row has undefined features: %w", table.Symbol, domain.ErrInsufficientData)
	}

	trainSize, testSize := SplitSizes(len(usable), t.cfg.TrainFraction)
	xTrain, yTrain := gather(table, usable[:trainSize])
	xTest, yTest := gather(table, usable[trainSize:])

	model := t.newModel()
	if err := model.Fit(xTrain, yTrain); err != nil {
		return nil, fmt.Errorf("%s: %w", table.Symbol, err)
	}

	predicted, err := model.Predict(xTest)
	if err != nil {
		return nil, fmt.Errorf("%s: held-out prediction: %w", table.Symbol, err)
	}
	forward, err := model.Predict([][]float64{live})
	if err != nil {
		return nil, fmt.Errorf("%s: forward prediction: %w", table.Symbol, err)
	}

	importance := make(map[string]float64, len(table.Columns))
	for j, v := range model.FeatureImportance() {
		if j < len(table.Columns) {
			importance[table.Columns[j]] = v
		}
	}

	f := &Forecast{
		Symbol:            table.Symbol,
		AsOf:              table.LiveDate(),
		Prediction:        forward[0],
		RMSE:              RMSE(predicted, yTest),
		MAE:               MAE(predicted, yTest),
		DirectionAccuracy: DirectionAccuracy(predicted, yTest),
		FeatureImportance: importance,
		TrainSize:         trainSize,
		TestSize:          testSize,
		HeldOutPredicted:  predicted,
		HeldOutActual:     yTest,
	}

	t.log.Debug().
		Str("symbol", f.Symbol).
		Int("train", trainSize).
		Int("test", testSize).
		Float64("prediction", f.Prediction).
		Float64("rmse", f.RMSE).
		Float64("direction_accuracy", f.DirectionAccuracy).
		Msg("Model trained")

	return f, nil
}

func gather(table *features.Table, idx []int) ([][]float64, []float64) {
	x := make([][]float64, len(idx))
	y := make([]float64, len(idx))
	for k, i := range idx {
		x[k] = table.Rows[i]
		y[k] = table.Target[i]
	}
	return x, y
}

// RMSE is the root-mean-square error between predicted and actual values.
func RMSE(predicted, actual []float64) float64 {
	if len(predicted) == 0 || len(predicted) != len(actual) {
		return 0
	}
	return floats.Distance(predicted, actual, 2) / math.Sqrt(float64(len(actual)))
}

// MAE is the mean absolute error between predicted and actual values.
func MAE(predicted, actual []float64) float64 {
	if len(predicted) == 0 || len(predicted) != len(actual) {
		return 0
	}
	return floats.Distance(predicted, actual, 1) / float64(len(actual))
}

// DirectionAccuracy is the fraction of periods where prediction and
// realised value agree on whether the return is positive. Zero and negative
// returns both count as "not up".
func DirectionAccuracy(predicted, actual []float64) float64 {
	if len(predicted) == 0 || len(predicted) != len(actual) {
		return 0
	}
	hits := 0
	for i := range predicted {
		if (predicted[i] > 0) == (actual[i] > 0) {
			hits++
		}
	}
	return float64(hits) / float64(len(predicted))
}

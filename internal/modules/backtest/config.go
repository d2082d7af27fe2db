package backtest

import "github.com/aristath/advisor/pkg/formulas"

// Config holds the walk-forward parameters.
type Config struct {
	TrainDays      int     `json:"train_days" msgpack:"train_days"`
	TestDays       int     `json:"test_days" msgpack:"test_days"`
	Budget         float64 `json:"budget" msgpack:"budget"`
	RiskFreeAnnual float64 `json:"risk_free_annual" msgpack:"risk_free_annual"`
	PeriodsPerYear int     `json:"periods_per_year" msgpack:"periods_per_year"`
	// Workers bounds per-asset training parallelism; 1 trains sequentially.
	Workers   int  `json:"workers" msgpack:"workers"`
	Shrinkage bool `json:"shrinkage" msgpack:"shrinkage"`
}

// DefaultConfig returns three years of training and six months of testing
// on daily data.
func DefaultConfig() Config {
	return Config{
		TrainDays:      756,
		TestDays:       126,
		Budget:         100000,
		PeriodsPerYear: formulas.DefaultPeriodsPerYear,
		Workers:        1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TrainDays <= 0 {
		c.TrainDays = d.TrainDays
	}
	if c.TestDays <= 0 {
		c.TestDays = d.TestDays
	}
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = d.PeriodsPerYear
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

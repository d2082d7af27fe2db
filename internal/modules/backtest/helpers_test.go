package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/advisor/internal/modules/dataset"
	"github.com/aristath/advisor/internal/modules/features"
	"github.com/aristath/advisor/internal/modules/forecasting"
	"github.com/aristath/advisor/internal/modules/optimization"
)

func tradingDays(n int) []time.Time {
	dates := make([]time.Time, n)
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	return dates
}

// wavyCloses is a deterministic series with drift and two superimposed cycles.
func wavyCloses(n int, base, drift, amp, freq, phase float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		x := float64(i)
		closes[i] = base * math.Exp(drift*x+amp*math.Sin(freq*x+phase)+0.3*amp*math.Sin(2.7*freq*x))
	}
	return closes
}

func syntheticDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.FromColumns(tradingDays(n), map[string][]float64{
		"AAA": wavyCloses(n, 100, 0.0008, 0.03, 0.31, 0.0),
		"BBB": wavyCloses(n, 40, 0.0003, 0.05, 0.17, 1.1),
		"CCC": wavyCloses(n, 2500, 0.0005, 0.02, 0.53, 2.3),
	})
	require.NoError(t, err)
	return ds
}

func flatDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	flat := func(v float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	ds, err := dataset.FromColumns(tradingDays(n), map[string][]float64{
		"AAA": flat(100),
		"BBB": flat(55),
	})
	require.NoError(t, err)
	return ds
}

func smallConfig() Config {
	return Config{
		TrainDays:      60,
		TestDays:       20,
		Budget:         100000,
		RiskFreeAnnual: 0.02,
		PeriodsPerYear: 252,
		Workers:        1,
	}
}

func realDeps() Deps {
	return Deps{
		Transformer: features.NewTechnical(features.ModeBaseline),
		Forecaster:  forecasting.NewTrainer(forecasting.DefaultConfig(), forecasting.RidgeFactory(1e-3), zerolog.Nop()),
		Constructor: optimization.NewConstructor(optimization.DefaultConfig(), zerolog.Nop()),
	}
}

func newBacktester(t *testing.T, cfg Config, deps Deps) *Backtester {
	t.Helper()
	b, err := New(cfg, deps, zerolog.Nop())
	require.NoError(t, err)
	return b
}

// thinTransformer leaves only `usable` usable rows for one symbol.
type thinTransformer struct {
	inner  features.Transformer
	symbol string
	usable int
}

func (tt thinTransformer) Transform(symbol string, dates []time.Time, closes []float64) (*features.Table, error) {
	table, err := tt.inner.Transform(symbol, dates, closes)
	if err != nil || symbol != tt.symbol {
		return table, err
	}
	idx := table.Usable()
	if drop := len(idx) - tt.usable; drop > 0 {
		for _, i := range idx[:drop] {
			table.Target[i] = math.NaN()
		}
	}
	return table, nil
}

// spyTransformer records the date range of every table it builds.
type spyTransformer struct {
	inner  features.Transformer
	ranges chan [2]time.Time
}

func (s *spyTransformer) Transform(symbol string, dates []time.Time, closes []float64) (*features.Table, error) {
	s.ranges <- [2]time.Time{dates[0], dates[len(dates)-1]}
	return s.inner.Transform(symbol, dates, closes)
}

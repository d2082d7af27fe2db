package features

import (
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"
)

// Mode selects the feature set.
type Mode string

const (
	// ModeBaseline is moving averages, short volatility and momentum.
	ModeBaseline Mode = "baseline"
	// ModeRiskAware adds downside volatility, a drawdown proxy and a momentum/volatility interaction.
	ModeRiskAware Mode = "risk_aware"
)

// Feature column names.
const (
	ColMA3               = "MA3"
	ColMA6               = "MA6"
	ColVol3              = "Vol3"
	ColVol6              = "Vol6"
	ColMomentum3         = "Momentum3"
	ColMomentum6         = "Momentum6"
	ColDownsideVol       = "DownsideVol"
	ColDrawdown          = "Drawdown"
	ColMomVolInteraction = "MomVolInteraction"
)

// Technical builds rolling technical indicators with go-talib.
// Rolling standard deviations are population deviations (TA-Lib STDDEV).
type Technical struct {
	Mode Mode
}

// NewTechnical creates a technical transformer for the given mode.
func NewTechnical(mode Mode) *Technical {
	if mode == "" {
		mode = ModeBaseline
	}
	return &Technical{Mode: mode}
}

// Columns lists the feature names produced for the transformer's mode.
func (tt *Technical) Columns() []string {
	cols := []string{ColMA3, ColMA6, ColVol3, ColVol6, ColMomentum3, ColMomentum6}
	if tt.Mode == ModeRiskAware {
		cols = append(cols, ColDownsideVol, ColDrawdown, ColMomVolInteraction)
	}
	return cols
}

// Transform computes the feature table for one asset. Every value in row i
// depends only on closes[0..i]; the target of row i uses closes[i+1].
func (tt *Technical) Transform(symbol string, dates []time.Time, closes []float64) (*Table, error) {
	n := len(closes)
	if len(dates) != n {
		return nil, fmt.Errorf("symbol %s: %d dates for %d closes", symbol, len(dates), n)
	}
	if tt.Mode != ModeBaseline && tt.Mode != ModeRiskAware {
		return nil, fmt.Errorf("unknown feature mode %q", tt.Mode)
	}

	// returns[k] is the return into row k+1
	var returns []float64
	if n > 1 {
		returns = make([]float64, n-1)
		for k := 1; k < n; k++ {
			returns[k-1] = closes[k]/closes[k-1] - 1
		}
	}

	values := map[string][]float64{
		ColMA3:       column(n, closes, 0, 2, func(in []float64) []float64 { return talib.Sma(in, 3) }),
		ColMA6:       column(n, closes, 0, 5, func(in []float64) []float64 { return talib.Sma(in, 6) }),
		ColMomentum3: column(n, closes, 0, 3, func(in []float64) []float64 { return talib.Rocp(in, 3) }),
		ColMomentum6: column(n, closes, 0, 6, func(in []float64) []float64 { return talib.Rocp(in, 6) }),
		ColVol3:      column(n, returns, 1, 2, func(in []float64) []float64 { return talib.StdDev(in, 3, 1) }),
		ColVol6:      column(n, returns, 1, 5, func(in []float64) []float64 { return talib.StdDev(in, 6, 1) }),
	}

	if tt.Mode == ModeRiskAware {
		downside := make([]float64, len(returns))
		for k, r := range returns {
			downside[k] = math.Min(r, 0)
		}
		values[ColDownsideVol] = column(n, downside, 1, 5, func(in []float64) []float64 { return talib.StdDev(in, 6, 1) })

		rollingMax := column(n, closes, 0, 5, func(in []float64) []float64 { return talib.Max(in, 6) })
		drawdown := nanSlice(n)
		interaction := nanSlice(n)
		for i := 0; i < n; i++ {
			if peak := rollingMax[i]; isFinite(peak) && peak > 0 {
				drawdown[i] = (closes[i] - peak) / peak
			}
			interaction[i] = values[ColMomentum3][i] * values[ColVol3][i]
		}
		values[ColDrawdown] = drawdown
		values[ColMomVolInteraction] = interaction
	}

	cols := tt.Columns()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, len(cols))
		for c, name := range cols {
			row[c] = values[name][i]
		}
		rows[i] = row
	}

	target := nanSlice(n)
	for i := 0; i+1 < n; i++ {
		target[i] = closes[i+1]/closes[i] - 1
	}

	tableDates := make([]time.Time, n)
	copy(tableDates, dates)

	return &Table{
		Symbol:  symbol,
		Dates:   tableDates,
		Columns: cols,
		Rows:    rows,
		Target:  target,
	}, nil
}

// column runs a TA-Lib function over input and writes its defined outputs
// into an n-length NaN column starting at row offset. TA-Lib pads the first
// lookback outputs with zeros, so those are left undefined.
func column(n int, input []float64, offset, lookback int, fn func([]float64) []float64) []float64 {
	out := nanSlice(n)
	if len(input) <= lookback {
		return out
	}
	res := fn(input)
	for k := lookback; k < len(res) && offset+k < n; k++ {
		out[offset+k] = res[k]
	}
	return out
}

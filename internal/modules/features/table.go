// Package features turns a close price series into the feature/target table the
// return forecaster trains on.
package features

import (
	"fmt"
	"math"
	"time"
)

// TargetColumn names the next-period return the forecaster predicts.
const TargetColumn = "target"

// Table holds one row per price date. NaN marks an undefined value.
// Target[i] is the return from Dates[i] to Dates[i+1]; the final row's target
// is always NaN and that row is reserved for the forward prediction.
type Table struct {
	Symbol  string
	Dates   []time.Time
	Columns []string
	Rows    [][]float64
	Target  []float64
}

// Transformer maps one asset's price slice to its feature table.
type Transformer interface {
	Transform(symbol string, dates []time.Time, closes []float64) (*Table, error)
}

// Len is the number of rows.
func (t *Table) Len() int {
	return len(t.Dates)
}

// Validate checks the shape invariants of the table.
func (t *Table) Validate() error {
	n := len(t.Dates)
	if len(t.Rows) != n || len(t.Target) != n {
		return fmt.Errorf("table %s: %d dates, %d rows, %d targets", t.Symbol, n, len(t.Rows), len(t.Target))
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("table %s: row %d has %d values for %d columns", t.Symbol, i, len(row), len(t.Columns))
		}
	}
	if n > 0 && !math.IsNaN(t.Target[n-1]) {
		return fmt.Errorf("table %s: final row target must be undefined", t.Symbol)
	}
	return nil
}

// Usable returns the indices of rows with finite features and a defined
// target, in chronological order. The final row is never usable.
func (t *Table) Usable() []int {
	idx := make([]int, 0, len(t.Rows))
	for i := 0; i < len(t.Rows)-1; i++ {
		if isFinite(t.Target[i]) && allFinite(t.Rows[i]) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Live returns the final row used for the forward prediction and whether all
// its features are defined.
func (t *Table) Live() ([]float64, bool) {
	if len(t.Rows) == 0 {
		return nil, false
	}
	row := t.Rows[len(t.Rows)-1]
	return row, allFinite(row)
}

// LiveDate is the date of the final row.
func (t *Table) LiveDate() time.Time {
	if len(t.Dates) == 0 {
		return time.Time{}
	}
	return t.Dates[len(t.Dates)-1]
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

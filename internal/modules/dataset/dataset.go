// Package dataset holds the aligned multi-asset close price history that every
// other stage reads from.
package dataset

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/advisor/internal/domain"
	"github.com/aristath/advisor/pkg/formulas"
)

// Point is one adjusted close observation.
type Point struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Dataset is an immutable, date-aligned table of close prices.
// All symbols share one strictly increasing date index with no gaps.
type Dataset struct {
	symbols []string
	dates   []time.Time
	closes  map[string][]float64
}

// New aligns per-asset series on their common dates. Dates missing for any
// asset are dropped. Each input series must have strictly increasing dates.
func New(series map[string][]Point) (*Dataset, error) {
	symbols := make([]string, 0, len(series))
	for symbol := range series {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	// Count how many assets quote each date
	counts := make(map[time.Time]int)
	bySymbol := make(map[string]map[time.Time]float64, len(series))
	for _, symbol := range symbols {
		points := series[symbol]
		prices := make(map[time.Time]float64, len(points))
		for i, p := range points {
			if i > 0 && !p.Date.After(points[i-1].Date) {
				return nil, fmt.Errorf("series %s: dates not strictly increasing at index %d (%s after %s)",
					symbol, i, p.Date.Format("2006-01-02"), points[i-1].Date.Format("2006-01-02"))
			}
			if p.Close <= 0 {
				// Non-positive closes are treated as missing
				continue
			}
			day := normalize(p.Date)
			prices[day] = p.Close
			counts[day]++
		}
		bySymbol[symbol] = prices
	}

	dates := make([]time.Time, 0, len(counts))
	for day, n := range counts {
		if n == len(symbols) {
			dates = append(dates, day)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	closes := make(map[string][]float64, len(symbols))
	for _, symbol := range symbols {
		column := make([]float64, len(dates))
		for i, day := range dates {
			column[i] = bySymbol[symbol][day]
		}
		closes[symbol] = column
	}

	return &Dataset{symbols: symbols, dates: dates, closes: closes}, nil
}

// FromColumns builds a dataset from already aligned columns.
func FromColumns(dates []time.Time, closes map[string][]float64) (*Dataset, error) {
	series := make(map[string][]Point, len(closes))
	for symbol, column := range closes {
		if len(column) != len(dates) {
			return nil, fmt.Errorf("series %s: %d prices for %d dates", symbol, len(column), len(dates))
		}
		points := make([]Point, len(dates))
		for i := range dates {
			points[i] = Point{Date: dates[i], Close: column[i]}
		}
		series[symbol] = points
	}
	return New(series)
}

func normalize(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Symbols returns the asset identifiers in sorted order.
func (d *Dataset) Symbols() []string {
	out := make([]string, len(d.symbols))
	copy(out, d.symbols)
	return out
}

// Dates returns a copy of the date index.
func (d *Dataset) Dates() []time.Time {
	out := make([]time.Time, len(d.dates))
	copy(out, d.dates)
	return out
}

// Len is the number of aligned rows.
func (d *Dataset) Len() int {
	return len(d.dates)
}

// Date returns the i-th date of the index.
func (d *Dataset) Date(i int) time.Time {
	return d.dates[i]
}

// Closes returns a copy of one asset's close column, or nil for an unknown symbol.
func (d *Dataset) Closes(symbol string) []float64 {
	column, ok := d.closes[symbol]
	if !ok {
		return nil
	}
	out := make([]float64, len(column))
	copy(out, column)
	return out
}

// Has reports whether symbol belongs to the dataset.
func (d *Dataset) Has(symbol string) bool {
	_, ok := d.closes[symbol]
	return ok
}

// lowerBound is the first row index whose date is >= t.
func (d *Dataset) lowerBound(t time.Time) int {
	return sort.Search(len(d.dates), func(i int) bool { return !d.dates[i].Before(t) })
}

// SliceIndex restricts the dataset to rows [i, j). Bounds are clamped.
func (d *Dataset) SliceIndex(i, j int) *Dataset {
	if i < 0 {
		i = 0
	}
	if j > len(d.dates) {
		j = len(d.dates)
	}
	if j < i {
		j = i
	}

	closes := make(map[string][]float64, len(d.symbols))
	for _, symbol := range d.symbols {
		closes[symbol] = d.closes[symbol][i:j:j]
	}
	return &Dataset{
		symbols: d.symbols,
		dates:   d.dates[i:j:j],
		closes:  closes,
	}
}

// Slice restricts the dataset to the half-open date range [start, end),
// keeping every column.
func (d *Dataset) Slice(start, end time.Time) *Dataset {
	return d.SliceIndex(d.lowerBound(start), d.lowerBound(end))
}

// Select keeps only the given symbols (unknown symbols are ignored).
func (d *Dataset) Select(symbols []string) *Dataset {
	kept := make([]string, 0, len(symbols))
	closes := make(map[string][]float64, len(symbols))
	for _, symbol := range symbols {
		if column, ok := d.closes[symbol]; ok {
			if _, dup := closes[symbol]; dup {
				continue
			}
			kept = append(kept, symbol)
			closes[symbol] = column
		}
	}
	sort.Strings(kept)
	return &Dataset{symbols: kept, dates: d.dates, closes: closes}
}

// LatestPrice returns each asset's close on the most recent date <= date.
func (d *Dataset) LatestPrice(date time.Time) (map[string]float64, error) {
	idx := sort.Search(len(d.dates), func(i int) bool { return d.dates[i].After(date) }) - 1
	if idx < 0 {
		return nil, fmt.Errorf("no prices on or before %s: %w", date.Format("2006-01-02"), domain.ErrInsufficientHistory)
	}

	prices := make(map[string]float64, len(d.symbols))
	for _, symbol := range d.symbols {
		prices[symbol] = d.closes[symbol][idx]
	}
	return prices, nil
}

// Returns computes simple daily returns for each requested symbol over the
// whole dataset. A nil symbols slice means every asset.
func (d *Dataset) Returns(symbols []string) map[string][]float64 {
	if symbols == nil {
		symbols = d.symbols
	}
	returns := make(map[string][]float64, len(symbols))
	for _, symbol := range symbols {
		column, ok := d.closes[symbol]
		if !ok {
			continue
		}
		returns[symbol] = formulas.CalculateReturns(column)
	}
	return returns
}

package dataset

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/advisor/internal/domain"
)

var day0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func day(i int) time.Time {
	return day0.AddDate(0, 0, i)
}

func points(start int, closes ...float64) []Point {
	out := make([]Point, len(closes))
	for i, c := range closes {
		out[i] = Point{Date: day(start + i), Close: c}
	}
	return out
}

func TestNew_AlignsOnCommonDates(t *testing.T) {
	ds, err := New(map[string][]Point{
		"B": points(0, 50, 49, 48, 47),
		"A": append(points(0, 100, 101), points(3, 103)...), // day 2 missing
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, ds.Symbols())
	assert.Equal(t, []time.Time{day(0), day(1), day(3)}, ds.Dates())
	assert.Equal(t, []float64{100, 101, 103}, ds.Closes("A"))
	assert.Equal(t, []float64{50, 49, 47}, ds.Closes("B"))
	assert.Nil(t, ds.Closes("C"))
}

func TestNew_RejectsUnorderedDates(t *testing.T) {
	_, err := New(map[string][]Point{
		"A": {{Date: day(1), Close: 1}, {Date: day(0), Close: 2}},
	})
	require.Error(t, err)
}

func TestNew_DropsNonPositiveCloses(t *testing.T) {
	ds, err := New(map[string][]Point{"A": points(0, 10, 0, 12)})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
}

func TestSlice_HalfOpen(t *testing.T) {
	ds, err := New(map[string][]Point{"A": points(0, 1, 2, 3, 4, 5)})
	require.NoError(t, err)

	s := ds.Slice(day(1), day(3))
	assert.Equal(t, []time.Time{day(1), day(2)}, s.Dates())
	assert.Equal(t, []float64{2, 3}, s.Closes("A"))

	// Preserves column identity
	assert.Equal(t, ds.Symbols(), s.Symbols())

	empty := ds.Slice(day(10), day(20))
	assert.Equal(t, 0, empty.Len())
}

func TestSliceIndex_ClampsBounds(t *testing.T) {
	ds, err := New(map[string][]Point{"A": points(0, 1, 2, 3)})
	require.NoError(t, err)

	assert.Equal(t, 3, ds.SliceIndex(-5, 10).Len())
	assert.Equal(t, 0, ds.SliceIndex(2, 1).Len())
}

func TestLatestPrice(t *testing.T) {
	ds, err := New(map[string][]Point{
		"A": {{Date: day(0), Close: 10}, {Date: day(5), Close: 11}},
		"B": {{Date: day(0), Close: 20}, {Date: day(5), Close: 21}},
	})
	require.NoError(t, err)

	prices, err := ds.LatestPrice(day(3))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"A": 10, "B": 20}, prices)

	prices, err = ds.LatestPrice(day(5))
	require.NoError(t, err)
	assert.Equal(t, 11.0, prices["A"])

	_, err = ds.LatestPrice(day(-1))
	assert.True(t, errors.Is(err, domain.ErrInsufficientHistory))
}

func TestSelect(t *testing.T) {
	ds, err := New(map[string][]Point{
		"A": points(0, 1, 2),
		"B": points(0, 3, 4),
		"C": points(0, 5, 6),
	})
	require.NoError(t, err)

	sel := ds.Select([]string{"C", "A", "Z", "A"})
	assert.Equal(t, []string{"A", "C"}, sel.Symbols())
	assert.True(t, sel.Has("C"))
	assert.False(t, sel.Has("B"))
}

func TestReturns(t *testing.T) {
	ds, err := New(map[string][]Point{"A": points(0, 100, 110, 99)})
	require.NoError(t, err)

	r := ds.Returns(nil)
	assert.InDeltaSlice(t, []float64{0.1, -0.1}, r["A"], 1e-12)
}

// Package backtest runs the walk-forward evaluation: for every window it
// retrains forecasts on the training rows, builds a portfolio from them and
// scores that portfolio on the rows that follow.
package backtest

import "time"

// Window is one train/test split expressed as half-open row ranges of the
// dataset. TestStart always equals TrainEnd.
type Window struct {
	Index      int `json:"index" msgpack:"index"`
	TrainStart int `json:"train_start" msgpack:"train_start"`
	TrainEnd   int `json:"train_end" msgpack:"train_end"`
	TestStart  int `json:"test_start" msgpack:"test_start"`
	TestEnd    int `json:"test_end" msgpack:"test_end"`

	// Inclusive calendar bounds, for reporting.
	TrainFrom time.Time `json:"train_from" msgpack:"train_from"`
	TrainTo   time.Time `json:"train_to" msgpack:"train_to"`
	TestFrom  time.Time `json:"test_from" msgpack:"test_from"`
	TestTo    time.Time `json:"test_to" msgpack:"test_to"`
}

// Schedule lays out every complete window over dates. Window k trains on
// rows [k·testDays, k·testDays+trainDays) and tests on the following
// testDays rows; a window is only emitted when its test range fits.
func Schedule(dates []time.Time, trainDays, testDays int) []Window {
	if trainDays <= 0 || testDays <= 0 {
		return nil
	}

	var windows []Window
	for start := 0; start+trainDays+testDays <= len(dates); start += testDays {
		trainEnd := start + trainDays
		testEnd := trainEnd + testDays
		windows = append(windows, Window{
			Index:      len(windows),
			TrainStart: start,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
			TrainFrom:  dates[start],
			TrainTo:    dates[trainEnd-1],
			TestFrom:   dates[trainEnd],
			TestTo:     dates[testEnd-1],
		})
	}
	return windows
}

// Package main is the entry point for the walk-forward allocation advisor.
//
// The advisor fetches daily closes into a local history database, backtests
// a forecast-then-optimize allocation policy over rolling windows, and
// serves the latest stored runs and live recommendation over HTTP.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

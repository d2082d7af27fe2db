package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultSlowThreshold is the duration above which a timed operation logs a warning.
const DefaultSlowThreshold = 30 * time.Second

// Timer is a simple performance timer for measuring operation duration
type Timer struct {
	start     time.Time
	name      string
	log       zerolog.Logger
	threshold time.Duration
	observers []func(time.Duration)
}

// NewTimer creates a new timer with the given name
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{
		start:     time.Now(),
		name:      name,
		log:       log,
		threshold: DefaultSlowThreshold,
	}
}

// WithThreshold sets the slow-operation warning threshold.
func (t *Timer) WithThreshold(d time.Duration) *Timer {
	t.threshold = d
	return t
}

// Observe registers a callback (for example a histogram) that receives the duration on Stop.
func (t *Timer) Observe(fn func(time.Duration)) *Timer {
	if fn != nil {
		t.observers = append(t.observers, fn)
	}
	return t
}

// Stop stops the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)

	t.log.Debug().
		Str("operation", t.name).
		Dur("duration_ms", duration).
		Msg("Performance measurement")

	if t.threshold > 0 && duration > t.threshold {
		t.log.Warn().
			Str("operation", t.name).
			Dur("duration", duration).
			Dur("threshold", t.threshold).
			Msg("Slow operation detected")
	}

	for _, fn := range t.observers {
		fn(duration)
	}

	return duration
}

// OperationTimer provides a defer-friendly way to measure operation duration
//
// Usage:
//
//	func MyFunction() {
//	    defer utils.OperationTimer("my_function", log)()
//	}
func OperationTimer(operation string, log zerolog.Logger) func() {
	t := NewTimer(operation, log)
	return func() {
		t.Stop()
	}
}

package backtest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes backtest counters. A nil *Metrics records nothing.
type Metrics struct {
	windows     prometheus.Counter
	exclusions  *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	sharpe      prometheus.Histogram
	runDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		windows: factory.NewCounter(prometheus.CounterOpts{
			Name: "advisor_backtest_windows_total",
			Help: "Walk-forward windows scored",
		}),
		exclusions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "advisor_backtest_exclusions_total",
			Help: "Assets excluded from a window by reason",
		}, []string{"reason"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "advisor_backtest_fallbacks_total",
			Help: "Portfolio constructions that fell back from max-Sharpe by reason",
		}, []string{"reason"}),
		sharpe: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "advisor_backtest_window_sharpe",
			Help:    "Annualized Sharpe ratio of scored windows",
			Buckets: prometheus.LinearBuckets(-3, 0.5, 13), // -3 to 3
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "advisor_backtest_run_duration_seconds",
			Help:    "Backtest run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~200s
		}),
	}
}

func (m *Metrics) observeWindow(r *PerformanceRecord) {
	if m == nil {
		return
	}
	m.windows.Inc()
	m.sharpe.Observe(r.Metrics.Sharpe)
}

func (m *Metrics) observeExclusion(reason string) {
	if m == nil {
		return
	}
	m.exclusions.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

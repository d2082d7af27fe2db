package formulas

// Metrics is the risk-adjusted scorecard of one return series.
type Metrics struct {
	Sharpe      float64 `json:"sharpe" msgpack:"sharpe"`
	Sortino     float64 `json:"sortino" msgpack:"sortino"`
	Volatility  float64 `json:"volatility" msgpack:"volatility"`
	MaxDrawdown float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	TotalReturn float64 `json:"total_return" msgpack:"total_return"`
	Periods     int     `json:"periods" msgpack:"periods"`
}

// Evaluate runs every metric over the same return series.
func Evaluate(returns []float64, riskFreeAnnual float64, periodsPerYear int) Metrics {
	m := Metrics{
		Sharpe:      SharpeRatio(returns, riskFreeAnnual, periodsPerYear),
		Sortino:     SortinoRatio(returns, riskFreeAnnual, periodsPerYear),
		Volatility:  AnnualizedVolatility(returns, periodsPerYear),
		MaxDrawdown: MaxDrawdown(returns),
		Periods:     len(returns),
	}
	if curve := WealthCurve(returns); len(curve) > 0 {
		m.TotalReturn = curve[len(curve)-1] - 1
	}
	return m
}

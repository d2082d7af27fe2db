package formulas

// WealthCurve compounds a return series into cumulative wealth starting at 1.
// cum[i] = prod(1 + returns[0..i])
func WealthCurve(returns []float64) []float64 {
	curve := make([]float64, len(returns))
	wealth := 1.0
	for i, r := range returns {
		wealth *= 1 + r
		curve[i] = wealth
	}
	return curve
}

// MaxDrawdown returns the most negative peak-to-trough decline of the
// cumulative wealth curve built from returns, as a value <= 0
// (-0.25 means a 25% loss from the running peak). An empty series yields 0.
func MaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	curve := WealthCurve(returns)
	maxDrawdown := 0.0
	peak := curve[0]

	for _, value := range curve {
		if value > peak {
			peak = value
		}
		if peak > 0 {
			drawdown := (value - peak) / peak
			if drawdown < maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return maxDrawdown
}

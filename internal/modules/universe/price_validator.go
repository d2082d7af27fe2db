package universe

import (
	"math"

	"github.com/rs/zerolog"
)

const (
	maxPriceChangeRatio = 10.0 // a >1000% day-over-day rise is a spike
	minPriceChangeRatio = 0.1  // a >90% day-over-day fall is a crash
)

// InterpolationLog records when a close was replaced
type InterpolationLog struct {
	Date              string
	OriginalClose     float64
	InterpolatedClose float64
	Method            string // "linear", "forward_fill", "backward_fill"
	Reason            string
}

// PriceValidator validates and interpolates abnormal closes
type PriceValidator struct {
	log zerolog.Logger
}

// NewPriceValidator creates a new price validator
func NewPriceValidator(log zerolog.Logger) *PriceValidator {
	return &PriceValidator{
		log: log.With().Str("component", "price_validator").Logger(),
	}
}

// ValidatePrice checks a close against the previous valid close.
// Returns (isValid, reason)
func (v *PriceValidator) ValidatePrice(close, prevClose float64) (bool, string) {
	if math.IsNaN(close) || math.IsInf(close, 0) {
		return false, "not_finite"
	}
	if close <= 0 {
		return false, "non_positive"
	}
	if prevClose > 0 {
		ratio := close / prevClose
		if ratio > maxPriceChangeRatio {
			return false, "spike_detected"
		}
		if ratio < minPriceChangeRatio {
			return false, "crash_detected"
		}
	}
	return true, ""
}

// ValidateAndInterpolate replaces abnormal closes using the nearest valid
// neighbours: linear in time when both sides exist, otherwise filled from the
// one side available. A series with no valid close is returned unchanged.
func (v *PriceValidator) ValidateAndInterpolate(prices []DailyPrice) ([]DailyPrice, []InterpolationLog) {
	out := make([]DailyPrice, len(prices))
	copy(out, prices)

	valid := make([]bool, len(out))
	reasons := make([]string, len(out))
	prev := 0.0
	anyValid := false
	for i, p := range out {
		ok, reason := v.ValidatePrice(p.Close, prev)
		valid[i], reasons[i] = ok, reason
		if ok {
			prev = p.Close
			anyValid = true
		}
	}
	if !anyValid {
		return out, nil
	}

	var logs []InterpolationLog
	for i := range out {
		if valid[i] {
			continue
		}
		before, after := -1, -1
		for j := i - 1; j >= 0; j-- {
			if valid[j] {
				before = j
				break
			}
		}
		for j := i + 1; j < len(out); j++ {
			if valid[j] {
				after = j
				break
			}
		}

		entry := InterpolationLog{
			Date:          out[i].Date.Format("2006-01-02"),
			OriginalClose: out[i].Close,
			Reason:        reasons[i],
		}
		switch {
		case before >= 0 && after >= 0:
			b, a := out[before], out[after]
			span := a.Date.Sub(b.Date).Hours()
			frac := 0.5
			if span > 0 {
				frac = out[i].Date.Sub(b.Date).Hours() / span
			}
			out[i].Close = b.Close + frac*(a.Close-b.Close)
			entry.Method = "linear"
		case before >= 0:
			out[i].Close = out[before].Close
			entry.Method = "forward_fill"
		default:
			out[i].Close = out[after].Close
			entry.Method = "backward_fill"
		}
		entry.InterpolatedClose = out[i].Close
		logs = append(logs, entry)
	}

	return out, logs
}

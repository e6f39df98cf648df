package confluence

import (
	"math"
	"time"

	"crypto-signal-backend/internal/model"
)

// decayRates holds the per-minute exponential confidence decay for a signal
// reused past its freshness window. A 1m signal goes stale in minutes; a
// monthly one barely ages.
var decayRates = map[model.Timeframe]float64{
	model.TF1m:  0.95,
	model.TF5m:  0.97,
	model.TF15m: 0.98,
	model.TF30m: 0.985,
	model.TF1h:  0.99,
	model.TF4h:  0.995,
	model.TF12h: 0.997,
	model.TF1d:  0.999,
	model.TF1w:  0.9999,
	model.TF1M:  0.99995,
}

// DecayConfidence returns the confidence of a signal after elapsed time.
// Pure function of (confidence, timeframe, elapsed); never negative elapsed.
func DecayConfidence(confidence float64, tf model.Timeframe, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return confidence
	}
	rate, ok := decayRates[tf]
	if !ok {
		rate = 0.99
	}
	minutes := elapsed.Minutes()
	return confidence * math.Pow(rate, minutes)
}

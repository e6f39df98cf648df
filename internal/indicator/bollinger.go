package indicator

import (
	"fmt"
	"math"

	"crypto-signal-backend/internal/model"
)

// Bollinger calculates Bollinger Bands: middle = SMA(period),
// upper/lower = middle ± stdDevs·σ(period). Population standard deviation,
// matching the standard formulation.
func Bollinger(closes []float64, period int, stdDevs float64) (model.BollingerResult, error) {
	var res model.BollingerResult
	if period <= 1 {
		return res, fmt.Errorf("bollinger: invalid period %d", period)
	}
	if len(closes) < period {
		return res, fmt.Errorf("bollinger: need %d closes, have %d", period, len(closes))
	}

	window := closes[len(closes)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(period)

	sumSq := 0.0
	for _, v := range window {
		d := v - mean
		sumSq += d * d
	}
	sigma := math.Sqrt(sumSq / float64(period))

	res.Middle = mean
	res.Upper = mean + stdDevs*sigma
	res.Lower = mean - stdDevs*sigma
	return res, nil
}

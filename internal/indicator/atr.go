package indicator

import (
	"fmt"
	"math"

	"crypto-signal-backend/internal/model"
)

// ATR calculates the Average True Range with Wilder smoothing.
//
// True range of candle i is max(high−low, |high−prevClose|, |low−prevClose|);
// the first ATR is the mean of the first period true ranges.
func ATR(candles []model.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr: invalid period %d", period)
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("atr: need %d candles, have %d", period+1, len(candles))
	}

	tr := func(i int) float64 {
		hl := candles[i].High - candles[i].Low
		hc := math.Abs(candles[i].High - candles[i-1].Close)
		lc := math.Abs(candles[i].Low - candles[i-1].Close)
		return math.Max(hl, math.Max(hc, lc))
	}

	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += tr(i)
	}
	atr /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(candles); i++ {
		atr = (atr*(p-1) + tr(i)) / p
	}
	return atr, nil
}

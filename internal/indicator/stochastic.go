package indicator

import (
	"fmt"

	"crypto-signal-backend/internal/model"
)

// Stochastic calculates the stochastic oscillator in its standard 14/3 form.
//
// %K = 100 · (close − lowestLow(kPeriod)) / (highestHigh − lowestLow);
// %D = SMA(dPeriod) of %K. A flat window (high == low) yields %K = 50 rather
// than a division by zero.
func Stochastic(candles []model.Candle, kPeriod, dPeriod int) (model.StochasticResult, error) {
	var res model.StochasticResult
	if kPeriod <= 0 || dPeriod <= 0 {
		return res, fmt.Errorf("stochastic: invalid periods %d/%d", kPeriod, dPeriod)
	}
	if len(candles) < kPeriod+dPeriod-1 {
		return res, fmt.Errorf("stochastic: need %d candles, have %d", kPeriod+dPeriod-1, len(candles))
	}

	kAt := func(end int) float64 { // end is the inclusive index of the window's last candle
		lo := candles[end].Low
		hi := candles[end].High
		for i := end - kPeriod + 1; i <= end; i++ {
			if candles[i].Low < lo {
				lo = candles[i].Low
			}
			if candles[i].High > hi {
				hi = candles[i].High
			}
		}
		if hi == lo {
			return 50.0
		}
		return 100.0 * (candles[end].Close - lo) / (hi - lo)
	}

	last := len(candles) - 1
	res.K = kAt(last)

	sum := 0.0
	for i := 0; i < dPeriod; i++ {
		sum += kAt(last - i)
	}
	res.D = sum / float64(dPeriod)
	return res, nil
}

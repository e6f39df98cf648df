package indicator

import (
	"fmt"

	"crypto-signal-backend/internal/model"
)

// MACD calculates Moving Average Convergence Divergence.
//
// MACD line = EMA(fast) − EMA(slow); signal line = EMA(signalPeriod) of the
// MACD line; histogram = line − signal.
func MACD(closes []float64, fast, slow, signalPeriod int) (model.MACDResult, error) {
	var res model.MACDResult
	if fast >= slow {
		return res, fmt.Errorf("macd: fast period %d must be below slow period %d", fast, slow)
	}
	if len(closes) < slow+signalPeriod {
		return res, fmt.Errorf("macd: need %d closes, have %d", slow+signalPeriod, len(closes))
	}

	fastSeries, err := EMASeries(closes, fast)
	if err != nil {
		return res, err
	}
	slowSeries, err := EMASeries(closes, slow)
	if err != nil {
		return res, err
	}

	// MACD line is only defined once the slow EMA is seeded.
	line := make([]float64, len(closes)-slow+1)
	for i := range line {
		idx := slow - 1 + i
		line[i] = fastSeries[idx] - slowSeries[idx]
	}

	signalSeries, err := EMASeries(line, signalPeriod)
	if err != nil {
		return res, err
	}

	res.Value = line[len(line)-1]
	res.Signal = signalSeries[len(signalSeries)-1]
	res.Histogram = res.Value - res.Signal
	return res, nil
}

// Package risk derives stop-loss/take-profit levels, position sizing, and
// Monte-Carlo risk metrics from signals and historical volatility.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"crypto-signal-backend/internal/model"
)

// Multipliers holds the ATR multiples for stop-loss and take-profit.
type Multipliers struct {
	SL float64
	TP float64
}

// levelTable keys SL/TP ATR multiples by timeframe. Wider timeframes get
// wider stops: intraday noise would knock out a 1d position sized like a 1m one.
var levelTable = map[model.Timeframe]Multipliers{
	model.TF1m:  {SL: 1.0, TP: 2.0},
	model.TF5m:  {SL: 1.2, TP: 2.4},
	model.TF15m: {SL: 1.5, TP: 3.0},
	model.TF30m: {SL: 1.8, TP: 3.6},
	model.TF1h:  {SL: 2.0, TP: 4.0},
	model.TF4h:  {SL: 2.5, TP: 5.0},
	model.TF12h: {SL: 2.8, TP: 5.6},
	model.TF1d:  {SL: 3.0, TP: 6.0},
	model.TF1w:  {SL: 3.5, TP: 7.0},
	model.TF1M:  {SL: 4.0, TP: 8.0},
}

// defaultMultipliers is the fallback for an unknown timeframe.
var defaultMultipliers = Multipliers{SL: 2.0, TP: 4.0}

// MultipliersFor returns the SL/TP ATR multiples for a timeframe.
func MultipliersFor(tf model.Timeframe) Multipliers {
	if m, ok := levelTable[tf]; ok {
		return m
	}
	return defaultMultipliers
}

// Levels derives stop-loss and take-profit from entry price and ATR.
//
// LONG subtracts the stop distance and adds the target distance; SHORT
// mirrors. NEUTRAL gets a symmetric ±0.5·ATR band instead of directional
// levels.
func Levels(direction model.Direction, entry, atr float64, tf model.Timeframe) (stopLoss, takeProfit float64) {
	m := MultipliersFor(tf)
	switch direction {
	case model.DirectionLong:
		return entry - m.SL*atr, entry + m.TP*atr
	case model.DirectionShort:
		return entry + m.SL*atr, entry - m.TP*atr
	default:
		return entry - 0.5*atr, entry + 0.5*atr
	}
}

// PositionSize returns the position size for the given account balance,
// per-trade risk fraction, and stop distance: size = balance·riskPct /
// stopDistance. Money math runs through decimals to avoid float drift on
// large balances.
func PositionSize(balance, riskPct, stopDistance float64) (float64, error) {
	if stopDistance <= 0 {
		return 0, fmt.Errorf("risk: stop distance must be positive, got %.8f", stopDistance)
	}
	if riskPct <= 0 || riskPct > 1 {
		return 0, fmt.Errorf("risk: risk fraction must be in (0, 1], got %.4f", riskPct)
	}

	size := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(riskPct)).
		Div(decimal.NewFromFloat(stopDistance))

	f, _ := size.Float64()
	return f, nil
}

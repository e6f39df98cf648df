// Package indicator provides technical indicator calculations over candle data.
//
// All indicators are pure, stateless functions over an ascending OHLCV series.
// Given identical input they return identical output, which the tests exploit.
// No indicator reads or mutates another's state.
package indicator

import (
	"errors"
	"fmt"

	"crypto-signal-backend/internal/model"
)

// MinCandles is the minimum series length for a full indicator set.
// Shorter series degrade to the simplified signal path in the confluence
// engine instead of failing the cycle.
const MinCandles = 50

// ErrInsufficientData is returned when the candle series is too short for a
// full indicator computation.
var ErrInsufficientData = errors.New("indicator: insufficient candles")

// Standard parameterisations.
const (
	RSIPeriod        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignal       = 9
	BollingerPeriod  = 20
	BollingerStdDevs = 2.0
	ATRPeriod        = 14
	StochKPeriod     = 14
	StochDPeriod     = 3
	VolumeSMAPeriod  = 20
)

// Lookbacks configures the short/medium/long moving-average windows.
// Coordinators pick these per timeframe.
type Lookbacks struct {
	Short  int
	Medium int
	Long   int
}

// DefaultLookbacks is the 9/21/50 stack used when a timeframe has no
// explicit override.
var DefaultLookbacks = Lookbacks{Short: 9, Medium: 21, Long: 50}

// Compute calculates the full indicator set over the series.
//
// A series shorter than MinCandles returns ErrInsufficientData. A numeric
// failure in a single indicator does not fail the whole set: the indicator is
// listed in IndicatorSet.Excluded and the confluence engine skips its vote.
func Compute(candles []model.Candle, lb Lookbacks) (model.IndicatorSet, error) {
	var set model.IndicatorSet
	if len(candles) < MinCandles {
		return set, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(candles), MinCandles)
	}

	closes := Closes(candles)
	volumes := make([]float64, len(candles))
	for i := range candles {
		volumes[i] = candles[i].Volume
	}

	exclude := func(name string, err error) {
		if err != nil {
			set.Excluded = append(set.Excluded, name)
		}
	}

	var err error
	set.RSI, err = RSI(closes, RSIPeriod)
	exclude("rsi", err)

	set.MACD, err = MACD(closes, MACDFast, MACDSlow, MACDSignal)
	exclude("macd", err)

	set.EMA, err = EMAStack(closes, lb)
	exclude("ema", err)

	set.SMA, err = SMAStack(closes, lb)
	exclude("sma", err)

	set.Bollinger, err = Bollinger(closes, BollingerPeriod, BollingerStdDevs)
	exclude("bollinger", err)

	set.ATR, err = ATR(candles, ATRPeriod)
	exclude("atr", err)

	set.Stochastic, err = Stochastic(candles, StochKPeriod, StochDPeriod)
	exclude("stochastic", err)

	set.VolumeSMA, err = SMA(volumes, VolumeSMAPeriod)
	exclude("volume", err)

	return set, nil
}

// Closes extracts the close series from candles.
func Closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// Package confluence combines indicator outputs into directional signals.
//
// The engine weighs per-indicator votes by category and market regime,
// accumulates a confluence score, and emits one immutable Signal per
// (symbol, timeframe) per calculation cycle.
package confluence

import (
	"errors"
	"fmt"
	"time"

	"crypto-signal-backend/internal/indicator"
	"crypto-signal-backend/internal/model"
	"crypto-signal-backend/internal/risk"
)

const (
	baseScore = 50.0

	// tieBreakBand forces NEUTRAL when the accumulated score lands within
	// ±5 of the base, to avoid noisy low-conviction calls.
	tieBreakBand = 5.0

	// SimplifiedMaxConfidence caps signals computed from a reduced feature
	// set on short candle histories.
	SimplifiedMaxConfidence = 60.0
)

// Engine synthesizes signals from candle series. Safe for concurrent use:
// all methods are pure given the constructed configuration.
type Engine struct {
	lookbacks map[model.Timeframe]indicator.Lookbacks
	now       func() time.Time
}

// NewEngine creates a confluence engine with per-timeframe MA lookbacks.
// A nil map uses indicator.DefaultLookbacks everywhere.
func NewEngine(lookbacks map[model.Timeframe]indicator.Lookbacks) *Engine {
	return &Engine{
		lookbacks: lookbacks,
		now:       time.Now,
	}
}

func (e *Engine) lookbacksFor(tf model.Timeframe) indicator.Lookbacks {
	if lb, ok := e.lookbacks[tf]; ok {
		return lb
	}
	return indicator.DefaultLookbacks
}

// Synthesize produces a Signal for one (symbol, timeframe) from its candle
// series and the cycle's price snapshot.
//
// A series shorter than indicator.MinCandles degrades to the simplified
// price/EMA signal instead of failing. Indicators that failed numerically
// are already excluded from the set and simply do not vote.
func (e *Engine) Synthesize(candles []model.Candle, snap model.PriceSnapshot, tf model.Timeframe) model.Signal {
	symbol := snap.Symbol
	price := snap.Price
	if price <= 0 && len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}

	set, err := indicator.Compute(candles, e.lookbacksFor(tf))
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			return e.simplified(candles, symbol, price, tf)
		}
		// Compute only errors on insufficient data today; treat anything
		// else the same way rather than dropping the timeframe.
		return e.simplified(candles, symbol, price, tf)
	}

	regime := ClassifyRegime(&set, price)
	last := candles[len(candles)-1]
	votes := collectVotes(&set, last, price)

	score := baseScore
	reasoning := make([]string, 0, len(votes)+2)
	reasoning = append(reasoning, fmt.Sprintf("market regime: %s", regime))

	for _, v := range votes {
		contribution := v.Strength * weightFor(v.Category, regime)
		if v.Direction == model.DirectionLong {
			score += contribution
		} else {
			score -= contribution
		}
		reasoning = append(reasoning, v.Rationale)
	}
	score = clamp(score, 0, 100)

	direction := model.DirectionNeutral
	confidence := baseScore
	switch {
	case score-baseScore > tieBreakBand:
		direction = model.DirectionLong
		confidence = score
	case baseScore-score > tieBreakBand:
		direction = model.DirectionShort
		confidence = 100 - score
	default:
		reasoning = append(reasoning, fmt.Sprintf("vote strength %.1f within ±%.0f of %.0f, holding NEUTRAL", score, tieBreakBand, baseScore))
	}

	atr := set.ATR
	if set.IsExcluded("atr") || atr <= 0 {
		atr = pseudoATR(candles)
	}
	stopLoss, takeProfit := risk.Levels(direction, price, atr, tf)

	return model.Signal{
		Symbol:      symbol,
		Timeframe:   tf,
		Direction:   direction,
		Confidence:  clamp(confidence, 0, 100),
		EntryPrice:  price,
		StopLoss:    stopLoss,
		TakeProfit:  takeProfit,
		Indicators:  set,
		Regime:      regime,
		Reasoning:   reasoning,
		DataQuality: model.DataFull,
		GeneratedAt: e.now(),
	}
}

// simplified builds a reduced-feature signal from price/EMA context only.
// Used when fewer than indicator.MinCandles candles exist; confidence is
// capped and the signal is marked DataInsufficient. It never fails.
func (e *Engine) simplified(candles []model.Candle, symbol string, price float64, tf model.Timeframe) model.Signal {
	sig := model.Signal{
		Symbol:      symbol,
		Timeframe:   tf,
		Direction:   model.DirectionNeutral,
		Confidence:  30,
		EntryPrice:  price,
		DataQuality: model.DataInsufficient,
		Regime:      model.RegimeNormal,
		GeneratedAt: e.now(),
		Reasoning: []string{
			fmt.Sprintf("insufficient history (%d/%d candles): simplified price/EMA signal", len(candles), indicator.MinCandles),
		},
	}

	if len(candles) >= 3 {
		closes := indicator.Closes(candles)
		period := len(closes) / 2
		if period > 9 {
			period = 9
		}
		ema, err := indicator.EMA(closes, period)
		momentumUp := closes[len(closes)-1] > closes[0]
		if err == nil {
			switch {
			case price > ema && momentumUp:
				sig.Direction = model.DirectionLong
				sig.Confidence = 55
				sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("price above EMA(%d) with rising closes", period))
			case price < ema && !momentumUp:
				sig.Direction = model.DirectionShort
				sig.Confidence = 55
				sig.Reasoning = append(sig.Reasoning, fmt.Sprintf("price below EMA(%d) with falling closes", period))
			default:
				sig.Confidence = 40
				sig.Reasoning = append(sig.Reasoning, "price and momentum disagree, holding NEUTRAL")
			}
		}
	}

	if sig.Confidence > SimplifiedMaxConfidence {
		sig.Confidence = SimplifiedMaxConfidence
	}
	sig.StopLoss, sig.TakeProfit = risk.Levels(sig.Direction, price, pseudoATR(candles), tf)
	return sig
}

// pseudoATR approximates volatility as the mean high-low range of the last
// 14 candles. Fallback for short series and ATR computation failures.
func pseudoATR(candles []model.Candle) float64 {
	n := len(candles)
	if n == 0 {
		return 0
	}
	window := 14
	if n < window {
		window = n
	}
	sum := 0.0
	for _, c := range candles[n-window:] {
		sum += c.High - c.Low
	}
	return sum / float64(window)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package confluence

import (
	"fmt"
	"math"

	"crypto-signal-backend/internal/model"
)

// Category classifies an indicator's contribution to the confluence score.
// The closed enum keeps the weight table exhaustively checkable, instead of
// stringly-typed category lookups.
type Category int

const (
	CategoryTrend Category = iota
	CategoryMomentum
	CategoryVolume
	CategoryVolatility
	numCategories
)

func (c Category) String() string {
	switch c {
	case CategoryTrend:
		return "trend"
	case CategoryMomentum:
		return "momentum"
	case CategoryVolume:
		return "volume"
	case CategoryVolatility:
		return "volatility"
	default:
		return "unknown"
	}
}

// categoryWeights is the fixed base weight per category.
var categoryWeights = [numCategories]float64{
	CategoryTrend:      0.35,
	CategoryMomentum:   0.30,
	CategoryVolume:     0.20,
	CategoryVolatility: 0.15,
}

// regimeMultipliers rescales category weights per market regime. A trending
// market leans on trend-following indicators; a ranging one on mean
// reversion and momentum extremes.
var regimeMultipliers = map[model.MarketRegime][numCategories]float64{
	model.RegimeTrending: {CategoryTrend: 1.3, CategoryMomentum: 0.9, CategoryVolume: 1.0, CategoryVolatility: 0.8},
	model.RegimeRanging:  {CategoryTrend: 0.7, CategoryMomentum: 1.2, CategoryVolume: 0.9, CategoryVolatility: 1.2},
	model.RegimeVolatile: {CategoryTrend: 0.8, CategoryMomentum: 0.8, CategoryVolume: 1.2, CategoryVolatility: 1.3},
	model.RegimeNormal:   {CategoryTrend: 1.0, CategoryMomentum: 1.0, CategoryVolume: 1.0, CategoryVolatility: 1.0},
}

// Vote is one indicator's directional opinion with a strength in [0, 100].
type Vote struct {
	Indicator string
	Category  Category
	Direction model.Direction
	Strength  float64
	Rationale string
}

// collectVotes turns an indicator set into directional votes. Indicators
// listed in set.Excluded contribute nothing. price is the snapshot price the
// whole cycle is pinned to; last is the most recent candle.
func collectVotes(set *model.IndicatorSet, last model.Candle, price float64) []Vote {
	votes := make([]Vote, 0, 8)

	if !set.IsExcluded("rsi") {
		if v, ok := rsiVote(set.RSI); ok {
			votes = append(votes, v)
		}
	}
	if !set.IsExcluded("macd") {
		if v, ok := macdVote(set.MACD, price); ok {
			votes = append(votes, v)
		}
	}
	if !set.IsExcluded("ema") {
		if v, ok := emaVote(set.EMA, price); ok {
			votes = append(votes, v)
		}
	}
	if !set.IsExcluded("bollinger") {
		if v, ok := bollingerVote(set.Bollinger, price); ok {
			votes = append(votes, v)
		}
	}
	if !set.IsExcluded("stochastic") {
		if v, ok := stochasticVote(set.Stochastic); ok {
			votes = append(votes, v)
		}
	}
	if !set.IsExcluded("volume") {
		if v, ok := volumeVote(set.VolumeSMA, last); ok {
			votes = append(votes, v)
		}
	}

	return votes
}

// rsiVote: LONG below 30, SHORT above 70, with a smaller bonus in the
// 30–35 / 65–70 soft bands.
func rsiVote(rsi float64) (Vote, bool) {
	switch {
	case rsi < 30:
		strength := math.Min(100, 60+(30-rsi)*2)
		return Vote{
			Indicator: "rsi", Category: CategoryMomentum,
			Direction: model.DirectionLong, Strength: strength,
			Rationale: fmt.Sprintf("RSI %.1f oversold (<30)", rsi),
		}, true
	case rsi < 35:
		return Vote{
			Indicator: "rsi", Category: CategoryMomentum,
			Direction: model.DirectionLong, Strength: 40,
			Rationale: fmt.Sprintf("RSI %.1f approaching oversold", rsi),
		}, true
	case rsi > 70:
		strength := math.Min(100, 60+(rsi-70)*2)
		return Vote{
			Indicator: "rsi", Category: CategoryMomentum,
			Direction: model.DirectionShort, Strength: strength,
			Rationale: fmt.Sprintf("RSI %.1f overbought (>70)", rsi),
		}, true
	case rsi > 65:
		return Vote{
			Indicator: "rsi", Category: CategoryMomentum,
			Direction: model.DirectionShort, Strength: 40,
			Rationale: fmt.Sprintf("RSI %.1f approaching overbought", rsi),
		}, true
	}
	return Vote{}, false
}

// macdVote: direction from the sign of the histogram (line − signal).
// Strength scales with histogram magnitude relative to price so it is
// comparable across symbols.
func macdVote(macd model.MACDResult, price float64) (Vote, bool) {
	if macd.Histogram == 0 || price <= 0 {
		return Vote{}, false
	}

	strength := math.Min(100, 40+4000*math.Abs(macd.Histogram)/price)
	if macd.Histogram > 0 {
		return Vote{
			Indicator: "macd", Category: CategoryMomentum,
			Direction: model.DirectionLong, Strength: strength,
			Rationale: fmt.Sprintf("MACD line above signal (hist %+.4f)", macd.Histogram),
		}, true
	}
	return Vote{
		Indicator: "macd", Category: CategoryMomentum,
		Direction: model.DirectionShort, Strength: strength,
		Rationale: fmt.Sprintf("MACD line below signal (hist %+.4f)", macd.Histogram),
	}, true
}

// emaVote: a fully ordered stack (short > medium > long) votes LONG, the
// reverse votes SHORT. Price on the right side of the short EMA adds
// confirmation.
func emaVote(ema model.EMAStack, price float64) (Vote, bool) {
	bullish := ema.Short > ema.Medium && ema.Medium > ema.Long
	bearish := ema.Short < ema.Medium && ema.Medium < ema.Long
	switch {
	case bullish:
		strength := 70.0
		if price > ema.Short {
			strength = 80
		}
		return Vote{
			Indicator: "ema", Category: CategoryTrend,
			Direction: model.DirectionLong, Strength: strength,
			Rationale: "EMA stack bullish (short > medium > long)",
		}, true
	case bearish:
		strength := 70.0
		if price < ema.Short {
			strength = 80
		}
		return Vote{
			Indicator: "ema", Category: CategoryTrend,
			Direction: model.DirectionShort, Strength: strength,
			Rationale: "EMA stack bearish (short < medium < long)",
		}, true
	}
	return Vote{}, false
}

// bollingerVote: price at or beyond a band votes for reversion toward the
// middle. %B drives the strength.
func bollingerVote(bb model.BollingerResult, price float64) (Vote, bool) {
	width := bb.Upper - bb.Lower
	if width <= 0 {
		return Vote{}, false
	}
	pctB := (price - bb.Lower) / width
	switch {
	case pctB <= 0:
		return Vote{
			Indicator: "bollinger", Category: CategoryVolatility,
			Direction: model.DirectionLong, Strength: math.Min(100, 60-pctB*100),
			Rationale: "price below lower Bollinger band",
		}, true
	case pctB <= 0.05:
		return Vote{
			Indicator: "bollinger", Category: CategoryVolatility,
			Direction: model.DirectionLong, Strength: 40,
			Rationale: "price hugging lower Bollinger band",
		}, true
	case pctB >= 1:
		return Vote{
			Indicator: "bollinger", Category: CategoryVolatility,
			Direction: model.DirectionShort, Strength: math.Min(100, 60+(pctB-1)*100),
			Rationale: "price above upper Bollinger band",
		}, true
	case pctB >= 0.95:
		return Vote{
			Indicator: "bollinger", Category: CategoryVolatility,
			Direction: model.DirectionShort, Strength: 40,
			Rationale: "price hugging upper Bollinger band",
		}, true
	}
	return Vote{}, false
}

// stochasticVote: oversold/overbought %K, stronger when %K has crossed %D in
// the reversal direction.
func stochasticVote(st model.StochasticResult) (Vote, bool) {
	switch {
	case st.K < 20:
		strength := 45.0
		if st.K > st.D {
			strength = 65 // turning up from oversold
		}
		return Vote{
			Indicator: "stochastic", Category: CategoryMomentum,
			Direction: model.DirectionLong, Strength: strength,
			Rationale: fmt.Sprintf("stochastic %%K %.1f oversold", st.K),
		}, true
	case st.K > 80:
		strength := 45.0
		if st.K < st.D {
			strength = 65 // turning down from overbought
		}
		return Vote{
			Indicator: "stochastic", Category: CategoryMomentum,
			Direction: model.DirectionShort, Strength: strength,
			Rationale: fmt.Sprintf("stochastic %%K %.1f overbought", st.K),
		}, true
	}
	return Vote{}, false
}

// volumeVote: volume well above its 20-period average confirms the direction
// of the last candle body.
func volumeVote(volumeSMA float64, last model.Candle) (Vote, bool) {
	if volumeSMA <= 0 || last.Volume < 1.5*volumeSMA {
		return Vote{}, false
	}
	ratio := last.Volume / volumeSMA
	strength := math.Min(100, 40+(ratio-1.5)*40)

	if last.Close > last.Open {
		return Vote{
			Indicator: "volume", Category: CategoryVolume,
			Direction: model.DirectionLong, Strength: strength,
			Rationale: fmt.Sprintf("volume %.1fx average on an up candle", ratio),
		}, true
	}
	if last.Close < last.Open {
		return Vote{
			Indicator: "volume", Category: CategoryVolume,
			Direction: model.DirectionShort, Strength: strength,
			Rationale: fmt.Sprintf("volume %.1fx average on a down candle", ratio),
		}, true
	}
	return Vote{}, false
}

// weightFor returns the effective weight of a category under a regime.
func weightFor(cat Category, regime model.MarketRegime) float64 {
	mult, ok := regimeMultipliers[regime]
	if !ok {
		mult = regimeMultipliers[model.RegimeNormal]
	}
	return categoryWeights[cat] * mult[cat]
}

package confluence

import "crypto-signal-backend/internal/model"

// Regime classification thresholds, expressed as fractions of price so they
// hold across symbols of any magnitude.
const (
	volatileATRPct       = 0.04  // ATR above 4% of price
	volatileBandwidth    = 0.10  // Bollinger bandwidth above 10%
	trendingEMASpreadPct = 0.015 // short/long EMA separation above 1.5%
	rangingBandwidth     = 0.03  // Bollinger bandwidth below 3%
)

// ClassifyRegime derives the market regime from the computed indicator set.
// Volatility checks run first: a violent market should not be traded like a
// clean trend even when the EMAs are well separated.
func ClassifyRegime(set *model.IndicatorSet, price float64) model.MarketRegime {
	if price <= 0 {
		return model.RegimeNormal
	}

	if !set.IsExcluded("atr") && set.ATR/price > volatileATRPct {
		return model.RegimeVolatile
	}

	bandwidth := 0.0
	if !set.IsExcluded("bollinger") && set.Bollinger.Middle > 0 {
		bandwidth = (set.Bollinger.Upper - set.Bollinger.Lower) / set.Bollinger.Middle
		if bandwidth > volatileBandwidth {
			return model.RegimeVolatile
		}
	}

	if !set.IsExcluded("ema") {
		spread := set.EMA.Short - set.EMA.Long
		if spread < 0 {
			spread = -spread
		}
		if spread/price > trendingEMASpreadPct {
			return model.RegimeTrending
		}
	}

	if bandwidth > 0 && bandwidth < rangingBandwidth {
		return model.RegimeRanging
	}
	return model.RegimeNormal
}

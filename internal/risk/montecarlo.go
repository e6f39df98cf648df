package risk

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"crypto-signal-backend/internal/model"
)

// MonteCarloParams configures the path simulation.
type MonteCarloParams struct {
	Iterations int         // number of simulated price paths (default 1000)
	Horizon    int         // steps per path (default 50)
	Source     rand.Source // injectable for deterministic tests; nil = seeded from entry price hash
}

// DefaultIterations is the number of paths simulated when unset.
const DefaultIterations = 1000

const defaultHorizon = 50

// MonteCarlo simulates geometric Brownian motion paths seeded from the
// measured volatility of the candle series and aggregates them into VaR95,
// Sharpe ratio, and max drawdown.
//
// The drift and volatility are estimated from realized log returns, never
// from signal confidence. This is the only place in the engine where
// randomness is used, and it is sampling noise for risk estimation, not a
// substitute for market data.
func MonteCarlo(candles []model.Candle, sig *model.Signal, params MonteCarloParams) (model.RiskAssessment, error) {
	assessment := model.RiskAssessment{
		Symbol:    sig.Symbol,
		Timeframe: sig.Timeframe,
	}
	if len(candles) < 2 {
		return assessment, fmt.Errorf("risk: need at least 2 candles for volatility, have %d", len(candles))
	}
	if sig.EntryPrice <= 0 {
		return assessment, fmt.Errorf("risk: entry price must be positive, got %.8f", sig.EntryPrice)
	}

	if params.Iterations <= 0 {
		params.Iterations = DefaultIterations
	}
	if params.Horizon <= 0 {
		params.Horizon = defaultHorizon
	}

	mu, sigma := realizedMoments(candles)
	if sigma < 1e-12 {
		// Degenerate flat series: no volatility, no risk to estimate.
		return assessment, nil
	}

	src := params.Source
	if src == nil {
		src = rand.NewSource(int64(math.Float64bits(sig.EntryPrice)) ^ sig.GeneratedAt.UnixNano())
	}
	rng := rand.New(src)

	finalReturns := make([]float64, params.Iterations)
	drawdownSum := 0.0

	for i := 0; i < params.Iterations; i++ {
		price := sig.EntryPrice
		peak := price
		maxDD := 0.0

		for step := 0; step < params.Horizon; step++ {
			z := rng.NormFloat64()
			price *= math.Exp((mu - 0.5*sigma*sigma) + sigma*z)
			if price > peak {
				peak = price
			}
			if dd := (peak - price) / peak; dd > maxDD {
				maxDD = dd
			}
		}

		finalReturns[i] = (price - sig.EntryPrice) / sig.EntryPrice
		drawdownSum += maxDD
	}

	sort.Float64s(finalReturns)

	// VaR95: loss at the 5th percentile of outcomes, floored at zero.
	p5 := finalReturns[int(float64(params.Iterations)*0.05)]
	if p5 < 0 {
		assessment.ValueAtRisk95 = -p5
	}

	meanRet, stdRet := meanStd(finalReturns)
	if stdRet > 1e-12 {
		assessment.SharpeRatio = meanRet / stdRet
	}
	assessment.MaxDrawdown = drawdownSum / float64(params.Iterations)
	return assessment, nil
}

// realizedMoments estimates per-step drift and volatility from log returns.
func realizedMoments(candles []model.Candle) (mu, sigma float64) {
	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) == 0 {
		return 0, 0
	}
	return meanStd(returns)
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / float64(len(values)-1))
}

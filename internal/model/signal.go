package model

import (
	"encoding/json"
	"time"
)

// Direction is the directional call of a signal.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// DataQuality records whether a signal was computed from a full candle
// history or degraded to the simplified price/EMA path.
type DataQuality string

const (
	DataFull         DataQuality = "FULL"
	DataInsufficient DataQuality = "INSUFFICIENT"
)

// MarketRegime classifies current market conditions. The confluence engine
// rescales indicator category weights per regime.
type MarketRegime string

const (
	RegimeTrending MarketRegime = "TRENDING"
	RegimeRanging  MarketRegime = "RANGING"
	RegimeVolatile MarketRegime = "VOLATILE"
	RegimeNormal   MarketRegime = "NORMAL"
)

// MACDResult holds the MACD line, signal line, and histogram.
type MACDResult struct {
	Value     float64 `json:"value"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// EMAStack holds the three configured exponential moving averages.
type EMAStack struct {
	Short  float64 `json:"short"`
	Medium float64 `json:"medium"`
	Long   float64 `json:"long"`
}

// BollingerResult holds the three Bollinger bands.
type BollingerResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// StochasticResult holds the %K and %D lines.
type StochasticResult struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// IndicatorSet is the full set of computed indicator values for one
// (symbol, timeframe) pair. It is replaced as a whole every cycle, never
// mutated in place. Excluded lists indicators that failed numerically and
// must not contribute a vote.
type IndicatorSet struct {
	RSI        float64          `json:"rsi"`
	MACD       MACDResult       `json:"macd"`
	EMA        EMAStack         `json:"ema"`
	SMA        EMAStack         `json:"sma"`
	Bollinger  BollingerResult  `json:"bollinger"`
	ATR        float64          `json:"atr"`
	Stochastic StochasticResult `json:"stochastic"`
	VolumeSMA  float64          `json:"volume_sma"`
	Excluded   []string         `json:"excluded,omitempty"`
}

// IsExcluded reports whether the named indicator failed to compute.
func (s *IndicatorSet) IsExcluded(name string) bool {
	for _, e := range s.Excluded {
		if e == name {
			return true
		}
	}
	return false
}

// Signal is a directional call for one (symbol, timeframe) pair, produced
// once per calculation cycle. Immutable after creation; a later cycle
// supersedes it with a new Signal rather than mutating it.
type Signal struct {
	Symbol      string       `json:"symbol"`
	Timeframe   Timeframe    `json:"timeframe"`
	Direction   Direction    `json:"direction"`
	Confidence  float64      `json:"confidence"` // 0..100
	EntryPrice  float64      `json:"entry_price"`
	StopLoss    float64      `json:"stop_loss"`
	TakeProfit  float64      `json:"take_profit"`
	Indicators  IndicatorSet `json:"indicators"`
	Regime      MarketRegime `json:"regime"`
	Reasoning   []string     `json:"reasoning"`
	DataQuality DataQuality  `json:"data_quality"`
	GeneratedAt time.Time    `json:"generated_at"`
	Stale       bool         `json:"stale,omitempty"` // price snapshot older than freshness window
}

// Key returns "symbol:timeframe".
func (s *Signal) Key() string {
	return s.Symbol + ":" + string(s.Timeframe)
}

// StreamKey returns the Redis stream key: "signal:{symbol}:{tf}".
func (s *Signal) StreamKey() string {
	return "signal:" + s.Symbol + ":" + string(s.Timeframe)
}

// PubSubChannel returns the Redis PubSub channel for live fan-out.
func (s *Signal) PubSubChannel() string {
	return "pub:signal:" + s.Symbol + ":" + string(s.Timeframe)
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// RiskAssessment is a Monte-Carlo derived risk profile for a signal.
// Recomputed on demand and cached briefly.
type RiskAssessment struct {
	Symbol        string    `json:"symbol"`
	Timeframe     Timeframe `json:"timeframe"`
	PositionSize  float64   `json:"position_size"`
	ValueAtRisk95 float64   `json:"value_at_risk_95"` // fraction of entry, e.g. 0.042 = 4.2%
	SharpeRatio   float64   `json:"sharpe_ratio"`
	MaxDrawdown   float64   `json:"max_drawdown"` // fraction of entry
	ComputedAt    time.Time `json:"computed_at"`
}

// JSON returns the JSON-encoded assessment.
func (r *RiskAssessment) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// CycleResult aggregates one symbol's signals across all timeframes for a
// single calculation cycle.
type CycleResult struct {
	Symbol     string               `json:"symbol"`
	Snapshot   PriceSnapshot        `json:"snapshot"`
	Signals    map[Timeframe]Signal `json:"signals"`
	Agreement  float64              `json:"agreement"`  // 0..1 pairwise direction agreement
	Confidence float64              `json:"confidence"` // risk-adjusted aggregate, 0..100
	Errors     map[Timeframe]string `json:"errors,omitempty"`
}

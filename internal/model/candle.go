package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Timeframe identifies one of the supported candle resolutions.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
	TF1M  Timeframe = "1M"
)

// AllTimeframes lists every supported timeframe in ascending duration order.
var AllTimeframes = []Timeframe{
	TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF12h, TF1d, TF1w, TF1M,
}

// Duration returns the bucket width of the timeframe.
// Months are approximated as 30 days.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF30m:
		return 30 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF12h:
		return 12 * time.Hour
	case TF1d:
		return 24 * time.Hour
	case TF1w:
		return 7 * 24 * time.Hour
	case TF1M:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	for _, t := range AllTimeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// Candle represents one OHLCV bar for a symbol at a given timeframe.
// Candles are immutable once stored.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	TS        time.Time `json:"ts"` // bucket open time, UTC
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Key returns "symbol:timeframe".
func (c *Candle) Key() string {
	return c.Symbol + ":" + string(c.Timeframe)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

var errBadCandle = errors.New("invalid candle")

// Validate checks the OHLCV invariants: high >= max(open, close),
// low <= min(open, close), volume >= 0.
func (c *Candle) Validate() error {
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("%w: high %.8f below body", errBadCandle, c.High)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("%w: low %.8f above body", errBadCandle, c.Low)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume %.8f", errBadCandle, c.Volume)
	}
	return nil
}

// ValidateSeries checks every candle and the ascending-timestamp ordering.
func ValidateSeries(candles []Candle) error {
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && !candles[i].TS.After(candles[i-1].TS) {
			return fmt.Errorf("%w: candle %d not after candle %d", errBadCandle, i, i-1)
		}
	}
	return nil
}

// PriceSnapshot is the last known spot price for a symbol.
// Owned exclusively by the price cache; replaced whole on each fetch.
type PriceSnapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change_24h"` // percent
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how long ago the snapshot was fetched.
func (p *PriceSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(p.FetchedAt)
}

// Stale reports whether the snapshot is older than maxAge.
func (p *PriceSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return p.Age(now) > maxAge
}

package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"crypto-signal-backend/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func series(closes ...float64) []model.Candle {
	candles := make([]model.Candle, len(closes))
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candles[i] = model.Candle{
			Symbol:    "BTC/USDT",
			Timeframe: model.TF1h,
			TS:        ts.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    100,
		}
	}
	return candles
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

// ────────────────────────────────────────────────────────────
// SMA / EMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness(t *testing.T) {
	// Last 3 of [100, 102, 104, 103, 105]: (104+103+105)/3 = 104
	got, err := SMA([]float64{100, 102, 104, 103, 105}, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "SMA(3)", got, 104.0, 0.0001)
}

func TestSMA_TooShort(t *testing.T) {
	if _, err := SMA([]float64{1, 2}, 3); err == nil {
		t.Error("expected error for short series")
	}
}

func TestEMA_Correctness(t *testing.T) {
	// EMA(3) of [10, 11, 12, 13, 14]:
	// seed = (10+11+12)/3 = 11; mult = 0.5
	// after 13: (13-11)*0.5 + 11 = 12
	// after 14: (14-12)*0.5 + 12 = 13
	got, err := EMA([]float64{10, 11, 12, 13, 14}, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "EMA(3)", got, 13.0, 0.0001)
}

func TestEMASeries_SeedPlacement(t *testing.T) {
	out, err := EMASeries([]float64{2, 4, 6, 8}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 0 {
		t.Errorf("entry before seed should be zero, got %f", out[0])
	}
	assertClose(t, "seed", out[1], 3.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_AllGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	got, err := RSI(closes, 14)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "RSI all gains", got, 100.0, 0.0001)
}

func TestRSI_AllLosses(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 - float64(i)
	}
	got, err := RSI(closes, 14)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "RSI all losses", got, 0.0, 0.0001)
}

func TestRSI_Correctness_Period3(t *testing.T) {
	// Closes: 1, 2, 3, 2, 3
	// Seed deltas (+1, +1, -1): avgGain = 2/3, avgLoss = 1/3
	// Delta +1: avgGain = (2/3·2 + 1)/3 = 7/9, avgLoss = (1/3·2)/3 = 2/9
	// RS = 3.5, RSI = 100 − 100/4.5 = 77.7778
	got, err := RSI([]float64{1, 2, 3, 2, 3}, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "RSI(3)", got, 77.7778, 0.001)
}

func TestRSI_Range(t *testing.T) {
	closes := make([]float64, 100)
	for i := range closes {
		// deterministic oscillation
		closes[i] = 100 + 10*math.Sin(float64(i)*0.7) + float64(i%7)
	}
	got, err := RSI(closes, 14)
	if err != nil {
		t.Fatal(err)
	}
	if got < 0 || got > 100 {
		t.Errorf("RSI out of range: %f", got)
	}
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_FlatSeries(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 250.0
	}
	got, err := MACD(closes, 12, 26, 9)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "MACD value", got.Value, 0, 1e-9)
	assertClose(t, "MACD signal", got.Signal, 0, 1e-9)
	assertClose(t, "MACD histogram", got.Histogram, 0, 1e-9)
}

func TestMACD_UptrendPositive(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i)*2
	}
	got, err := MACD(closes, 12, 26, 9)
	if err != nil {
		t.Fatal(err)
	}
	if got.Value <= 0 {
		t.Errorf("expected positive MACD line in steady uptrend, got %f", got.Value)
	}
}

func TestMACD_HistogramIdentity(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)*0.3)
	}
	got, err := MACD(closes, 12, 26, 9)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "histogram = line − signal", got.Histogram, got.Value-got.Signal, 1e-12)
}

// ────────────────────────────────────────────────────────────
// Bollinger
// ────────────────────────────────────────────────────────────

func TestBollinger_Correctness(t *testing.T) {
	// Window [2, 4, 4, 2]: mean 3, σ = 1 → upper 5, lower 1
	got, err := Bollinger([]float64{9, 9, 2, 4, 4, 2}, 4, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "middle", got.Middle, 3.0, 0.0001)
	assertClose(t, "upper", got.Upper, 5.0, 0.0001)
	assertClose(t, "lower", got.Lower, 1.0, 0.0001)
}

func TestBollinger_FlatSeries(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 42.0
	}
	got, err := Bollinger(closes, 20, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "upper == middle == lower", got.Upper, got.Lower, 1e-12)
	assertClose(t, "middle", got.Middle, 42.0, 1e-12)
}

// ────────────────────────────────────────────────────────────
// ATR
// ────────────────────────────────────────────────────────────

func TestATR_FlatSeries(t *testing.T) {
	candles := series(1, 1, 1, 1, 1, 1)
	// Flatten highs/lows so the true range is exactly zero.
	for i := range candles {
		candles[i].High = 1
		candles[i].Low = 1
		candles[i].Open = 1
	}
	got, err := ATR(candles, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "ATR flat", got, 0.0, 1e-12)
}

func TestATR_ConstantRange(t *testing.T) {
	// Every candle has high−low = 2 and no gaps, so TR = 2 for every candle
	// and the Wilder smoothing stays at 2.
	candles := series(10, 10, 10, 10, 10, 10, 10, 10)
	got, err := ATR(candles, 4)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "ATR constant range", got, 2.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Stochastic
// ────────────────────────────────────────────────────────────

func TestStochastic_TopOfRange(t *testing.T) {
	candles := series(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18)
	// Close sits at the candle high so %K pins near the top of the range.
	for i := range candles {
		candles[i].High = candles[i].Close
		candles[i].Low = candles[i].Close - 2
	}
	got, err := Stochastic(candles, 14, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got.K < 90 {
		t.Errorf("expected %%K near 100 at top of range, got %f", got.K)
	}
	if got.D < 90 {
		t.Errorf("expected %%D near 100 at top of range, got %f", got.D)
	}
}

func TestStochastic_FlatWindow(t *testing.T) {
	candles := series(5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5)
	for i := range candles {
		candles[i].High = 5
		candles[i].Low = 5
	}
	got, err := Stochastic(candles, 14, 3)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "flat window %K", got.K, 50.0, 1e-12)
}

// ────────────────────────────────────────────────────────────
// Compute
// ────────────────────────────────────────────────────────────

func TestCompute_InsufficientData(t *testing.T) {
	_, err := Compute(series(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), DefaultLookbacks)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestCompute_FullSet(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 20000 + 500*math.Sin(float64(i)*0.2)
	}
	set, err := Compute(series(closes...), DefaultLookbacks)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Excluded) != 0 {
		t.Errorf("unexpected excluded indicators: %v", set.Excluded)
	}
	if set.RSI < 0 || set.RSI > 100 {
		t.Errorf("RSI out of range: %f", set.RSI)
	}
	if set.ATR <= 0 {
		t.Errorf("expected positive ATR, got %f", set.ATR)
	}
	if set.Bollinger.Upper < set.Bollinger.Middle || set.Bollinger.Middle < set.Bollinger.Lower {
		t.Errorf("band ordering violated: %+v", set.Bollinger)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 1500 + 40*math.Cos(float64(i)*0.5)
	}
	candles := series(closes...)

	a, err := Compute(candles, DefaultLookbacks)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compute(candles, DefaultLookbacks)
	if err != nil {
		t.Fatal(err)
	}
	if a.RSI != b.RSI || a.MACD != b.MACD || a.EMA != b.EMA || a.ATR != b.ATR || a.Stochastic != b.Stochastic {
		t.Error("identical input produced different indicator sets")
	}
}

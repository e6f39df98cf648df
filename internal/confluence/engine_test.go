package confluence

import (
	"math"
	"testing"
	"time"

	"crypto-signal-backend/internal/model"
)

func mkCandles(closes []float64) []model.Candle {
	candles := make([]model.Candle, len(closes))
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candles[i] = model.Candle{
			Symbol:    "BTC/USDT",
			Timeframe: model.TF1h,
			TS:        ts.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 2,
			Low:       c - 2,
			Close:     c,
			Volume:    100,
		}
	}
	return candles
}

func snapshotAt(price float64) model.PriceSnapshot {
	return model.PriceSnapshot{
		Symbol:    "BTC/USDT",
		Price:     price,
		Change24h: 0,
		FetchedAt: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
}

func fixedEngine() *Engine {
	e := NewEngine(nil)
	e.now = func() time.Time { return time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC) }
	return e
}

// Steady +2 uptrend for 99 candles, then a single crash candle. The crash
// pushes Wilder RSI below 30 while the lagging EMAs are still stacked
// bullishly — the oversold-pullback-in-uptrend setup.
func oversoldUptrend() []model.Candle {
	closes := make([]float64, 100)
	for i := 0; i < 99; i++ {
		closes[i] = 100 + float64(i)*2
	}
	closes[99] = closes[98] - 65
	return mkCandles(closes)
}

func TestSynthesize_OversoldUptrendGoesLong(t *testing.T) {
	candles := oversoldUptrend()
	entry := candles[len(candles)-1].Close

	sig := fixedEngine().Synthesize(candles, snapshotAt(entry), model.TF1h)

	if sig.DataQuality != model.DataFull {
		t.Fatalf("expected full data quality, got %s", sig.DataQuality)
	}
	if sig.Indicators.RSI >= 30 {
		t.Fatalf("setup broken: expected RSI < 30, got %.1f", sig.Indicators.RSI)
	}
	ema := sig.Indicators.EMA
	if !(ema.Short > ema.Medium && ema.Medium > ema.Long) {
		t.Fatalf("setup broken: expected bullish EMA stack, got %+v", ema)
	}
	if sig.Direction != model.DirectionLong {
		t.Errorf("expected LONG, got %s (confidence %.1f)", sig.Direction, sig.Confidence)
	}
	if sig.Confidence < 65 {
		t.Errorf("expected confidence >= 65, got %.1f", sig.Confidence)
	}
	if len(sig.Reasoning) == 0 {
		t.Error("expected non-empty reasoning")
	}
}

func TestSynthesize_LongLevelsOrdering(t *testing.T) {
	candles := oversoldUptrend()
	entry := candles[len(candles)-1].Close

	sig := fixedEngine().Synthesize(candles, snapshotAt(entry), model.TF1h)
	if sig.Direction != model.DirectionLong {
		t.Skip("setup did not produce LONG")
	}
	if !(sig.StopLoss < sig.EntryPrice && sig.EntryPrice < sig.TakeProfit) {
		t.Errorf("LONG level ordering violated: sl=%.2f entry=%.2f tp=%.2f",
			sig.StopLoss, sig.EntryPrice, sig.TakeProfit)
	}
}

func TestSynthesize_FlatSeriesNeutral(t *testing.T) {
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 500 // no votes fire on a dead-flat series
	}
	sig := fixedEngine().Synthesize(mkCandles(closes), snapshotAt(500), model.TF1h)

	if sig.Direction != model.DirectionNeutral {
		t.Errorf("expected NEUTRAL on flat series, got %s", sig.Direction)
	}
	// NEUTRAL gets the symmetric ±0.5·ATR band.
	if !(sig.StopLoss < sig.EntryPrice && sig.EntryPrice < sig.TakeProfit) {
		t.Errorf("NEUTRAL band should straddle entry: sl=%.2f entry=%.2f tp=%.2f",
			sig.StopLoss, sig.EntryPrice, sig.TakeProfit)
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	candles := oversoldUptrend()
	entry := candles[len(candles)-1].Close
	e := fixedEngine()

	a := e.Synthesize(candles, snapshotAt(entry), model.TF1h)
	b := e.Synthesize(candles, snapshotAt(entry), model.TF1h)

	if a.Direction != b.Direction || a.Confidence != b.Confidence ||
		a.StopLoss != b.StopLoss || a.TakeProfit != b.TakeProfit {
		t.Error("identical input produced different signals")
	}
	if len(a.Reasoning) != len(b.Reasoning) {
		t.Error("reasoning differs between identical runs")
	}
}

func TestSynthesize_InsufficientDataSimplified(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109}
	sig := fixedEngine().Synthesize(mkCandles(closes), snapshotAt(110), model.TF1h)

	if sig.DataQuality != model.DataInsufficient {
		t.Errorf("expected INSUFFICIENT data quality, got %s", sig.DataQuality)
	}
	if sig.Confidence > SimplifiedMaxConfidence {
		t.Errorf("simplified confidence must be <= %.0f, got %.1f", SimplifiedMaxConfidence, sig.Confidence)
	}
	// Rising closes and price above the short EMA lean LONG.
	if sig.Direction != model.DirectionLong {
		t.Errorf("expected simplified LONG, got %s", sig.Direction)
	}
}

func TestSynthesize_EmptySeriesDoesNotPanic(t *testing.T) {
	sig := fixedEngine().Synthesize(nil, snapshotAt(100), model.TF1w)
	if sig.DataQuality != model.DataInsufficient {
		t.Errorf("expected INSUFFICIENT, got %s", sig.DataQuality)
	}
	if sig.Direction != model.DirectionNeutral {
		t.Errorf("expected NEUTRAL for empty series, got %s", sig.Direction)
	}
}

func TestSynthesize_ConfidenceRange(t *testing.T) {
	// Sweep a few shapes and check the documented [0,100] bound.
	shapes := [][]float64{
		oversoldClosesDown(), risingCloses(120), oscillatingCloses(100),
	}
	for i, closes := range shapes {
		sig := fixedEngine().Synthesize(mkCandles(closes), snapshotAt(closes[len(closes)-1]), model.TF4h)
		if sig.Confidence < 0 || sig.Confidence > 100 {
			t.Errorf("shape %d: confidence out of range: %.2f", i, sig.Confidence)
		}
	}
}

func oversoldClosesDown() []float64 {
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 1000 - float64(i)*5
	}
	return closes
}

func risingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)*3
	}
	return closes
}

func oscillatingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 400 + 20*math.Sin(float64(i)*0.4)
	}
	return closes
}

func TestDecayConfidence(t *testing.T) {
	// 1m decays at 0.95/min: 80 → 76 after one minute.
	got := DecayConfidence(80, model.TF1m, time.Minute)
	if math.Abs(got-76) > 1e-9 {
		t.Errorf("expected 76, got %f", got)
	}

	// Monthly signals barely age.
	monthly := DecayConfidence(80, model.TF1M, time.Hour)
	if monthly < 79.7 {
		t.Errorf("monthly decay too aggressive: %f", monthly)
	}

	// Pure function of elapsed time: zero elapsed is identity.
	if DecayConfidence(80, model.TF1h, 0) != 80 {
		t.Error("zero elapsed should not decay")
	}

	// Monotonically decreasing in elapsed time.
	if DecayConfidence(80, model.TF1h, 2*time.Hour) >= DecayConfidence(80, model.TF1h, time.Hour) {
		t.Error("decay must decrease with elapsed time")
	}
}

func TestClassifyRegime(t *testing.T) {
	set := &model.IndicatorSet{
		ATR: 50, // 5% of price 1000
		EMA: model.EMAStack{Short: 1000, Medium: 990, Long: 980},
		Bollinger: model.BollingerResult{
			Upper: 1020, Middle: 1000, Lower: 980,
		},
	}
	if got := ClassifyRegime(set, 1000); got != model.RegimeVolatile {
		t.Errorf("high ATR: expected VOLATILE, got %s", got)
	}

	set.ATR = 5 // 0.5%
	if got := ClassifyRegime(set, 1000); got != model.RegimeTrending {
		t.Errorf("wide EMA spread: expected TRENDING, got %s", got)
	}

	set.EMA = model.EMAStack{Short: 1000, Medium: 1000, Long: 1000}
	set.Bollinger = model.BollingerResult{Upper: 1010, Middle: 1000, Lower: 990}
	if got := ClassifyRegime(set, 1000); got != model.RegimeRanging {
		t.Errorf("narrow bands, no trend: expected RANGING, got %s", got)
	}
}

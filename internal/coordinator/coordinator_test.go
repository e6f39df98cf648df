package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crypto-signal-backend/internal/confluence"
	"crypto-signal-backend/internal/model"
)

// fakeCandles serves a fixed rising series per timeframe, with optional
// per-timeframe overrides and failures.
type fakeCandles struct {
	mu       sync.Mutex
	calls    int
	failTF   map[model.Timeframe]error
	lengthTF map[model.Timeframe]int // candles served; default 100
}

func (f *fakeCandles) Klines(_ context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if err := f.failTF[tf]; err != nil {
		return nil, err
	}
	n := 100
	if override, ok := f.lengthTF[tf]; ok {
		n = override
	}
	if n > limit {
		n = limit
	}

	candles := make([]model.Candle, n)
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := 100 + float64(i)*2
		candles[i] = model.Candle{
			Symbol: symbol, Timeframe: tf,
			TS:   ts.Add(time.Duration(i) * tf.Duration()),
			Open: c, High: c + 2, Low: c - 2, Close: c, Volume: 100,
		}
	}
	return candles, nil
}

type fakePrices struct {
	snap model.PriceSnapshot
	err  error
	gate chan struct{} // when non-nil, block until closed
}

func (f *fakePrices) ImmediatePrice(ctx context.Context, symbol string) (model.PriceSnapshot, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return model.PriceSnapshot{}, ctx.Err()
		}
	}
	return f.snap, f.err
}

func snapshot(price float64) model.PriceSnapshot {
	return model.PriceSnapshot{
		Symbol: "BTC/USDT", Price: price,
		FetchedAt: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
}

func newTestCoordinator(candles CandleSource, prices PriceSource) *Coordinator {
	return New(candles, prices, confluence.NewEngine(nil), Config{})
}

// ────────────────────────────────────────────────────────────────────────────
// Full cycle
// ────────────────────────────────────────────────────────────────────────────

func TestRunCycle_AllTimeframes(t *testing.T) {
	coord := newTestCoordinator(&fakeCandles{}, &fakePrices{snap: snapshot(298)})

	result, err := coord.RunCycle(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Signals) != len(model.AllTimeframes) {
		t.Fatalf("expected %d signals, got %d (errors: %v)",
			len(model.AllTimeframes), len(result.Signals), result.Errors)
	}
	for tf, sig := range result.Signals {
		if sig.EntryPrice != 298 {
			t.Errorf("%s: entry %.0f, want shared snapshot price 298", tf, sig.EntryPrice)
		}
		if sig.Timeframe != tf {
			t.Errorf("signal filed under %s carries timeframe %s", tf, sig.Timeframe)
		}
	}
	if coord.State("BTC/USDT") != StateIdle {
		t.Errorf("state after cycle: %s, want IDLE", coord.State("BTC/USDT"))
	}
}

func TestRunCycle_TimeframeFailureIsolated(t *testing.T) {
	candles := &fakeCandles{
		failTF: map[model.Timeframe]error{model.TF4h: errors.New("exchange 503")},
	}
	coord := newTestCoordinator(candles, &fakePrices{snap: snapshot(298)})

	result, err := coord.RunCycle(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Signals) != len(model.AllTimeframes)-1 {
		t.Errorf("expected %d signals, got %d", len(model.AllTimeframes)-1, len(result.Signals))
	}
	if _, ok := result.Signals[model.TF4h]; ok {
		t.Error("failed timeframe must not emit a signal")
	}
	if msg := result.Errors[model.TF4h]; msg == "" {
		t.Error("failed timeframe missing from Errors")
	}
}

func TestRunCycle_ShortHistoryDegradesToSimplified(t *testing.T) {
	candles := &fakeCandles{
		lengthTF: map[model.Timeframe]int{model.TF1w: 20, model.TF1M: 8},
	}
	coord := newTestCoordinator(candles, &fakePrices{snap: snapshot(298)})

	result, err := coord.RunCycle(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatal(err)
	}
	for _, tf := range []model.Timeframe{model.TF1w, model.TF1M} {
		sig, ok := result.Signals[tf]
		if !ok {
			t.Fatalf("%s: thin history must still produce a signal", tf)
		}
		if sig.DataQuality != model.DataInsufficient {
			t.Errorf("%s: expected INSUFFICIENT quality, got %s", tf, sig.DataQuality)
		}
	}
	if sig := result.Signals[model.TF1h]; sig.DataQuality != model.DataFull {
		t.Errorf("1h with full history: expected FULL quality, got %s", sig.DataQuality)
	}
}

func TestRunCycle_SnapshotFailureAborts(t *testing.T) {
	coord := newTestCoordinator(&fakeCandles{}, &fakePrices{err: errors.New("no upstream")})

	if _, err := coord.RunCycle(context.Background(), "BTC/USDT"); err == nil {
		t.Fatal("expected error when no snapshot is available")
	}
	if coord.State("BTC/USDT") != StateIdle {
		t.Errorf("failed cycle must return to IDLE, got %s", coord.State("BTC/USDT"))
	}
}

func TestRunCycle_ConcurrentSameSymbolRejected(t *testing.T) {
	gate := make(chan struct{})
	coord := newTestCoordinator(&fakeCandles{}, &fakePrices{snap: snapshot(298), gate: gate})

	errCh := make(chan error, 1)
	go func() {
		_, err := coord.RunCycle(context.Background(), "BTC/USDT")
		errCh <- err
	}()

	// Wait until the first cycle is parked in FETCHING.
	deadline := time.Now().Add(time.Second)
	for coord.State("BTC/USDT") != StateFetching {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never reached FETCHING")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := coord.RunCycle(context.Background(), "BTC/USDT"); !errors.Is(err, ErrSymbolBusy) {
		t.Fatalf("expected ErrSymbolBusy, got %v", err)
	}

	close(gate)
	if err := <-errCh; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Aggregation
// ────────────────────────────────────────────────────────────────────────────

func TestAgreementScore(t *testing.T) {
	mk := func(dirs ...model.Direction) map[model.Timeframe]model.Signal {
		signals := make(map[model.Timeframe]model.Signal, len(dirs))
		for i, d := range dirs {
			signals[model.AllTimeframes[i]] = model.Signal{Direction: d}
		}
		return signals
	}

	cases := []struct {
		name    string
		signals map[model.Timeframe]model.Signal
		want    float64
	}{
		{"unanimous", mk(model.DirectionLong, model.DirectionLong, model.DirectionLong), 1.0},
		{"two of three", mk(model.DirectionLong, model.DirectionLong, model.DirectionShort), 1.0 / 3.0},
		{"all split", mk(model.DirectionLong, model.DirectionShort, model.DirectionNeutral), 0.0},
		{"single", mk(model.DirectionLong), 1.0},
		{"empty", mk(), 1.0},
	}
	for _, tc := range cases {
		if got := agreementScore(tc.signals); !closeEnough(got, tc.want) {
			t.Errorf("%s: agreement %.4f, want %.4f", tc.name, got, tc.want)
		}
	}
}

func closeEnough(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestAggregateConfidence(t *testing.T) {
	signals := map[model.Timeframe]model.Signal{
		model.TF1h: {Direction: model.DirectionLong, Confidence: 80},
		model.TF4h: {Direction: model.DirectionLong, Confidence: 60},
	}
	if got := aggregateConfidence(signals, 1.0); !closeEnough(got, 70) {
		t.Errorf("unanimous aggregate: %.2f, want 70", got)
	}
	if got := aggregateConfidence(signals, 0.5); !closeEnough(got, 35) {
		t.Errorf("discounted aggregate: %.2f, want 35", got)
	}
	if got := aggregateConfidence(nil, 1.0); got != 0 {
		t.Errorf("empty aggregate: %.2f, want 0", got)
	}
}

// Package coordinator runs one full multi-timeframe calculation cycle per
// symbol: a single price snapshot, candle fetches and signal synthesis for
// every timeframe, and cross-timeframe agreement aggregation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"crypto-signal-backend/internal/confluence"
	"crypto-signal-backend/internal/model"
)

// ErrSymbolBusy is returned when a cycle for the symbol is already running.
var ErrSymbolBusy = errors.New("coordinator: cycle already running for symbol")

// State is the per-symbol cycle state.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateComputing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetching:
		return "FETCHING"
	case StateComputing:
		return "COMPUTING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// CandleSource fetches historical candles, oldest first.
type CandleSource interface {
	Klines(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// PriceSource serves the cycle's shared price snapshot.
type PriceSource interface {
	ImmediatePrice(ctx context.Context, symbol string) (model.PriceSnapshot, error)
}

// Config tunes a Coordinator. Zero values take the defaults.
type Config struct {
	Workers     int               // concurrent timeframe computations (default 4)
	CandleLimit int               // candles requested per timeframe (default 200)
	Timeframes  []model.Timeframe // defaults to model.AllTimeframes
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 200
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = model.AllTimeframes
	}
}

// Coordinator owns the per-symbol cycle state machine
// IDLE → FETCHING → COMPUTING → DONE → IDLE.
type Coordinator struct {
	cfg     Config
	candles CandleSource
	prices  PriceSource
	engine  *confluence.Engine

	mu     sync.Mutex
	states map[string]State
}

// New creates a coordinator over the given sources and signal engine.
func New(candles CandleSource, prices PriceSource, engine *confluence.Engine, cfg Config) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		cfg:     cfg,
		candles: candles,
		prices:  prices,
		engine:  engine,
		states:  make(map[string]State),
	}
}

// State reports the current cycle state for a symbol.
func (c *Coordinator) State(symbol string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[symbol]
}

func (c *Coordinator) setState(symbol string, s State) {
	c.mu.Lock()
	c.states[symbol] = s
	c.mu.Unlock()
}

// RunCycle computes signals for every configured timeframe of one symbol.
//
// The price snapshot is fetched once and shared by all timeframes so the
// whole cycle is pinned to a single observed price. Timeframe failures are
// isolated into result.Errors; the cycle fails outright only when the
// snapshot itself cannot be obtained.
func (c *Coordinator) RunCycle(ctx context.Context, symbol string) (*model.CycleResult, error) {
	c.mu.Lock()
	if c.states[symbol] != StateIdle && c.states[symbol] != StateDone {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolBusy, symbol, c.states[symbol])
	}
	c.states[symbol] = StateFetching
	c.mu.Unlock()

	defer c.setState(symbol, StateIdle)

	snap, err := c.prices.ImmediatePrice(ctx, symbol)
	if err != nil && snap.Price <= 0 {
		return nil, fmt.Errorf("coordinator: %s snapshot: %w", symbol, err)
	}
	if err != nil {
		// Stale snapshot: usable, but worth a trace.
		log.Printf("[coordinator] %s using stale snapshot: %v", symbol, err)
	}

	c.setState(symbol, StateComputing)

	result := &model.CycleResult{
		Symbol:   symbol,
		Snapshot: snap,
		Signals:  make(map[model.Timeframe]model.Signal, len(c.cfg.Timeframes)),
		Errors:   make(map[model.Timeframe]string),
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, c.cfg.Workers)
		mu  sync.Mutex
	)
	for _, tf := range c.cfg.Timeframes {
		wg.Add(1)
		go func(tf model.Timeframe) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			sig, err := c.computeTimeframe(ctx, symbol, tf, snap)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[tf] = err.Error()
				return
			}
			result.Signals[tf] = sig
		}(tf)
	}
	wg.Wait()

	result.Agreement = agreementScore(result.Signals)
	result.Confidence = aggregateConfidence(result.Signals, result.Agreement)

	c.setState(symbol, StateDone)
	return result, nil
}

// computeTimeframe fetches one timeframe's candles and synthesizes its
// signal. The engine degrades to a simplified signal on short histories, so
// thin weekly and monthly series never block the cycle.
func (c *Coordinator) computeTimeframe(ctx context.Context, symbol string, tf model.Timeframe, snap model.PriceSnapshot) (model.Signal, error) {
	candles, err := c.candles.Klines(ctx, symbol, tf, c.cfg.CandleLimit)
	if err != nil {
		return model.Signal{}, fmt.Errorf("klines %s: %w", tf, err)
	}
	return c.engine.Synthesize(candles, snap, tf), nil
}

// agreementScore is the fraction of timeframe pairs whose directions match.
// One or zero signals score a full 1.0 since no pair disagrees.
func agreementScore(signals map[model.Timeframe]model.Signal) float64 {
	dirs := make([]model.Direction, 0, len(signals))
	tfs := make([]model.Timeframe, 0, len(signals))
	for tf := range signals {
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool { return tfs[i].Duration() < tfs[j].Duration() })
	for _, tf := range tfs {
		dirs = append(dirs, signals[tf].Direction)
	}

	if len(dirs) < 2 {
		return 1.0
	}
	matching, total := 0, 0
	for i := 0; i < len(dirs); i++ {
		for j := i + 1; j < len(dirs); j++ {
			total++
			if dirs[i] == dirs[j] {
				matching++
			}
		}
	}
	return float64(matching) / float64(total)
}

// aggregateConfidence blends the mean per-timeframe confidence with the
// agreement score: unanimous timeframes keep their confidence, split
// timeframes get discounted.
func aggregateConfidence(signals map[model.Timeframe]model.Signal, agreement float64) float64 {
	if len(signals) == 0 {
		return 0
	}
	sum := 0.0
	for _, sig := range signals {
		sum += sig.Confidence
	}
	return (sum / float64(len(signals))) * agreement
}

// CycleTimeout is the ceiling applied to a whole symbol cycle by callers
// that do not carry their own deadline.
const CycleTimeout = 2 * time.Minute

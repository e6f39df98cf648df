// Package redis persists signals to Redis: a latest-value key per
// (symbol, timeframe), a capped history stream, and a pubsub publish for the
// websocket gateway. All writes for one cycle go out in a single pipeline.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"crypto-signal-backend/internal/model"
)

const (
	// signalStreamMaxLen caps each (symbol, timeframe) history stream.
	signalStreamMaxLen = 500

	defaultLatestTTL = 30 * time.Minute

	breakerMaxFailures  = 5
	breakerResetTimeout = 10 * time.Second
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes cycle results to Redis behind a circuit breaker so a dead
// Redis degrades the engine instead of stalling every cycle.
type Writer struct {
	client  *goredis.Client
	breaker *CircuitBreaker

	// OnWrite, when set, observes the latency of each successful pipeline.
	OnWrite func(time.Duration)
	// OnBreakerChange, when set, observes breaker transitions.
	OnBreakerChange func(from, to State)
}

// New creates a Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	w := &Writer{client: client, breaker: NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout)}
	w.breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if w.OnBreakerChange != nil {
			w.OnBreakerChange(from, to)
		}
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return w, nil
}

// Client returns the underlying Redis client for health checks and pubsub.
func (w *Writer) Client() *goredis.Client { return w.client }

// LatestKey is the latest-signal key for one (symbol, timeframe).
func LatestKey(symbol string, tf model.Timeframe) string {
	return "signal:latest:" + symbol + ":" + string(tf)
}

// Publish writes every signal of a cycle in one pipeline:
// SET latest + XADD history + PUBLISH for gateway subscribers.
// Satisfies the scheduler's Sink.
func (w *Writer) Publish(ctx context.Context, result *model.CycleResult) error {
	if len(result.Signals) == 0 {
		return nil
	}

	start := time.Now()
	return w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		for tf, sig := range result.Signals {
			jsonData := string(sig.JSON())

			pipe.Set(ctx, LatestKey(result.Symbol, tf), jsonData, defaultLatestTTL)
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: sig.StreamKey(),
				MaxLen: signalStreamMaxLen,
				Approx: true,
				Values: map[string]interface{}{"data": jsonData},
			})
			pipe.Publish(ctx, sig.PubSubChannel(), jsonData)
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis signal pipeline for %s: %w", result.Symbol, err)
		}
		if w.OnWrite != nil {
			w.OnWrite(time.Since(start))
		}
		return nil
	})
}

// BreakerState exposes the circuit breaker state for health endpoints.
func (w *Writer) BreakerState() State {
	return w.breaker.CurrentState()
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

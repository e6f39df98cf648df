package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"crypto-signal-backend/internal/model"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader serves latest signals and signal history to the HTTP API, and
// pubsub subscriptions to the websocket gateway.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// LatestSignal returns the most recent signal for one (symbol, timeframe),
// or (nil, nil) when none has been written yet.
func (r *Reader) LatestSignal(ctx context.Context, symbol string, tf model.Timeframe) (*model.Signal, error) {
	data, err := r.client.Get(ctx, LatestKey(symbol, tf)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get latest %s %s: %w", symbol, tf, err)
	}

	var sig model.Signal
	if err := json.Unmarshal([]byte(data), &sig); err != nil {
		return nil, fmt.Errorf("unmarshal signal %s %s: %w", symbol, tf, err)
	}
	return &sig, nil
}

// LatestSignals fetches the latest signal for every timeframe of a symbol in
// one MGET. Missing timeframes are simply absent from the result.
func (r *Reader) LatestSignals(ctx context.Context, symbol string, tfs []model.Timeframe) (map[model.Timeframe]model.Signal, error) {
	keys := make([]string, len(tfs))
	for i, tf := range tfs {
		keys[i] = LatestKey(symbol, tf)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget latest %s: %w", symbol, err)
	}

	signals := make(map[model.Timeframe]model.Signal, len(tfs))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var sig model.Signal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			log.Printf("[redis-reader] bad signal payload at %s: %v", keys[i], err)
			continue
		}
		signals[tfs[i]] = sig
	}
	return signals, nil
}

// SignalHistory returns up to limit signals from a (symbol, timeframe)
// stream, newest first.
func (r *Reader) SignalHistory(ctx context.Context, symbol string, tf model.Timeframe, limit int64) ([]model.Signal, error) {
	stream := "signal:" + symbol + ":" + string(tf)
	msgs, err := r.client.XRevRangeN(ctx, stream, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange %s: %w", stream, err)
	}

	signals := make([]model.Signal, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var sig model.Signal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// SubscribeSignals pattern-subscribes to all signal publishes. The caller
// reads from the returned PubSub's Channel(); the gateway uses this to fan
// signals out to websocket clients.
func (r *Reader) SubscribeSignals(ctx context.Context) *goredis.PubSub {
	return r.client.PSubscribe(ctx, "pub:signal:*")
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

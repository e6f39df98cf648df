// Package pricecache holds the last known price per symbol, serves
// subscribers, and deduplicates concurrent upstream fetches.
//
// The in-flight call table is the engine's single mutual-exclusion point for
// market data: at most one upstream request per symbol is ever outstanding,
// and concurrent callers share its result.
package pricecache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"crypto-signal-backend/internal/model"
)

// ErrUnavailable is returned when the upstream fetch failed and no usable
// snapshot could be produced. The cache never substitutes a fabricated
// price; stale data plus this error is the worst case.
var ErrUnavailable = errors.New("pricecache: price data unavailable")

// Provider fetches the current spot price for a symbol from upstream.
type Provider interface {
	CurrentPrice(ctx context.Context, symbol string) (model.PriceSnapshot, error)
}

// Config tunes cache behaviour. Zero values take the defaults.
type Config struct {
	Freshness       time.Duration // max snapshot age before ImmediatePrice refetches (default 30s)
	MinRefetch      time.Duration // floor between upstream fetches per symbol (default 60s)
	RefreshInterval time.Duration // background refresh period (default 4m)
	FetchTimeout    time.Duration // per upstream request (default 10s)
}

func (c *Config) defaults() {
	if c.Freshness <= 0 {
		c.Freshness = 30 * time.Second
	}
	if c.MinRefetch <= 0 {
		c.MinRefetch = time.Minute
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 4 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
}

type inflightFetch struct {
	done chan struct{}
	snap model.PriceSnapshot
	err  error
}

type subscription struct {
	id int64
	fn func(model.PriceSnapshot)
}

// Cache is the process-wide price cache and fetch deduplicator.
type Cache struct {
	cfg      Config
	provider Provider

	mu        sync.Mutex
	snapshots map[string]model.PriceSnapshot
	lastFetch map[string]time.Time
	inflight  map[string]*inflightFetch
	subs      map[string][]subscription
	nextSubID int64

	now func() time.Time

	// OnDedup, when set, is called each time a caller joins an already
	// in-flight fetch instead of issuing its own. Used for metrics.
	OnDedup func(symbol string)
}

// New creates a price cache backed by the given provider.
func New(provider Provider, cfg Config) *Cache {
	cfg.defaults()
	return &Cache{
		cfg:       cfg,
		provider:  provider,
		snapshots: make(map[string]model.PriceSnapshot),
		lastFetch: make(map[string]time.Time),
		inflight:  make(map[string]*inflightFetch),
		subs:      make(map[string][]subscription),
		now:       time.Now,
	}
}

// Subscribe registers a callback fired synchronously, in subscription order,
// after every successful refresh of the symbol. The returned function
// removes the subscription; calling it twice is harmless.
func (c *Cache) Subscribe(symbol string, fn func(model.PriceSnapshot)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subs[symbol] = append(c.subs[symbol], subscription{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.subs[symbol]
		for i := range list {
			if list[i].id == id {
				c.subs[symbol] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// CurrentPrice returns the last cached snapshot without blocking.
func (c *Cache) CurrentPrice(symbol string) (model.PriceSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[symbol]
	return snap, ok
}

// ImmediatePrice returns a snapshot no older than the freshness threshold,
// fetching from upstream only when needed. Concurrent callers for the same
// symbol share a single upstream request.
//
// On upstream failure the stale snapshot (if any) is returned alongside the
// error so callers can degrade explicitly instead of silently.
func (c *Cache) ImmediatePrice(ctx context.Context, symbol string) (model.PriceSnapshot, error) {
	now := c.now()

	c.mu.Lock()
	if snap, ok := c.snapshots[symbol]; ok && !snap.Stale(now, c.cfg.Freshness) {
		c.mu.Unlock()
		return snap, nil
	}

	if call, ok := c.inflight[symbol]; ok {
		c.mu.Unlock()
		if c.OnDedup != nil {
			c.OnDedup(symbol)
		}
		return c.await(ctx, symbol, call)
	}

	// Respect the upstream rate limit even under manual pressure: if the
	// last fetch was too recent, serve what we have.
	if last, ok := c.lastFetch[symbol]; ok && now.Sub(last) < c.cfg.MinRefetch {
		snap, ok := c.snapshots[symbol]
		c.mu.Unlock()
		if ok {
			return snap, nil
		}
		return model.PriceSnapshot{}, fmt.Errorf("%w: %s refetch rate-limited with empty cache", ErrUnavailable, symbol)
	}

	call := &inflightFetch{done: make(chan struct{})}
	c.inflight[symbol] = call
	c.lastFetch[symbol] = now
	c.mu.Unlock()

	go c.fetch(symbol, call)
	return c.await(ctx, symbol, call)
}

// await blocks until the shared fetch completes or ctx expires.
func (c *Cache) await(ctx context.Context, symbol string, call *inflightFetch) (model.PriceSnapshot, error) {
	select {
	case <-call.done:
		if call.err != nil {
			// Surface the failure but hand back the last good snapshot.
			c.mu.Lock()
			stale, ok := c.snapshots[symbol]
			c.mu.Unlock()
			if ok {
				return stale, call.err
			}
			return model.PriceSnapshot{}, call.err
		}
		return call.snap, nil
	case <-ctx.Done():
		c.mu.Lock()
		stale, ok := c.snapshots[symbol]
		c.mu.Unlock()
		if ok {
			return stale, ctx.Err()
		}
		return model.PriceSnapshot{}, ctx.Err()
	}
}

// fetch performs the single upstream request for an in-flight call and
// publishes the result to subscribers.
func (c *Cache) fetch(symbol string, call *inflightFetch) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()

	snap, err := c.provider.CurrentPrice(ctx, symbol)

	c.mu.Lock()
	delete(c.inflight, symbol)
	var notify []subscription
	if err != nil {
		call.err = fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, err)
	} else {
		snap.Symbol = symbol
		if snap.FetchedAt.IsZero() {
			snap.FetchedAt = c.now()
		}
		c.snapshots[symbol] = snap
		call.snap = snap
		notify = append(notify, c.subs[symbol]...)
	}
	c.mu.Unlock()

	close(call.done)

	// Callbacks run outside the lock so a subscriber may re-enter the cache.
	for _, sub := range notify {
		sub.fn(call.snap)
	}
}

// Run refreshes every subscribed symbol on a fixed interval until ctx is
// cancelled. Fetch failures keep the stale snapshot and are logged only.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range c.subscribedSymbols() {
				if _, err := c.ImmediatePrice(ctx, symbol); err != nil {
					log.Printf("[pricecache] refresh %s: %v", symbol, err)
				}
			}
		}
	}
}

func (c *Cache) subscribedSymbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	symbols := make([]string, 0, len(c.subs))
	for symbol, list := range c.subs {
		if len(list) > 0 {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

// Package framecache keeps fetched candle frames in memory for the duration
// of a scan cycle so several detectors (and several derived timeframes) can
// share one venue round trip.
package framecache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// FetchFunc produces a frame on a cache miss.
type FetchFunc func(ctx context.Context) (*ohlcv.Frame, error)

// Cache is a concurrency-safe frame store keyed by (venue, timeframe, symbol).
// Entries live until the orchestrator clears them at a cycle or timeframe
// boundary; there is no TTL because candle data for a closed bar never goes
// stale within a cycle.
type Cache struct {
	mu     sync.RWMutex
	frames map[string]*ohlcv.Frame

	hits   atomic.Int64
	misses atomic.Int64
}

func New() *Cache {
	return &Cache{frames: make(map[string]*ohlcv.Frame)}
}

func key(venue string, tf timeframe.Timeframe, symbol string) string {
	return fmt.Sprintf("%s|%s|%s", venue, tf, symbol)
}

// Get returns the cached frame for the key, or nil.
func (c *Cache) Get(venue string, tf timeframe.Timeframe, symbol string) *ohlcv.Frame {
	c.mu.RLock()
	f := c.frames[key(venue, tf, symbol)]
	c.mu.RUnlock()
	if f != nil {
		c.hits.Add(1)
		return f
	}
	c.misses.Add(1)
	return nil
}

// Put stores a frame. Nil frames are ignored so a failed fetch never caches
// an absence and blocks the next attempt.
func (c *Cache) Put(f *ohlcv.Frame) {
	if f == nil {
		return
	}
	c.mu.Lock()
	c.frames[key(f.Venue, f.TF, f.Symbol)] = f
	c.mu.Unlock()
}

// GetOrFetch returns the cached frame, calling fetch and caching the result
// on a miss. Empty frames are returned but not cached, so a symbol that
// failed transiently is retried on the next lookup.
func (c *Cache) GetOrFetch(ctx context.Context, venue string, tf timeframe.Timeframe, symbol string, fetch FetchFunc) (*ohlcv.Frame, error) {
	if f := c.Get(venue, tf, symbol); f != nil {
		return f, nil
	}
	f, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if f != nil && f.Len() > 0 {
		c.Put(f)
	}
	return f, nil
}

// Clear drops every cached frame.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.frames = make(map[string]*ohlcv.Frame)
	c.mu.Unlock()
}

// ClearTimeframe drops all frames for one timeframe across venues, used when
// a bar closes on that timeframe and the cached copies are superseded.
func (c *Cache) ClearTimeframe(tf timeframe.Timeframe) {
	c.mu.Lock()
	for k, f := range c.frames {
		if f.TF == tf {
			delete(c.frames, k)
		}
	}
	c.mu.Unlock()
}

// Len reports the number of cached frames.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frames)
}

// Stats returns cumulative hit and miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

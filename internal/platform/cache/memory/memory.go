// Package memory provides an in-memory counter backend with TTL windows.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/podgraph/podgraph-go/internal/platform/cache"
)

func init() {
	cache.Register("memory", func(config map[string]any) (cache.Counter, error) {
		cleanupInterval := 5 * time.Minute
		if config != nil {
			if v, ok := config["cleanup_interval_seconds"]; ok {
				if secs, ok := toInt(v); ok && secs > 0 {
					cleanupInterval = time.Duration(secs) * time.Second
				}
			}
		}
		return New(cleanupInterval), nil
	})
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

type counterItem struct {
	value     int64
	expiresAt time.Time
}

// Counter is an in-memory windowed counter.
type Counter struct {
	mu        sync.Mutex
	counters  map[string]*counterItem
	stopClean chan struct{}
	closeOnce sync.Once
}

// New creates a new in-memory counter.
// cleanupInterval specifies how often expired windows are swept (0 disables).
func New(cleanupInterval time.Duration) *Counter {
	c := &Counter{
		counters:  make(map[string]*counterItem),
		stopClean: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

func (c *Counter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stopClean:
			return
		}
	}
}

func (c *Counter) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, v := range c.counters {
		if now.After(v.expiresAt) {
			delete(c.counters, k)
		}
	}
}

// Increment adds delta to the counter, starting a fresh window when the key
// is missing or its window has lapsed.
func (c *Counter) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	item, ok := c.counters[key]
	if !ok || now.After(item.expiresAt) {
		item = &counterItem{expiresAt: now.Add(ttl)}
		c.counters[key] = item
	}
	item.value += delta
	return item.value, item.expiresAt, nil
}

// GetCount returns the current value, 0 when missing or expired.
func (c *Counter) GetCount(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.counters[key]
	if !ok || time.Now().After(item.expiresAt) {
		return 0, nil
	}
	return item.value, nil
}

// Reset removes the counter.
func (c *Counter) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.counters, key)
	return nil
}

// Close stops the cleanup goroutine.
func (c *Counter) Close() error {
	c.closeOnce.Do(func() { close(c.stopClean) })
	return nil
}

var _ cache.Counter = (*Counter)(nil)

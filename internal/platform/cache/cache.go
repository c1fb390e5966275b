// Package cache provides the windowed counter backend used for request rate
// limiting, behind a driver registry so deployments can swap the backing
// store without touching callers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned when a key is not present.
var ErrNotFound = errors.New("key not found")

// TTLRateLimit is the default rate limit window.
const TTLRateLimit = 1 * time.Minute

// Counter provides atomic windowed counters.
type Counter interface {
	// Increment adds delta to the counter and returns the new value along
	// with the moment the window resets. A missing key is created with the
	// given TTL.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error)

	// GetCount returns the current counter value, 0 if not found.
	GetCount(ctx context.Context, key string) (int64, error)

	// Reset removes the counter.
	Reset(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// Factory creates a Counter from a raw driver config block.
type Factory func(config map[string]any) (Counter, error)

var drivers = map[string]Factory{}

// Register registers a counter driver factory. Panics on duplicates, like
// database/sql drivers.
func Register(name string, factory Factory) {
	if _, dup := drivers[name]; dup {
		panic("cache: driver registered twice: " + name)
	}
	drivers[name] = factory
}

// New creates a Counter using the named driver.
func New(name string, config map[string]any) (Counter, error) {
	factory, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("cache: unknown driver %q (registered: %v)", name, Names())
	}
	return factory(config)
}

// Names returns the registered driver names, sorted.
func Names() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

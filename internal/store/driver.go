package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, open files, migrate).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (memory, sqlite).
	Name() string
}

// DriverConfig holds configuration for driver selection and initialization.
type DriverConfig struct {
	// Driver is the driver name: memory or sqlite.
	Driver string `json:"driver"`

	// DataDir is the directory for data files (sqlite db). Unused by the
	// memory driver.
	DataDir string `json:"data_dir"`
}

// Factory creates a driver from its config.
type Factory func(cfg *DriverConfig) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes a driver factory available under the given name.
// It is intended to be called from driver package init functions.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic(fmt.Sprintf("store: Register called twice for driver %q", name))
	}
	drivers[name] = factory
}

// New creates a driver instance by name. The driver is not initialized;
// call Init before use.
func New(cfg *DriverConfig) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, Names())
	}
	return factory(cfg)
}

// Names returns the registered driver names, sorted.
func Names() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

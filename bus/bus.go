// Package bus is the registry of transport drivers. A driver opens a connection to a device (or
// to a remote simulator) and exposes it as a ral.CallbackSet.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"hwreg/ral"
)

type Driver interface {
	// Open connects to target; the format of target is driver specific.
	Open(ctx context.Context, target string, logger *zap.Logger) (Conn, error)
	// Description is a one line summary including the target format.
	Description() string
}

// Conn is an open transport.
type Conn interface {
	Callbacks() ral.CallbackSet
	Close() error
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available by the provided name.
// If Register is called twice with the same name or if driver is nil,
// it panics.
func Register(name string, driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if driver == nil {
		panic("bus: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("bus: Register called twice for driver " + name)
	}
	drivers[name] = driver
}

func unregisterAllDrivers() {
	driversMu.Lock()
	defer driversMu.Unlock()
	// For tests.
	drivers = make(map[string]Driver)
}

// Drivers returns a sorted list of the names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	return d, ok
}

func Open(ctx context.Context, driverName, target string, logger *zap.Logger) (Conn, error) {
	d, ok := Lookup(driverName)
	if !ok {
		return nil, fmt.Errorf("bus: unknown driver %q (forgotten import?)", driverName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := d.Open(ctx, target, logger.Named(driverName))
	if err != nil {
		return nil, fmt.Errorf("bus: %s: open %q: %w", driverName, target, err)
	}
	return conn, nil
}

// StaticConn is a Conn over a fixed CallbackSet with an optional close function.
type StaticConn struct {
	CallbackSet ral.CallbackSet
	CloseFunc   func() error
}

func (c *StaticConn) Callbacks() ral.CallbackSet { return c.CallbackSet }

func (c *StaticConn) Close() error {
	if c.CloseFunc == nil {
		return nil
	}
	return c.CloseFunc()
}

package plugin

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/osprey0/osprey/internal/permission"
)

// Factory builds an in-process plugin. Factories register under the
// plugin name they implement; the manager resolves them at load time.
type Factory struct {
	// New constructs an uninitialized instance. Callers run
	// Initialize/Shutdown themselves.
	New func(logger *slog.Logger) (Plugin, error)

	// Needs lists the permissions the built capability exercises.
	// The manager refuses construction while any of them is ungranted.
	Needs []permission.Type
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a factory available under the given plugin name.
// It is meant to be called from init functions; registering the same
// name twice or registering a nil constructor panics, the same way
// database/sql treats duplicate drivers.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f.New == nil {
		panic("plugin: Register constructor is nil for " + name)
	}
	if _, dup := factories[name]; dup {
		panic("plugin: Register called twice for " + name)
	}
	factories[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Factories lists registered factory names, sorted.
func Factories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

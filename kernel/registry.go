package kernel

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a Provisioner from the given configuration.
// Each backend registers its own factory function.
type Factory func(cfg Config) (Provisioner, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend factory to the registry.
// Backends call this in their init() function.
// Panics if a backend with the same name is already registered.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("kernel backend %q already registered", name))
	}
	registry[name] = factory
}

// New creates a Provisioner using the backend named by cfg.Backend.
// Returns ErrUnknownBackend if the backend is not registered.
func New(cfg Config) (Provisioner, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kernel config: %w", err)
	}

	registryMu.RLock()
	factory, ok := registry[cfg.Backend]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
	return factory(cfg)
}

// MustNew creates a Provisioner, panicking on error.
// Use only when backend availability is guaranteed (e.g., in tests).
func MustNew(cfg Config) Provisioner {
	p, err := New(cfg)
	if err != nil {
		panic(fmt.Sprintf("kernel.MustNew(%q): %v", cfg.Backend, err))
	}
	return p
}

// Available returns the names of all registered backends, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()

	_, ok := registry[name]
	return ok
}

// Unregister removes a backend from the registry.
// This is primarily useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	delete(registry, name)
}

// ClearRegistry removes all registered backends.
// This is primarily useful for testing.
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry = make(map[string]Factory)
}

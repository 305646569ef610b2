package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/walletmesh/bridge/internal/wallet"
)

// Factory constructs a fresh adapter instance.
type Factory func(logger *slog.Logger) Adapter

// Registry maps chain types to adapter factories. It is constructed
// once at application start and passed by reference to anything that
// needs to create adapters; there is no shared module-level state, so
// two registries never leak entries into each other.
type Registry struct {
	mu        sync.RWMutex
	factories map[wallet.ChainType]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[wallet.ChainType]Factory),
	}
}

// Register installs a factory for a chain type, replacing any previous
// registration for the same type.
func (r *Registry) Register(chain wallet.ChainType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[chain] = f
}

// New constructs an adapter for the chain type.
func (r *Registry) New(chain wallet.ChainType, logger *slog.Logger) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[chain]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for chain type %q", wallet.ErrConfiguration, chain)
	}
	return f(logger), nil
}

// Has reports whether a factory exists for the chain type.
func (r *Registry) Has(chain wallet.ChainType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[chain]
	return ok
}

// Types returns the registered chain types in stable order.
func (r *Registry) Types() []wallet.ChainType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]wallet.ChainType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[wallet.ChainType]Factory)
}

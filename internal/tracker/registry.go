package tracker

import (
	"fmt"
	"sort"
	"sync"
)

// ClientFactory builds a RemoteClient from its config view. The config's
// prefix is the tracker name.
type ClientFactory func(cfg *Config) (RemoteClient, error)

// Registry maps tracker names to client factories. Adapters register
// themselves from init().
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ClientFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ClientFactory)}
}

var globalRegistry = NewRegistry()

// Register adds a factory to the global registry. The name should be
// lowercase (e.g., "linear").
func Register(name string, factory ClientFactory) {
	globalRegistry.Register(name, factory)
}

// List returns the names of all globally registered trackers.
func List() []string {
	return globalRegistry.List()
}

// NewClient creates a client for the named tracker from the global registry.
func NewClient(name string, store ConfigStore) (RemoteClient, error) {
	return globalRegistry.NewClient(name, store)
}

func (r *Registry) Register(name string, factory ClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// List returns registered names, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewClient builds the named client with a config view prefixed by name.
func (r *Registry) NewClient(name string, store ConfigStore) (RemoteClient, error) {
	r.mu.RLock()
	factory := r.factories[name]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unknown tracker %q (available: %v)", name, r.List())
	}
	return factory(NewConfig(name, store))
}

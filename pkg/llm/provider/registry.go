package provider

import (
	"fmt"
	"sort"
	"sync"
)

// FactoryFunc builds a provider from loosely typed configuration
type FactoryFunc func(config map[string]any) (Provider, error)

// Registry manages provider factories and constructed providers
type Registry struct {
	factories map[string]FactoryFunc
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FactoryFunc),
		providers: make(map[string]Provider),
	}
}

// RegisterFactory registers a factory under a provider name
func (r *Registry) RegisterFactory(name string, factory FactoryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New constructs a provider using the named factory
func (r *Registry) New(name string, config map[string]any) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type '%s'", name)
	}
	return factory(config)
}

// Register registers a provider instance
func (r *Registry) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// Get retrieves a provider instance by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider '%s' not found", name)
	}
	return provider, nil
}

// List returns registered provider instance names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var globalRegistry = NewRegistry()

// RegisterFactory registers a factory globally
func RegisterFactory(name string, factory FactoryFunc) {
	globalRegistry.RegisterFactory(name, factory)
}

// New constructs a provider using a globally registered factory
func New(name string, config map[string]any) (Provider, error) {
	return globalRegistry.New(name, config)
}

// Register registers a provider instance globally
func Register(name string, provider Provider) {
	globalRegistry.Register(name, provider)
}

// Get retrieves a provider from the global registry
func Get(name string) (Provider, error) {
	return globalRegistry.Get(name)
}

func stringOption(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

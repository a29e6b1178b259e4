// Package drivers maps driver names used in configuration files to the
// constructors of engine.Connector implementations.
package drivers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/linkrt/pkg/engine"
	"github.com/openfroyo/linkrt/pkg/lifecycle"
)

// Spec is what a driver is constructed from: the resource configuration
// plus the free-form driver options.
type Spec struct {
	lifecycle.Config

	// Options are driver-specific settings.
	Options map[string]string
}

// Factory constructs a connector for one resource.
type Factory func(spec Spec) (engine.Connector[[]byte], error)

// Registry maps driver names to factories.
type Registry struct {
	// mu protects factories.
	mu sync.RWMutex

	// factories maps driver name to constructor.
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a driver. Registering the same name twice is an error.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("driver name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("driver %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Has reports whether a driver is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered driver names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs a connector with the named driver. Construction errors are
// classified as resource errors.
func (r *Registry) New(driver string, spec Spec) (engine.Connector[[]byte], error) {
	r.mu.RLock()
	factory, ok := r.factories[driver]
	r.mu.RUnlock()

	if !ok {
		return nil, engine.NewResourceError(fmt.Sprintf("unknown driver %q", driver), nil).
			WithResource(spec.Name)
	}

	conn, err := factory(spec)
	if err != nil {
		return nil, engine.NewResourceError(fmt.Sprintf("driver %s", driver), err).
			WithResource(spec.Name)
	}
	return conn, nil
}

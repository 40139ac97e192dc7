package agentbackend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nexus-ops/edi-broker/internal/domain"
)

// Factory is a constructor function that creates a new Backend instance.
// The config map carries backend-specific settings such as the binary path.
type Factory func(config map[string]string) (Backend, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes an agent backend factory available by name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("agentbackend: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a new Backend by name using the registered factory.
// Unknown names fail with ErrUnknownAgent.
func New(name string, config map[string]string) (Backend, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agentbackend: %w: %q", domain.ErrUnknownAgent, name)
	}
	return factory(config)
}

// Available returns the names of all registered backends, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

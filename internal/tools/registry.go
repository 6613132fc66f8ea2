// In file: internal/tools/registry.go
package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
)

// ErrRegistrySealed is returned by Register once the registry has been sealed.
var ErrRegistrySealed = errors.New("tool registry is sealed")

// Registry maps tool names to executors. It is populated at startup, sealed,
// and then shared read-only by every conversation session.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]ToolExecutor
	sealed bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolExecutor)}
}

// NewSealedRegistry registers every executor and seals the result.
func NewSealedRegistry(executors ...ToolExecutor) (*Registry, error) {
	r := NewRegistry()
	for _, e := range executors {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	r.Seal()
	return r, nil
}

// Register adds an executor under its definition's name.
func (r *Registry) Register(executor ToolExecutor) error {
	name := executor.Definition().Function.Name
	if name == "" {
		return errors.New("tool definition has an empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, name)
	}
	if _, exists := r.tools[name]; exists {
		return &apperrors.DuplicateToolError{Name: name}
	}
	r.tools[name] = executor
	return nil
}

// Seal freezes the registry. Further Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve looks up an executor by name.
func (r *Registry) Resolve(name string) (ToolExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.tools[name]
	if !ok {
		return nil, &apperrors.UnknownToolError{Name: name}
	}
	return executor, nil
}

// Descriptors returns a fresh, name-sorted slice of every tool definition.
// Callers may modify the slice without affecting the registry.
func (r *Registry) Descriptors() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Tool, 0, len(r.tools))
	for _, executor := range r.tools {
		defs = append(defs, executor.Definition())
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Function.Name < defs[j].Function.Name
	})
	return defs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

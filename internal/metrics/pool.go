package metrics

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Factory builds a backend for a metrics address.
type Factory func(address string) (Backend, error)

// Pool hands out the default backend, or a cached per-address backend when
// a tool call names its own metrics endpoint.
type Pool struct {
	fallback Backend
	factory  Factory
	cache    *lru.Cache[string, Backend]
	mu       sync.Mutex
}

// NewPool caches up to size per-address backends. A nil factory disables
// per-address backends.
func NewPool(fallback Backend, factory Factory, size int) (*Pool, error) {
	if size <= 0 {
		size = 16
	}
	cache, err := lru.New[string, Backend](size)
	if err != nil {
		return nil, fmt.Errorf("create metrics backend cache: %w", err)
	}
	return &Pool{fallback: fallback, factory: factory, cache: cache}, nil
}

// For returns the backend for address, or the default when address is empty.
func (p *Pool) For(address string) (Backend, error) {
	if address == "" {
		if p.fallback == nil {
			return nil, fmt.Errorf("no default metrics backend configured")
		}
		return p.fallback, nil
	}
	if p.factory == nil {
		return nil, fmt.Errorf("per-call metrics endpoints are disabled")
	}
	if b, ok := p.cache.Get(address); ok {
		return b, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.cache.Get(address); ok {
		return b, nil
	}
	b, err := p.factory(address)
	if err != nil {
		return nil, err
	}
	p.cache.Add(address, b)
	return b, nil
}

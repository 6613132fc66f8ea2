package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps states in a bounded, expiring LRU. States are stored
// encoded so callers never share message slices with the store.
type MemoryStore struct {
	cache *expirable.LRU[string, []byte]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{cache: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *MemoryStore) Load(ctx context.Context, token string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, ok := m.cache.Get(token)
	if !ok {
		return nil, ErrNotFound
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *MemoryStore) Save(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.cache.Add(state.Token, raw)
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

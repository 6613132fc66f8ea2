package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/version"
	"github.com/redis/go-redis/v9"
)

// kv is the subset of the redis client the store uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps each state as one JSON value with a TTL. Keys embed the
// component versions, so a release that changes tool schemas starts from
// empty sessions.
type RedisStore struct {
	rdb    kv
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return newRedisStore(rdb, prefix, ttl)
}

func newRedisStore(rdb kv, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "sprout:session"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(token string) string {
	return version.SessionKey(s.prefix, token)
}

func (s *RedisStore) Load(ctx context.Context, token string) (*State, error) {
	raw, err := s.rdb.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &apperrors.ExternalServiceError{Service: "redis", Op: "load session", Err: err}
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", token, err)
	}
	return &st, nil
}

func (s *RedisStore) Save(ctx context.Context, state *State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", state.Token, err)
	}
	if err := s.rdb.Set(ctx, s.key(state.Token), raw, s.ttl).Err(); err != nil {
		return &apperrors.ExternalServiceError{Service: "redis", Op: "save session", Err: err}
	}
	return nil
}

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/llm"
	"github.com/antoine1anthony/sprout-ci/internal/version"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV records writes in a map; err, when set, fails every call.
type fakeKV struct {
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.([]byte)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func sampleState(token string) *State {
	return &State{
		Token: token,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "deploy shop"},
			{Role: llm.RoleAssistant, Content: "done"},
		},
		ResponseID: "resp-1",
		Turns:      1,
		UpdatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRedisStore_RoundTripWithVersionedKey(t *testing.T) {
	fake := newFakeKV()
	store := newRedisStore(fake, "test:session", 0)

	require.NoError(t, store.Save(context.Background(), sampleState("tok-1")))

	key := version.SessionKey("test:session", "tok-1")
	require.Contains(t, fake.data, key)
	assert.Equal(t, DefaultTTL, fake.ttls[key])

	got, err := store.Load(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, sampleState("tok-1"), got)
}

func TestRedisStore_Errors(t *testing.T) {
	store := newRedisStore(newFakeKV(), "", time.Minute)
	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	broken := newFakeKV()
	broken.err = errors.New("connection refused")
	store = newRedisStore(broken, "", time.Minute)
	_, err = store.Load(context.Background(), "x")
	assert.Equal(t, apperrors.KindExternalService, apperrors.KindOf(err))
	err = store.Save(context.Background(), sampleState("x"))
	assert.Equal(t, apperrors.KindExternalService, apperrors.KindOf(err))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(2, time.Hour)
	ctx := context.Background()

	st := sampleState("a")
	require.NoError(t, store.Save(ctx, st))
	st.Messages[0].Content = "mutated after save"

	got, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "deploy shop", got.Messages[0].Content)

	require.NoError(t, store.Save(ctx, sampleState("b")))
	require.NoError(t, store.Save(ctx, sampleState("c")))
	assert.Equal(t, 2, store.Len())
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Expires(t *testing.T) {
	store := NewMemoryStore(4, 20*time.Millisecond)
	require.NoError(t, store.Save(context.Background(), sampleState("a")))
	assert.Eventually(t, func() bool {
		_, err := store.Load(context.Background(), "a")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 10*time.Millisecond)
}

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/scm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeWebhook(t *testing.T, res Result) WebhookResult {
	t.Helper()
	require.False(t, res.Failed(), "%+v", res.Error)
	var out WebhookResult
	require.NoError(t, json.Unmarshal(res.Output, &out))
	return out
}

func TestWebhookTool_Upsert(t *testing.T) {
	mem := scm.NewMemory()
	tool := NewWebhookTool(mem, "s3cret")
	tool.retry = fastRetry()
	args := `{"owner":"acme","repo":"shop","webhookUrl":"https://ci.example.com/hooks/github"}`

	first := decodeWebhook(t, Invoke(context.Background(), tool, call("1", "configure_webhook", args)))
	assert.True(t, first.Created)
	assert.Equal(t, []string{"pull_request", "push"}, first.Events)

	second := decodeWebhook(t, Invoke(context.Background(), tool, call("2", "configure_webhook", args)))
	assert.False(t, second.Created)
	assert.False(t, second.Updated)
	assert.Equal(t, first.ID, second.ID)

	hooks, err := mem.ListHooks(context.Background(), scm.Repo{Owner: "acme", Name: "shop"})
	require.NoError(t, err)
	assert.Len(t, hooks, 1)
}

func TestWebhookTool_UpdatesChangedEvents(t *testing.T) {
	mem := scm.NewMemory()
	tool := NewWebhookTool(mem, "")
	tool.retry = fastRetry()

	first := decodeWebhook(t, Invoke(context.Background(), tool, call("1", "configure_webhook",
		`{"owner":"acme","repo":"shop","webhookUrl":"https://ci.example.com/h"}`)))
	changed := decodeWebhook(t, Invoke(context.Background(), tool, call("2", "configure_webhook",
		`{"owner":"acme","repo":"shop","webhookUrl":"https://ci.example.com/h","events":["push","release","push"]}`)))

	assert.Equal(t, first.ID, changed.ID)
	assert.False(t, changed.Created)
	assert.True(t, changed.Updated)
	assert.Equal(t, []string{"push", "release"}, changed.Events)
}

func TestWebhookTool_Validation(t *testing.T) {
	tool := NewWebhookTool(scm.NewMemory(), "")
	for _, args := range []string{
		`{"owner":"acme","repo":"shop"}`,
		`{"owner":"acme","repo":"shop","webhookUrl":"not a url"}`,
		`{"owner":"ac/me","repo":"shop","webhookUrl":"https://x.example.com"}`,
		`{"owner":"acme","repo":"shop","webhookUrl":"https://x.example.com","events":[""]}`,
	} {
		res := Invoke(context.Background(), tool, call("1", "configure_webhook", args))
		require.True(t, res.Failed(), args)
		assert.Equal(t, string(apperrors.KindValidation), res.Error.Kind, args)
	}
}

// listBarrier holds every ListHooks call until parties callers have listed,
// so concurrent upserts all miss before any of them creates.
type listBarrier struct {
	scm.SourceControl
	parties int

	mu     sync.Mutex
	listed int
	ready  chan struct{}
}

func newListBarrier(sc scm.SourceControl, parties int) *listBarrier {
	return &listBarrier{SourceControl: sc, parties: parties, ready: make(chan struct{})}
}

func (b *listBarrier) ListHooks(ctx context.Context, repo scm.Repo) ([]scm.Hook, error) {
	b.mu.Lock()
	b.listed++
	if b.listed == b.parties {
		close(b.ready)
	}
	b.mu.Unlock()
	select {
	case <-b.ready:
	case <-time.After(200 * time.Millisecond):
	}
	return b.SourceControl.ListHooks(ctx, repo)
}

func TestWebhookTool_ParallelCallsConvergeOnOneHook(t *testing.T) {
	for _, tc := range []struct {
		name   string
		events []string
	}{
		{name: "identical", events: []string{`["push"]`, `["push"]`, `["push"]`, `["push"]`}},
		{name: "different events", events: []string{`["push"]`, `["release"]`}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mem := scm.NewMemory()
			tool := NewWebhookTool(newListBarrier(mem, len(tc.events)), "")
			tool.retry = fastRetry()

			ids := make([]int64, len(tc.events))
			var wg sync.WaitGroup
			for i, events := range tc.events {
				wg.Add(1)
				go func() {
					defer wg.Done()
					args := fmt.Sprintf(`{"owner":"acme","repo":"shop","webhookUrl":"https://ci.example.com/h","events":%s}`, events)
					res := Invoke(context.Background(), tool, call(fmt.Sprint(i), "configure_webhook", args))
					if assert.False(t, res.Failed(), "%+v", res.Error) {
						var out WebhookResult
						assert.NoError(t, json.Unmarshal(res.Output, &out))
						ids[i] = out.ID
					}
				}()
			}
			wg.Wait()

			hooks, err := mem.ListHooks(context.Background(), scm.Repo{Owner: "acme", Name: "shop"})
			require.NoError(t, err)
			require.Len(t, hooks, 1)
			for _, id := range ids {
				assert.Equal(t, hooks[0].ID, id)
			}
		})
	}
}

// lostCreateResponse creates the hook but reports a failure, as when the
// response is lost in transit.
type lostCreateResponse struct {
	*scm.Memory
}

func (l lostCreateResponse) CreateHook(ctx context.Context, repo scm.Repo, spec scm.HookSpec) (*scm.Hook, error) {
	if _, err := l.Memory.CreateHook(ctx, repo, spec); err != nil {
		return nil, err
	}
	return nil, &apperrors.ExternalServiceError{Service: "github", Op: "CreateHook", Err: errors.New("connection reset")}
}

func TestWebhookTool_FailedCreateFallsBackToExistingHook(t *testing.T) {
	mem := scm.NewMemory()
	tool := NewWebhookTool(lostCreateResponse{mem}, "")
	tool.retry = fastRetry()

	out := decodeWebhook(t, Invoke(context.Background(), tool, call("1", "configure_webhook",
		`{"owner":"acme","repo":"shop","webhookUrl":"https://ci.example.com/h"}`)))
	assert.False(t, out.Created)
	assert.False(t, out.Updated)

	hooks, err := mem.ListHooks(context.Background(), scm.Repo{Owner: "acme", Name: "shop"})
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, hooks[0].ID, out.ID)
}

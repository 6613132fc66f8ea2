// In file: internal/tools/webhook_tool.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/antoine1anthony/sprout-ci/internal/resilience"
	"github.com/antoine1anthony/sprout-ci/internal/scm"
	"golang.org/x/sync/singleflight"
)

// --- Webhook Configurer ---

var defaultHookEvents = []string{"pull_request", "push"}

type webhookArgs struct {
	Owner      string   `json:"owner" validate:"required,max=100,excludesall=/ "`
	Repo       string   `json:"repo" validate:"required,max=100,excludesall=/ "`
	WebhookURL string   `json:"webhookUrl" validate:"required,url"`
	Events     []string `json:"events" validate:"max=20,dive,required,max=64"`
}

func (a *webhookArgs) applyDefaults() {
	if len(a.Events) == 0 {
		a.Events = append([]string(nil), defaultHookEvents...)
	}
}

// WebhookResult identifies the hook after the upsert.
type WebhookResult struct {
	ID      int64    `json:"id"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Created bool     `json:"created"`
	Updated bool     `json:"updated"`
}

// WebhookTool registers the CI trigger webhook on a repository. Hooks are
// matched by target URL, so repeated calls converge on one hook. Identical
// concurrent calls share one upsert.
type WebhookTool struct {
	scm      scm.SourceControl
	secret   string
	retry    *resilience.RetryConfig
	inflight singleflight.Group
}

var _ ToolExecutor = (*WebhookTool)(nil)

// NewWebhookTool signs deliveries with secret when it is non-empty.
func NewWebhookTool(sc scm.SourceControl, secret string) *WebhookTool {
	return &WebhookTool{scm: sc, secret: secret, retry: resilience.DefaultRetryConfig()}
}

func (t *WebhookTool) Definition() Tool {
	return NewFunctionTool(
		"configure_webhook",
		"Create or update the repository webhook that triggers CI. Idempotent: a hook with the same URL is reused.",
		JSONSchema{
			Type: "object",
			Properties: map[string]*JSONSchema{
				"owner":      {Type: "string", Description: "Repository owner or organization"},
				"repo":       {Type: "string", Description: "Repository name"},
				"webhookUrl": {Type: "string", Description: "Absolute URL that receives deliveries"},
				"events": {
					Type:        "array",
					Description: "Events that trigger deliveries, default pull_request and push",
					Items:       &JSONSchema{Type: "string"},
				},
			},
			Required: []string{"owner", "repo", "webhookUrl"},
		},
	)
}

func (t *WebhookTool) Validate(arguments json.RawMessage) (any, error) {
	return DecodeArgs[webhookArgs]("configure_webhook", arguments)
}

func (t *WebhookTool) Execute(ctx context.Context, v any) (any, error) {
	args, ok := v.(*webhookArgs)
	if !ok {
		return nil, fmt.Errorf("configure_webhook: unexpected argument type %T", v)
	}
	repo := scm.Repo{Owner: args.Owner, Name: args.Repo}
	url := strings.TrimSpace(args.WebhookURL)
	events := normalizeEvents(args.Events)

	key := repo.String() + " " + url + " " + strings.Join(events, ",")
	res, err, _ := t.inflight.Do(key, func() (any, error) {
		return t.upsert(ctx, repo, url, events)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (t *WebhookTool) upsert(ctx context.Context, repo scm.Repo, url string, events []string) (WebhookResult, error) {
	existing, err := t.find(ctx, repo, url)
	if err != nil {
		return WebhookResult{}, err
	}
	if existing != nil {
		return t.reconcile(ctx, repo, existing, events)
	}

	// Create is not retried. A concurrent caller may have won the race, or
	// the response may have been lost, so a failed create is followed by one
	// more lookup.
	hook, err := t.scm.CreateHook(ctx, repo, scm.HookSpec{
		URL:         url,
		Events:      events,
		ContentType: "json",
		Secret:      t.secret,
	})
	if err != nil {
		if found, findErr := t.find(ctx, repo, url); findErr == nil && found != nil {
			return t.reconcile(ctx, repo, found, events)
		}
		return WebhookResult{}, err
	}
	return webhookResult(hook, true, false), nil
}

// reconcile brings an existing hook's events in line with events.
func (t *WebhookTool) reconcile(ctx context.Context, repo scm.Repo, existing *scm.Hook, events []string) (WebhookResult, error) {
	if sameEvents(existing.Events, events) && existing.Active {
		return webhookResult(existing, false, false), nil
	}
	updated, err := t.scm.UpdateHook(ctx, repo, existing.ID, events)
	if err != nil {
		return WebhookResult{}, err
	}
	return webhookResult(updated, false, true), nil
}

func (t *WebhookTool) find(ctx context.Context, repo scm.Repo, url string) (*scm.Hook, error) {
	var hooks []scm.Hook
	err := resilience.Retry(ctx, t.retry, nil, func(ctx context.Context) error {
		var err error
		hooks, err = t.scm.ListHooks(ctx, repo)
		return err
	})
	if err != nil {
		return nil, err
	}
	want := strings.TrimSpace(url)
	for i := range hooks {
		if strings.TrimSpace(hooks[i].URL) == want {
			return &hooks[i], nil
		}
	}
	return nil, nil
}

func webhookResult(h *scm.Hook, created, updated bool) WebhookResult {
	return WebhookResult{ID: h.ID, URL: h.URL, Events: h.Events, Created: created, Updated: updated}
}

func normalizeEvents(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func sameEvents(have, want []string) bool {
	h := normalizeEvents(have)
	if len(h) != len(want) {
		return false
	}
	for i := range h {
		if h[i] != want[i] {
			return false
		}
	}
	return true
}

package scm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"golang.org/x/time/rate"
)

const (
	githubService    = "github"
	defaultGitHubURL = "https://api.github.com"
	hooksPerPage     = 100
)

// GitHubConfig configures the REST client.
type GitHubConfig struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// GitHub talks to the GitHub REST API (git data and hooks endpoints).
type GitHub struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ SourceControl = (*GitHub)(nil)

func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if cfg.Token == "" {
		return nil, errors.New("github token cannot be empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGitHubURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &GitHub{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

type gitRef struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

func (g *GitHub) GetRef(ctx context.Context, repo Repo, branch string) (string, error) {
	var ref gitRef
	if err := g.do(ctx, http.MethodGet, g.repoPath(repo, "git/ref/"+escapeRef(branchRef(branch))), nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

func (g *GitHub) GetCommit(ctx context.Context, repo Repo, sha string) (*Commit, error) {
	var c struct {
		SHA  string `json:"sha"`
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
		Parents []struct {
			SHA string `json:"sha"`
		} `json:"parents"`
	}
	if err := g.do(ctx, http.MethodGet, g.repoPath(repo, "git/commits/"+url.PathEscape(sha)), nil, &c); err != nil {
		return nil, err
	}
	out := &Commit{SHA: c.SHA, TreeSHA: c.Tree.SHA}
	for _, p := range c.Parents {
		out.Parents = append(out.Parents, p.SHA)
	}
	return out, nil
}

type shaResponse struct {
	SHA string `json:"sha"`
}

func (g *GitHub) CreateBlob(ctx context.Context, repo Repo, content []byte) (string, error) {
	body := map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}
	var out shaResponse
	if err := g.do(ctx, http.MethodPost, g.repoPath(repo, "git/blobs"), body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

func (g *GitHub) CreateTree(ctx context.Context, repo Repo, baseTree string, entries []TreeEntry) (string, error) {
	type entry struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	}
	body := struct {
		BaseTree string  `json:"base_tree,omitempty"`
		Tree     []entry `json:"tree"`
	}{BaseTree: baseTree}
	for _, e := range entries {
		mode := e.Mode
		if mode == "" {
			mode = "100644"
		}
		body.Tree = append(body.Tree, entry{Path: e.Path, Mode: mode, Type: "blob", SHA: e.SHA})
	}
	var out shaResponse
	if err := g.do(ctx, http.MethodPost, g.repoPath(repo, "git/trees"), body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

func (g *GitHub) CreateCommit(ctx context.Context, repo Repo, message, tree string, parents []string) (string, error) {
	body := map[string]any{"message": message, "tree": tree, "parents": parents}
	var out shaResponse
	if err := g.do(ctx, http.MethodPost, g.repoPath(repo, "git/commits"), body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// UpdateRef re-reads the branch, refuses if it moved, then issues a
// non-forced update. GitHub rejects a non-fast-forward with 422, which
// catches a move that lands between the read and the write.
func (g *GitHub) UpdateRef(ctx context.Context, repo Repo, branch, newSHA, expectedSHA string) error {
	ref := branchRef(branch)
	current, err := g.GetRef(ctx, repo, branch)
	if err != nil {
		return err
	}
	if current != expectedSHA {
		return &apperrors.ConcurrentModificationError{Ref: ref, Expected: expectedSHA, Actual: current}
	}

	body := map[string]any{"sha": newSHA, "force": false}
	err = g.do(ctx, http.MethodPatch, g.repoPath(repo, "git/refs/"+escapeRef(ref)), body, nil)
	var ext *apperrors.ExternalServiceError
	if errors.As(err, &ext) && ext.StatusCode == http.StatusUnprocessableEntity && isNonFastForward(ext.Err) {
		return &apperrors.ConcurrentModificationError{Ref: ref, Expected: expectedSHA}
	}
	return err
}

// isNonFastForward matches GitHub's "Update is not a fast forward" 422. Other
// 422s (missing reference, unknown sha) stay external errors.
func isNonFastForward(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not a fast forward")
}

type githubHook struct {
	ID     int64    `json:"id"`
	Active bool     `json:"active"`
	Events []string `json:"events"`
	Config struct {
		URL string `json:"url"`
	} `json:"config"`
}

func (g *GitHub) ListHooks(ctx context.Context, repo Repo) ([]Hook, error) {
	var hooks []Hook
	for page := 1; ; page++ {
		var batch []githubHook
		path := fmt.Sprintf("%s?per_page=%d&page=%d", g.repoPath(repo, "hooks"), hooksPerPage, page)
		if err := g.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, h := range batch {
			hooks = append(hooks, Hook{ID: h.ID, URL: h.Config.URL, Events: h.Events, Active: h.Active})
		}
		if len(batch) < hooksPerPage {
			return hooks, nil
		}
	}
}

func (g *GitHub) CreateHook(ctx context.Context, repo Repo, spec HookSpec) (*Hook, error) {
	contentType := spec.ContentType
	if contentType == "" {
		contentType = "json"
	}
	config := map[string]string{"url": spec.URL, "content_type": contentType}
	if spec.Secret != "" {
		config["secret"] = spec.Secret
	}
	body := map[string]any{
		"name":   "web",
		"active": true,
		"events": spec.Events,
		"config": config,
	}
	var out githubHook
	if err := g.do(ctx, http.MethodPost, g.repoPath(repo, "hooks"), body, &out); err != nil {
		return nil, err
	}
	return &Hook{ID: out.ID, URL: out.Config.URL, Events: out.Events, Active: out.Active}, nil
}

func (g *GitHub) UpdateHook(ctx context.Context, repo Repo, id int64, events []string) (*Hook, error) {
	body := map[string]any{"active": true, "events": events}
	var out githubHook
	if err := g.do(ctx, http.MethodPatch, g.repoPath(repo, fmt.Sprintf("hooks/%d", id)), body, &out); err != nil {
		return nil, err
	}
	return &Hook{ID: out.ID, URL: out.Config.URL, Events: out.Events, Active: out.Active}, nil
}

func (g *GitHub) repoPath(repo Repo, suffix string) string {
	return fmt.Sprintf("/repos/%s/%s/%s", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), suffix)
}

// do sends one request. Any non-2xx status becomes an ExternalServiceError
// carrying the status code; retry policy belongs to the caller.
func (g *GitHub) do(ctx context.Context, method, path string, in, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal github request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &apperrors.ExternalServiceError{Service: githubService, Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &apperrors.ExternalServiceError{Service: githubService, Op: method + " " + path, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperrors.ExternalServiceError{
			Service:    githubService,
			Op:         method + " " + path,
			StatusCode: resp.StatusCode,
			Err:        errors.New(githubMessage(respBody)),
		}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode github response: %w", err)
	}
	return nil
}

func githubMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func escapeRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

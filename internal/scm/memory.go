package scm

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
)

// Memory is an in-process git object store with atomic ref updates.
type Memory struct {
	// BeforeUpdateRef, if set, runs just before the compare-and-swap. Tests
	// use it to move a branch underneath an in-flight commit.
	BeforeUpdateRef func(repo Repo, branch string)

	mu      sync.Mutex
	refs    map[string]string
	blobs   map[string][]byte
	trees   map[string]map[string]string
	commits map[string]*Commit
	hooks   map[string][]Hook
	nextID  int64
}

var _ SourceControl = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		refs:    make(map[string]string),
		blobs:   make(map[string][]byte),
		trees:   make(map[string]map[string]string),
		commits: make(map[string]*Commit),
		hooks:   make(map[string][]Hook),
		nextID:  1,
	}
}

func objectID(kind string, parts ...string) string {
	h := sha1.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func refKey(repo Repo, branch string) string { return repo.String() + "@" + branch }

func notFound(op string) error {
	return &apperrors.ExternalServiceError{Service: "memory-scm", Op: op, StatusCode: http.StatusNotFound, Err: fmt.Errorf("not found")}
}

// InitBranch creates branch with an initial commit containing files.
func (m *Memory) InitBranch(repo Repo, branch string, files map[string]string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree := make(map[string]string, len(files))
	for path, content := range files {
		id := objectID("blob", content)
		m.blobs[id] = []byte(content)
		tree[path] = id
	}
	treeID := m.storeTree(tree)
	commitID := objectID("commit", "init", treeID, branch)
	m.commits[commitID] = &Commit{SHA: commitID, TreeSHA: treeID}
	m.refs[refKey(repo, branch)] = commitID
	return commitID
}

// ForceRef points branch at sha unconditionally.
func (m *Memory) ForceRef(repo Repo, branch, sha string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[refKey(repo, branch)] = sha
}

// ReadFile returns the content of path in the commit at the tip of branch.
func (m *Memory) ReadFile(repo Repo, branch, path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.commits[m.refs[refKey(repo, branch)]]
	if !ok {
		return "", false
	}
	blob, ok := m.trees[c.TreeSHA][path]
	if !ok {
		return "", false
	}
	return string(m.blobs[blob]), true
}

func (m *Memory) storeTree(tree map[string]string) string {
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, p+"="+tree[p])
	}
	id := objectID("tree", parts...)
	m.trees[id] = tree
	return id
}

func (m *Memory) GetRef(ctx context.Context, repo Repo, branch string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sha, ok := m.refs[refKey(repo, branch)]
	if !ok {
		return "", notFound("GetRef")
	}
	return sha, nil
}

func (m *Memory) GetCommit(ctx context.Context, repo Repo, sha string) (*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[sha]
	if !ok {
		return nil, notFound("GetCommit")
	}
	out := *c
	out.Parents = append([]string(nil), c.Parents...)
	return &out, nil
}

func (m *Memory) CreateBlob(ctx context.Context, _ Repo, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := objectID("blob", string(content))
	m.blobs[id] = append([]byte(nil), content...)
	return id, nil
}

func (m *Memory) CreateTree(ctx context.Context, _ Repo, baseTree string, entries []TreeEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tree := make(map[string]string)
	if baseTree != "" {
		base, ok := m.trees[baseTree]
		if !ok {
			return "", notFound("CreateTree")
		}
		for p, id := range base {
			tree[p] = id
		}
	}
	for _, e := range entries {
		if _, ok := m.blobs[e.SHA]; !ok {
			return "", notFound("CreateTree")
		}
		tree[strings.TrimPrefix(e.Path, "/")] = e.SHA
	}
	return m.storeTree(tree), nil
}

func (m *Memory) CreateCommit(ctx context.Context, _ Repo, message, tree string, parents []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trees[tree]; !ok {
		return "", notFound("CreateCommit")
	}
	id := objectID("commit", append([]string{message, tree}, parents...)...)
	m.commits[id] = &Commit{SHA: id, TreeSHA: tree, Parents: append([]string(nil), parents...)}
	return id, nil
}

func (m *Memory) UpdateRef(ctx context.Context, repo Repo, branch, newSHA, expectedSHA string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.BeforeUpdateRef != nil {
		m.BeforeUpdateRef(repo, branch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := refKey(repo, branch)
	current := m.refs[key]
	if current != expectedSHA {
		return &apperrors.ConcurrentModificationError{Ref: branchRef(branch), Expected: expectedSHA, Actual: current}
	}
	if _, ok := m.commits[newSHA]; !ok {
		return notFound("UpdateRef")
	}
	m.refs[key] = newSHA
	return nil
}

func (m *Memory) ListHooks(ctx context.Context, repo Repo) ([]Hook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Hook(nil), m.hooks[repo.String()]...), nil
}

func (m *Memory) CreateHook(ctx context.Context, repo Repo, spec HookSpec) (*Hook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.hooks[repo.String()] {
		if existing.URL == spec.URL {
			return nil, &apperrors.ExternalServiceError{
				Service:    "memory-scm",
				Op:         "CreateHook",
				StatusCode: http.StatusUnprocessableEntity,
				Err:        fmt.Errorf("hook already exists on this repository"),
			}
		}
	}
	h := Hook{ID: m.nextID, URL: spec.URL, Events: append([]string(nil), spec.Events...), Active: true}
	m.nextID++
	m.hooks[repo.String()] = append(m.hooks[repo.String()], h)
	return &h, nil
}

func (m *Memory) UpdateHook(ctx context.Context, repo Repo, id int64, events []string) (*Hook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	hooks := m.hooks[repo.String()]
	for i := range hooks {
		if hooks[i].ID == id {
			hooks[i].Events = append([]string(nil), events...)
			hooks[i].Active = true
			h := hooks[i]
			return &h, nil
		}
	}
	return nil, notFound("UpdateHook")
}

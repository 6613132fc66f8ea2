// Package scm is the source-control collaborator: git data objects, branch
// refs and repository webhooks.
package scm

import (
	"context"
	"fmt"
)

// Repo identifies a repository.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// Hook is a repository webhook.
type Hook struct {
	ID     int64    `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}

// HookSpec is the desired state of a webhook.
type HookSpec struct {
	URL         string
	Events      []string
	ContentType string
	Secret      string
}

// TreeEntry is one file in a new tree.
type TreeEntry struct {
	Path string
	Mode string
	SHA  string
}

// Commit is the part of a git commit the agent needs.
type Commit struct {
	SHA     string
	TreeSHA string
	Parents []string
}

// SourceControl is implemented by the GitHub REST client and the in-memory store.
type SourceControl interface {
	GetRef(ctx context.Context, repo Repo, branch string) (string, error)
	GetCommit(ctx context.Context, repo Repo, sha string) (*Commit, error)
	CreateBlob(ctx context.Context, repo Repo, content []byte) (string, error)
	CreateTree(ctx context.Context, repo Repo, baseTree string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, repo Repo, message, tree string, parents []string) (string, error)
	// UpdateRef moves branch to newSHA only if it still points at expectedSHA.
	// A lost race returns *apperrors.ConcurrentModificationError.
	UpdateRef(ctx context.Context, repo Repo, branch, newSHA, expectedSHA string) error
	ListHooks(ctx context.Context, repo Repo) ([]Hook, error)
	CreateHook(ctx context.Context, repo Repo, spec HookSpec) (*Hook, error)
	// UpdateHook replaces the event list of an existing hook and activates it.
	UpdateHook(ctx context.Context, repo Repo, id int64, events []string) (*Hook, error)
}

func branchRef(branch string) string {
	return fmt.Sprintf("heads/%s", branch)
}

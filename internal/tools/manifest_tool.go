// In file: internal/tools/manifest_tool.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/resilience"
	"github.com/antoine1anthony/sprout-ci/internal/scm"
)

// --- Manifest Committer ---

const maxManifestBytes = 1 << 20

type manifestArgs struct {
	Owner    string `json:"owner" validate:"required,max=100,excludesall=/ "`
	Repo     string `json:"repo" validate:"required,max=100,excludesall=/ "`
	Branch   string `json:"branch" validate:"required,max=255,excludesall= ~^:?*[\\"`
	FilePath string `json:"filePath" validate:"required,max=1024"`
	Content  string `json:"content" validate:"required"`
	Message  string `json:"message" validate:"required,max=1000"`
}

func (a *manifestArgs) applyDefaults() {
	if a.Branch == "" {
		a.Branch = "main"
	}
}

// ManifestResult reports the new branch head.
type ManifestResult struct {
	CommitSHA    string `json:"commitSha"`
	PreviousHead string `json:"previousHead"`
	Branch       string `json:"branch"`
	FilePath     string `json:"filePath"`
}

// ManifestTool writes one file to a branch as a single commit. The branch
// only moves if it still points at the head the commit was built on.
type ManifestTool struct {
	scm   scm.SourceControl
	retry *resilience.RetryConfig
}

var _ ToolExecutor = (*ManifestTool)(nil)

func NewManifestTool(sc scm.SourceControl) *ManifestTool {
	return &ManifestTool{scm: sc, retry: resilience.DefaultRetryConfig()}
}

func (t *ManifestTool) Definition() Tool {
	return NewFunctionTool(
		"commit_manifest",
		"Commit a single file (for example a generated WorkflowTemplate) to a repository branch. "+
			"Fails with concurrent_modification if the branch moved while the commit was prepared.",
		JSONSchema{
			Type: "object",
			Properties: map[string]*JSONSchema{
				"owner":    {Type: "string", Description: "Repository owner or organization"},
				"repo":     {Type: "string", Description: "Repository name"},
				"branch":   {Type: "string", Description: "Branch to commit to, default main"},
				"filePath": {Type: "string", Description: "Repository-relative path of the file"},
				"content":  {Type: "string", Description: "Full file content"},
				"message":  {Type: "string", Description: "Commit message"},
			},
			Required: []string{"owner", "repo", "filePath", "content", "message"},
		},
	)
}

func (t *ManifestTool) Validate(arguments json.RawMessage) (any, error) {
	args, err := DecodeArgs[manifestArgs]("commit_manifest", arguments)
	if err != nil {
		return nil, err
	}
	clean, err := cleanRepoPath(args.FilePath)
	if err != nil {
		return nil, &apperrors.ValidationError{Tool: "commit_manifest", Field: "filePath", Reason: err.Error()}
	}
	args.FilePath = clean
	if len(args.Content) > maxManifestBytes {
		return nil, &apperrors.ValidationError{Tool: "commit_manifest", Field: "content", Reason: fmt.Sprintf("must be at most %d bytes", maxManifestBytes)}
	}
	return args, nil
}

func (t *ManifestTool) Execute(ctx context.Context, v any) (any, error) {
	args, ok := v.(*manifestArgs)
	if !ok {
		return nil, fmt.Errorf("commit_manifest: unexpected argument type %T", v)
	}
	repo := scm.Repo{Owner: args.Owner, Name: args.Repo}

	// Every step before the ref update only creates content-addressed
	// objects, so retrying them cannot change the repository.
	var head string
	var base *scm.Commit
	var blob, tree, commit string
	steps := []func(ctx context.Context) error{
		func(ctx context.Context) (err error) {
			head, err = t.scm.GetRef(ctx, repo, args.Branch)
			return
		},
		func(ctx context.Context) (err error) {
			base, err = t.scm.GetCommit(ctx, repo, head)
			return
		},
		func(ctx context.Context) (err error) {
			blob, err = t.scm.CreateBlob(ctx, repo, []byte(args.Content))
			return
		},
		func(ctx context.Context) (err error) {
			tree, err = t.scm.CreateTree(ctx, repo, base.TreeSHA, []scm.TreeEntry{{Path: args.FilePath, Mode: "100644", SHA: blob}})
			return
		},
		func(ctx context.Context) (err error) {
			commit, err = t.scm.CreateCommit(ctx, repo, args.Message, tree, []string{head})
			return
		},
	}
	for _, step := range steps {
		if err := resilience.Retry(ctx, t.retry, nil, step); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.scm.UpdateRef(ctx, repo, args.Branch, commit, head); err != nil {
		return nil, err
	}

	return ManifestResult{CommitSHA: commit, PreviousHead: head, Branch: args.Branch, FilePath: args.FilePath}, nil
}

// cleanRepoPath rejects absolute paths and anything that escapes the repository root.
func cleanRepoPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("must be relative to the repository root")
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("must not contain '..'")
		}
	}
	clean := path.Clean(p)
	if clean == "." || clean == "" {
		return "", fmt.Errorf("must name a file")
	}
	return clean, nil
}

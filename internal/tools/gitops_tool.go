// In file: internal/tools/gitops_tool.go
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/controlplane"
	"github.com/antoine1anthony/sprout-ci/internal/gitops"
	"github.com/antoine1anthony/sprout-ci/internal/resilience"
)

// --- GitOps Installer ---

type gitopsArgs struct {
	ClusterName string `json:"clusterName" validate:"required,max=100,hostname_rfc1123"`
	ArgoVersion string `json:"argoVersion" validate:"max=32"`
	Namespace   string `json:"namespace" validate:"required,max=63,hostname_rfc1123"`
}

func (a *gitopsArgs) applyDefaults() {
	if a.Namespace == "" {
		a.Namespace = "argo"
	}
}

// GitOpsResult lists where the installed servers can be reached.
type GitOpsResult struct {
	ClusterName string            `json:"clusterName"`
	Namespace   string            `json:"namespace"`
	URLs        map[string]string `json:"urls"`
}

// GitOpsTool installs the Argo stack onto an existing cluster.
type GitOpsTool struct {
	controlPlane controlplane.ControlPlane
	prober       gitops.Prober
	installer    gitops.Installer
	retry        *resilience.RetryConfig
}

var _ ToolExecutor = (*GitOpsTool)(nil)

func NewGitOpsTool(cp controlplane.ControlPlane, prober gitops.Prober, installer gitops.Installer) *GitOpsTool {
	return &GitOpsTool{
		controlPlane: cp,
		prober:       prober,
		installer:    installer,
		retry:        resilience.DefaultRetryConfig(),
	}
}

func (t *GitOpsTool) Definition() Tool {
	return NewFunctionTool(
		"install_gitops",
		"Install the GitOps controller (Argo CD, Argo Workflows and Argo Events) onto a provisioned, ACTIVE cluster.",
		JSONSchema{
			Type: "object",
			Properties: map[string]*JSONSchema{
				"clusterName": {Type: "string", Description: "Name of the target cluster"},
				"argoVersion": {Type: "string", Description: "Argo CD chart version; latest when omitted"},
				"namespace":   {Type: "string", Description: "Namespace to install into, default argo"},
			},
			Required: []string{"clusterName"},
		},
	)
}

func (t *GitOpsTool) Validate(arguments json.RawMessage) (any, error) {
	return DecodeArgs[gitopsArgs]("install_gitops", arguments)
}

func (t *GitOpsTool) Execute(ctx context.Context, v any) (any, error) {
	args, ok := v.(*gitopsArgs)
	if !ok {
		return nil, fmt.Errorf("install_gitops: unexpected argument type %T", v)
	}

	var cluster *controlplane.Cluster
	err := resilience.Retry(ctx, t.retry, nil, func(ctx context.Context) error {
		var err error
		cluster, err = t.controlPlane.DescribeCluster(ctx, args.ClusterName)
		return err
	})
	if errors.Is(err, controlplane.ErrClusterNotFound) {
		return nil, &apperrors.ClusterUnreachableError{Cluster: args.ClusterName, Err: err}
	}
	if err != nil {
		return nil, err
	}
	if !cluster.Ready() {
		return nil, &apperrors.ClusterUnreachableError{
			Cluster:  cluster.Name,
			Endpoint: cluster.Endpoint,
			Err:      fmt.Errorf("cluster is %s, not %s", cluster.Status, controlplane.StatusActive),
		}
	}

	if err := t.prober.Probe(ctx, cluster.Endpoint); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperrors.ClusterUnreachableError{Cluster: cluster.Name, Endpoint: cluster.Endpoint, Err: err}
	}

	inst, err := t.installer.Install(ctx, gitops.Release{
		Cluster:   cluster.Name,
		Endpoint:  cluster.Endpoint,
		CAData:    cluster.CAData,
		Namespace: args.Namespace,
		Version:   args.ArgoVersion,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var failed *apperrors.InstallationFailedError
		if errors.As(err, &failed) {
			return nil, err
		}
		return nil, &apperrors.InstallationFailedError{Cluster: cluster.Name, Release: "argo-cd", Err: err}
	}

	return GitOpsResult{ClusterName: cluster.Name, Namespace: inst.Namespace, URLs: inst.URLs}, nil
}

// In file: internal/tools/cluster_tool.go
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/controlplane"
	"github.com/antoine1anthony/sprout-ci/internal/resilience"
)

// --- Cluster Provisioner ---

type clusterArgs struct {
	ClusterName     string `json:"clusterName" validate:"required,max=100,hostname_rfc1123"`
	NodeType        string `json:"nodeType" validate:"max=64"`
	DesiredCapacity int    `json:"desiredCapacity" validate:"min=1,max=100"`
	Version         string `json:"version" validate:"max=16"`
}

func (a *clusterArgs) applyDefaults() {
	if a.NodeType == "" {
		a.NodeType = "t3.large"
	}
	if a.DesiredCapacity == 0 {
		a.DesiredCapacity = 2
	}
	if a.Version == "" {
		a.Version = "1.30"
	}
}

// ClusterResult is returned to the backend. Ready is false while the control
// plane is still creating; calling the tool again continues the wait.
type ClusterResult struct {
	ClusterName string `json:"clusterName"`
	Status      string `json:"status"`
	Ready       bool   `json:"ready"`
	Created     bool   `json:"created"`
	Endpoint    string `json:"endpoint,omitempty"`
	OIDCIssuer  string `json:"oidcIssuer,omitempty"`
}

// ClusterTool provisions a CI cluster, idempotently by name.
type ClusterTool struct {
	controlPlane controlplane.ControlPlane
	wait         time.Duration
	pollInterval time.Duration
	retry        *resilience.RetryConfig
}

var _ ToolExecutor = (*ClusterTool)(nil)

// NewClusterTool waits up to wait for a new cluster to become ACTIVE before
// reporting it as still creating.
func NewClusterTool(cp controlplane.ControlPlane, wait, pollInterval time.Duration) *ClusterTool {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &ClusterTool{
		controlPlane: cp,
		wait:         wait,
		pollInterval: pollInterval,
		retry:        resilience.DefaultRetryConfig(),
	}
}

func (t *ClusterTool) Definition() Tool {
	return NewFunctionTool(
		"provision_cluster",
		"Provision a Kubernetes CI cluster. Safe to call repeatedly with the same name: an existing cluster is reused. "+
			"If the result has ready=false, call again later to continue waiting.",
		JSONSchema{
			Type: "object",
			Properties: map[string]*JSONSchema{
				"clusterName":     {Type: "string", Description: "Name of the cluster (DNS label characters)"},
				"nodeType":        {Type: "string", Description: "Instance type for worker nodes, e.g. t3.large"},
				"desiredCapacity": {Type: "integer", Description: "Number of worker nodes", Minimum: bound(1), Maximum: bound(100)},
				"version":         {Type: "string", Description: "Kubernetes version, e.g. 1.30"},
			},
			Required: []string{"clusterName"},
		},
	)
}

func (t *ClusterTool) Validate(arguments json.RawMessage) (any, error) {
	return DecodeArgs[clusterArgs]("provision_cluster", arguments)
}

func (t *ClusterTool) Execute(ctx context.Context, v any) (any, error) {
	args, ok := v.(*clusterArgs)
	if !ok {
		return nil, fmt.Errorf("provision_cluster: unexpected argument type %T", v)
	}
	spec := controlplane.ClusterSpec{
		Name:            args.ClusterName,
		Version:         args.Version,
		NodeType:        args.NodeType,
		DesiredCapacity: int32(args.DesiredCapacity),
	}

	created := false
	cluster, err := t.describe(ctx, spec.Name)
	if errors.Is(err, controlplane.ErrClusterNotFound) {
		cluster, err = t.create(ctx, spec)
		created = err == nil
		if errors.Is(err, controlplane.ErrClusterExists) {
			cluster, err = t.describe(ctx, spec.Name)
		}
	}
	if err != nil {
		return nil, err
	}

	cluster, err = t.awaitActive(ctx, cluster)
	if err != nil {
		return nil, err
	}
	if cluster.Status == controlplane.StatusFailed {
		return nil, fmt.Errorf("cluster %s is in state %s", cluster.Name, cluster.Status)
	}
	if cluster.Ready() {
		err := resilience.Retry(ctx, t.retry, nil, func(ctx context.Context) error {
			return t.controlPlane.EnsureNodegroup(ctx, spec)
		})
		if err != nil {
			return nil, fmt.Errorf("ensure node group: %w", err)
		}
	}

	return ClusterResult{
		ClusterName: cluster.Name,
		Status:      cluster.Status,
		Ready:       cluster.Ready(),
		Created:     created,
		Endpoint:    cluster.Endpoint,
		OIDCIssuer:  cluster.OIDCIssuer,
	}, nil
}

func (t *ClusterTool) describe(ctx context.Context, name string) (*controlplane.Cluster, error) {
	var c *controlplane.Cluster
	err := resilience.Retry(ctx, t.retry, nil, func(ctx context.Context) error {
		var err error
		c, err = t.controlPlane.DescribeCluster(ctx, name)
		return err
	})
	return c, err
}

// create retries transient failures; a create whose response was lost
// surfaces on retry as ErrClusterExists, which the caller resolves.
func (t *ClusterTool) create(ctx context.Context, spec controlplane.ClusterSpec) (*controlplane.Cluster, error) {
	var c *controlplane.Cluster
	err := resilience.Retry(ctx, t.retry, nil, func(ctx context.Context) error {
		var err error
		c, err = t.controlPlane.CreateCluster(ctx, spec)
		return err
	})
	return c, err
}

// awaitActive polls until the cluster leaves CREATING, the wait budget is
// spent, or ctx is done. Running out of budget is not an error.
func (t *ClusterTool) awaitActive(ctx context.Context, c *controlplane.Cluster) (*controlplane.Cluster, error) {
	if c.Status != controlplane.StatusCreating || t.wait <= 0 {
		return c, nil
	}
	deadline := time.NewTimer(t.wait)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return c, nil
		case <-ticker.C:
			next, err := t.describe(ctx, c.Name)
			if err != nil {
				return nil, err
			}
			c = next
			if c.Status != controlplane.StatusCreating {
				return c, nil
			}
		}
	}
}

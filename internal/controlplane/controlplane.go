// Package controlplane abstracts the managed Kubernetes control plane that
// CI clusters are provisioned on.
package controlplane

import (
	"context"
	"errors"
)

var (
	// ErrClusterNotFound is returned by DescribeCluster for an unknown name.
	ErrClusterNotFound = errors.New("cluster not found")
	// ErrClusterExists is returned by CreateCluster when the name is taken.
	ErrClusterExists = errors.New("cluster already exists")
)

// Cluster lifecycle states as reported by the control plane.
const (
	StatusCreating = "CREATING"
	StatusActive   = "ACTIVE"
	StatusFailed   = "FAILED"
	StatusDeleting = "DELETING"
	StatusUpdating = "UPDATING"
)

// ClusterSpec describes the cluster the agent asks for.
type ClusterSpec struct {
	Name            string
	Version         string
	NodeType        string
	DesiredCapacity int32
}

// Cluster is the control plane's view of a cluster. CAData holds the base64
// API server certificate authority and is not reported to the backend.
type Cluster struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	OIDCIssuer string `json:"oidcIssuer,omitempty"`
	CAData     string `json:"-"`
}

// Ready reports whether the cluster can accept workloads.
func (c *Cluster) Ready() bool { return c != nil && c.Status == StatusActive }

// ControlPlane is the cluster provider used by the provisioning and install tools.
type ControlPlane interface {
	CreateCluster(ctx context.Context, spec ClusterSpec) (*Cluster, error)
	DescribeCluster(ctx context.Context, name string) (*Cluster, error)
	// EnsureNodegroup creates the default worker node group if it is missing.
	EnsureNodegroup(ctx context.Context, spec ClusterSpec) error
}

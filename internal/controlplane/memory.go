package controlplane

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Memory is a deterministic in-process control plane. A created cluster
// reports CREATING for ActivateAfter describe calls and then turns ACTIVE.
type Memory struct {
	ActivateAfter int

	mu          sync.Mutex
	clusters    map[string]*memCluster
	createCalls int
}

type memCluster struct {
	cluster    Cluster
	describes  int
	nodegroups int
}

var _ ControlPlane = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{clusters: make(map[string]*memCluster)}
}

func (m *Memory) CreateCluster(ctx context.Context, spec ClusterSpec) (*Cluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if _, ok := m.clusters[spec.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterExists, spec.Name)
	}
	sum := sha256.Sum256([]byte(spec.Name))
	id := hex.EncodeToString(sum[:8])
	c := &memCluster{cluster: Cluster{
		Name:       spec.Name,
		Status:     StatusCreating,
		Version:    spec.Version,
		Endpoint:   fmt.Sprintf("https://%s.eks.local", id),
		OIDCIssuer: fmt.Sprintf("https://oidc.eks.local/id/%s", id),
	}}
	if m.ActivateAfter <= 0 {
		c.cluster.Status = StatusActive
	}
	m.clusters[spec.Name] = c
	out := c.cluster
	return &out, nil
}

func (m *Memory) DescribeCluster(ctx context.Context, name string) (*Cluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clusters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	c.describes++
	if c.cluster.Status == StatusCreating && c.describes >= m.ActivateAfter {
		c.cluster.Status = StatusActive
	}
	out := c.cluster
	return &out, nil
}

func (m *Memory) EnsureNodegroup(ctx context.Context, spec ClusterSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clusters[spec.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, spec.Name)
	}
	if c.nodegroups == 0 {
		c.nodegroups = 1
	}
	return nil
}

// CreateCalls returns how many times CreateCluster was called.
func (m *Memory) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// ClusterCount returns how many distinct clusters exist.
func (m *Memory) ClusterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clusters)
}

package gitops

import (
	"context"
	"sync"
)

// MemoryInstaller records installs without touching a cluster.
type MemoryInstaller struct {
	// Err, when set, is returned by every Install.
	Err error

	mu       sync.Mutex
	releases []Release
}

var _ Installer = (*MemoryInstaller)(nil)

func (m *MemoryInstaller) Install(ctx context.Context, rel Release) (*Installation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.releases = append(m.releases, rel)
	return &Installation{Namespace: rel.Namespace, URLs: ServiceURLs(rel.Namespace)}, nil
}

// Releases returns the installs performed so far.
func (m *MemoryInstaller) Releases() []Release {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Release(nil), m.releases...)
}

// StaticProber returns Err for every probe.
type StaticProber struct {
	Err error
}

func (p StaticProber) Probe(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Err
}

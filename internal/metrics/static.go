package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/stability"
)

// Static serves fixed series regardless of target, filtered to the queried range.
type Static struct {
	mu     sync.RWMutex
	series map[string][]stability.Sample
}

var _ Backend = (*Static)(nil)

func NewStatic(series map[string][]stability.Sample) *Static {
	s := &Static{series: make(map[string][]stability.Sample)}
	for name, samples := range series {
		s.Set(name, samples)
	}
	return s
}

// Set replaces the series for metric.
func (s *Static) Set(metric string, samples []stability.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[metric] = append([]stability.Sample(nil), samples...)
}

func (s *Static) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Static) QueryRange(ctx context.Context, metric string, _ Target, start, end time.Time, _ time.Duration) ([]stability.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []stability.Sample
	for _, p := range s.series[metric] {
		if !p.Time.Before(start) && p.Time.Before(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

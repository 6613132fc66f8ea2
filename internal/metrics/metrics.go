// Package metrics reads deployment time series for stability evaluation.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/stability"
)

// Target selects the workload whose metrics are read.
type Target struct {
	Namespace  string
	Deployment string
}

func (t Target) String() string { return t.Namespace + "/" + t.Deployment }

// Backend is a source of range queries for named metrics.
type Backend interface {
	// Metrics lists the metric names this backend can answer for.
	Metrics() []string
	QueryRange(ctx context.Context, metric string, target Target, start, end time.Time, step time.Duration) ([]stability.Sample, error)
}

// FetchWindow reads every metric the backend knows for [start, end).
// A metric that returns no samples is kept as an empty series so the
// evaluator can report it.
func FetchWindow(ctx context.Context, b Backend, target Target, start, end time.Time, step time.Duration) (stability.Window, error) {
	w := stability.Window{Start: start, End: end, Series: make(map[string][]stability.Sample)}
	names := append([]string(nil), b.Metrics()...)
	sort.Strings(names)
	for _, name := range names {
		samples, err := b.QueryRange(ctx, name, target, start, end, step)
		if err != nil {
			return w, fmt.Errorf("query %s for %s: %w", name, target, err)
		}
		w.Series[name] = samples
	}
	return w, nil
}

// DefaultQueries are PromQL templates for the tracked metrics. $namespace and
// $deployment are substituted before the query is sent.
var DefaultQueries = map[string]string{
	stability.MetricLatencyP95: `histogram_quantile(0.95, sum by (le) (rate(http_request_duration_seconds_bucket{namespace="$namespace",deployment="$deployment"}[5m])))`,
	stability.MetricErrorRate:  `sum(rate(http_requests_total{namespace="$namespace",deployment="$deployment",code=~"5.."}[5m])) / clamp_min(sum(rate(http_requests_total{namespace="$namespace",deployment="$deployment"}[5m])), 1e-9)`,
	stability.MetricSaturation: `sum(rate(container_cpu_usage_seconds_total{namespace="$namespace",pod=~"$deployment-.*"}[5m])) / clamp_min(sum(kube_pod_container_resource_limits{namespace="$namespace",pod=~"$deployment-.*",resource="cpu"}), 1e-9)`,
}

func render(query string, target Target) string {
	return strings.NewReplacer("$namespace", target.Namespace, "$deployment", target.Deployment).Replace(query)
}

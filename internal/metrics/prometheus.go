package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/stability"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
)

const prometheusService = "prometheus"

// Prometheus answers range queries through the Prometheus HTTP API.
type Prometheus struct {
	api     v1.API
	queries map[string]string
	timeout time.Duration
	logger  zerolog.Logger
}

var _ Backend = (*Prometheus)(nil)

// NewPrometheus builds a client for address. queries overrides DefaultQueries
// per metric name; nil keeps the defaults.
func NewPrometheus(address string, queries map[string]string, timeout time.Duration, logger zerolog.Logger) (*Prometheus, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client for %s: %w", address, err)
	}
	merged := make(map[string]string, len(DefaultQueries))
	for k, v := range DefaultQueries {
		merged[k] = v
	}
	for k, v := range queries {
		merged[k] = v
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prometheus{api: v1.NewAPI(client), queries: merged, timeout: timeout, logger: logger}, nil
}

func (p *Prometheus) Metrics() []string {
	names := make([]string, 0, len(p.queries))
	for name := range p.queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Prometheus) QueryRange(ctx context.Context, metric string, target Target, start, end time.Time, step time.Duration) ([]stability.Sample, error) {
	tmpl, ok := p.queries[metric]
	if !ok {
		return nil, fmt.Errorf("no query configured for metric %q", metric)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := render(tmpl, target)
	val, warnings, err := p.api.QueryRange(ctx, query, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		ext := &apperrors.ExternalServiceError{Service: prometheusService, Op: "query_range " + metric, Err: err}
		var apiErr *v1.Error
		if errors.As(err, &apiErr) && apiErr.Type == v1.ErrBadData {
			ext.StatusCode = 400
		}
		return nil, ext
	}
	if len(warnings) > 0 {
		p.logger.Warn().Str("metric", metric).Strs("warnings", warnings).Msg("prometheus returned warnings")
	}

	matrix, ok := val.(model.Matrix)
	if !ok {
		return nil, &apperrors.ExternalServiceError{Service: prometheusService, Op: "query_range " + metric, Err: fmt.Errorf("unexpected result type %s", val.Type())}
	}
	return flatten(matrix), nil
}

// flatten averages all series of a matrix per timestamp.
func flatten(matrix model.Matrix) []stability.Sample {
	type acc struct {
		sum float64
		n   int
	}
	byTime := make(map[model.Time]*acc)
	for _, stream := range matrix {
		for _, pair := range stream.Values {
			v := float64(pair.Value)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			a, ok := byTime[pair.Timestamp]
			if !ok {
				a = &acc{}
				byTime[pair.Timestamp] = a
			}
			a.sum += v
			a.n++
		}
	}
	out := make([]stability.Sample, 0, len(byTime))
	for ts, a := range byTime {
		out = append(out, stability.Sample{Time: ts.Time().UTC(), Value: a.sum / float64(a.n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// In file: internal/tools/stability_tool.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/metrics"
	"github.com/antoine1anthony/sprout-ci/internal/reportstore"
	"github.com/antoine1anthony/sprout-ci/internal/resilience"
	"github.com/antoine1anthony/sprout-ci/internal/stability"
	"github.com/rs/zerolog"
)

// --- Stability Evaluator ---

type stabilityArgs struct {
	Namespace             string `json:"namespace" validate:"required,max=63,hostname_rfc1123"`
	DeploymentName        string `json:"deploymentName" validate:"required,max=253,hostname_rfc1123"`
	BaselineWindowMinutes int    `json:"baselineWindowMinutes" validate:"min=5,max=10080"`
	LiveWindowMinutes     int    `json:"liveWindowMinutes" validate:"min=1,max=1440"`
	PrometheusURL         string `json:"prometheusUrl" validate:"omitempty,url"`
}

func (a *stabilityArgs) applyDefaults() {
	if a.BaselineWindowMinutes == 0 {
		a.BaselineWindowMinutes = 60
	}
	if a.LiveWindowMinutes == 0 {
		a.LiveWindowMinutes = 15
	}
}

// StabilityResult is the scored report plus where it was archived.
type StabilityResult struct {
	*stability.Report
	ArchivedAt string `json:"archivedAt,omitempty"`
}

// StabilityTool compares the live window of a deployment against the
// baseline window immediately before it.
type StabilityTool struct {
	pool   *metrics.Pool
	config stability.Config
	sink   reportstore.Sink
	step   time.Duration
	now    func() time.Time
	logger zerolog.Logger
	retry  *resilience.RetryConfig
}

var _ ToolExecutor = (*StabilityTool)(nil)

// NewStabilityTool archives each report to sink when it is non-nil. step is
// the range query resolution.
func NewStabilityTool(pool *metrics.Pool, cfg stability.Config, sink reportstore.Sink, step time.Duration, logger zerolog.Logger) *StabilityTool {
	if step <= 0 {
		step = 30 * time.Second
	}
	return &StabilityTool{
		pool:   pool,
		config: cfg,
		sink:   sink,
		step:   step,
		now:    time.Now,
		logger: logger,
		retry:  resilience.DefaultRetryConfig(),
	}
}

func (t *StabilityTool) Definition() Tool {
	return NewFunctionTool(
		"evaluate_stability",
		"Score a deployment's live metrics (p95 latency, error rate, saturation) against its recent baseline. "+
			"Returns a 0-100 score, a verdict (stable, degraded, unstable) and per-metric deviations.",
		JSONSchema{
			Type: "object",
			Properties: map[string]*JSONSchema{
				"namespace":             {Type: "string", Description: "Kubernetes namespace of the deployment"},
				"deploymentName":        {Type: "string", Description: "Name of the deployment"},
				"baselineWindowMinutes": {Type: "integer", Description: "Length of the baseline window, default 60", Minimum: bound(5), Maximum: bound(10080)},
				"liveWindowMinutes":     {Type: "integer", Description: "Length of the live window ending now, default 15", Minimum: bound(1), Maximum: bound(1440)},
				"prometheusUrl":         {Type: "string", Description: "Metrics endpoint to query instead of the configured one"},
			},
			Required: []string{"namespace", "deploymentName"},
		},
	)
}

func (t *StabilityTool) Validate(arguments json.RawMessage) (any, error) {
	return DecodeArgs[stabilityArgs]("evaluate_stability", arguments)
}

func (t *StabilityTool) Execute(ctx context.Context, v any) (any, error) {
	args, ok := v.(*stabilityArgs)
	if !ok {
		return nil, fmt.Errorf("evaluate_stability: unexpected argument type %T", v)
	}
	backend, err := t.pool.For(args.PrometheusURL)
	if err != nil {
		return nil, &apperrors.ValidationError{Tool: "evaluate_stability", Field: "prometheusUrl", Reason: err.Error()}
	}

	now := t.now().UTC().Truncate(time.Second)
	liveStart := now.Add(-time.Duration(args.LiveWindowMinutes) * time.Minute)
	baseStart := liveStart.Add(-time.Duration(args.BaselineWindowMinutes) * time.Minute)
	target := metrics.Target{Namespace: args.Namespace, Deployment: args.DeploymentName}

	baseline, err := t.fetch(ctx, backend, target, baseStart, liveStart)
	if err != nil {
		return nil, err
	}
	live, err := t.fetch(ctx, backend, target, liveStart, now)
	if err != nil {
		return nil, err
	}

	report, err := stability.Evaluate(target.String(), baseline, live, t.config)
	if err != nil {
		return nil, err
	}

	result := StabilityResult{Report: report}
	if t.sink != nil {
		loc, err := t.sink.Save(ctx, report, now)
		if err != nil {
			t.logger.Warn().Err(err).Str("deployment", report.Deployment).Msg("Failed to archive stability report")
		} else {
			result.ArchivedAt = loc
		}
	}
	return result, nil
}

func (t *StabilityTool) fetch(ctx context.Context, b metrics.Backend, target metrics.Target, start, end time.Time) (stability.Window, error) {
	var w stability.Window
	err := resilience.Retry(ctx, t.retry, nil, func(ctx context.Context) error {
		var err error
		w, err = metrics.FetchWindow(ctx, b, target, start, end, t.step)
		return err
	})
	return w, err
}

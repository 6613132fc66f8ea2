package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/metrics"
	"github.com/antoine1anthony/sprout-ci/internal/reportstore"
	"github.com/antoine1anthony/sprout-ci/internal/stability"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evalNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// minuteSeries produces one sample per minute over [from, to), alternating
// around base by jitter, multiplied by factor once the live window starts.
func minuteSeries(from, to, liveStart time.Time, base, jitter, factor float64) []stability.Sample {
	var out []stability.Sample
	i := 0
	for ts := from; ts.Before(to); ts = ts.Add(time.Minute) {
		v := base
		if i%2 == 0 {
			v += jitter
		} else {
			v -= jitter
		}
		if !ts.Before(liveStart) {
			v *= factor
		}
		out = append(out, stability.Sample{Time: ts, Value: v})
		i++
	}
	return out
}

func newStabilityTool(t *testing.T, latencyFactor float64, sink reportstore.Sink) *StabilityTool {
	t.Helper()
	from := evalNow.Add(-75 * time.Minute)
	liveStart := evalNow.Add(-15 * time.Minute)
	backend := metrics.NewStatic(map[string][]stability.Sample{
		stability.MetricLatencyP95: minuteSeries(from, evalNow, liveStart, 0.2, 0.01, latencyFactor),
		stability.MetricErrorRate:  minuteSeries(from, evalNow, liveStart, 0.01, 0.001, 1),
		stability.MetricSaturation: minuteSeries(from, evalNow, liveStart, 0.5, 0.02, 1),
	})
	pool, err := metrics.NewPool(backend, nil, 4)
	require.NoError(t, err)

	tool := NewStabilityTool(pool, stability.DefaultConfig(), sink, time.Minute, zerolog.Nop())
	tool.now = func() time.Time { return evalNow }
	tool.retry = fastRetry()
	return tool
}

func decodeStability(t *testing.T, res Result) StabilityResult {
	t.Helper()
	require.False(t, res.Failed(), "%+v", res.Error)
	var out StabilityResult
	require.NoError(t, json.Unmarshal(res.Output, &out))
	return out
}

const stabilityArgsJSON = `{"namespace":"shop","deploymentName":"checkout"}`

func TestStabilityTool_StableDeployment(t *testing.T) {
	sink := reportstore.NewMemory()
	tool := newStabilityTool(t, 1, sink)

	out := decodeStability(t, Invoke(context.Background(), tool, call("1", "evaluate_stability", stabilityArgsJSON)))
	require.NotNil(t, out.Report)
	assert.Equal(t, "shop/checkout", out.Deployment)
	assert.GreaterOrEqual(t, out.Score, 90)
	assert.Equal(t, "stable", out.Verdict)
	assert.Len(t, out.Deviations, 3)
	assert.True(t, strings.HasPrefix(out.ArchivedAt, "memory://stability/shop/checkout/"))
	assert.Equal(t, 1, sink.Len())
}

func TestStabilityTool_LatencyRegression(t *testing.T) {
	tool := newStabilityTool(t, 3, nil)

	out := decodeStability(t, Invoke(context.Background(), tool, call("1", "evaluate_stability", stabilityArgsJSON)))
	assert.Less(t, out.Score, 90)
	assert.NotEqual(t, "stable", out.Verdict)
	assert.Contains(t, out.Summary, stability.MetricLatencyP95)
	assert.Empty(t, out.ArchivedAt)
}

func TestStabilityTool_IsDeterministic(t *testing.T) {
	tool := newStabilityTool(t, 1.5, nil)
	a := Invoke(context.Background(), tool, call("1", "evaluate_stability", stabilityArgsJSON))
	b := Invoke(context.Background(), tool, call("2", "evaluate_stability", stabilityArgsJSON))
	require.False(t, a.Failed())
	assert.JSONEq(t, string(a.Output), string(b.Output))
}

func TestStabilityTool_NoDataIsInsufficient(t *testing.T) {
	pool, err := metrics.NewPool(metrics.NewStatic(nil), nil, 4)
	require.NoError(t, err)
	tool := NewStabilityTool(pool, stability.DefaultConfig(), nil, time.Minute, zerolog.Nop())

	res := Invoke(context.Background(), tool, call("1", "evaluate_stability", stabilityArgsJSON))
	require.True(t, res.Failed())
	assert.Equal(t, string(apperrors.KindInsufficientData), res.Error.Kind)
}

func TestStabilityTool_PerCallEndpointDisabled(t *testing.T) {
	tool := newStabilityTool(t, 1, nil)
	res := Invoke(context.Background(), tool, call("1", "evaluate_stability",
		`{"namespace":"shop","deploymentName":"checkout","prometheusUrl":"http://prom.example.com:9090"}`))
	require.True(t, res.Failed())
	assert.Equal(t, string(apperrors.KindValidation), res.Error.Kind)
}

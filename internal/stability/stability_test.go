package stability

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func series(start time.Time, values ...float64) []Sample {
	out := make([]Sample, len(values))
	for i, v := range values {
		out[i] = Sample{Time: start.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

func steadyWindows() (Window, Window) {
	baseline := Window{Start: t0, End: t0.Add(time.Hour), Series: map[string][]Sample{
		MetricLatencyP95: series(t0, 0.20, 0.21, 0.19, 0.20, 0.22, 0.18, 0.20, 0.21),
		MetricErrorRate:  series(t0, 0.01, 0.012, 0.009, 0.011, 0.01, 0.01),
		MetricSaturation: series(t0, 0.50, 0.52, 0.48, 0.51, 0.49, 0.50),
	}}
	liveStart := t0.Add(time.Hour)
	live := Window{Start: liveStart, End: liveStart.Add(15 * time.Minute), Series: map[string][]Sample{
		MetricLatencyP95: series(liveStart, 0.20, 0.19, 0.21, 0.20),
		MetricErrorRate:  series(liveStart, 0.01, 0.011, 0.009, 0.01),
		MetricSaturation: series(liveStart, 0.50, 0.49, 0.51, 0.50),
	}}
	return baseline, live
}

func TestEvaluate_SteadyDeploymentIsStable(t *testing.T) {
	baseline, live := steadyWindows()

	report, err := Evaluate("shop/checkout", baseline, live, DefaultConfig())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Score, 90)
	assert.Equal(t, "stable", report.Verdict)
	assert.Len(t, report.Deviations, 3)
	assert.Contains(t, report.Summary, "No metric regressed")
}

func TestEvaluate_RegressionLowersScoreAndNamesDriver(t *testing.T) {
	baseline, live := steadyWindows()
	liveStart := live.Start
	live.Series[MetricLatencyP95] = series(liveStart, 0.45, 0.50, 0.48, 0.52)

	report, err := Evaluate("shop/checkout", baseline, live, DefaultConfig())
	require.NoError(t, err)
	assert.Less(t, report.Score, 70)
	assert.Equal(t, "unstable", report.Verdict)
	assert.Contains(t, report.Summary, "Driven by: latency_p95")

	for _, d := range report.Deviations {
		if d.Metric == MetricLatencyP95 {
			assert.Equal(t, 0.0, d.Score)
			assert.Greater(t, d.RelativeShift, 1.0)
		}
	}
}

func TestEvaluate_ImprovementIsNotPenalised(t *testing.T) {
	baseline, live := steadyWindows()
	live.Series[MetricErrorRate] = series(live.Start, 0, 0, 0, 0)

	report, err := Evaluate("shop/checkout", baseline, live, DefaultConfig())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Score, 90)
}

func TestEvaluate_Deterministic(t *testing.T) {
	baseline, live := steadyWindows()
	live.Series[MetricSaturation] = series(live.Start, 0.7, 0.75, 0.72, 0.71)

	first, err := Evaluate("d", baseline, live, DefaultConfig())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Evaluate("d", baseline, live, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEvaluate_EmptyLiveWindow(t *testing.T) {
	baseline, _ := steadyWindows()
	live := Window{Start: t0, End: t0.Add(time.Minute), Series: map[string][]Sample{
		MetricLatencyP95: nil,
		MetricErrorRate:  {},
	}}

	_, err := Evaluate("d", baseline, live, DefaultConfig())
	var insufficient *apperrors.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "live", insufficient.Window)
}

func TestEvaluate_NonFiniteSamplesCountAsMissing(t *testing.T) {
	baseline, _ := steadyWindows()
	live := Window{Series: map[string][]Sample{
		MetricLatencyP95: series(t0, math.NaN(), math.Inf(1)),
	}}

	_, err := Evaluate("d", baseline, live, DefaultConfig())
	var insufficient *apperrors.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
}

func TestEvaluate_LiveOnlyMetricIsExcludedWithNote(t *testing.T) {
	baseline, live := steadyWindows()
	delete(baseline.Series, MetricSaturation)

	report, err := Evaluate("d", baseline, live, DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, report.Deviations, 2)
	assert.Contains(t, report.Excluded, "saturation: no baseline samples")
	assert.Contains(t, report.Summary, "Excluded: saturation: no baseline samples")
}

func TestEvaluate_TooFewSamplesEverywhere(t *testing.T) {
	baseline := Window{Series: map[string][]Sample{MetricErrorRate: series(t0, 0.01)}}
	live := Window{Series: map[string][]Sample{MetricErrorRate: series(t0, 0.02)}}

	_, err := Evaluate("d", baseline, live, DefaultConfig())
	var insufficient *apperrors.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Contains(t, err.Error(), "error_rate: 1 baseline samples")
}

func TestEvaluate_ScoreBounds(t *testing.T) {
	baseline, live := steadyWindows()
	for name := range live.Series {
		live.Series[name] = series(live.Start, 100, 120, 110, 130)
	}

	report, err := Evaluate("d", baseline, live, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Score)
	assert.Equal(t, "unstable", report.Verdict)
}

func TestEvaluate_ExtremeMagnitudesStayInBounds(t *testing.T) {
	huge := func(start time.Time, v float64) []Sample { return series(start, v, v, v) }
	liveStart := t0.Add(time.Hour)

	t.Run("identical windows near the float64 limit", func(t *testing.T) {
		baseline := Window{Series: map[string][]Sample{}}
		live := Window{Series: map[string][]Sample{}}
		for _, m := range []string{MetricLatencyP95, MetricErrorRate, MetricSaturation} {
			baseline.Series[m] = huge(t0, 1e308)
			live.Series[m] = huge(liveStart, 1e308)
		}

		report, err := Evaluate("d", baseline, live, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, 100, report.Score)
		assert.Equal(t, "stable", report.Verdict)
		_, err = json.Marshal(report)
		assert.NoError(t, err)
	})

	t.Run("overflowing difference is excluded", func(t *testing.T) {
		baseline, live := steadyWindows()
		baseline.Series[MetricSaturation] = huge(t0, -1e308)
		live.Series[MetricSaturation] = huge(liveStart, 1e308)

		report, err := Evaluate("d", baseline, live, DefaultConfig())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, report.Score, 0)
		assert.LessOrEqual(t, report.Score, 100)
		assert.Len(t, report.Deviations, 2)
		assert.Contains(t, report.Excluded, "saturation: values outside the representable range")
		_, err = json.Marshal(report)
		assert.NoError(t, err)
	})

	t.Run("every metric overflowing is insufficient", func(t *testing.T) {
		baseline := Window{Series: map[string][]Sample{MetricErrorRate: huge(t0, -1e308)}}
		live := Window{Series: map[string][]Sample{MetricErrorRate: huge(liveStart, 1e308)}}

		_, err := Evaluate("d", baseline, live, DefaultConfig())
		var insufficient *apperrors.InsufficientDataError
		require.ErrorAs(t, err, &insufficient)
	})
}

func TestMeanVar_LargeValuesDoNotOverflow(t *testing.T) {
	mean, variance := meanVar([]float64{1e308, 1e308, 1e308})
	assert.Equal(t, 1e308, mean)
	assert.Equal(t, 0.0, variance)

	mean, variance = meanVar([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-12)
	assert.InDelta(t, 4.0, variance, 1e-12)
}

func TestResample_AveragesBuckets(t *testing.T) {
	got := resample(series(t0, 1, 2, 3, 4, 5, 6), 3)
	assert.Equal(t, []float64{1.5, 3.5, 5.5}, got)

	got = resample(series(t0, 1, 2, 3, 4, 5), 2)
	assert.Equal(t, []float64{1.5, 4}, got)
}

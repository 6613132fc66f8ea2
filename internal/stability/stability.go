// Package stability scores a live deployment against its own recent baseline.
//
// Method, for every tracked metric present in both windows:
//
//  1. drop non-finite samples and sort by time;
//  2. resample both series onto n = min(len(baseline), len(live)) points by
//     averaging contiguous buckets;
//  3. deviation d = (mean_live - mean_base) / sigma, where sigma is the pooled
//     standard deviation sqrt((var_base + var_live) / 2), floored at 5% of
//     |mean_base| (and at 1e-9);
//  4. metric score = 100 * clamp(1 - max(d, 0) / 3, 0, 1), so improvements
//     never cost points and a regression of three sigmas scores zero;
//  5. composite = weighted mean of metric scores, weights renormalized over
//     the metrics actually scored, rounded to an integer.
//
// All metrics are "higher is worse". Evaluate is a pure function.
package stability

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
)

// Tracked metric names.
const (
	MetricLatencyP95 = "latency_p95"
	MetricErrorRate  = "error_rate"
	MetricSaturation = "saturation"
)

const (
	maxDeviation      = 3.0
	sigmaFloorRatio   = 0.05
	sigmaFloorAbs     = 1e-9
	verdictStable     = "stable"
	verdictDegraded   = "degraded"
	verdictUnstable   = "unstable"
	stableThreshold   = 90
	degradedThreshold = 70
)

// Sample is one observation of a metric.
type Sample struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// Window is a time range and the samples observed in it, keyed by metric name.
type Window struct {
	Start  time.Time           `json:"start"`
	End    time.Time           `json:"end"`
	Series map[string][]Sample `json:"series"`
}

// Config holds the documented weights and the per-metric sample minimum.
type Config struct {
	Weights    map[string]float64 `yaml:"weights" json:"weights"`
	MinSamples int                `yaml:"min_samples" json:"minSamples"`
}

// DefaultConfig weights latency and errors equally and saturation at half.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			MetricLatencyP95: 0.4,
			MetricErrorRate:  0.4,
			MetricSaturation: 0.2,
		},
		MinSamples: 3,
	}
}

// Deviation is the comparison of one metric across the two windows.
type Deviation struct {
	Metric        string  `json:"metric"`
	BaselineMean  float64 `json:"baselineMean"`
	LiveMean      float64 `json:"liveMean"`
	BaselineP95   float64 `json:"baselineP95"`
	LiveP95       float64 `json:"liveP95"`
	Deviation     float64 `json:"deviation"`
	RelativeShift float64 `json:"relativeShift"`
	Score         float64 `json:"score"`
	Weight        float64 `json:"weight"`
	Samples       int     `json:"alignedSamples"`
}

// WindowSummary describes one window in the report.
type WindowSummary struct {
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
	Samples map[string]int `json:"samples"`
}

// Report is the outcome of one evaluation.
type Report struct {
	Deployment string        `json:"deployment"`
	Baseline   WindowSummary `json:"baseline"`
	Live       WindowSummary `json:"live"`
	Deviations []Deviation   `json:"deviations"`
	Score      int           `json:"score"`
	Verdict    string        `json:"verdict"`
	Summary    string        `json:"summary"`
	Excluded   []string      `json:"excluded,omitempty"`
}

// Evaluate compares live against baseline for deployment. Weights for
// metrics not named in cfg default to zero and such metrics are excluded.
func Evaluate(deployment string, baseline, live Window, cfg Config) (*Report, error) {
	if cfg.MinSamples < 2 {
		cfg.MinSamples = 2
	}
	base := cleanAll(baseline.Series)
	cur := cleanAll(live.Series)

	if total(base) == 0 {
		return nil, &apperrors.InsufficientDataError{Window: "baseline", Reason: "no samples"}
	}
	if total(cur) == 0 {
		return nil, &apperrors.InsufficientDataError{Window: "live", Reason: "no samples"}
	}

	report := &Report{
		Deployment: deployment,
		Baseline:   summarize(baseline, base),
		Live:       summarize(live, cur),
	}

	for _, name := range unionKeys(base, cur) {
		b, l := base[name], cur[name]
		weight := cfg.Weights[name]
		switch {
		case weight <= 0:
			report.Excluded = append(report.Excluded, name+": not a weighted metric")
		case len(b) == 0:
			report.Excluded = append(report.Excluded, name+": no baseline samples")
		case len(l) == 0:
			report.Excluded = append(report.Excluded, name+": no live samples")
		case len(b) < cfg.MinSamples:
			report.Excluded = append(report.Excluded, fmt.Sprintf("%s: %d baseline samples, need %d", name, len(b), cfg.MinSamples))
		case len(l) < cfg.MinSamples:
			report.Excluded = append(report.Excluded, fmt.Sprintf("%s: %d live samples, need %d", name, len(l), cfg.MinSamples))
		default:
			d, ok := compare(name, b, l, weight)
			if !ok {
				report.Excluded = append(report.Excluded, name+": values outside the representable range")
				continue
			}
			report.Deviations = append(report.Deviations, d)
		}
	}

	if len(report.Deviations) == 0 {
		return nil, &apperrors.InsufficientDataError{Window: "baseline/live", Reason: "no metric has enough samples in both windows: " + strings.Join(report.Excluded, "; ")}
	}

	var weighted, weights float64
	for _, d := range report.Deviations {
		weighted += d.Score * d.Weight
		weights += d.Weight
	}
	report.Score = int(math.Round(weighted / weights))
	report.Verdict = verdict(report.Score)
	report.Summary = summary(report, weights)
	return report, nil
}

// compare reports false when the statistics are not finite, which only
// happens for samples near the float64 limits.
func compare(name string, baseline, live []Sample, weight float64) (Deviation, bool) {
	n := min(len(baseline), len(live))
	b := resample(baseline, n)
	l := resample(live, n)

	bMean, bVar := meanVar(b)
	lMean, lVar := meanVar(l)

	sigma := math.Sqrt((bVar + lVar) / 2)
	sigma = math.Max(sigma, math.Max(sigmaFloorRatio*math.Abs(bMean), sigmaFloorAbs))
	dev := (lMean - bMean) / sigma

	score := 100 * clamp(1-math.Max(dev, 0)/maxDeviation, 0, 1)

	bP95, lP95 := percentile(values(baseline), 0.95), percentile(values(live), 0.95)
	var shift float64
	if bP95 != 0 {
		shift = (lP95 - bP95) / math.Abs(bP95)
	}

	d := Deviation{
		Metric:        name,
		BaselineMean:  bMean,
		LiveMean:      lMean,
		BaselineP95:   bP95,
		LiveP95:       lP95,
		Deviation:     round(dev, 3),
		RelativeShift: round(shift, 4),
		Score:         round(score, 2),
		Weight:        weight,
		Samples:       n,
	}
	for _, v := range []float64{d.BaselineMean, d.LiveMean, d.BaselineP95, d.LiveP95, d.Deviation, d.RelativeShift, d.Score} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Deviation{}, false
		}
	}
	return d, true
}

// resample averages s into n contiguous buckets of near-equal size.
func resample(s []Sample, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		lo := i * len(s) / n
		hi := (i + 1) * len(s) / n
		var mean float64
		for k, p := range s[lo:hi] {
			mean += (p.Value - mean) / float64(k+1)
		}
		out[i] = mean
	}
	return out
}

// meanVar is Welford's running mean and population variance, which stays
// finite where a plain sum of large samples would overflow.
func meanVar(v []float64) (float64, float64) {
	var mean, m2 float64
	for i, x := range v {
		d := x - mean
		mean += d / float64(i+1)
		m2 += d * (x - mean)
	}
	return mean, m2 / float64(len(v))
}

// percentile uses nearest-rank on a sorted copy.
func percentile(v []float64, p float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(rank, 0)]
}

func values(s []Sample) []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

func cleanAll(series map[string][]Sample) map[string][]Sample {
	out := make(map[string][]Sample, len(series))
	for name, s := range series {
		kept := make([]Sample, 0, len(s))
		for _, p := range s {
			if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
				continue
			}
			kept = append(kept, p)
		}
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Time.Before(kept[j].Time) })
		out[name] = kept
	}
	return out
}

func total(series map[string][]Sample) int {
	n := 0
	for _, s := range series {
		n += len(s)
	}
	return n
}

func unionKeys(a, b map[string][]Sample) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func summarize(w Window, cleaned map[string][]Sample) WindowSummary {
	counts := make(map[string]int, len(cleaned))
	for name, s := range cleaned {
		counts[name] = len(s)
	}
	return WindowSummary{Start: w.Start, End: w.End, Samples: counts}
}

func verdict(score int) string {
	switch {
	case score >= stableThreshold:
		return verdictStable
	case score >= degradedThreshold:
		return verdictDegraded
	default:
		return verdictUnstable
	}
}

func summary(r *Report, totalWeight float64) string {
	drivers := append([]Deviation(nil), r.Deviations...)
	penalty := func(d Deviation) float64 { return (100 - d.Score) * d.Weight / totalWeight }
	sort.SliceStable(drivers, func(i, j int) bool {
		pi, pj := penalty(drivers[i]), penalty(drivers[j])
		if pi != pj {
			return pi > pj
		}
		return drivers[i].Metric < drivers[j].Metric
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%s scored %d/100 (%s).", r.Deployment, r.Score, r.Verdict)
	var parts []string
	for _, d := range drivers {
		if penalty(d) <= 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %+.1f%% at p95 (%.2f sigma, -%.1f pts)", d.Metric, d.RelativeShift*100, d.Deviation, penalty(d)))
	}
	if len(parts) > 0 {
		b.WriteString(" Driven by: " + strings.Join(parts, "; ") + ".")
	} else {
		b.WriteString(" No metric regressed against the baseline.")
	}
	if len(r.Excluded) > 0 {
		b.WriteString(" Excluded: " + strings.Join(r.Excluded, "; ") + ".")
	}
	return b.String()
}

func clamp(v, lo, hi float64) float64 { return math.Min(math.Max(v, lo), hi) }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

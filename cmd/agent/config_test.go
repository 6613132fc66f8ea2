package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/stability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, collaboratorsMock, cfg.Collaborators)
	assert.Equal(t, backendPlanner, cfg.Backend)
	assert.Equal(t, 8, cfg.MaxToolRounds)
	assert.Equal(t, 10*time.Minute, cfg.ToolTimeout)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, stability.DefaultConfig(), cfg.StabilityConfig())
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stability:
  weights:
    latency_p95: 0.5
    error_rate: 0.5
  min_samples: 10
queries:
  error_rate: sum(rate(errors_total{namespace="$namespace"}[5m]))
`), 0o600))
	t.Setenv("GIN_MODE", "release")
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("EKS_SUBNET_IDS", "subnet-a,subnet-b")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	sc := cfg.StabilityConfig()
	assert.Equal(t, map[string]float64{"latency_p95": 0.5, "error_rate": 0.5}, sc.Weights)
	assert.Equal(t, 10, sc.MinSamples)
	assert.Contains(t, cfg.File.Queries, "error_rate")
	assert.Equal(t, []string{"subnet-a", "subnet-b"}, cfg.SubnetIDs)
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown collaborators", map[string]string{"COLLABORATORS": "staging"}},
		{"live without github", map[string]string{"COLLABORATORS": "live", "GITHUB_TOKEN": "", "PROMETHEUS_URL": "http://prom:9090"}},
		{"openai without key", map[string]string{"BACKEND": "openai", "OPENAI_API_KEY": ""}},
		{"gemini without key", map[string]string{"BACKEND": "gemini", "GEMINI_API_KEY": ""}},
		{"unknown backend", map[string]string{"BACKEND": "eliza"}},
		{"zero rounds", map[string]string{"MAX_TOOL_ROUNDS": "0"}},
		{"bad duration", map[string]string{"TOOL_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GIN_MODE", "release")
			t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestDemoSeriesCoversRecentWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	series := demoSeries(now)
	require.Len(t, series, 3)

	live := stability.Window{Start: now.Add(-15 * time.Minute), End: now, Series: map[string][]stability.Sample{}}
	base := stability.Window{Start: now.Add(-75 * time.Minute), End: live.Start, Series: map[string][]stability.Sample{}}
	for name, samples := range series {
		for _, s := range samples {
			switch {
			case !s.Time.Before(live.Start) && s.Time.Before(live.End):
				live.Series[name] = append(live.Series[name], s)
			case !s.Time.Before(base.Start) && s.Time.Before(base.End):
				base.Series[name] = append(base.Series[name], s)
			}
		}
	}
	report, err := stability.Evaluate("demo/app", base, live, stability.DefaultConfig())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Score, 90)
}

func TestOrchestratorConfig_ModelFollowsBackend(t *testing.T) {
	tests := []struct {
		backend, model, want string
	}{
		{backendGemini, "gpt-4o", defaultGeminiModel},
		{backendGemini, "gemini-2.0-flash", "gemini-2.0-flash"},
		{backendOpenAI, "gpt-4o", "gpt-4o"},
		{backendPlanner, "gpt-4o", "gpt-4o"},
	}
	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.model, func(t *testing.T) {
			cfg := &AppConfig{
				Backend:        tt.backend,
				Model:          tt.model,
				MaxTokens:      2048,
				BackendTimeout: 90 * time.Second,
				MaxToolRounds:  3,
				ToolTimeout:    5 * time.Minute,
			}
			oc := orchestratorConfig(cfg)
			assert.Equal(t, tt.want, oc.Model)
			assert.Equal(t, 2048, oc.MaxTokens)
			assert.Equal(t, 90*time.Second, oc.BackendTimeout)
			assert.Equal(t, 3, oc.MaxToolRounds)
			assert.Equal(t, 5*time.Minute, oc.ToolTimeout)
		})
	}
}

package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/controlplane"
	"github.com/antoine1anthony/sprout-ci/internal/gitops"
	"github.com/antoine1anthony/sprout-ci/internal/llm"
	"github.com/antoine1anthony/sprout-ci/internal/metrics"
	"github.com/antoine1anthony/sprout-ci/internal/observability"
	"github.com/antoine1anthony/sprout-ci/internal/orchestrator"
	"github.com/antoine1anthony/sprout-ci/internal/reportstore"
	"github.com/antoine1anthony/sprout-ci/internal/scm"
	"github.com/antoine1anthony/sprout-ci/internal/session"
	"github.com/antoine1anthony/sprout-ci/internal/stability"
	"github.com/antoine1anthony/sprout-ci/internal/tools"
	"github.com/redis/go-redis/v9"
)

// collaborators are the external systems the tools act on.
type collaborators struct {
	controlPlane controlplane.ControlPlane
	prober       gitops.Prober
	installer    gitops.Installer
	sourceCtl    scm.SourceControl
	metrics      *metrics.Pool
	reports      reportstore.Sink
}

func initializeCollaborators(ctx context.Context, cfg *AppConfig) (*collaborators, error) {
	if cfg.Collaborators == collaboratorsMock {
		pool, err := metrics.NewPool(metrics.NewStatic(demoSeries(time.Now())), nil, 0)
		if err != nil {
			return nil, err
		}
		return &collaborators{
			controlPlane: controlplane.NewMemory(),
			prober:       gitops.StaticProber{},
			installer:    &gitops.MemoryInstaller{},
			sourceCtl:    scm.NewMemory(),
			metrics:      pool,
			reports:      reportstore.NewMemory(),
		}, nil
	}

	eksCP, err := controlplane.NewEKS(ctx, controlplane.EKSConfig{
		Region:           cfg.AWSRegion,
		ClusterRoleARN:   cfg.ClusterRoleARN,
		NodeRoleARN:      cfg.NodeRoleARN,
		SubnetIDs:        cfg.SubnetIDs,
		SecurityGroupIDs: cfg.SecurityGroupIDs,
	})
	if err != nil {
		return nil, err
	}

	github, err := scm.NewGitHub(scm.GitHubConfig{
		BaseURL:           cfg.GitHubBaseURL,
		Token:             cfg.GitHubToken,
		RequestsPerSecond: cfg.GitHubRPS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create github client: %w", err)
	}

	logger := observability.Component("metrics")
	newProm := func(address string) (metrics.Backend, error) {
		return metrics.NewPrometheus(address, cfg.File.Queries, cfg.PrometheusTimeout, logger)
	}
	fallback, err := newProm(cfg.PrometheusURL)
	if err != nil {
		return nil, err
	}
	var factory metrics.Factory
	if cfg.AllowMetricsURL {
		factory = newProm
	}
	pool, err := metrics.NewPool(fallback, factory, 0)
	if err != nil {
		return nil, err
	}

	var sink reportstore.Sink
	if cfg.S3Endpoint != "" {
		s3, err := reportstore.NewS3Store(reportstore.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		sink = s3
	}

	return &collaborators{
		controlPlane: eksCP,
		prober:       gitops.NewHTTPProber(cfg.ProbeTimeout),
		installer:    gitops.NewHelmInstaller(cfg.HelmBinary, cfg.AWSRegion, cfg.HelmTimeout),
		sourceCtl:    github,
		metrics:      pool,
		reports:      sink,
	}, nil
}

// initializeRegistry creates, registers and seals all available tools.
func initializeRegistry(cfg *AppConfig, c *collaborators) (*tools.Registry, error) {
	registry, err := tools.NewSealedRegistry(
		tools.NewClusterTool(c.controlPlane, cfg.ProvisionWait, cfg.ProvisionPoll),
		tools.NewGitOpsTool(c.controlPlane, c.prober, c.installer),
		tools.NewWebhookTool(c.sourceCtl, cfg.WebhookSecret),
		tools.NewWorkflowTool(),
		tools.NewManifestTool(c.sourceCtl),
		tools.NewStabilityTool(c.metrics, cfg.StabilityConfig(), c.reports, cfg.MetricsStep, observability.Component("stability")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	return registry, nil
}

// initializeBackend returns the reasoning backend and a cleanup func.
func initializeBackend(ctx context.Context, cfg *AppConfig) (llm.LLMClient, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case backendOpenAI:
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	case backendGemini:
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, resolveModel(cfg), observability.Component("gemini"))
		if err != nil {
			return nil, noop, err
		}
		return client, func() { _ = client.Close() }, nil
	default:
		return llm.NewPlanner(), noop, nil
	}
}

// resolveModel returns the model the selected backend requests on every
// call. MODEL defaults to an OpenAI model, so a Gemini backend falls back to
// its own default unless a gemini model is named.
func resolveModel(cfg *AppConfig) string {
	if cfg.Backend == backendGemini && !strings.HasPrefix(cfg.Model, "gemini") {
		return defaultGeminiModel
	}
	return cfg.Model
}

// orchestratorConfig maps the environment onto the turn loop settings.
func orchestratorConfig(cfg *AppConfig) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.MaxToolRounds = cfg.MaxToolRounds
	oc.ToolTimeout = cfg.ToolTimeout
	oc.BackendTimeout = cfg.BackendTimeout
	oc.Model = resolveModel(cfg)
	oc.MaxTokens = cfg.MaxTokens
	return oc
}

// initializeSessions uses Redis when REDIS_ADDR is set, an in-process cache otherwise.
func initializeSessions(ctx context.Context, cfg *AppConfig) (session.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryStore(cfg.SessionSize, cfg.SessionTTL), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("could not connect to Redis: %w", err)
	}
	return session.NewRedisStore(rdb, "sprout:session", cfg.SessionTTL), func() { _ = rdb.Close() }, nil
}

// demoSeries is a week of steady, slightly periodic traffic either side of
// now, one sample a minute, for the in-memory metrics backend.
func demoSeries(now time.Time) map[string][]stability.Sample {
	const span = 7 * 24 * time.Hour
	start := now.Add(-span).Truncate(time.Minute)
	n := int(2 * span / time.Minute)

	series := map[string][]stability.Sample{
		stability.MetricLatencyP95: make([]stability.Sample, 0, n),
		stability.MetricErrorRate:  make([]stability.Sample, 0, n),
		stability.MetricSaturation: make([]stability.Sample, 0, n),
	}
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		wave := math.Sin(float64(i) * 2 * math.Pi / 17)
		series[stability.MetricLatencyP95] = append(series[stability.MetricLatencyP95], stability.Sample{Time: ts, Value: 0.180 + 0.006*wave})
		series[stability.MetricErrorRate] = append(series[stability.MetricErrorRate], stability.Sample{Time: ts, Value: 0.004 + 0.0004*wave})
		series[stability.MetricSaturation] = append(series[stability.MetricSaturation], stability.Sample{Time: ts, Value: 0.55 + 0.02*wave})
	}
	return series
}

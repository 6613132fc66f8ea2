package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/stability"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	collaboratorsMock = "mock"
	collaboratorsLive = "live"

	backendPlanner = "planner"
	backendOpenAI  = "openai"
	backendGemini  = "gemini"

	defaultGeminiModel = "gemini-1.5-pro"
)

// AppConfig holds all configuration for the agent, loaded from the environment and config.yaml.
type AppConfig struct {
	Port       string `envconfig:"PORT" default:"8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty  bool   `envconfig:"LOG_PRETTY" default:"false"`
	ConfigFile string `envconfig:"CONFIG_FILE" default:"config.yaml"`

	// Collaborators selects in-memory stand-ins ("mock") or the real services ("live").
	Collaborators string `envconfig:"COLLABORATORS" default:"mock"`

	// Reasoning backend
	Backend        string        `envconfig:"BACKEND" default:"planner"`
	Model          string        `envconfig:"MODEL" default:"gpt-4o"`
	MaxTokens      int           `envconfig:"MAX_TOKENS" default:"4096"`
	OpenAIAPIKey   string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string        `envconfig:"OPENAI_BASE_URL"`
	GeminiAPIKey   string        `envconfig:"GEMINI_API_KEY"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"2m"`

	// Orchestration
	MaxToolRounds int           `envconfig:"MAX_TOOL_ROUNDS" default:"8"`
	ToolTimeout   time.Duration `envconfig:"TOOL_TIMEOUT" default:"10m"`
	TurnTimeout   time.Duration `envconfig:"TURN_TIMEOUT" default:"30m"`

	// Sessions
	RedisAddr   string        `envconfig:"REDIS_ADDR"`
	SessionTTL  time.Duration `envconfig:"SESSION_TTL" default:"1h"`
	SessionSize int           `envconfig:"SESSION_CACHE_SIZE" default:"1024"`

	// Cluster control plane
	AWSRegion        string        `envconfig:"AWS_REGION" default:"us-east-1"`
	ClusterRoleARN   string        `envconfig:"EKS_CLUSTER_ROLE_ARN"`
	NodeRoleARN      string        `envconfig:"EKS_NODE_ROLE_ARN"`
	SubnetIDs        []string      `envconfig:"EKS_SUBNET_IDS"`
	SecurityGroupIDs []string      `envconfig:"EKS_SECURITY_GROUP_IDS"`
	ProvisionWait    time.Duration `envconfig:"PROVISION_WAIT" default:"5m"`
	ProvisionPoll    time.Duration `envconfig:"PROVISION_POLL" default:"15s"`

	// GitOps install
	HelmBinary   string        `envconfig:"HELM_BINARY" default:"helm"`
	HelmTimeout  time.Duration `envconfig:"HELM_TIMEOUT" default:"10m"`
	ProbeTimeout time.Duration `envconfig:"PROBE_TIMEOUT" default:"10s"`

	// Source control
	GitHubToken   string  `envconfig:"GITHUB_TOKEN"`
	GitHubBaseURL string  `envconfig:"GITHUB_BASE_URL"`
	GitHubRPS     float64 `envconfig:"GITHUB_RPS" default:"10"`
	WebhookSecret string  `envconfig:"WEBHOOK_SECRET"`

	// Metrics backend
	PrometheusURL     string        `envconfig:"PROMETHEUS_URL"`
	PrometheusTimeout time.Duration `envconfig:"PROMETHEUS_TIMEOUT" default:"30s"`
	MetricsStep       time.Duration `envconfig:"METRICS_STEP" default:"30s"`
	AllowMetricsURL   bool          `envconfig:"ALLOW_PER_CALL_PROMETHEUS" default:"false"`

	// Report archive; disabled when S3_ENDPOINT is empty.
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3Region    string `envconfig:"S3_REGION"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"stability-reports"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"true"`

	File FileConfig `ignored:"true"`
}

// FileConfig is the optional config.yaml. Queries overrides the PromQL
// template per tracked metric.
type FileConfig struct {
	Stability *stability.Config `yaml:"stability"`
	Queries   map[string]string `yaml:"queries"`
}

// LoadConfig loads all configuration from a .env file, environment variables, and config.yaml.
func LoadConfig() (*AppConfig, error) {
	// Docker provides configuration directly as environment variables.
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load(); err != nil {
			log.Debug().Msg("no .env file found for local development")
		}
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.loadFile(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) loadFile() error {
	raw, err := os.ReadFile(c.ConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.ConfigFile, err)
	}
	if err := yaml.Unmarshal(raw, &c.File); err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.ConfigFile, err)
	}
	return nil
}

func (c *AppConfig) validate() error {
	c.Collaborators = strings.ToLower(strings.TrimSpace(c.Collaborators))
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))

	switch c.Collaborators {
	case collaboratorsMock:
	case collaboratorsLive:
		if c.GitHubToken == "" {
			return errors.New("GITHUB_TOKEN is required when COLLABORATORS=live")
		}
		if c.PrometheusURL == "" {
			return errors.New("PROMETHEUS_URL is required when COLLABORATORS=live")
		}
	default:
		return fmt.Errorf("COLLABORATORS must be %q or %q, got %q", collaboratorsMock, collaboratorsLive, c.Collaborators)
	}

	switch c.Backend {
	case backendPlanner:
	case backendOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required when BACKEND=openai")
		}
	case backendGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required when BACKEND=gemini")
		}
	default:
		return fmt.Errorf("unknown BACKEND %q", c.Backend)
	}

	if c.MaxToolRounds < 1 {
		return fmt.Errorf("MAX_TOOL_ROUNDS must be at least 1, got %d", c.MaxToolRounds)
	}
	return nil
}

// StabilityConfig merges config.yaml over the documented defaults.
func (c *AppConfig) StabilityConfig() stability.Config {
	cfg := stability.DefaultConfig()
	if c.File.Stability == nil {
		return cfg
	}
	if len(c.File.Stability.Weights) > 0 {
		cfg.Weights = c.File.Stability.Weights
	}
	if c.File.Stability.MinSamples > 0 {
		cfg.MinSamples = c.File.Stability.MinSamples
	}
	return cfg
}

package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	argoRepoName = "argo"
	argoRepoURL  = "https://argoproj.github.io/argo-helm"
)

// runner executes a command and returns its combined output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// HelmInstaller installs the argo-cd, argo-workflows and argo-events charts
// with the helm CLI.
//
// When the release carries an API endpoint, helm runs against a throwaway
// kubeconfig built from it that authenticates with `aws eks get-token`, so
// the aws CLI must be on PATH. Without an endpoint, the ambient kubeconfig
// must hold a context named after the cluster.
type HelmInstaller struct {
	binary  string
	region  string
	timeout time.Duration
	run     runner
}

var _ Installer = (*HelmInstaller)(nil)

func NewHelmInstaller(binary, region string, timeout time.Duration) *HelmInstaller {
	if binary == "" {
		binary = "helm"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HelmInstaller{binary: binary, region: region, timeout: timeout, run: execRunner}
}

var argoCharts = []struct{ release, chart string }{
	{"argocd", argoRepoName + "/argo-cd"},
	{"argo-workflows", argoRepoName + "/argo-workflows"},
	{"argo-events", argoRepoName + "/argo-events"},
}

func (h *HelmInstaller) Install(ctx context.Context, rel Release) (*Installation, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	target := []string{"--kube-context", rel.Cluster}
	if rel.Endpoint != "" {
		path, err := h.writeKubeconfig(rel)
		if err != nil {
			return nil, err
		}
		defer os.Remove(path)
		target = append(target, "--kubeconfig", path)
	}

	if out, err := h.run(ctx, h.binary, "repo", "add", argoRepoName, argoRepoURL, "--force-update"); err != nil {
		return nil, commandError("helm repo add", out, err)
	}

	for _, c := range argoCharts {
		args := []string{
			"upgrade", "--install", c.release, c.chart,
			"--namespace", rel.Namespace,
			"--create-namespace",
		}
		args = append(args, target...)
		args = append(args, "--wait", "--timeout", h.timeout.String())
		// The version pins Argo CD only; the other charts track their defaults.
		if rel.Version != "" && c.release == "argocd" {
			args = append(args, "--version", rel.Version)
		}
		if out, err := h.run(ctx, h.binary, args...); err != nil {
			return nil, commandError("helm upgrade "+c.release, out, err)
		}
	}

	return &Installation{Namespace: rel.Namespace, URLs: ServiceURLs(rel.Namespace)}, nil
}

type kubeconfig struct {
	APIVersion     string         `yaml:"apiVersion"`
	Kind           string         `yaml:"kind"`
	CurrentContext string         `yaml:"current-context"`
	Clusters       []namedCluster `yaml:"clusters"`
	Contexts       []namedContext `yaml:"contexts"`
	Users          []namedUser    `yaml:"users"`
}

type namedCluster struct {
	Name    string `yaml:"name"`
	Cluster struct {
		Server string `yaml:"server"`
		CAData string `yaml:"certificate-authority-data,omitempty"`
	} `yaml:"cluster"`
}

type namedContext struct {
	Name    string `yaml:"name"`
	Context struct {
		Cluster string `yaml:"cluster"`
		User    string `yaml:"user"`
	} `yaml:"context"`
}

type namedUser struct {
	Name string `yaml:"name"`
	User struct {
		Exec execAuth `yaml:"exec"`
	} `yaml:"user"`
}

type execAuth struct {
	APIVersion string   `yaml:"apiVersion"`
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
}

// kubeconfigFor points a single context, named after the cluster, at the
// release's endpoint.
func (h *HelmInstaller) kubeconfigFor(rel Release) kubeconfig {
	var c namedCluster
	c.Name = rel.Cluster
	c.Cluster.Server = rel.Endpoint
	c.Cluster.CAData = rel.CAData

	var x namedContext
	x.Name = rel.Cluster
	x.Context.Cluster = rel.Cluster
	x.Context.User = rel.Cluster

	var u namedUser
	u.Name = rel.Cluster
	u.User.Exec = execAuth{
		APIVersion: "client.authentication.k8s.io/v1beta1",
		Command:    "aws",
		Args:       []string{"eks", "get-token", "--cluster-name", rel.Cluster},
	}
	if h.region != "" {
		u.User.Exec.Args = append(u.User.Exec.Args, "--region", h.region)
	}

	return kubeconfig{
		APIVersion:     "v1",
		Kind:           "Config",
		CurrentContext: rel.Cluster,
		Clusters:       []namedCluster{c},
		Contexts:       []namedContext{x},
		Users:          []namedUser{u},
	}
}

func (h *HelmInstaller) writeKubeconfig(rel Release) (string, error) {
	raw, err := yaml.Marshal(h.kubeconfigFor(rel))
	if err != nil {
		return "", fmt.Errorf("encode kubeconfig: %w", err)
	}
	f, err := os.CreateTemp("", "sprout-kubeconfig-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create kubeconfig: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write kubeconfig: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write kubeconfig: %w", err)
	}
	return f.Name(), nil
}

type commandErr struct {
	step   string
	output string
	err    error
}

func (e *commandErr) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.step, e.err, e.output)
}

func (e *commandErr) Unwrap() error { return e.err }

func commandError(step string, out []byte, err error) error {
	output := strings.TrimSpace(string(out))
	if len(output) > 512 {
		output = output[len(output)-512:]
	}
	return &commandErr{step: step, output: output, err: err}
}

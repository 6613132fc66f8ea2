// Package workflow renders Argo WorkflowTemplates for CI pipelines.
package workflow

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity levels understood by the security scan, lowest first.
var Severities = []string{"low", "medium", "high", "critical"}

// toolchain describes how one language is built and tested.
type toolchain struct {
	Image    string
	Test     string
	Coverage string
}

// Toolchains are the languages a pipeline can be generated for.
var toolchains = map[string]toolchain{
	"go": {
		Image:    "golang:1.24",
		Test:     "go test ./... -coverprofile=/tmp/cover.out",
		Coverage: "go tool cover -func=/tmp/cover.out | awk '/^total:/ {sub(\"%\",\"\",$3); print $3}'",
	},
	"node": {
		Image:    "node:20",
		Test:     "npm ci && npx jest --coverage --coverageReporters=json-summary",
		Coverage: "node -p \"require('./coverage/coverage-summary.json').total.lines.pct\"",
	},
	"python": {
		Image:    "python:3.12",
		Test:     "pip install -r requirements.txt pytest pytest-cov && pytest --cov=. --cov-report=term",
		Coverage: "coverage report | awk '/^TOTAL/ {sub(\"%\",\"\",$NF); print $NF}'",
	},
	"java": {
		Image:    "maven:3.9-eclipse-temurin-21",
		Test:     "mvn -B verify",
		Coverage: "awk -F, 'NR>1 {m+=$8; c+=$9} END {print (c*100)/(m+c)}' target/site/jacoco/jacoco.csv",
	},
}

// Languages returns the supported language keys, sorted.
func Languages() []string {
	out := make([]string, 0, len(toolchains))
	for k := range toolchains {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Params are the inputs to Generate.
type Params struct {
	Name              string
	Languages         []string
	CoverageThreshold int
	SeverityFailLevel string
}

// Template mirrors the parts of the argoproj.io/v1alpha1 WorkflowTemplate schema we emit.
type Template struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

type Metadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type Spec struct {
	Entrypoint string      `yaml:"entrypoint"`
	Arguments  Arguments   `yaml:"arguments"`
	Volumes    []Volume    `yaml:"volumes,omitempty"`
	Templates  []StepOrPod `yaml:"templates"`
}

type Arguments struct {
	Parameters []Parameter `yaml:"parameters"`
}

type Parameter struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value,omitempty"`
}

type Volume struct {
	Name     string    `yaml:"name"`
	EmptyDir *EmptyDir `yaml:"emptyDir,omitempty"`
}

type EmptyDir struct{}

// StepOrPod is either a steps template or a container template.
type StepOrPod struct {
	Name      string         `yaml:"name"`
	Steps     [][]Step       `yaml:"steps,omitempty"`
	Container *Container     `yaml:"container,omitempty"`
	Inputs    *TemplateInput `yaml:"inputs,omitempty"`
}

type TemplateInput struct {
	Parameters []Parameter `yaml:"parameters"`
}

type Step struct {
	Name     string     `yaml:"name"`
	Template string     `yaml:"template"`
	Args     *Arguments `yaml:"arguments,omitempty"`
}

type Container struct {
	Image        string        `yaml:"image"`
	Command      []string      `yaml:"command"`
	Args         []string      `yaml:"args"`
	WorkingDir   string        `yaml:"workingDir,omitempty"`
	VolumeMounts []VolumeMount `yaml:"volumeMounts,omitempty"`
}

type VolumeMount struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"mountPath"`
}

const (
	workspace       = "/workspace"
	workspaceVolume = "workspace"
	defaultName     = "ci-pipeline"
)

// Generate builds the template. It is a pure function of p: the same
// parameters always produce byte-identical YAML from Render.
func Generate(p Params) (*Template, error) {
	if len(p.Languages) == 0 {
		return nil, fmt.Errorf("at least one language is required")
	}
	if p.CoverageThreshold < 0 || p.CoverageThreshold > 100 {
		return nil, fmt.Errorf("coverage threshold %d is outside 0-100", p.CoverageThreshold)
	}
	scanLevels, err := severitiesFrom(p.SeverityFailLevel)
	if err != nil {
		return nil, err
	}

	langs := dedupe(p.Languages)
	for _, l := range langs {
		if _, ok := toolchains[l]; !ok {
			return nil, fmt.Errorf("unsupported language %q (supported: %s)", l, strings.Join(Languages(), ", "))
		}
	}

	name := p.Name
	if name == "" {
		name = defaultName
	}

	mount := []VolumeMount{{Name: workspaceVolume, MountPath: workspace}}
	tmpl := &Template{
		APIVersion: "argoproj.io/v1alpha1",
		Kind:       "WorkflowTemplate",
		Metadata: Metadata{
			Name:   name,
			Labels: map[string]string{"app.kubernetes.io/managed-by": "sprout-ci"},
		},
		Spec: Spec{
			Entrypoint: "pipeline",
			Arguments: Arguments{Parameters: []Parameter{
				{Name: "repo"},
				{Name: "revision", Value: "main"},
				{Name: "coverage-threshold", Value: fmt.Sprint(p.CoverageThreshold)},
			}},
			Volumes: []Volume{{Name: workspaceVolume, EmptyDir: &EmptyDir{}}},
		},
	}

	var testSteps []Step
	var containers []StepOrPod
	for _, l := range langs {
		tc := toolchains[l]
		stepName := "test-" + l
		testSteps = append(testSteps, Step{Name: stepName, Template: stepName})
		script := fmt.Sprintf(
			"set -eu\n%s\ncov=$(%s)\necho \"coverage: ${cov}%%\"\nawk -v c=\"$cov\" -v t=\"{{workflow.parameters.coverage-threshold}}\" 'BEGIN { exit (c+0 < t+0) }'",
			tc.Test, tc.Coverage,
		)
		containers = append(containers, StepOrPod{
			Name: stepName,
			Container: &Container{
				Image:        tc.Image,
				Command:      []string{"sh", "-c"},
				Args:         []string{script},
				WorkingDir:   workspace,
				VolumeMounts: mount,
			},
		})
	}

	steps := StepOrPod{
		Name: "pipeline",
		Steps: [][]Step{
			{{Name: "checkout", Template: "checkout"}},
			testSteps,
			{{Name: "security-scan", Template: "security-scan"}},
		},
	}

	checkout := StepOrPod{
		Name: "checkout",
		Container: &Container{
			Image:        "alpine/git:2.45.2",
			Command:      []string{"sh", "-c"},
			Args:         []string{"git clone --depth 1 --branch {{workflow.parameters.revision}} {{workflow.parameters.repo}} " + workspace},
			VolumeMounts: mount,
		},
	}

	scan := StepOrPod{
		Name: "security-scan",
		Container: &Container{
			Image:        "aquasec/trivy:0.53.0",
			Command:      []string{"trivy"},
			Args:         []string{"fs", "--exit-code", "1", "--severity", strings.ToUpper(strings.Join(scanLevels, ",")), workspace},
			VolumeMounts: mount,
		},
	}

	tmpl.Spec.Templates = append([]StepOrPod{steps, checkout}, containers...)
	tmpl.Spec.Templates = append(tmpl.Spec.Templates, scan)
	return tmpl, nil
}

// Render marshals t to YAML with two-space indentation.
func Render(t *Template) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return "", fmt.Errorf("encode workflow template: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode workflow template: %w", err)
	}
	return buf.String(), nil
}

// severitiesFrom returns the fail level and every level above it.
func severitiesFrom(level string) ([]string, error) {
	for i, s := range Severities {
		if s == strings.ToLower(level) {
			return Severities[i:], nil
		}
	}
	return nil, fmt.Errorf("unknown severity %q (want one of %s)", level, strings.Join(Severities, ", "))
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

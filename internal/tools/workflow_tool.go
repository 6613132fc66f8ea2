// In file: internal/tools/workflow_tool.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/workflow"
)

// --- Workflow Template Generator ---

type workflowArgs struct {
	Languages         []string `json:"languages" validate:"required,min=1,max=8,dive,required"`
	CoverageThreshold *int     `json:"coverageThreshold" validate:"required,gte=0,lte=100"`
	SeverityFailLevel string   `json:"severityFailLevel" validate:"required,oneof=low medium high critical"`
	Name              string   `json:"name" validate:"omitempty,max=63,hostname_rfc1123"`
}

func (a *workflowArgs) applyDefaults() {
	if a.CoverageThreshold == nil {
		threshold := 80
		a.CoverageThreshold = &threshold
	}
	if a.SeverityFailLevel == "" {
		a.SeverityFailLevel = "high"
	}
}

// WorkflowResult carries the rendered manifest so it can be committed as-is.
type WorkflowResult struct {
	Name     string `json:"name"`
	Manifest string `json:"manifest"`
}

// WorkflowTool renders an Argo WorkflowTemplate. It performs no I/O.
type WorkflowTool struct{}

var _ ToolExecutor = (*WorkflowTool)(nil)

func NewWorkflowTool() *WorkflowTool {
	return &WorkflowTool{}
}

func (t *WorkflowTool) Definition() Tool {
	langs := workflow.Languages()
	return NewFunctionTool(
		"generate_workflow_template",
		"Generate an Argo WorkflowTemplate (YAML) that checks out the repo, runs tests with a coverage gate, and runs a security scan.",
		JSONSchema{
			Type: "object",
			Properties: map[string]*JSONSchema{
				"languages": {
					Type:        "array",
					Description: "Languages to build and test",
					Items:       &JSONSchema{Type: "string", Enum: langs},
				},
				"coverageThreshold": {Type: "integer", Description: "Minimum line coverage percent, default 80", Minimum: bound(0), Maximum: bound(100)},
				"severityFailLevel": {Type: "string", Description: "Lowest vulnerability severity that fails the scan, default high", Enum: workflow.Severities},
				"name":              {Type: "string", Description: "Template name, default ci-pipeline"},
			},
			Required: []string{"languages"},
		},
	)
}

func (t *WorkflowTool) Validate(arguments json.RawMessage) (any, error) {
	return DecodeArgs[workflowArgs]("generate_workflow_template", arguments)
}

func (t *WorkflowTool) Execute(ctx context.Context, v any) (any, error) {
	args, ok := v.(*workflowArgs)
	if !ok {
		return nil, fmt.Errorf("generate_workflow_template: unexpected argument type %T", v)
	}
	tmpl, err := workflow.Generate(workflow.Params{
		Name:              args.Name,
		Languages:         args.Languages,
		CoverageThreshold: *args.CoverageThreshold,
		SeverityFailLevel: args.SeverityFailLevel,
	})
	if err != nil {
		return nil, &apperrors.ValidationError{Tool: "generate_workflow_template", Reason: err.Error()}
	}
	manifest, err := workflow.Render(tmpl)
	if err != nil {
		return nil, err
	}
	return WorkflowResult{Name: tmpl.Metadata.Name, Manifest: manifest}, nil
}

package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowTool_DefaultsAndDeterminism(t *testing.T) {
	tool := NewWorkflowTool()

	render := func(args string) WorkflowResult {
		res := Invoke(context.Background(), tool, call("1", "generate_workflow_template", args))
		require.False(t, res.Failed(), "%+v", res.Error)
		var out WorkflowResult
		require.NoError(t, json.Unmarshal(res.Output, &out))
		return out
	}

	a := render(`{"languages":["go","node"]}`)
	assert.Equal(t, "ci-pipeline", a.Name)
	assert.Contains(t, a.Manifest, `value: "80"`)
	assert.Contains(t, a.Manifest, "HIGH,CRITICAL")

	b := render(`{"languages":["node","go"],"coverageThreshold":80,"severityFailLevel":"high"}`)
	assert.Equal(t, a.Manifest, b.Manifest)

	zero := render(`{"languages":["go"],"coverageThreshold":0}`)
	assert.Contains(t, zero.Manifest, `value: "0"`)
}

func TestWorkflowTool_Validation(t *testing.T) {
	tool := NewWorkflowTool()
	for _, args := range []string{
		`{"languages":[]}`,
		`{"languages":["cobol"]}`,
		`{"languages":["go"],"coverageThreshold":120}`,
		`{"languages":["go"],"severityFailLevel":"urgent"}`,
	} {
		res := Invoke(context.Background(), tool, call("1", "generate_workflow_template", args))
		require.True(t, res.Failed(), args)
		assert.Equal(t, string(apperrors.KindValidation), res.Error.Kind, args)
	}
}

func TestWorkflowTool_DefinitionListsLanguages(t *testing.T) {
	def := NewWorkflowTool().Definition()
	items := def.Function.Parameters.Properties["languages"].Items
	require.NotNil(t, items)
	assert.Equal(t, []string{"go", "java", "node", "python"}, items.Enum)
}

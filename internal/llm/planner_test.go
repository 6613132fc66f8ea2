package llm

import (
	"context"
	"testing"

	"github.com/antoine1anthony/sprout-ci/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var plannerTools = []tools.Tool{
	tools.NewFunctionTool("provision_cluster", "", tools.JSONSchema{Type: "object"}),
	tools.NewFunctionTool("install_gitops", "", tools.JSONSchema{Type: "object"}),
	tools.NewFunctionTool("evaluate_stability", "", tools.JSONSchema{Type: "object"}),
}

func TestPlanner_DeployFlow(t *testing.T) {
	p := NewPlanner()
	ctx := context.Background()
	history := []Message{{Role: RoleUser, Content: "Please deploy service Checkout"}}

	res, err := p.Generate(ctx, history, nil, plannerTools)
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "provision_cluster", res.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"clusterName":"checkout-ci"}`, res.ToolCalls[0].Function.Arguments)

	history = append(history,
		Message{Role: RoleAssistant, ToolCalls: res.ToolCalls},
		Message{Role: RoleTool, Name: "provision_cluster", ToolCallID: res.ToolCalls[0].ID,
			Content: `{"ok":true,"output":{"clusterName":"checkout-ci","ready":true,"status":"ACTIVE","endpoint":"https://abc.eks.local"}}`},
	)
	res, err = p.Generate(ctx, history, nil, plannerTools)
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "install_gitops", res.ToolCalls[0].Function.Name)

	history = append(history,
		Message{Role: RoleAssistant, ToolCalls: res.ToolCalls},
		Message{Role: RoleTool, Name: "install_gitops", ToolCallID: res.ToolCalls[0].ID,
			Content: `{"ok":true,"output":{"clusterName":"checkout-ci","namespace":"argo","urls":{"cd":"https://cd","workflows":"https://wf"}}}`},
	)
	res, err = p.Generate(ctx, history, nil, plannerTools)
	require.NoError(t, err)
	assert.Empty(t, res.ToolCalls)
	assert.Contains(t, res.Content, "https://abc.eks.local")
	assert.Contains(t, res.Content, "cd: https://cd")
}

func TestPlanner_ReportsToolFailure(t *testing.T) {
	res, err := NewPlanner().Generate(context.Background(), []Message{
		{Role: RoleUser, Content: "deploy x"},
		{Role: RoleTool, Name: "provision_cluster", Content: `{"ok":false,"error":{"kind":"external_service_error","message":"throttled"}}`},
	}, nil, plannerTools)
	require.NoError(t, err)
	assert.Contains(t, res.Content, "throttled")
}

func TestPlanner_PendingCluster(t *testing.T) {
	res, err := NewPlanner().Generate(context.Background(), []Message{
		{Role: RoleUser, Content: "deploy x"},
		{Role: RoleTool, Name: "provision_cluster", Content: `{"ok":true,"output":{"clusterName":"x-ci","ready":false,"status":"CREATING"}}`},
	}, nil, plannerTools)
	require.NoError(t, err)
	assert.Empty(t, res.ToolCalls)
	assert.Contains(t, res.Content, "CREATING")
}

func TestPlanner_Stability(t *testing.T) {
	res, err := NewPlanner().Generate(context.Background(), []Message{{Role: RoleUser, Content: "is the deployment for payments stable?"}}, nil, plannerTools)
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "evaluate_stability", res.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"namespace":"default","deploymentName":"payments"}`, res.ToolCalls[0].Function.Arguments)
}

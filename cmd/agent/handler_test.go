package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/api"
	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/controlplane"
	"github.com/antoine1anthony/sprout-ci/internal/gitops"
	"github.com/antoine1anthony/sprout-ci/internal/llm"
	"github.com/antoine1anthony/sprout-ci/internal/orchestrator"
	"github.com/antoine1anthony/sprout-ci/internal/session"
	"github.com/antoine1anthony/sprout-ci/internal/tools"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubRunner returns err, or a canned turn.
type stubRunner struct {
	err         error
	gotText     string
	gotToken    string
	sawDeadline bool
}

func (s *stubRunner) Run(ctx context.Context, text, token string) (*orchestrator.Turn, error) {
	s.gotText, s.gotToken = text, token
	_, s.sawDeadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return &orchestrator.Turn{Response: "done", ContinuationToken: "next", Rounds: 2}, nil
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg, err := tools.NewSealedRegistry(tools.NewWorkflowTool())
	require.NoError(t, err)
	return reg
}

func postChat(t *testing.T, engine *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHandleChat_Success(t *testing.T) {
	runner := &stubRunner{}
	engine := newRouter(NewAgentHandler(runner, testRegistry(t), time.Minute, zerolog.Nop()))

	w := postChat(t, engine, `{"message":"deploy shop","continuationToken":"prev"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "done", resp.Response)
	assert.Equal(t, "next", resp.ContinuationToken)
	assert.Equal(t, 2, resp.Rounds)
	assert.Equal(t, "deploy shop", runner.gotText)
	assert.Equal(t, "prev", runner.gotToken)
	assert.True(t, runner.sawDeadline)
}

func TestHandleChat_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"unknown token", session.ErrNotFound, http.StatusNotFound, "session_not_found"},
		{"loop exceeded", &apperrors.ToolLoopExceededError{Rounds: 8}, http.StatusUnprocessableEntity, "tool_loop_exceeded"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"protocol", &apperrors.ProtocolError{Reason: "duplicate tool call id"}, http.StatusBadGateway, "protocol_error"},
		{"unknown tool", &apperrors.UnknownToolError{Name: "rm_rf"}, http.StatusBadGateway, "unknown_tool"},
		{"backend down", errors.New("dial tcp: refused"), http.StatusBadGateway, "execution_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newRouter(NewAgentHandler(&stubRunner{err: tt.err}, testRegistry(t), 0, zerolog.Nop()))
			w := postChat(t, engine, `{"message":"hi"}`)
			assert.Equal(t, tt.status, w.Code)

			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandleChat_LoopExceededMessage(t *testing.T) {
	engine := newRouter(NewAgentHandler(&stubRunner{err: &apperrors.ToolLoopExceededError{Rounds: 8}}, testRegistry(t), 0, zerolog.Nop()))
	w := postChat(t, engine, `{"message":"hi"}`)
	assert.Contains(t, w.Body.String(), "unable to complete request")
}

func TestHandleChat_BadRequest(t *testing.T) {
	runner := &stubRunner{}
	engine := newRouter(NewAgentHandler(runner, testRegistry(t), 0, zerolog.Nop()))

	for _, body := range []string{`{}`, `{"message":`, `[]`} {
		w := postChat(t, engine, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, runner.gotText)
}

func TestHandleTools_ListsDescriptors(t *testing.T) {
	engine := newRouter(NewAgentHandler(&stubRunner{}, testRegistry(t), 0, zerolog.Nop()))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tools []tools.Tool `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tools, 1)
	assert.Equal(t, "generate_workflow_template", resp.Tools[0].Function.Name)
}

func TestHealthAndMetrics(t *testing.T) {
	engine := newRouter(NewAgentHandler(&stubRunner{}, testRegistry(t), 0, zerolog.Nop()))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"Tools":"v1.2"`)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChat_MultiTurnOverHTTP(t *testing.T) {
	cp := controlplane.NewMemory()
	reg, err := tools.NewSealedRegistry(
		tools.NewClusterTool(cp, time.Second, time.Millisecond),
		tools.NewGitOpsTool(cp, gitops.StaticProber{}, &gitops.MemoryInstaller{}),
	)
	require.NoError(t, err)
	store := session.NewMemoryStore(16, time.Hour)
	orch := orchestrator.New(llm.NewPlanner(), reg, store, orchestrator.DefaultConfig(), zerolog.Nop())
	engine := newRouter(NewAgentHandler(orch, reg, time.Minute, zerolog.Nop()))

	w := postChat(t, engine, `{"message":"deploy service inventory"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first api.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, 2, first.Rounds)
	require.Len(t, first.ToolInvocations, 2)
	assert.Equal(t, "provision_cluster", first.ToolInvocations[0].Tool)

	cluster, err := cp.DescribeCluster(context.Background(), "inventory-ci")
	require.NoError(t, err)
	assert.Contains(t, first.Response, cluster.Endpoint)

	w = postChat(t, engine, `{"message":"deploy service inventory","continuationToken":"`+first.ContinuationToken+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, cp.ClusterCount())

	w = postChat(t, engine, `{"message":"hi","continuationToken":"bogus"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/api"
	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/orchestrator"
	"github.com/antoine1anthony/sprout-ci/internal/session"
	"github.com/antoine1anthony/sprout-ci/internal/tools"
	componentversion "github.com/antoine1anthony/sprout-ci/internal/version"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// statusClientClosedRequest is logged when the caller hung up mid-turn.
const statusClientClosedRequest = 499

// turnRunner is satisfied by *orchestrator.Orchestrator.
type turnRunner interface {
	Run(ctx context.Context, userText, continuationToken string) (*orchestrator.Turn, error)
}

type AgentHandler struct {
	runner      turnRunner
	registry    *tools.Registry
	turnTimeout time.Duration
	logger      zerolog.Logger
}

func NewAgentHandler(runner turnRunner, registry *tools.Registry, turnTimeout time.Duration, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{runner: runner, registry: registry, turnTimeout: turnTimeout, logger: logger}
}

// newRouter mounts every route on a fresh engine.
func newRouter(h *AgentHandler) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(h.logger))

	engine.GET("/healthz", h.HandleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/chat", h.HandleChat)
		v1.GET("/tools", h.HandleTools)
	}
	return engine
}

func (h *AgentHandler) HandleChat(c *gin.Context) {
	startTime := time.Now()
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request: " + err.Error(), Kind: string(apperrors.KindValidation)})
		return
	}

	ctx := c.Request.Context()
	if h.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.turnTimeout)
		defer cancel()
	}

	turn, err := h.runner.Run(ctx, req.Message, req.ContinuationToken)
	if err != nil {
		status, body := errorResponse(err)
		h.logger.Warn().Err(err).Int("status", status).Msg("chat turn failed")
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, api.ChatResponse{
		Response:          turn.Response,
		ContinuationToken: turn.ContinuationToken,
		Rounds:            turn.Rounds,
		ToolInvocations:   turn.Invocations,
		Usage:             turn.Usage,
		LatencyMS:         time.Since(startTime).Milliseconds(),
	})
}

// errorResponse maps an aborted turn onto the caller-facing status codes.
func errorResponse(err error) (int, api.ErrorResponse) {
	var loop *apperrors.ToolLoopExceededError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, api.ErrorResponse{Error: "unknown or expired continuation token", Kind: "session_not_found"}
	case errors.As(err, &loop):
		return http.StatusUnprocessableEntity, api.ErrorResponse{Error: loop.Error(), Kind: string(loop.Kind())}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, api.ErrorResponse{Error: "turn timed out", Kind: "timeout"}
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, api.ErrorResponse{Error: "request cancelled", Kind: "cancelled"}
	default:
		return http.StatusBadGateway, api.ErrorResponse{Error: err.Error(), Kind: string(apperrors.KindOf(err))}
	}
}

func (h *AgentHandler) HandleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.registry.Descriptors()})
}

func (h *AgentHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"build":      GetBuildInfo(),
		"components": componentversion.ComponentVersions,
		"tools":      h.registry.Count(),
	})
}

func accessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

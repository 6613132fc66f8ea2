// Package orchestrator drives one user turn against the reasoning backend:
// it advertises the tool registry, executes the tool calls the backend asks
// for, feeds the results back and stops at the first final answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/api"
	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/llm"
	"github.com/antoine1anthony/sprout-ci/internal/observability"
	"github.com/antoine1anthony/sprout-ci/internal/session"
	"github.com/antoine1anthony/sprout-ci/internal/tools"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// State is the position of a turn in the orchestration loop.
type State int

const (
	AwaitingBackend State = iota
	BackendResponded
	ExecutingTools
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingBackend:
		return "awaiting_backend"
	case BackendResponded:
		return "backend_responded"
	case ExecutingTools:
		return "executing_tools"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultSystemPrompt frames the backend as the CI/CD agent. Changing it
// requires bumping version.ComponentVersions.Prompt.
const DefaultSystemPrompt = `You are Sprout, a CI/CD agent. You set up build and deployment pipelines by calling the tools you are given.
Call tools instead of describing what you would do. Independent calls may be made together in one response.
Every tool result is JSON with "ok". When ok is false, read error.kind: retry only when error.retryable is true, fix your arguments on validation_error, and otherwise explain the failure.
When the work is finished, answer with a short summary that includes every URL the tools returned, copied exactly.`

// Config bounds a turn.
type Config struct {
	// MaxToolRounds is the number of tool rounds a single turn may execute.
	MaxToolRounds  int
	ToolTimeout    time.Duration
	BackendTimeout time.Duration
	SystemPrompt   string
	Model          string
	MaxTokens      int
	Temperature    *float32
}

func DefaultConfig() Config {
	return Config{
		MaxToolRounds:  8,
		ToolTimeout:    10 * time.Minute,
		BackendTimeout: 2 * time.Minute,
		SystemPrompt:   DefaultSystemPrompt,
	}
}

// Turn is the outcome of a completed turn.
type Turn struct {
	Response          string
	ContinuationToken string
	Rounds            int
	Invocations       []api.ToolInvocation
	Usage             api.Usage
}

// Orchestrator is safe for concurrent use; every Run owns its own history.
type Orchestrator struct {
	backend  llm.LLMClient
	registry *tools.Registry
	store    session.Store
	cfg      Config
	logger   zerolog.Logger

	newToken func() string
	now      func() time.Time
}

func New(backend llm.LLMClient, registry *tools.Registry, store session.Store, cfg Config, logger zerolog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = def.MaxToolRounds
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = def.BackendTimeout
	}
	return &Orchestrator{
		backend:  backend,
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		newToken: uuid.NewString,
		now:      time.Now,
	}
}

// turn is the per-call state of Run.
type turn struct {
	state       State
	messages    []llm.Message
	responseID  string
	turns       int
	rounds      int
	invocations []api.ToolInvocation
	usage       api.Usage
	log         zerolog.Logger
}

func (t *turn) enter(s State) {
	t.log.Debug().Str("from", t.state.String()).Str("to", s.String()).Int("round", t.rounds).Msg("transition")
	t.state = s
}

// Run executes one user turn. An empty continuationToken starts a new
// conversation; an unknown one returns session.ErrNotFound. The returned
// Turn carries a new token; the one passed in is not reused. A turn that
// fails is not persisted.
func (o *Orchestrator) Run(ctx context.Context, userText, continuationToken string) (*Turn, error) {
	t := &turn{
		state: AwaitingBackend,
		log:   o.logger.With().Str("session", observability.NewSessionID()).Logger(),
	}

	if continuationToken != "" {
		prev, err := o.store.Load(ctx, continuationToken)
		if err != nil {
			observability.RecordTurn(outcome(err), 0)
			return nil, err
		}
		t.messages = prev.Messages
		t.responseID = prev.ResponseID
		t.turns = prev.Turns
	} else if o.cfg.SystemPrompt != "" {
		t.messages = []llm.Message{{Role: llm.RoleSystem, Content: o.cfg.SystemPrompt}}
	}
	t.messages = append(t.messages, llm.Message{Role: llm.RoleUser, Content: userText})

	res, err := o.loop(ctx, t)
	if err != nil {
		observability.RecordTurn(outcome(err), t.rounds)
		t.log.Warn().Err(err).Int("rounds", t.rounds).Str("state", t.state.String()).Msg("turn aborted")
		return nil, err
	}
	observability.RecordTurn("success", t.rounds)
	return res, nil
}

func (o *Orchestrator) loop(ctx context.Context, t *turn) (*Turn, error) {
	descriptors := o.registry.Descriptors()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := o.callBackend(ctx, t, descriptors)
		if err != nil {
			return nil, err
		}
		t.enter(BackendResponded)

		if len(result.ToolCalls) == 0 {
			if result.Content == "" {
				return nil, &apperrors.ProtocolError{Reason: "backend returned neither content nor tool calls"}
			}
			t.messages = append(t.messages, llm.Message{Role: llm.RoleAssistant, Content: result.Content})
			t.enter(Done)
			return o.finish(ctx, t, result.Content)
		}

		if t.rounds >= o.cfg.MaxToolRounds {
			return nil, &apperrors.ToolLoopExceededError{Rounds: t.rounds}
		}
		executors, err := o.resolve(result.ToolCalls)
		if err != nil {
			return nil, err
		}

		t.rounds++
		t.enter(ExecutingTools)
		t.messages = append(t.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		results := o.dispatch(ctx, t, result.ToolCalls, executors)
		if err := checkBatch(result.ToolCalls, results); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, r := range results {
			t.messages = append(t.messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: r.CallID,
				Name:       r.Tool,
				Content:    r.Content(),
			})
			inv := api.ToolInvocation{Round: t.rounds, CallID: r.CallID, Tool: r.Tool, OK: !r.Failed()}
			if r.Failed() {
				inv.ErrorKind = r.Error.Kind
			}
			t.invocations = append(t.invocations, inv)
		}
		t.enter(AwaitingBackend)
	}
}

func (o *Orchestrator) callBackend(ctx context.Context, t *turn, descriptors []tools.Tool) (*llm.GenerationResult, error) {
	bctx, cancel := context.WithTimeout(ctx, o.cfg.BackendTimeout)
	defer cancel()

	cfg := &llm.GenerationConfig{
		Model:             o.cfg.Model,
		MaxTokens:         o.cfg.MaxTokens,
		Temperature:       o.cfg.Temperature,
		ContinuationToken: t.responseID,
	}
	started := time.Now()
	result, err := o.backend.Generate(bctx, t.messages, cfg, descriptors)
	observability.RecordBackendCall(started, err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("backend call after %d tool rounds: %w", t.rounds, err)
	}
	if result == nil {
		return nil, &apperrors.ProtocolError{Reason: "backend returned an empty response"}
	}
	t.usage.Add(result.Usage)
	if result.ResponseID != "" {
		t.responseID = result.ResponseID
	}
	return result, nil
}

// resolve validates a whole batch before any of it runs.
func (o *Orchestrator) resolve(calls []*tools.ToolCall) ([]tools.ToolExecutor, error) {
	seen := make(map[string]struct{}, len(calls))
	executors := make([]tools.ToolExecutor, len(calls))
	for i, call := range calls {
		if call == nil {
			return nil, &apperrors.ProtocolError{Reason: fmt.Sprintf("tool call %d is empty", i)}
		}
		if call.ID == "" {
			return nil, &apperrors.ProtocolError{Reason: fmt.Sprintf("tool call %d (%s) has no id", i, call.Function.Name)}
		}
		if _, dup := seen[call.ID]; dup {
			return nil, &apperrors.ProtocolError{Reason: fmt.Sprintf("duplicate tool call id %q", call.ID)}
		}
		seen[call.ID] = struct{}{}

		executor, err := o.registry.Resolve(call.Function.Name)
		if err != nil {
			return nil, err
		}
		executors[i] = executor
	}
	return executors, nil
}

// dispatch runs every call concurrently, each under its own timeout, and
// returns the results in request order.
func (o *Orchestrator) dispatch(ctx context.Context, t *turn, calls []*tools.ToolCall, executors []tools.ToolExecutor) []tools.Result {
	results := make([]tools.Result, len(calls))

	var g errgroup.Group
	for i := range calls {
		g.Go(func() error {
			call := calls[i]
			log := t.log.With().Int("round", t.rounds).Str("tool", call.Function.Name).Str("call_id", call.ID).Logger()

			tctx, cancel := context.WithTimeout(ctx, o.cfg.ToolTimeout)
			defer cancel()

			started := time.Now()
			results[i] = invoke(tctx, executors[i], call, log)

			status := "ok"
			if results[i].Failed() {
				status = results[i].Error.Kind
				log.Warn().Str("kind", status).Str("error", results[i].Error.Message).Dur("took", time.Since(started)).Msg("tool failed")
			} else {
				log.Info().Dur("took", time.Since(started)).Msg("tool succeeded")
			}
			observability.RecordToolInvocation(call.Function.Name, status, started)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// invoke keeps a panicking executor from taking the process down with it.
func invoke(ctx context.Context, executor tools.ToolExecutor, call *tools.ToolCall, log zerolog.Logger) (res tools.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = tools.Result{
				CallID: call.ID,
				Tool:   call.Function.Name,
				Error: &tools.ResultError{
					Kind:    string(apperrors.KindExecution),
					Message: fmt.Sprintf("tool panicked: %v", r),
				},
			}
			log.Error().Str("stack", string(debug.Stack())).Msg("tool panicked")
		}
	}()
	return tools.Invoke(ctx, executor, call)
}

// checkBatch enforces one result per request, paired by id.
func checkBatch(calls []*tools.ToolCall, results []tools.Result) error {
	if len(results) != len(calls) {
		return &apperrors.ProtocolError{Reason: fmt.Sprintf("%d results for %d tool calls", len(results), len(calls))}
	}
	for i, call := range calls {
		if results[i].CallID != call.ID {
			return &apperrors.ProtocolError{Reason: fmt.Sprintf("missing result for tool call %q", call.ID)}
		}
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, t *turn, response string) (*Turn, error) {
	token := o.newToken()
	st := &session.State{
		Token:      token,
		Messages:   t.messages,
		ResponseID: t.responseID,
		Turns:      t.turns + 1,
		UpdatedAt:  o.now().UTC(),
	}
	if err := o.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	t.log.Info().Int("rounds", t.rounds).Int("tool_calls", len(t.invocations)).Int("tokens", t.usage.TotalTokens).Msg("turn completed")

	return &Turn{
		Response:          response,
		ContinuationToken: token,
		Rounds:            t.rounds,
		Invocations:       t.invocations,
		Usage:             t.usage,
	}, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, session.ErrNotFound):
		return "session_not_found"
	default:
		return string(apperrors.KindOf(err))
	}
}

// In file: internal/llm/scripted.go
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/tools"
)

// Step produces one backend reply from the conversation so far.
type Step func(messages []Message, availableTools []tools.Tool) (*GenerationResult, error)

// ScriptedClient replays a fixed sequence of steps, one per Generate call.
// It records every request so tests can inspect what the backend was sent.
type ScriptedClient struct {
	mu       sync.Mutex
	steps    []Step
	next     int
	requests [][]Message
	configs  []GenerationConfig
}

var _ LLMClient = (*ScriptedClient)(nil)

func NewScriptedClient(steps ...Step) *ScriptedClient {
	return &ScriptedClient{steps: steps}
}

func (s *ScriptedClient) Generate(ctx context.Context, messages []Message, config *GenerationConfig, availableTools []tools.Tool) (*GenerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	snapshot := append([]Message(nil), messages...)
	s.requests = append(s.requests, snapshot)
	if config != nil {
		s.configs = append(s.configs, *config)
	} else {
		s.configs = append(s.configs, GenerationConfig{})
	}
	if s.next >= len(s.steps) {
		s.mu.Unlock()
		return nil, &apperrors.ProtocolError{Reason: fmt.Sprintf("script exhausted after %d replies", len(s.steps))}
	}
	step := s.steps[s.next]
	s.next++
	s.mu.Unlock()

	res, err := step(snapshot, availableTools)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &apperrors.ProtocolError{Reason: fmt.Sprintf("scripted reply %d is empty", s.Calls())}
	}
	if res.ResponseID == "" {
		res.ResponseID = fmt.Sprintf("scripted-%d", s.Calls())
	}
	return res, nil
}

// Calls returns the number of Generate calls made so far.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Request returns the messages sent on the i-th call.
func (s *ScriptedClient) Request(i int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

// Config returns the generation config sent on the i-th call.
func (s *ScriptedClient) Config(i int) GenerationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs[i]
}

// Reply answers with final content.
func Reply(content string) Step {
	return func([]Message, []tools.Tool) (*GenerationResult, error) {
		return &GenerationResult{Content: content}, nil
	}
}

// CallTools requests the given tool calls.
func CallTools(calls ...*tools.ToolCall) Step {
	return func([]Message, []tools.Tool) (*GenerationResult, error) {
		out := make([]*tools.ToolCall, len(calls))
		for i, c := range calls {
			cp := *c
			out[i] = &cp
		}
		return &GenerationResult{ToolCalls: out}, nil
	}
}

// Fail makes the step return err.
func Fail(err error) Step {
	return func([]Message, []tools.Tool) (*GenerationResult, error) {
		return nil, err
	}
}

// NewToolCall builds a function call request.
func NewToolCall(id, name, arguments string) *tools.ToolCall {
	return &tools.ToolCall{
		ID:       id,
		Type:     tools.ToolTypeFunction,
		Function: tools.ToolCallFunction{Name: name, Arguments: arguments},
	}
}

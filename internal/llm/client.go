// In file: internal/llm/client.go
package llm

import (
	"context"

	"github.com/antoine1anthony/sprout-ci/internal/api"
	"github.com/antoine1anthony/sprout-ci/internal/tools"
)

// =================================================================================
// Core Data Structures
// =================================================================================

// Role represents the originator of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation history. Name is
// the tool that produced a RoleTool message; Gemini needs it to pair a
// function response with its call.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
	ToolCalls  []*tools.ToolCall `json:"tool_calls,omitempty"`
}

// GenerationConfig holds the parameters that control one backend call.
type GenerationConfig struct {
	// The specific model to use for the generation (e.g., "gpt-4o", "gemini-1.5-pro").
	Model string
	// Controls randomness. Using a pointer distinguishes 0.0 from unset.
	Temperature *float32
	// The maximum number of tokens to generate in the response.
	MaxTokens int
	TopP      *float32
	// ContinuationToken is the backend's id for the previous response in this
	// conversation, if the backend issued one.
	ContinuationToken string
}

// GenerationResult is the backend's reply: final content, or tool calls.
type GenerationResult struct {
	// The generated text content from the model.
	Content string
	// Tool calls requested by the model. Several may be requested at once.
	ToolCalls []*tools.ToolCall
	// ResponseID is the backend's identifier for this response, when it has one.
	ResponseID string
	// Token usage statistics for the generation request.
	Usage api.Usage
}

// =================================================================================
// LLM Client Interface
// =================================================================================

// LLMClient is the interface every reasoning backend implements.
type LLMClient interface {
	// Generate performs a blocking request with the full conversation history
	// and the tools the model may call. Implementations must honor ctx.
	Generate(
		ctx context.Context,
		messages []Message,
		config *GenerationConfig,
		availableTools []tools.Tool,
	) (*GenerationResult, error)
}

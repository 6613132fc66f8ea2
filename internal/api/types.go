// In file: internal/api/types.go

// Package api holds the request and response shapes of the caller-facing
// HTTP surface, shared by the server and the CLI client.
package api

// ChatRequest starts a new conversation, or continues one when
// ContinuationToken is set.
type ChatRequest struct {
	Message           string `json:"message" binding:"required"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// ChatResponse is returned once the backend produced a final answer.
type ChatResponse struct {
	Response          string           `json:"response"`
	ContinuationToken string           `json:"continuationToken"`
	Rounds            int              `json:"rounds"`
	ToolInvocations   []ToolInvocation `json:"toolInvocations,omitempty"`
	Usage             Usage            `json:"usage"`
	LatencyMS         int64            `json:"latency_ms"`
}

// ToolInvocation summarizes one tool call executed during the turn.
type ToolInvocation struct {
	Round     int    `json:"round"`
	CallID    string `json:"callId"`
	Tool      string `json:"tool"`
	OK        bool   `json:"ok"`
	ErrorKind string `json:"errorKind,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Usage tracks token consumption reported by the reasoning backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// In file: internal/tools/types.go

// Package tools defines the tool registry of the CI/CD agent and the action
// executors it advertises to the reasoning backend. The types here are a
// provider-agnostic representation of tools that each backend client
// translates into its own wire format (OpenAI, Gemini).
package tools

import "encoding/json"

// ToolTypeFunction is the standard type for function-based tools.
const ToolTypeFunction = "function"

// Tool is the descriptor advertised to the backend: name, description and
// the JSON-schema-shaped argument contract.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function defines the name, description, and parameters of a callable tool.
type Function struct {
	// Name is unique within a registry (e.g., "provision_cluster").
	Name string `json:"name"`
	// Description is what the backend reads to decide when to use the tool.
	Description string `json:"description"`
	// Parameters defines the arguments the function accepts.
	Parameters JSONSchema `json:"parameters"`
}

// JSONSchema is the subset of JSON Schema used for tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
}

// ToolCall is an invocation request *from* the backend. ID correlates the
// request with its result.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction holds the name and raw JSON arguments of a call. The
// arguments are untrusted until a tool's Validate accepts them.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Result is the outcome of exactly one ToolCall. Exactly one of Output and
// Error is set.
type Result struct {
	CallID string          `json:"call_id"`
	Tool   string          `json:"tool"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  *ResultError    `json:"error,omitempty"`
}

// ResultError is the structured failure sent back to the backend in place of output.
type ResultError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Failed reports whether the invocation produced an error.
func (r Result) Failed() bool { return r.Error != nil }

// Content renders the result as the tool-message body the backend receives.
func (r Result) Content() string {
	var payload any
	if r.Error != nil {
		payload = struct {
			OK    bool         `json:"ok"`
			Error *ResultError `json:"error"`
		}{false, r.Error}
	} else {
		payload = struct {
			OK     bool            `json:"ok"`
			Output json.RawMessage `json:"output"`
		}{true, r.Output}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return `{"ok":false,"error":{"kind":"execution_error","message":"unencodable result"}}`
	}
	return string(b)
}

// NewFunctionTool builds a Tool with the "function" type.
func NewFunctionTool(name, description string, parameters JSONSchema) Tool {
	return Tool{
		Type: ToolTypeFunction,
		Function: Function{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

func bound(v float64) *float64 { return &v }

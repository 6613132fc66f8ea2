// In file: internal/llm/openai_client.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/api"
	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/resilience"
	"github.com/antoine1anthony/sprout-ci/internal/tools"
)

// openAIRequest defines the top-level structure for a chat completions call.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float32        `json:"temperature,omitempty"`
	TopP        *float32        `json:"top_p,omitempty"`
	// ParallelToolCalls lets the model request a whole batch in one response.
	ParallelToolCalls *bool `json:"parallel_tool_calls,omitempty"`
}

// openAIMessage represents a single message in a conversation.
type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []tools.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// openAITool defines the structure for a tool that the API can use.
type openAITool struct {
	Type     string         `json:"type"`
	Function tools.Function `json:"function"`
}

// openAIResponse is the structure of a successful response from the API.
type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage api.Usage `json:"usage"`
}

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	maxErrorBodyBytes    = 4096
)

// OpenAIConfig configures the chat completions client.
type OpenAIConfig struct {
	APIKey string
	// BaseURL points at any OpenAI-compatible endpoint; defaults to the public API.
	BaseURL string
	Timeout time.Duration
	Retry   *resilience.RetryConfig
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	retry      *resilience.RetryConfig
}

// Statically verify that OpenAIClient implements the LLMClient interface.
var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates a new, configured client for the OpenAI API.
// The model is chosen per request via GenerationConfig.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key cannot be empty")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retry := cfg.Retry
	if retry == nil {
		retry = &resilience.RetryConfig{
			MaxAttempts:       maxRetries,
			InitialBackoff:    initialRetryDelay,
			MaxBackoff:        maxRetryDelay,
			BackoffMultiplier: 2,
		}
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		endpoint:   base + "/chat/completions",
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
	}, nil
}

// Generate performs a standard, blocking request to the OpenAI API.
func (c *OpenAIClient) Generate(
	ctx context.Context,
	messages []Message,
	config *GenerationConfig,
	availableTools []tools.Tool,
) (*GenerationResult, error) {
	if config == nil {
		return nil, errors.New("generation config is required")
	}
	payload, err := c.buildRequestPayload(messages, config, availableTools)
	if err != nil {
		return nil, fmt.Errorf("failed to build openai request payload: %w", err)
	}

	var respBody []byte
	err = resilience.Retry(ctx, c.retry, nil, func(ctx context.Context) error {
		var err error
		respBody, err = c.doRequest(ctx, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseOpenAIResponse(respBody)
}

// buildRequestPayload constructs the JSON body for the OpenAI API call.
func (c *OpenAIClient) buildRequestPayload(messages []Message, config *GenerationConfig, availableTools []tools.Tool) ([]byte, error) {
	openAITools := toOpenAITools(availableTools)

	req := openAIRequest{
		Model:       config.Model,
		Messages:    toOpenAIMessages(messages),
		Tools:       openAITools,
		Temperature: config.Temperature,
		TopP:        config.TopP,
	}
	if config.MaxTokens > 0 {
		req.MaxTokens = config.MaxTokens
	}
	if len(openAITools) > 0 {
		parallel := true
		req.ToolChoice = "auto"
		req.ParallelToolCalls = &parallel
	}

	payloadBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	return payloadBytes, nil
}

// doRequest performs one HTTP call. Non-2xx replies become ExternalServiceErrors
// so the retry policy can tell throttling and outages from bad requests.
func (c *OpenAIClient) doRequest(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperrors.ExternalServiceError{Service: "openai", Op: "chat completions", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.ExternalServiceError{Service: "openai", Op: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return nil, &apperrors.ExternalServiceError{
			Service:    "openai",
			Op:         "chat completions",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}
	return body, nil
}

// toOpenAIMessages converts our internal message slice to the OpenAI API format.
func toOpenAIMessages(messages []Message) []openAIMessage {
	openAIMsgs := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		m := openAIMessage{Role: string(msg.Role), Content: msg.Content}
		switch msg.Role {
		case RoleTool:
			m.ToolCallID = msg.ToolCallID
		case RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				m.ToolCalls = make([]tools.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					m.ToolCalls[i] = *tc
				}
			}
		}
		openAIMsgs = append(openAIMsgs, m)
	}
	return openAIMsgs
}

// toOpenAITools converts our internal tool slice to the OpenAI API format.
func toOpenAITools(availableTools []tools.Tool) []openAITool {
	if len(availableTools) == 0 {
		return nil
	}
	openAITools := make([]openAITool, 0, len(availableTools))
	for _, tool := range availableTools {
		openAITools = append(openAITools, openAITool{
			Type:     tools.ToolTypeFunction,
			Function: tool.Function,
		})
	}
	return openAITools
}

// parseOpenAIResponse converts a full OpenAI API response to our internal GenerationResult.
func parseOpenAIResponse(body []byte) (*GenerationResult, error) {
	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return nil, &apperrors.ProtocolError{Reason: "unparseable openai response: " + err.Error()}
	}
	if len(openAIResp.Choices) == 0 {
		return nil, &apperrors.ProtocolError{Reason: "no choices returned from OpenAI"}
	}

	choice := openAIResp.Choices[0]
	result := &GenerationResult{
		Content:    choice.Message.Content,
		ResponseID: openAIResp.ID,
		Usage:      openAIResp.Usage,
	}

	if len(choice.Message.ToolCalls) > 0 {
		result.ToolCalls = make([]*tools.ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, &tools.ToolCall{
				ID:   tc.ID,
				Type: tools.ToolTypeFunction,
				Function: tools.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}
	return result, nil
}

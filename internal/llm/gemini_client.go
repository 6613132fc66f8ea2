// In file: internal/llm/gemini_client.go
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/antoine1anthony/sprout-ci/internal/resilience"
	"github.com/antoine1anthony/sprout-ci/internal/tools"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiClient is the client for interacting with Google's Gemini models.
type GeminiClient struct {
	client  *genai.Client
	modelID string
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

var _ LLMClient = (*GeminiClient)(nil)

// NewGeminiClient uses modelID when a request does not name a model.
func NewGeminiClient(ctx context.Context, apiKey, modelID string, logger zerolog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		client:  client,
		modelID: modelID,
		retry: &resilience.RetryConfig{
			MaxAttempts:       maxRetries,
			InitialBackoff:    initialRetryDelay,
			MaxBackoff:        maxRetryDelay,
			BackoffMultiplier: 2,
		},
		logger: logger,
	}, nil
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Generate performs a standard, blocking request to the Gemini API. A model
// handle is built per call, so concurrent sessions never share settings.
func (c *GeminiClient) Generate(
	ctx context.Context,
	messages []Message,
	config *GenerationConfig,
	availableTools []tools.Tool,
) (*GenerationResult, error) {
	if len(messages) == 0 {
		return nil, errors.New("at least one message is required")
	}
	modelID := c.modelID
	if config != nil && config.Model != "" {
		modelID = config.Model
	}
	model := c.client.GenerativeModel(modelID)
	configureModel(model, config, availableTools)

	system, contents, err := toGeminiContents(messages)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, errors.New("conversation has no user content")
	}
	model.SystemInstruction = system

	var resp *genai.GenerateContentResponse
	err = resilience.Retry(ctx, c.retry, nil, func(ctx context.Context) error {
		chat := model.StartChat()
		chat.History = contents[:len(contents)-1]
		var err error
		resp, err = chat.SendMessage(ctx, contents[len(contents)-1].Parts...)
		return classifyGeminiError(ctx, err)
	})
	if err != nil {
		return nil, err
	}
	return c.parseResponse(ctx, model, resp)
}

// configureModel applies generation settings using the SDK's setter methods.
func configureModel(model *genai.GenerativeModel, config *GenerationConfig, availableTools []tools.Tool) {
	model.SetMaxOutputTokens(defaultMaxTokens)
	if config != nil {
		if config.Temperature != nil {
			model.SetTemperature(*config.Temperature)
		}
		if config.TopP != nil {
			model.SetTopP(*config.TopP)
		}
		if config.MaxTokens > 0 {
			model.SetMaxOutputTokens(int32(config.MaxTokens))
		}
	}
	if len(availableTools) > 0 {
		model.Tools = toGeminiTools(availableTools)
	}
}

// toGeminiTools converts our tool definitions into one Gemini tool carrying
// every function declaration.
func toGeminiTools(toolsToConvert []tools.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(toolsToConvert))
	for _, t := range toolsToConvert {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  convertSchema(t.Function.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertSchema converts our JSONSchema to the Gemini SDK's schema type.
func convertSchema(s tools.JSONSchema) *genai.Schema {
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	}
	if s.Items != nil {
		out.Items = convertSchema(*s.Items)
	}
	if s.Properties != nil {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = convertSchema(*v)
		}
	}
	return out
}

// toGeminiContents converts the history. System messages become the system
// instruction; consecutive tool results are merged into one content so they
// answer the model's function calls together.
func toGeminiContents(messages []Message) (*genai.Content, []*genai.Content, error) {
	var system []string
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		case RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args, err := decodeObject(tc.Function.Arguments)
				if err != nil {
					return nil, nil, fmt.Errorf("tool call %s arguments: %w", tc.ID, err)
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Function.Name, Args: args})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case RoleTool:
			response, err := decodeObject(msg.Content)
			if err != nil {
				response = map[string]any{"content": msg.Content}
			}
			part := genai.FunctionResponse{Name: msg.Name, Response: response}
			if n := len(contents); n > 0 && isFunctionResponse(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{part}})
		}
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	return instruction, contents, nil
}

func isFunctionResponse(c *genai.Content) bool {
	if len(c.Parts) == 0 {
		return false
	}
	_, ok := c.Parts[0].(genai.FunctionResponse)
	return ok
}

func decodeObject(raw string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// classifyGeminiError maps SDK errors onto the shared taxonomy so the retry
// policy sees HTTP status codes.
func classifyGeminiError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &apperrors.ProtocolError{Reason: "gemini blocked the response: " + blocked.Error()}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &apperrors.ExternalServiceError{Service: "gemini", Op: "generate content", StatusCode: gerr.Code, Err: err}
	}
	return &apperrors.ExternalServiceError{Service: "gemini", Op: "generate content", Err: err}
}

// parseResponse converts a Gemini API response into our internal GenerationResult.
func (c *GeminiClient) parseResponse(ctx context.Context, model *genai.GenerativeModel, resp *genai.GenerateContentResponse) (*GenerationResult, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &apperrors.ProtocolError{Reason: "no content returned from Gemini"}
	}

	var contentBuilder strings.Builder
	var toolCalls []*tools.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			contentBuilder.WriteString(string(v))
		case genai.FunctionCall:
			args, err := json.Marshal(v.Args)
			if err != nil {
				return nil, &apperrors.ProtocolError{Reason: fmt.Sprintf("unencodable arguments for %s: %v", v.Name, err)}
			}
			// Gemini does not issue call ids; the position keeps them unique
			// within the response.
			toolCalls = append(toolCalls, &tools.ToolCall{
				ID:   fmt.Sprintf("gemini-%d-%s", len(toolCalls), v.Name),
				Type: tools.ToolTypeFunction,
				Function: tools.ToolCallFunction{
					Name:      v.Name,
					Arguments: string(args),
				},
			})
		}
	}

	result := &GenerationResult{
		Content:   strings.TrimSpace(contentBuilder.String()),
		ToolCalls: toolCalls,
	}
	if resp.UsageMetadata != nil {
		result.Usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.Usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		result.Usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	// Some responses omit completion tokens; count them when there is text.
	if result.Usage.CompletionTokens == 0 && result.Content != "" {
		countResp, err := model.CountTokens(ctx, genai.Text(result.Content))
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to count Gemini completion tokens")
		} else {
			result.Usage.CompletionTokens = int(countResp.TotalTokens)
			result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
		}
	}
	return result, nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/api"
	"github.com/antoine1anthony/sprout-ci/internal/tools"
)

// agentClient calls the agent's HTTP API.
type agentClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAgentClient(baseURL string, timeout time.Duration) *agentClient {
	return &agentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError is a non-2xx reply from the agent.
type apiError struct {
	Status  int
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("agent returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("agent returned %d (%s): %s", e.Status, e.Kind, e.Message)
}

func (c *agentClient) Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	var out api.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *agentClient) Tools(ctx context.Context) ([]tools.Tool, error) {
	var out struct {
		Tools []tools.Tool `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tools", nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

func (c *agentClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e api.ErrorResponse
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &apiError{Status: resp.StatusCode, Kind: e.Kind, Message: e.Error}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

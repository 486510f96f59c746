// internal/models/ollama.go
package models

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaClient talks to a local Ollama daemon's /api/chat endpoint.
type OllamaClient struct {
	baseURL string
	http    *RetryableClient
}

func NewOllama(host string) *OllamaClient {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return &OllamaClient{
		baseURL: strings.TrimSuffix(host, "/"),
		http:    NewRetryableClient(DefaultRetryConfig(), 10),
	}
}

func (c *OllamaClient) Name() string { return "ollama" }

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

func (c *OllamaClient) Query(ctx context.Context, model string, msgs []Message, temperature float64) Result {
	body, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
		Options:  map[string]any{"temperature": temperature},
	})
	if err != nil {
		return ErrorResult(model, fmt.Errorf("marshal: %w", err))
	}

	req, err := NewRequestWithBody(ctx, http.MethodPost, c.baseURL+"/api/chat", body)
	if err != nil {
		return ErrorResult(model, fmt.Errorf("request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.DoWithRetry(ctx, req)
	if err != nil {
		return ErrorResult(model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return ErrorResult(model, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return ErrorResult(model, fmt.Errorf("ollama returned HTTP %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ErrorResult(model, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != "" {
		return ErrorResult(model, fmt.Errorf("ollama error: %s", parsed.Error))
	}

	return okResult(model, parsed.Message.Content)
}

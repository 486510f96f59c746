// internal/models/openrouter.go
package models

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseSize caps provider response bodies.
const maxResponseSize = 10 * 1024 * 1024

// OpenRouterClient talks to the OpenRouter chat-completions gateway, which
// fronts every council model behind a single API.
type OpenRouterClient struct {
	apiKey string
	apiURL string
	http   *RetryableClient
}

func NewOpenRouter(apiKey, apiURL string) *OpenRouterClient {
	return &OpenRouterClient{
		apiKey: apiKey,
		apiURL: apiURL,
		http:   NewRetryableClient(DefaultRetryConfig(), 10),
	}
}

func (c *OpenRouterClient) Name() string { return "openrouter" }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenRouterClient) Query(ctx context.Context, model string, msgs []Message, temperature float64) Result {
	body, err := json.Marshal(chatRequest{Model: model, Messages: msgs, Temperature: temperature})
	if err != nil {
		return ErrorResult(model, fmt.Errorf("marshal: %w", err))
	}

	req, err := NewRequestWithBody(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return ErrorResult(model, fmt.Errorf("request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		return ErrorResult(model, fmt.Errorf("openrouter returned HTTP %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ErrorResult(model, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return ErrorResult(model, fmt.Errorf("openrouter error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return ErrorResult(model, fmt.Errorf("openrouter returned no choices"))
	}

	return okResult(model, parsed.Choices[0].Message.Content)
}

// truncate limits a string to maxLen characters
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Package insight schedules and generates natural-language device
// insights through an external LLM, with retry, sanitization, and a
// degraded mode when no API key is configured.
package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/allenheltondev/dirt-man/pkg/retry"
)

// LLM call budgets.
const (
	llmCallTimeout    = 30 * time.Second
	llmOverallTimeout = 30 * time.Second

	llmTemperature = 0.7
	llmMaxTokens   = 1000
)

// ErrEmptyCompletion indicates the model returned no choices.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Client produces a completion for a prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// chat wire types for the completion endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPClient calls a chat-completions style endpoint with bounded
// retries. Transient transport and 5xx/429 failures are retried on the
// 1/2/4 second schedule; other HTTP errors are permanent.
type HTTPClient struct {
	endpoint string
	model    string
	apiKey   string
	httpc    *http.Client
	policy   retry.Policy
}

// NewHTTPClient builds an LLM client for the given endpoint and model.
func NewHTTPClient(endpoint, model, apiKey string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		httpc:    &http.Client{Timeout: llmCallTimeout},
		policy:   retry.LLMPolicy(),
	}
}

// Model returns the configured model identifier.
func (c *HTTPClient) Model() string { return c.model }

// Complete sends the prompt and returns the first choice's content.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: llmTemperature,
		MaxTokens:   llmMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var content string

	err = retry.Do(ctx, c.policy, func() error {
		content, err = c.attempt(ctx, body)

		return err
	})
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}

	return content, nil
}

func (c *HTTPClient) attempt(ctx context.Context, body []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("llm status %d", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return "", retry.Permanent(fmt.Errorf("llm status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", retry.Permanent(fmt.Errorf("decode response: %w", err))
	}

	if len(parsed.Choices) == 0 {
		return "", retry.Permanent(ErrEmptyCompletion)
	}

	return parsed.Choices[0].Message.Content, nil
}

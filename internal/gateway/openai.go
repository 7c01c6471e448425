package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/internal/util"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint
// (OpenAI itself, Together, a local llama.cpp server, and so on).
//
// The client performs exactly one HTTP call per operation; the pipeline owns
// the retry budget, so a timeout here counts as one failed attempt there.
type OpenAIClient struct {
	httpClient      *http.Client
	rateLimiterPool *RateLimiterPool
	cfg             *config.Config
	apiKey          string
	logger          *slog.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible backend.
func NewOpenAIClient(cfg *config.Config, apiKey string, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{
			Timeout: cfg.GatewayTimeout(),
		},
		rateLimiterPool: NewRateLimiterPool(),
		cfg:             cfg,
		apiKey:          apiKey,
		logger:          logger,
	}
}

// chatCompletionRequest represents an OpenAI-compatible chat completion request
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	N           int           `json:"n,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionResponse represents an OpenAI-compatible chat completion response
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Rewrite implements Rewriter.
func (c *OpenAIClient) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	prompt, err := renderRewritePrompt(c.cfg.Prompts, req)
	if err != nil {
		return "", err
	}
	return c.complete(ctx, prompt, c.cfg.Gateway.MaxOutputTokens)
}

// Summarize implements Rewriter.
func (c *OpenAIClient) Summarize(ctx context.Context, text string, scope Scope) (string, error) {
	prompt, err := renderSummaryPrompt(c.cfg.Prompts, text, scope)
	if err != nil {
		return "", err
	}
	return c.complete(ctx, prompt, c.cfg.Gateway.SummaryMaxTokens)
}

// SmoothTransitions implements Rewriter.
func (c *OpenAIClient) SmoothTransitions(ctx context.Context, chapterText string) (string, error) {
	prompt, err := renderSmoothPrompt(c.cfg.Prompts, chapterText)
	if err != nil {
		return "", err
	}
	return c.complete(ctx, prompt, c.cfg.Gateway.MaxOutputTokens)
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	endpointID := fmt.Sprintf("%s:%s", c.cfg.Gateway.BaseURL, c.cfg.Gateway.ModelName)
	if err := c.rateLimiterPool.Wait(ctx, endpointID, c.cfg.Gateway.RateLimitPerMinute); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := chatCompletionRequest{
		Model:       c.cfg.Gateway.ModelName,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Gateway.Temperature,
		TopP:        c.cfg.Gateway.TopP,
		MaxTokens:   maxTokens,
		N:           1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.Gateway.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		c.logger.Warn("API request without key", "endpoint", endpoint)
	}

	c.logger.Debug("Sending completion request",
		"endpoint", endpoint,
		"max_tokens", maxTokens,
		"prompt", util.TruncateString(prompt, 120))

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &APIError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		retryable := isStatusCodeRetryable(httpResp.StatusCode)

		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return "", &APIError{
				Message:    errResp.Error.Message,
				StatusCode: httpResp.StatusCode,
				Type:       errResp.Error.Type,
				Code:       errResp.Error.Code,
				Retryable:  retryable,
			}
		}
		return "", &APIError{
			Message:    fmt.Sprintf("API request failed with status %d: %s", httpResp.StatusCode, string(respBody)),
			StatusCode: httpResp.StatusCode,
			Retryable:  retryable,
		}
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", &APIError{Message: "no choices returned in response", Retryable: true}
	}

	c.logger.Debug("Gateway call complete",
		"endpoint", endpoint,
		"duration", time.Since(start),
		"finish_reason", resp.Choices[0].FinishReason)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// APIError represents an error returned by a rewrite backend
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

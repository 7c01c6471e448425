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

	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/internal/util"
)

// OllamaClient talks to a local Ollama server via its generate endpoint.
// Like the OpenAI client it performs a single HTTP call per operation.
type OllamaClient struct {
	httpClient *http.Client
	cfg        *config.Config
	logger     *slog.Logger
}

// NewOllamaClient creates a client for a local Ollama instance.
func NewOllamaClient(cfg *config.Config, logger *slog.Logger) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{
			Timeout: cfg.GatewayTimeout(),
		},
		cfg:    cfg,
		logger: logger,
	}
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Rewrite implements Rewriter.
func (c *OllamaClient) Rewrite(ctx context.Context, req RewriteRequest) (string, error) {
	prompt, err := renderRewritePrompt(c.cfg.Prompts, req)
	if err != nil {
		return "", err
	}
	return c.generate(ctx, prompt, c.cfg.Gateway.MaxOutputTokens)
}

// Summarize implements Rewriter.
func (c *OllamaClient) Summarize(ctx context.Context, text string, scope Scope) (string, error) {
	prompt, err := renderSummaryPrompt(c.cfg.Prompts, text, scope)
	if err != nil {
		return "", err
	}
	return c.generate(ctx, prompt, c.cfg.Gateway.SummaryMaxTokens)
}

// SmoothTransitions implements Rewriter.
func (c *OllamaClient) SmoothTransitions(ctx context.Context, chapterText string) (string, error) {
	prompt, err := renderSmoothPrompt(c.cfg.Prompts, chapterText)
	if err != nil {
		return "", err
	}
	return c.generate(ctx, prompt, c.cfg.Gateway.MaxOutputTokens)
}

func (c *OllamaClient) generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := ollamaGenerateRequest{
		Model:  c.cfg.Gateway.ModelName,
		Prompt: prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: c.cfg.Gateway.Temperature,
			TopP:        c.cfg.Gateway.TopP,
			NumPredict:  maxTokens,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.Gateway.BaseURL, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending generate request",
		"endpoint", endpoint,
		"num_predict", maxTokens,
		"prompt", util.TruncateString(prompt, 120))

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
		return "", &APIError{
			Message:    fmt.Sprintf("generate request failed with status %d: %s", httpResp.StatusCode, string(respBody)),
			StatusCode: httpResp.StatusCode,
			Retryable:  isStatusCodeRetryable(httpResp.StatusCode),
		}
	}

	var resp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return "", &APIError{Message: "empty response from model", Retryable: true}
	}

	return strings.TrimSpace(resp.Response), nil
}

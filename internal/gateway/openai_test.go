package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Gateway.BaseURL = baseURL
	cfg.Gateway.ModelName = "test-model"
	cfg.Gateway.RateLimitPerMinute = 0
	return cfg
}

func TestOpenAIClientRewrite(t *testing.T) {
	var gotReq chatCompletionRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		body := `{"id":"chatcmpl-1","model":"test-model","choices":[` +
			`{"index":0,"message":{"role":"assistant","content":"  Rewritten text here.  "},"finish_reason":"stop"}]}`
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("failed to write response: %v", err)
		}
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL+"/v1"), "test-key", testLogger())
	out, err := client.Rewrite(context.Background(), RewriteRequest{
		Text:  "Original paragraph of prose for rewriting.",
		Level: models.LevelModerate,
	})
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if out != "Rewritten text here." {
		t.Errorf("expected trimmed content, got %q", out)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq.Model != "test-model" {
		t.Errorf("expected model test-model, got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 1 || !strings.Contains(gotReq.Messages[0].Content, "Original paragraph") {
		t.Error("expected prompt to contain source text")
	}
	if gotReq.MaxTokens != testConfig("").Gateway.MaxOutputTokens {
		t.Errorf("expected rewrite to use output token budget, got %d", gotReq.MaxTokens)
	}
}

func TestOpenAIClientSummarizeTokenBudget(t *testing.T) {
	var gotReq chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"A summary."}}]}`)); err != nil {
			t.Fatal(err)
		}
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	client := NewOpenAIClient(cfg, "k", testLogger())
	out, err := client.Summarize(context.Background(), "Chapter text to summarize.", ScopeChapter)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if out != "A summary." {
		t.Errorf("unexpected summary: %q", out)
	}
	if gotReq.MaxTokens != cfg.Gateway.SummaryMaxTokens {
		t.Errorf("expected summary token budget %d, got %d", cfg.Gateway.SummaryMaxTokens, gotReq.MaxTokens)
	}
}

func TestOpenAIClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		if _, err := w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit_error","code":"rate_limited"}}`)); err != nil {
			t.Fatal(err)
		}
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL), "k", testLogger())
	_, err := client.Rewrite(context.Background(), RewriteRequest{Text: "text", Level: models.LevelLight})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", apiErr.StatusCode)
	}
	if !apiErr.Retryable {
		t.Error("expected 429 to be retryable")
	}
	if apiErr.Message != "rate limit exceeded" {
		t.Errorf("expected parsed error message, got %q", apiErr.Message)
	}
}

func TestOpenAIClientNonRetryableError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		if _, err := w.Write([]byte(`bad request`)); err != nil {
			t.Fatal(err)
		}
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL), "k", testLogger())
	_, err := client.Rewrite(context.Background(), RewriteRequest{Text: "text", Level: models.LevelLight})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Retryable {
		t.Error("expected 400 to be non-retryable")
	}
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`{"choices":[]}`)); err != nil {
			t.Fatal(err)
		}
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL), "k", testLogger())
	_, err := client.SmoothTransitions(context.Background(), "chapter text")
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOllamaClientGenerate(t *testing.T) {
	var gotReq ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if _, err := w.Write([]byte(`{"response":"Simplified passage.","done":true}`)); err != nil {
			t.Fatal(err)
		}
	}))
	defer server.Close()

	client := NewOllamaClient(testConfig(server.URL), testLogger())
	out, err := client.Rewrite(context.Background(), RewriteRequest{
		Text:  "A convoluted passage in need of simplification.",
		Level: models.LevelAggressive,
	})
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if out != "Simplified passage." {
		t.Errorf("unexpected output: %q", out)
	}
	if gotReq.Stream {
		t.Error("expected streaming disabled")
	}
	if gotReq.Model != "test-model" {
		t.Errorf("unexpected model: %q", gotReq.Model)
	}
	if !strings.Contains(gotReq.Prompt, "convoluted passage") {
		t.Error("expected prompt to contain source text")
	}
}

func TestOllamaClientEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`{"response":"   ","done":true}`)); err != nil {
			t.Fatal(err)
		}
	}))
	defer server.Close()

	client := NewOllamaClient(testConfig(server.URL), testLogger())
	_, err := client.Summarize(context.Background(), "text", ScopeBook)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError for blank response, got %v", err)
	}
	if !apiErr.Retryable {
		t.Error("expected blank response to be retryable")
	}
}

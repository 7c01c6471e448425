// Package gateway abstracts the external text-rewriting service behind a
// narrow capability interface. Backends are interchangeable and selected by
// configuration; the pipeline never depends on a specific wire protocol.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/pkg/models"
)

// Scope labels a summarize call for prompt construction.
type Scope string

const (
	ScopeBook    Scope = "book"
	ScopeChapter Scope = "chapter"
)

// RewriteRequest carries one window plus the rolling context for a rewrite
// call.
type RewriteRequest struct {
	Text           string
	GlobalSummary  string
	ChapterSummary string
	MemoryTail     string
	Level          models.Level
}

// Rewriter is the capability interface to the external rewriting service.
// Implementations may fail, hang or rate-limit; callers own validation,
// retries and fallbacks.
type Rewriter interface {
	// Rewrite returns the window text rewritten at the requested intensity.
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)

	// Summarize returns an objective summary of text for the given scope.
	Summarize(ctx context.Context, text string, scope Scope) (string, error)

	// SmoothTransitions revises a full chapter to smooth window boundaries
	// without removing content.
	SmoothTransitions(ctx context.Context, chapterText string) (string, error)
}

// New constructs the configured backend.
func New(cfg *config.Config, secrets *config.Secrets, logger *slog.Logger) (Rewriter, error) {
	switch cfg.Gateway.Backend {
	case "openai":
		return NewOpenAIClient(cfg, secrets.GetAPIKey(cfg.Gateway.BaseURL), logger), nil
	case "ollama":
		return NewOllamaClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown gateway backend %q", cfg.Gateway.Backend)
	}
}

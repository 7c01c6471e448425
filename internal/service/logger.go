package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// multiHandler fans log records out to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if err := handler.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// setupJobLogger creates a logger that writes human-readable text to stderr
// and structured JSON to a log file inside the job directory. The caller
// owns closing the returned file.
func setupJobLogger(jobDir string, logLevel slog.Level) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(filepath.Join(jobDir, "job.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	jsonHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: logLevel,
	})

	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{textHandler, jsonHandler},
	})
	return logger, logFile, nil
}

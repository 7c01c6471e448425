// Package service is the job boundary of the rewriter: it accepts EPUB
// files, runs the rewrite pipeline asynchronously and exposes job status
// and results to callers.
package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lamim/prosepress/internal/checkpoint"
	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/internal/epub"
	"github.com/lamim/prosepress/internal/gateway"
	"github.com/lamim/prosepress/internal/metrics"
	"github.com/lamim/prosepress/internal/pipeline"
	"github.com/lamim/prosepress/internal/status"
	"github.com/lamim/prosepress/pkg/models"
)

// Service owns running jobs. Job IDs are derived from file content and
// level, so submitting the same book at the same level resumes its
// checkpoints instead of starting over.
type Service struct {
	cfg       *config.Config
	secrets   *config.Secrets
	statuses  *status.Store
	collector *metrics.Collector
	logger    *slog.Logger

	mu      sync.Mutex
	active  map[string]bool
	results map[string]string

	wg sync.WaitGroup
}

// New creates a service.
func New(cfg *config.Config, secrets *config.Secrets, logger *slog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		secrets:   secrets,
		statuses:  status.NewStore(),
		collector: metrics.NewCollector(),
		logger:    logger,
		active:    make(map[string]bool),
		results:   make(map[string]string),
	}
}

// Submit starts rewriting an EPUB at the given level and returns the job ID
// immediately. An invalid level or unreadable file is a caller error. If the
// same job is already running, its ID is returned without starting another.
// An empty outputPath places the result next to the input file.
func (s *Service) Submit(ctx context.Context, epubPath string, level models.Level, outputPath string) (string, error) {
	if !level.Valid() {
		return "", fmt.Errorf("invalid simplification level %d: must be 1, 2 or 3", int(level))
	}
	if !strings.EqualFold(filepath.Ext(epubPath), ".epub") {
		return "", fmt.Errorf("input must be an .epub file: %s", epubPath)
	}

	data, err := os.ReadFile(epubPath)
	if err != nil {
		return "", fmt.Errorf("failed to read input file: %w", err)
	}

	jobID := deriveJobID(data, level)

	doc, err := epub.OpenReader(data, s.logger)
	if err != nil {
		return "", fmt.Errorf("failed to open epub: %w", err)
	}
	chapters := doc.Chapters()

	if outputPath == "" {
		base := strings.TrimSuffix(filepath.Base(epubPath), filepath.Ext(epubPath))
		outputPath = filepath.Join(filepath.Dir(epubPath),
			fmt.Sprintf("%s_simplified_level_%d.epub", base, int(level)))
	}

	s.mu.Lock()
	if s.active[jobID] {
		s.mu.Unlock()
		s.logger.Info("Job already running", "job_id", jobID)
		return jobID, nil
	}
	s.active[jobID] = true
	s.mu.Unlock()

	s.statuses.Set(models.JobState{
		JobID:         jobID,
		Status:        models.StatusQueued,
		TotalChapters: len(chapters),
		Message:       "queued",
	})

	s.wg.Add(1)
	go s.runJob(ctx, jobID, doc, chapters, level, outputPath)

	return jobID, nil
}

func (s *Service) runJob(ctx context.Context, jobID string, doc *epub.Document, chapters []models.Chapter, level models.Level, outputPath string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, jobID)
		s.mu.Unlock()
	}()

	jobDir := filepath.Join(s.cfg.Pipeline.WorkDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		s.fail(jobID, len(chapters), fmt.Errorf("failed to create job directory: %w", err))
		return
	}

	jobLogger, logFile, err := setupJobLogger(jobDir, slog.LevelInfo)
	if err != nil {
		s.fail(jobID, len(chapters), fmt.Errorf("failed to set up job logging: %w", err))
		return
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			s.logger.Warn("Failed to close job log file", "error", err)
		}
	}()

	runID := uuid.New().String()
	jobLogger = jobLogger.With("job_id", jobID, "run_id", runID)
	jobLogger.Info("Starting rewrite job",
		"level", level.String(),
		"chapters", len(chapters),
		"profile", s.cfg.Pipeline.Profile)

	rewriter, err := gateway.New(s.cfg, s.secrets, jobLogger)
	if err != nil {
		s.fail(jobID, len(chapters), err)
		return
	}

	store, err := checkpoint.NewStore(jobDir, jobLogger)
	if err != nil {
		s.fail(jobID, len(chapters), err)
		return
	}

	pipe := pipeline.New(s.cfg, rewriter, store, s.statuses, s.collector, jobLogger,
		jobID, level, chapters)

	byID, err := pipe.Run(ctx)
	if err != nil {
		jobLogger.Error("Job failed", "error", err)
		s.fail(jobID, len(chapters), err)
		return
	}

	doc.ApplyRewrites(byID)
	doc.ApplyTitleSuffix(level)
	if err := doc.Save(outputPath); err != nil {
		jobLogger.Error("Failed to write output", "error", err)
		s.fail(jobID, len(chapters), err)
		return
	}

	s.mu.Lock()
	s.results[jobID] = outputPath
	s.mu.Unlock()

	s.statuses.Set(models.JobState{
		JobID:             jobID,
		Status:            models.StatusCompleted,
		Progress:          1,
		TotalChapters:     len(chapters),
		ProcessedChapters: len(chapters),
		Message:           "completed",
		OutputPath:        outputPath,
	})
	jobLogger.Info("Job completed", "output", outputPath)
}

func (s *Service) fail(jobID string, totalChapters int, err error) {
	prev, _ := s.statuses.Get(jobID)
	s.statuses.Set(models.JobState{
		JobID:             jobID,
		Status:            models.StatusFailed,
		Progress:          prev.Progress,
		TotalChapters:     totalChapters,
		ProcessedChapters: prev.ProcessedChapters,
		Message:           "failed",
		Error:             err.Error(),
	})
}

// Status returns the latest snapshot for a job.
func (s *Service) Status(jobID string) (models.JobState, bool) {
	return s.statuses.Get(jobID)
}

// Result returns the output path for a completed job.
func (s *Service) Result(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.results[jobID]
	return path, ok
}

// Wait blocks until all submitted jobs have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// deriveJobID hashes the input bytes together with the level so identical
// submissions share checkpoints while different levels never collide.
func deriveJobID(data []byte, level models.Level) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|", int(level))
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

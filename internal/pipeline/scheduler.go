// Package pipeline runs the resumable, concurrent chapter rewrite loop: a
// bounded worker pool pulls chapters, rewrites them window by window through
// the gateway and checkpoints every step.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lamim/prosepress/internal/checkpoint"
	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/internal/gateway"
	"github.com/lamim/prosepress/internal/metrics"
	"github.com/lamim/prosepress/internal/status"
	"github.com/lamim/prosepress/pkg/models"
)

// Pipeline rewrites one job's chapters. A Pipeline instance is bound to a
// single job and is not reused.
type Pipeline struct {
	cfg       *config.Config
	rewriter  gateway.Rewriter
	validator *gateway.Validator
	store     *checkpoint.Store
	statuses  *status.Store
	tracker   *contextTracker
	collector *metrics.Collector
	progress  *progressTracker
	logger    *slog.Logger

	jobID    string
	level    models.Level
	chapters []models.Chapter

	publishMu sync.Mutex
}

type chapterJob struct {
	index   int
	chapter models.Chapter
}

type chapterResult struct {
	index int
	text  string
	err   error
}

// New creates a pipeline for one job.
func New(
	cfg *config.Config,
	rewriter gateway.Rewriter,
	store *checkpoint.Store,
	statuses *status.Store,
	collector *metrics.Collector,
	logger *slog.Logger,
	jobID string,
	level models.Level,
	chapters []models.Chapter,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		rewriter:  rewriter,
		validator: gateway.NewValidator(cfg.Validation),
		store:     store,
		statuses:  statuses,
		tracker:   newContextTracker(cfg, rewriter, collector, logger),
		collector: collector,
		progress:  newProgressTracker(len(chapters)),
		logger:    logger,
		jobID:     jobID,
		level:     level,
		chapters:  chapters,
	}
}

// Run processes every chapter and returns rewritten text keyed by chapter
// ID, in the same order as the input chapters. Individual chapter failures
// fall back to original text; Run only errors on cancellation.
func (p *Pipeline) Run(ctx context.Context) (map[string]string, error) {
	meta := p.store.EnsureCompatible(p.jobID, p.level, len(p.chapters))

	p.publish()

	if meta.GlobalSummary == "" && !p.cfg.FastMode() {
		meta.GlobalSummary = p.tracker.GlobalSummary(ctx, p.chapters)
		p.store.SaveJobMeta(meta)
	}

	workers := p.cfg.Pipeline.MaxWorkers
	if workers > len(p.chapters) {
		workers = len(p.chapters)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan chapterJob, len(p.chapters))
	results := make(chan chapterResult, len(p.chapters))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go p.worker(ctx, jobs, results, &wg, meta.GlobalSummary)
	}

	for i, ch := range p.chapters {
		jobs <- chapterJob{index: i, chapter: ch}
	}
	close(jobs)

	wg.Wait()
	close(results)

	texts := make([]string, len(p.chapters))
	var runErr error
	for res := range results {
		if res.err != nil {
			if runErr == nil {
				runErr = res.err
			}
			continue
		}
		texts[res.index] = res.text
	}
	if runErr != nil {
		return nil, fmt.Errorf("job interrupted: %w", runErr)
	}

	byID := make(map[string]string, len(p.chapters))
	for i, ch := range p.chapters {
		byID[ch.ID] = texts[i]
	}
	return byID, nil
}

func (p *Pipeline) worker(
	ctx context.Context,
	jobs <-chan chapterJob,
	results chan<- chapterResult,
	wg *sync.WaitGroup,
	globalSummary string,
) {
	defer wg.Done()
	p.collector.WorkerStarted()
	defer p.collector.WorkerStopped()

	for job := range jobs {
		select {
		case <-ctx.Done():
			results <- chapterResult{index: job.index, err: ctx.Err()}
			continue
		default:
		}

		text, err := p.processChapter(ctx, job.index, job.chapter, globalSummary)
		results <- chapterResult{index: job.index, text: text, err: err}
	}
}

// publish pushes a whole-snapshot state update for the job. The pipeline is
// the job's only status writer.
func (p *Pipeline) publish() {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	msg := fmt.Sprintf("processing chapters (%d/%d)", p.progress.Completed(), len(p.chapters))
	p.statuses.Set(models.JobState{
		JobID:             p.jobID,
		Status:            models.StatusProcessing,
		Progress:          p.progress.Fraction(),
		TotalChapters:     len(p.chapters),
		ProcessedChapters: p.progress.Completed(),
		Message:           msg,
	})
}

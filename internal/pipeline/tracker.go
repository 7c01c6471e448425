package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/internal/gateway"
	"github.com/lamim/prosepress/internal/metrics"
	"github.com/lamim/prosepress/internal/util"
	"github.com/lamim/prosepress/pkg/models"
)

const (
	// summaryFallbackChars bounds the excerpt used when no usable summary
	// comes back.
	summaryFallbackChars = 1000

	// minUsableSummaryChars rejects degenerate summaries; anything this
	// short carries no more context than an excerpt would.
	minUsableSummaryChars = 50
)

// contextTracker produces the rolling context fed into rewrite prompts: the
// book-level summary, per-chapter summaries and the tail of already
// rewritten prose. Summaries describe the ORIGINAL text, so they are valid
// across rewrite levels and across resumed runs.
type contextTracker struct {
	cfg       *config.Config
	rewriter  gateway.Rewriter
	collector *metrics.Collector
	logger    *slog.Logger
}

func newContextTracker(cfg *config.Config, rewriter gateway.Rewriter, collector *metrics.Collector, logger *slog.Logger) *contextTracker {
	return &contextTracker{
		cfg:       cfg,
		rewriter:  rewriter,
		collector: collector,
		logger:    logger,
	}
}

// GlobalSummary summarizes the opening of the book from a bounded sample of
// the first chapters. In the fast profile no summary is produced.
func (t *contextTracker) GlobalSummary(ctx context.Context, chapters []models.Chapter) string {
	if t.cfg.FastMode() {
		return ""
	}

	n := t.cfg.Context.GlobalSummaryChapters
	if n > len(chapters) {
		n = len(chapters)
	}
	parts := make([]string, 0, n)
	for _, ch := range chapters[:n] {
		parts = append(parts, util.Head(ch.Content, t.cfg.Context.ChapterSampleChars))
	}
	sample := util.Head(strings.Join(parts, "\n\n"), t.cfg.Context.SummaryInputCap)
	if strings.TrimSpace(sample) == "" {
		return ""
	}

	return t.summarize(ctx, sample, gateway.ScopeBook)
}

// ChapterSummary summarizes one chapter's original text. In the fast profile
// no summary is produced.
func (t *contextTracker) ChapterSummary(ctx context.Context, chapterText string) string {
	if t.cfg.FastMode() {
		return ""
	}
	sample := util.Head(chapterText, t.cfg.Context.SummaryInputCap)
	if strings.TrimSpace(sample) == "" {
		return ""
	}
	return t.summarize(ctx, sample, gateway.ScopeChapter)
}

// summarize calls the gateway once; on failure or a degenerate result it
// degrades to a bounded excerpt of the input so the pipeline never stalls
// on summaries.
func (t *contextTracker) summarize(ctx context.Context, text string, scope gateway.Scope) string {
	start := time.Now()
	summary, err := t.rewriter.Summarize(ctx, text, scope)
	t.collector.RecordGatewayCall("summary", time.Since(start), err == nil)
	if err == nil && len(strings.TrimSpace(summary)) > minUsableSummaryChars {
		return summary
	}

	if err != nil {
		t.logger.Warn("Summary call failed, using excerpt",
			"scope", scope,
			"error", err)
	} else {
		t.logger.Warn("Summary too short to be useful, using excerpt",
			"scope", scope,
			"length", len(summary))
	}

	head := util.Head(text, summaryFallbackChars)
	if head == text {
		return text
	}
	return head + "..."
}

// MemoryTail returns the trailing slice of the most recently rewritten
// window, keeping adjacent windows consistent in tone and terminology.
// Earlier windows already overlap the current one through the chunker, so
// only the newest rewrite matters here.
func (t *contextTracker) MemoryTail(rewrittenSoFar []string) string {
	if len(rewrittenSoFar) == 0 {
		return ""
	}
	return util.Tail(rewrittenSoFar[len(rewrittenSoFar)-1], t.cfg.Context.MemoryTailChars)
}

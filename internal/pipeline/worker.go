package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/lamim/prosepress/internal/chunker"
	"github.com/lamim/prosepress/internal/gateway"
	"github.com/lamim/prosepress/internal/util"
	"github.com/lamim/prosepress/pkg/models"
)

// errInvalidOutput marks a gateway response rejected by validation; it is
// retried the same way as transport failures.
var errInvalidOutput = errors.New("rewritten text failed validation")

// processChapter rewrites one chapter window by window, checkpointing after
// every window so an interrupted job resumes without repeating completed
// work. The returned error is reserved for cancellation; every rewrite
// failure degrades to the original text instead.
func (p *Pipeline) processChapter(ctx context.Context, index int, ch models.Chapter, globalSummary string) (string, error) {
	if util.WordCount(ch.Content) < chunker.MinProseWords {
		p.progress.Update(index, 1)
		p.publish()
		return ch.Content, nil
	}

	windows := chunker.Split(ch.Content, p.cfg.Pipeline.ChunkSize, p.cfg.Pipeline.Overlap)
	total := len(windows)

	cp, found := p.store.LoadChapter(index)
	if !found {
		cp = &models.ChapterCheckpoint{TotalWindows: total}
	}
	if cp.TotalWindows != total {
		// Stale checkpoint from a different chunking; start the chapter over.
		p.logger.Warn("Chapter checkpoint has mismatched window count, restarting chapter",
			"chapter", index,
			"stored", cp.TotalWindows,
			"actual", total)
		cp = &models.ChapterCheckpoint{TotalWindows: total}
	}

	done, ok := p.store.LoadWindows(index)
	if !ok || len(done) < cp.ProcessedWindows {
		done = nil
		cp.ProcessedWindows = 0
		cp.Complete = false
	}
	done = done[:cp.ProcessedWindows]

	if cp.Complete && cp.ProcessedWindows == total {
		// Smoothed text is not persisted; every window is stored, so skip
		// straight to the smoothing pass.
		text, err := p.assemble(ctx, index, done)
		if err != nil {
			return "", err
		}
		p.progress.Update(index, 1)
		p.publish()
		return text, nil
	}

	if cp.ChapterSummary == "" {
		cp.ChapterSummary = p.tracker.ChapterSummary(ctx, ch.Content)
		p.store.SaveChapter(index, cp)
	}

	for j := cp.ProcessedWindows; j < total; j++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		p.logger.Debug("Rewriting part",
			"chapter", index,
			"window", j+1,
			"total", total)

		req := gateway.RewriteRequest{
			Text:           windows[j],
			GlobalSummary:  globalSummary,
			ChapterSummary: cp.ChapterSummary,
			MemoryTail:     p.tracker.MemoryTail(done),
			Level:          p.level,
		}

		out, err := p.rewriteWithRetry(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			p.logger.Warn("Window rewrite exhausted retries, keeping original text",
				"chapter", index,
				"window", j,
				"error", err)
			out = windows[j]
			p.collector.RecordWindow(true)
		} else {
			p.collector.RecordWindow(false)
		}

		done = append(done, out)

		// Windows are persisted before the counter advances, so a crash
		// between the two writes re-does at most one window.
		p.store.SaveWindows(index, done)
		cp.ProcessedWindows = j + 1
		p.store.SaveChapter(index, cp)

		p.progress.Update(index, float64(j+1)/float64(total))
		p.publish()
	}

	text, err := p.assemble(ctx, index, done)
	if err != nil {
		return "", err
	}

	cp.Complete = true
	p.store.SaveChapter(index, cp)
	p.collector.RecordChapter()
	return text, nil
}

// rewriteWithRetry calls the gateway up to the configured attempt budget
// with a fixed delay between attempts. Validation rejections consume
// attempts just like transport errors.
func (p *Pipeline) rewriteWithRetry(ctx context.Context, req gateway.RewriteRequest) (string, error) {
	var out string
	err := retry.Do(
		func() error {
			start := time.Now()
			text, err := p.rewriter.Rewrite(ctx, req)
			p.collector.RecordGatewayCall("rewrite", time.Since(start), err == nil)
			if err != nil {
				return err
			}
			if !p.validator.Valid(text) {
				p.collector.RecordValidationRejection("invalid")
				return errInvalidOutput
			}
			out = text
			return nil
		},
		retry.Attempts(uint(p.cfg.Pipeline.RetryAttempts)),
		retry.Delay(p.cfg.RetryDelay()),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

// assemble joins rewritten windows and, in the quality profile, runs one
// smoothing pass over the joined chapter. A smoothing result that fails the
// length floor is discarded in favor of the plain join.
func (p *Pipeline) assemble(ctx context.Context, index int, windows []string) (string, error) {
	joined := strings.Join(windows, "\n\n")
	if p.cfg.FastMode() {
		return joined, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := time.Now()
	smoothed, err := p.rewriter.SmoothTransitions(ctx, joined)
	p.collector.RecordGatewayCall("smooth", time.Since(start), err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn("Smoothing failed, keeping joined windows",
			"chapter", index,
			"error", err)
		return joined, nil
	}

	floor := len(joined) / 2
	if floor < 100 {
		floor = 100
	}
	if !p.validator.ValidWithFloor(smoothed, floor) {
		p.collector.RecordValidationRejection("invalid")
		p.logger.Warn("Smoothed chapter failed validation, keeping joined windows",
			"chapter", index)
		return joined, nil
	}
	return smoothed, nil
}

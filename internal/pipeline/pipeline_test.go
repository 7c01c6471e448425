package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lamim/prosepress/internal/checkpoint"
	"github.com/lamim/prosepress/internal/chunker"
	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/internal/gateway"
	"github.com/lamim/prosepress/internal/metrics"
	"github.com/lamim/prosepress/internal/status"
	"github.com/lamim/prosepress/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubRewriter is a deterministic in-memory backend for pipeline tests.
type stubRewriter struct {
	mu           sync.Mutex
	rewriteTexts []string
	rewriteErr   error
	transform    func(string) string
	maxDelay     time.Duration
	summaryErr   error
	smoothFn     func(string) (string, error)
}

func (s *stubRewriter) Rewrite(ctx context.Context, req gateway.RewriteRequest) (string, error) {
	s.mu.Lock()
	s.rewriteTexts = append(s.rewriteTexts, req.Text)
	s.mu.Unlock()

	if s.maxDelay > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(s.maxDelay))))
	}
	if s.rewriteErr != nil {
		return "", s.rewriteErr
	}
	return s.transform(req.Text), nil
}

func (s *stubRewriter) Summarize(ctx context.Context, text string, scope gateway.Scope) (string, error) {
	if s.summaryErr != nil {
		return "", s.summaryErr
	}
	return fmt.Sprintf("summary of %d chars", len(text)), nil
}

func (s *stubRewriter) SmoothTransitions(ctx context.Context, chapterText string) (string, error) {
	if s.smoothFn != nil {
		return s.smoothFn(chapterText)
	}
	return chapterText, nil
}

func (s *stubRewriter) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rewriteTexts...)
}

func upcase(s string) string { return strings.ToUpper(s) }

// fastConfig permits tiny test inputs: fast profile, small windows, lenient
// validation, negligible retry delay.
func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Pipeline.Profile = config.ProfileFast
	cfg.Pipeline.ChunkSize = 10
	cfg.Pipeline.Overlap = 2
	cfg.Pipeline.MaxWorkers = 2
	cfg.Pipeline.RetryAttempts = 3
	cfg.Pipeline.RetryDelayMillis = 1
	cfg.Validation.MinChars = 1
	cfg.Validation.MinUniqueRatio = 0
	cfg.Validation.NGramSize = 0
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config, stub *stubRewriter, chapters []models.Chapter, jobID string, dir string) (*Pipeline, *checkpoint.Store, *status.Store) {
	t.Helper()
	store, err := checkpoint.NewStore(dir, testLogger())
	if err != nil {
		t.Fatalf("failed to create checkpoint store: %v", err)
	}
	statuses := status.NewStore()
	p := New(cfg, stub, store, statuses, metrics.NewCollector(), testLogger(),
		jobID, models.LevelModerate, chapters)
	return p, store, statuses
}

// wordRun produces n distinct single-spaced words so window boundaries are
// exactly predictable.
func wordRun(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%03d", i)
	}
	return strings.Join(words, " ")
}

func TestRunRewritesAllWindows(t *testing.T) {
	cfg := fastConfig()
	stub := &stubRewriter{transform: upcase}
	content := wordRun(34) // windows at 0, 8, 16, 24
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: content}}

	p, _, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", t.TempDir())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	windows := chunker.Split(content, cfg.Pipeline.ChunkSize, cfg.Pipeline.Overlap)
	if len(windows) != 4 {
		t.Fatalf("expected 4 windows, got %d", len(windows))
	}
	want := make([]string, len(windows))
	for i, w := range windows {
		want[i] = upcase(w)
	}
	if out["ch1"] != strings.Join(want, "\n\n") {
		t.Errorf("unexpected output:\n%s", out["ch1"])
	}
	if got := len(stub.calls()); got != 4 {
		t.Errorf("expected 4 rewrite calls, got %d", got)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	cfg := fastConfig()
	content := wordRun(34)
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: content}}
	windows := chunker.Split(content, cfg.Pipeline.ChunkSize, cfg.Pipeline.Overlap)

	dir := t.TempDir()
	stub := &stubRewriter{transform: upcase}
	p, store, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", dir)

	// Simulate a previous run that finished the first two windows.
	store.EnsureCompatible("job-1", models.LevelModerate, 1)
	store.SaveWindows(0, []string{upcase(windows[0]), upcase(windows[1])})
	store.SaveChapter(0, &models.ChapterCheckpoint{
		ProcessedWindows: 2,
		TotalWindows:     len(windows),
	})

	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	calls := stub.calls()
	if len(calls) != 2 {
		t.Fatalf("expected rewrites only for unfinished windows, got %d calls", len(calls))
	}
	if calls[0] != windows[2] || calls[1] != windows[3] {
		t.Error("resume processed wrong windows")
	}

	want := []string{upcase(windows[0]), upcase(windows[1]), upcase(windows[2]), upcase(windows[3])}
	if out["ch1"] != strings.Join(want, "\n\n") {
		t.Error("resumed output differs from uninterrupted output")
	}
}

func TestRunResumesCompletedChapterWithoutCalls(t *testing.T) {
	cfg := fastConfig()
	content := wordRun(34)
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: content}}
	windows := chunker.Split(content, cfg.Pipeline.ChunkSize, cfg.Pipeline.Overlap)

	dir := t.TempDir()
	stub := &stubRewriter{transform: upcase}
	p, store, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", dir)

	store.EnsureCompatible("job-1", models.LevelModerate, 1)
	done := make([]string, len(windows))
	for i, w := range windows {
		done[i] = upcase(w)
	}
	store.SaveWindows(0, done)
	store.SaveChapter(0, &models.ChapterCheckpoint{
		ProcessedWindows: len(windows),
		TotalWindows:     len(windows),
		Complete:         true,
	})

	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := len(stub.calls()); got != 0 {
		t.Errorf("expected no rewrite calls for a completed chapter, got %d", got)
	}
	if out["ch1"] != strings.Join(done, "\n\n") {
		t.Error("completed chapter text not restored from checkpoint")
	}
}

func TestRunResumedCompleteChapterIsSmoothed(t *testing.T) {
	cfg := fastConfig()
	cfg.Pipeline.Profile = config.ProfileQuality
	cfg.Pipeline.ChunkSize = 400

	content := wordRun(300)
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: content}}
	windows := chunker.Split(content, cfg.Pipeline.ChunkSize, cfg.Pipeline.Overlap)

	// Smoothed text is not checkpointed, so resuming a chapter whose windows
	// are all stored must still run the smoothing pass over their join.
	smoothed := "the chapter reads smoothly after the resume " + wordRun(280)
	var smoothCalls int
	stub := &stubRewriter{
		transform: upcase,
		smoothFn: func(string) (string, error) {
			smoothCalls++
			return smoothed, nil
		},
	}

	dir := t.TempDir()
	p, store, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", dir)

	store.EnsureCompatible("job-1", models.LevelModerate, 1)
	done := make([]string, len(windows))
	for i, w := range windows {
		done[i] = upcase(w)
	}
	store.SaveWindows(0, done)
	store.SaveChapter(0, &models.ChapterCheckpoint{
		ProcessedWindows: len(windows),
		TotalWindows:     len(windows),
		Complete:         true,
	})

	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := len(stub.calls()); got != 0 {
		t.Errorf("expected no rewrite calls for a completed chapter, got %d", got)
	}
	if smoothCalls != 1 {
		t.Errorf("expected one smoothing call on resume, got %d", smoothCalls)
	}
	if out["ch1"] != smoothed {
		t.Error("expected resumed chapter text to come from the smoothing pass")
	}
}

func TestRunLevelChangeInvalidatesCheckpoints(t *testing.T) {
	cfg := fastConfig()
	content := wordRun(34)
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: content}}
	windows := chunker.Split(content, cfg.Pipeline.ChunkSize, cfg.Pipeline.Overlap)

	dir := t.TempDir()
	stub := &stubRewriter{transform: upcase}
	p, store, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", dir)

	// Checkpoints written at a different level must not be reused.
	store.EnsureCompatible("job-1", models.LevelLight, 1)
	store.SaveWindows(0, []string{"stale window"})
	store.SaveChapter(0, &models.ChapterCheckpoint{ProcessedWindows: 1, TotalWindows: len(windows)})

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := len(stub.calls()); got != len(windows) {
		t.Errorf("expected all %d windows rewritten after level change, got %d calls", len(windows), got)
	}
}

func TestRunFallsBackToOriginalText(t *testing.T) {
	cfg := fastConfig()
	stub := &stubRewriter{rewriteErr: errors.New("backend down")}
	content := "alpha beta gamma delta epsilon zeta"
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: content}}

	p, _, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", t.TempDir())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run should not fail when rewrites do: %v", err)
	}

	if out["ch1"] != content {
		t.Errorf("expected original text after exhausted retries, got %q", out["ch1"])
	}
	if got := len(stub.calls()); got != cfg.Pipeline.RetryAttempts {
		t.Errorf("expected exactly %d attempts, got %d", cfg.Pipeline.RetryAttempts, got)
	}
}

func TestRunShortChapterPassthrough(t *testing.T) {
	cfg := fastConfig()
	stub := &stubRewriter{transform: upcase}
	chapters := []models.Chapter{{ID: "cover", Title: "Cover", Content: "Cover image."}}

	p, _, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", t.TempDir())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["cover"] != "Cover image." {
		t.Errorf("short chapter must pass through unchanged, got %q", out["cover"])
	}
	if got := len(stub.calls()); got != 0 {
		t.Errorf("expected no gateway calls for short chapter, got %d", got)
	}
}

func TestRunPreservesChapterOrder(t *testing.T) {
	cfg := fastConfig()
	cfg.Pipeline.ChunkSize = 50
	stub := &stubRewriter{transform: upcase, maxDelay: 3 * time.Millisecond}

	chapters := []models.Chapter{
		{ID: "a", Title: "A", Content: "the first chapter has its own distinct words"},
		{ID: "b", Title: "B", Content: "the second chapter carries different prose entirely"},
		{ID: "c", Title: "C", Content: "the third chapter closes out the little book"},
	}

	p, _, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", t.TempDir())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, ch := range chapters {
		if out[ch.ID] != upcase(ch.Content) {
			t.Errorf("chapter %s mapped to wrong text: %q", ch.ID, out[ch.ID])
		}
	}
}

func TestRunPublishesProgress(t *testing.T) {
	cfg := fastConfig()
	stub := &stubRewriter{transform: upcase}
	chapters := []models.Chapter{
		{ID: "a", Title: "A", Content: wordRun(20)},
		{ID: "b", Title: "B", Content: wordRun(20)},
	}

	p, _, statuses := newTestPipeline(t, cfg, stub, chapters, "job-7", t.TempDir())
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	state, ok := statuses.Get("job-7")
	if !ok {
		t.Fatal("expected job state to be published")
	}
	if state.Progress != 1 {
		t.Errorf("expected final progress 1, got %f", state.Progress)
	}
	if state.ProcessedChapters != 2 {
		t.Errorf("expected 2 processed chapters, got %d", state.ProcessedChapters)
	}
}

func TestRunCancellation(t *testing.T) {
	cfg := fastConfig()
	stub := &stubRewriter{transform: upcase}
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: wordRun(50)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", t.TempDir())
	if _, err := p.Run(ctx); err == nil {
		t.Error("expected error when context is already cancelled")
	}
}

func TestSmoothingAppliedInQualityProfile(t *testing.T) {
	cfg := fastConfig()
	cfg.Pipeline.Profile = config.ProfileQuality
	cfg.Pipeline.ChunkSize = 400

	content := wordRun(300)
	smoothed := "the whole chapter after smoothing " + wordRun(280)
	stub := &stubRewriter{
		transform: upcase,
		smoothFn: func(string) (string, error) {
			return smoothed, nil
		},
	}
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: content}}

	p, _, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", t.TempDir())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["ch1"] != smoothed {
		t.Error("expected smoothed chapter text in quality profile")
	}
}

func TestSmoothingRejectedWhenTooShort(t *testing.T) {
	cfg := fastConfig()
	cfg.Pipeline.Profile = config.ProfileQuality
	cfg.Pipeline.ChunkSize = 400

	content := wordRun(300)
	stub := &stubRewriter{
		transform: upcase,
		smoothFn: func(string) (string, error) {
			return "way too short", nil
		},
	}
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: content}}

	p, _, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", t.TempDir())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["ch1"] != upcase(content) {
		t.Error("expected joined windows when smoothing output fails the length floor")
	}
}

func TestSmoothingErrorKeepsJoinedWindows(t *testing.T) {
	cfg := fastConfig()
	cfg.Pipeline.Profile = config.ProfileQuality
	cfg.Pipeline.ChunkSize = 400

	content := wordRun(300)
	stub := &stubRewriter{
		transform: upcase,
		smoothFn: func(string) (string, error) {
			return "", errors.New("smoothing backend error")
		},
	}
	chapters := []models.Chapter{{ID: "ch1", Title: "One", Content: content}}

	p, _, _ := newTestPipeline(t, cfg, stub, chapters, "job-1", t.TempDir())
	out, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["ch1"] != upcase(content) {
		t.Error("expected joined windows when smoothing errors")
	}
}

func TestContextTrackerSummaryFallback(t *testing.T) {
	cfg := config.Default()
	stub := &stubRewriter{summaryErr: errors.New("summary backend down")}
	tracker := newContextTracker(cfg, stub, metrics.NewCollector(), testLogger())

	text := strings.Repeat("some chapter prose here ", 100)
	got := tracker.ChapterSummary(context.Background(), text)
	want := text[:1000] + "..."
	if got != want {
		t.Errorf("expected bounded excerpt fallback, got %d chars", len(got))
	}
}

func TestContextTrackerDegenerateSummaryFallsBack(t *testing.T) {
	cfg := config.Default()
	tracker := newContextTracker(cfg, rewriterFunc{
		summarize: func(ctx context.Context, text string, scope gateway.Scope) (string, error) {
			return "ok", nil
		},
	}, metrics.NewCollector(), testLogger())

	// A summary this short carries no context; the excerpt is used instead.
	text := strings.Repeat("some chapter prose here ", 100)
	got := tracker.ChapterSummary(context.Background(), text)
	want := text[:1000] + "..."
	if got != want {
		t.Errorf("expected excerpt for degenerate summary, got %q", got)
	}
}

func TestContextTrackerShortExcerptKeepsWholeText(t *testing.T) {
	cfg := config.Default()
	stub := &stubRewriter{summaryErr: errors.New("summary backend down")}
	tracker := newContextTracker(cfg, stub, metrics.NewCollector(), testLogger())

	// When the whole input fits the excerpt bound there is nothing to
	// truncate and no ellipsis to append.
	text := "a modest paragraph of original prose well under the excerpt bound"
	if got := tracker.ChapterSummary(context.Background(), text); got != text {
		t.Errorf("expected untruncated excerpt without ellipsis, got %q", got)
	}
}

func TestContextTrackerMemoryTailFromLastWindow(t *testing.T) {
	cfg := config.Default()
	tracker := newContextTracker(cfg, &stubRewriter{}, metrics.NewCollector(), testLogger())

	if got := tracker.MemoryTail(nil); got != "" {
		t.Errorf("expected empty tail before any windows, got %q", got)
	}

	// Only the newest window feeds the tail; a short final window must not
	// pull text from earlier ones.
	windows := []string{strings.Repeat("earlier prose ", 100), "a short closing line"}
	if got := tracker.MemoryTail(windows); got != "a short closing line" {
		t.Errorf("expected tail from the newest window only, got %q", got)
	}

	long := strings.Repeat("abcdefghij", 100)
	got := tracker.MemoryTail([]string{"first window", long})
	if len(got) != cfg.Context.MemoryTailChars {
		t.Errorf("expected %d-char tail, got %d", cfg.Context.MemoryTailChars, len(got))
	}
	if !strings.HasSuffix(long, got) {
		t.Error("tail must be a suffix of the newest window")
	}
}

func TestContextTrackerFastModeSkipsSummaries(t *testing.T) {
	cfg := fastConfig()
	stub := &stubRewriter{}
	tracker := newContextTracker(cfg, stub, metrics.NewCollector(), testLogger())

	chapters := []models.Chapter{{ID: "a", Content: wordRun(500)}}
	if got := tracker.GlobalSummary(context.Background(), chapters); got != "" {
		t.Errorf("expected empty global summary in fast profile, got %q", got)
	}
	if got := tracker.ChapterSummary(context.Background(), wordRun(500)); got != "" {
		t.Errorf("expected empty chapter summary in fast profile, got %q", got)
	}
}

func TestContextTrackerGlobalSummaryBounded(t *testing.T) {
	cfg := config.Default()
	cfg.Context.GlobalSummaryChapters = 2
	cfg.Context.ChapterSampleChars = 100
	cfg.Context.SummaryInputCap = 150

	summary := "a bounded summary describing the opening chapters of the sampled book"
	var seen int
	tracker := newContextTracker(cfg, rewriterFunc{
		summarize: func(ctx context.Context, text string, scope gateway.Scope) (string, error) {
			seen = len(text)
			return summary, nil
		},
	}, metrics.NewCollector(), testLogger())

	chapters := []models.Chapter{
		{ID: "a", Content: strings.Repeat("x", 5000)},
		{ID: "b", Content: strings.Repeat("y", 5000)},
		{ID: "c", Content: strings.Repeat("z", 5000)},
	}
	got := tracker.GlobalSummary(context.Background(), chapters)
	if got != summary {
		t.Errorf("unexpected summary: %q", got)
	}
	if seen > cfg.Context.SummaryInputCap {
		t.Errorf("summary input exceeded cap: %d > %d", seen, cfg.Context.SummaryInputCap)
	}
}

// rewriterFunc adapts bare functions into a gateway.Rewriter.
type rewriterFunc struct {
	summarize func(context.Context, string, gateway.Scope) (string, error)
}

func (r rewriterFunc) Rewrite(ctx context.Context, req gateway.RewriteRequest) (string, error) {
	return req.Text, nil
}

func (r rewriterFunc) Summarize(ctx context.Context, text string, scope gateway.Scope) (string, error) {
	return r.summarize(ctx, text, scope)
}

func (r rewriterFunc) SmoothTransitions(ctx context.Context, text string) (string, error) {
	return text, nil
}

func TestProgressTrackerMonotone(t *testing.T) {
	p := newProgressTracker(2)

	p.Update(0, 0.5)
	if got := p.Fraction(); got != 0.25 {
		t.Errorf("expected 0.25, got %f", got)
	}

	// Regressions are ignored.
	p.Update(0, 0.2)
	if got := p.Fraction(); got != 0.25 {
		t.Errorf("expected progress to be monotone, got %f", got)
	}

	p.Update(0, 1)
	p.Update(1, 1)
	if got := p.Fraction(); got != 1 {
		t.Errorf("expected 1, got %f", got)
	}
	if got := p.Completed(); got != 2 {
		t.Errorf("expected 2 completed chapters, got %d", got)
	}
}

// Package checkpoint persists per-chapter rewrite progress so an interrupted
// job resumes without redoing completed gateway calls.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lamim/prosepress/pkg/models"
)

// MetaFilename is the job-level metadata record inside a job directory.
const MetaFilename = "meta.json"

// Store is the durable key-value store for one job's checkpoints. Chapter
// records are keyed by chapter index, so no two workers ever write the same
// file concurrently.
//
// All Save operations are best-effort: a failed write degrades resumability
// for that chapter but never aborts the pipeline.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore opens (creating if needed) the checkpoint directory for one job.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the job checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) chapterMetaPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("chapter_%d_meta.json", index))
}

func (s *Store) chapterWindowsPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("chapter_%d_windows.json", index))
}

// load reads and unmarshals a JSON record. Absent or unreadable records
// report ok=false; corruption is treated the same as absence.
func (s *Store) load(path string, v interface{}) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read checkpoint record", "path", path, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Discarding corrupt checkpoint record", "path", path, "error", err)
		return false
	}
	return true
}

// save marshals v and writes it atomically (temp file, then rename) so a
// crash mid-write never leaves a torn record.
func (s *Store) save(path string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("Failed to marshal checkpoint record", "path", path, "error", err)
		return
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		s.logger.Warn("Failed to write checkpoint record", "path", path, "error", err)
		return
	}
	if err := os.Rename(tempPath, path); err != nil {
		s.logger.Warn("Failed to rename checkpoint record", "path", path, "error", err)
	}
}

// LoadJobMeta returns the job metadata record if present and readable.
func (s *Store) LoadJobMeta() (*models.JobMetadata, bool) {
	var meta models.JobMetadata
	if !s.load(filepath.Join(s.dir, MetaFilename), &meta) {
		return nil, false
	}
	return &meta, true
}

// SaveJobMeta persists the job metadata record.
func (s *Store) SaveJobMeta(meta *models.JobMetadata) {
	s.save(filepath.Join(s.dir, MetaFilename), meta)
}

// LoadChapter returns the checkpoint for one chapter if present.
func (s *Store) LoadChapter(index int) (*models.ChapterCheckpoint, bool) {
	var cp models.ChapterCheckpoint
	if !s.load(s.chapterMetaPath(index), &cp) {
		return nil, false
	}
	return &cp, true
}

// SaveChapter persists one chapter's checkpoint record.
func (s *Store) SaveChapter(index int, cp *models.ChapterCheckpoint) {
	s.save(s.chapterMetaPath(index), cp)
}

// LoadWindows returns the ordered rewritten-window list for one chapter.
func (s *Store) LoadWindows(index int) ([]string, bool) {
	var windows []string
	if !s.load(s.chapterWindowsPath(index), &windows) {
		return nil, false
	}
	return windows, true
}

// SaveWindows persists the ordered rewritten-window list for one chapter.
// Callers save the window list before advancing ProcessedWindows, so a crash
// between the two redoes at most one window (at-least-once semantics).
func (s *Store) SaveWindows(index int, windows []string) {
	s.save(s.chapterWindowsPath(index), windows)
}

// Reset removes every record in the job directory. Used when an existing
// checkpoint is incompatible with the current job.
func (s *Store) Reset() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove checkpoint record: %w", err)
		}
	}
	return nil
}

// EnsureCompatible loads the job metadata and verifies it matches the
// current schema version, simplification level and chapter count. Any
// mismatch invalidates the stored checkpoints: rewritten windows produced
// under a different level or layout must not be reused. The returned
// metadata is always compatible (freshly created when needed).
func (s *Store) EnsureCompatible(jobID string, level models.Level, totalChapters int) *models.JobMetadata {
	meta, ok := s.LoadJobMeta()
	if ok {
		switch {
		case meta.SchemaVersion != models.CheckpointSchemaVersion:
			s.logger.Warn("Checkpoint schema mismatch, restarting job",
				"found", meta.SchemaVersion,
				"want", models.CheckpointSchemaVersion)
		case meta.Level != level:
			s.logger.Warn("Checkpoint level mismatch, restarting job",
				"found", meta.Level.String(),
				"want", level.String())
		case meta.TotalChapters != totalChapters:
			s.logger.Warn("Checkpoint chapter count mismatch, restarting job",
				"found", meta.TotalChapters,
				"want", totalChapters)
		default:
			return meta
		}

		if err := s.Reset(); err != nil {
			s.logger.Warn("Failed to reset incompatible checkpoint", "error", err)
		}
	}

	meta = newJobMetadata(jobID, level, totalChapters)
	s.SaveJobMeta(meta)
	return meta
}

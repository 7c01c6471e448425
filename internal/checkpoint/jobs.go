package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lamim/prosepress/pkg/models"
)

func newJobMetadata(jobID string, level models.Level, totalChapters int) *models.JobMetadata {
	return &models.JobMetadata{
		SchemaVersion: models.CheckpointSchemaVersion,
		JobID:         jobID,
		CreatedAt:     time.Now(),
		Level:         level,
		TotalChapters: totalChapters,
	}
}

// JobSummary describes one checkpointed job directory for management
// commands.
type JobSummary struct {
	JobID             string
	Dir               string
	Level             models.Level
	TotalChapters     int
	CompletedChapters int
	CreatedAt         time.Time
}

// Progress returns the completed-chapter percentage for the summary.
func (j JobSummary) Progress() float64 {
	if j.TotalChapters == 0 {
		return 0
	}
	return float64(j.CompletedChapters) / float64(j.TotalChapters) * 100.0
}

// ListJobs scans baseDir for job checkpoint directories and summarizes each
// one. Directories without a readable metadata record are skipped.
func ListJobs(baseDir string) ([]JobSummary, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint base directory: %w", err)
	}

	var jobs []JobSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, entry.Name())

		data, err := os.ReadFile(filepath.Join(dir, MetaFilename))
		if err != nil {
			continue
		}
		var meta models.JobMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		completed := 0
		for i := 0; i < meta.TotalChapters; i++ {
			cpData, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("chapter_%d_meta.json", i)))
			if err != nil {
				continue
			}
			var cp models.ChapterCheckpoint
			if err := json.Unmarshal(cpData, &cp); err != nil {
				continue
			}
			if cp.Complete {
				completed++
			}
		}

		jobs = append(jobs, JobSummary{
			JobID:             meta.JobID,
			Dir:               dir,
			Level:             meta.Level,
			TotalChapters:     meta.TotalChapters,
			CompletedChapters: completed,
			CreatedAt:         meta.CreatedAt,
		})
	}
	return jobs, nil
}

// Remove deletes one job's checkpoint directory.
func Remove(baseDir, jobID string) error {
	dir := filepath.Join(baseDir, jobID)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("checkpoint not found: %w", err)
	}
	return os.RemoveAll(dir)
}

package models

import "time"

// CheckpointSchemaVersion identifies the on-disk checkpoint layout. A job
// directory written with a different version is invalidated and the job
// restarts from scratch rather than inheriting undefined behavior.
const CheckpointSchemaVersion = 1

// JobMetadata is the job-level checkpoint record, written once per job and
// updated when the global summary is first computed.
type JobMetadata struct {
	SchemaVersion int       `json:"schema_version"`
	JobID         string    `json:"job_id"`
	CreatedAt     time.Time `json:"created_at"`
	Level         Level     `json:"simplification_level"`
	TotalChapters int       `json:"total_chapters"`
	GlobalSummary string    `json:"global_summary,omitempty"`
}

// ChapterCheckpoint records per-chapter rewrite progress. The rewritten
// window list is persisted separately; its length always equals
// ProcessedWindows.
type ChapterCheckpoint struct {
	ProcessedWindows int    `json:"processed_windows"`
	TotalWindows     int    `json:"total_windows"`
	Complete         bool   `json:"complete"`
	ChapterSummary   string `json:"chapter_summary,omitempty"`
}

package models

// Level selects the rewrite intensity.
type Level int

const (
	// LevelLight preserves style and only clarifies wording.
	LevelLight Level = 1
	// LevelModerate simplifies phrasing while keeping all content.
	LevelModerate Level = 2
	// LevelAggressive simplifies vocabulary and structure firmly,
	// preserving facts, names, dates and numbers.
	LevelAggressive Level = 3
)

// Valid reports whether l is one of the three supported intensities.
func (l Level) Valid() bool {
	return l >= LevelLight && l <= LevelAggressive
}

func (l Level) String() string {
	switch l {
	case LevelLight:
		return "light"
	case LevelModerate:
		return "moderate"
	case LevelAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// Chapter is one structural text unit of a document. ID is the stable join
// key used to map rewritten text back onto the original container; it is
// never regenerated mid-job.
type Chapter struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// JobStatus is the lifecycle state of a rewrite job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobState is the externally visible state of one rewrite job. Workers and
// the scheduler always publish complete snapshots, never partial patches,
// so concurrent readers observe a consistent record (last writer wins).
type JobState struct {
	JobID             string    `json:"job_id"`
	Status            JobStatus `json:"status"`
	Progress          float64   `json:"progress"` // fraction in [0,1]
	TotalChapters     int       `json:"total_chapters"`
	ProcessedChapters int       `json:"processed_chapters"`
	Message           string    `json:"message"`
	OutputPath        string    `json:"output_path,omitempty"`
	Error             string    `json:"error,omitempty"`
}

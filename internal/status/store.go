// Package status holds the in-memory job state published by the pipeline
// and read by callers polling for progress.
package status

import (
	"sync"

	"github.com/lamim/prosepress/pkg/models"
)

// Store maps job IDs to their latest state snapshot. Writers always replace
// the whole record; readers always get a consistent copy. The last write
// wins, which is safe because each job has exactly one publisher.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]models.JobState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]models.JobState)}
}

// Set replaces the state snapshot for a job.
func (s *Store) Set(state models.JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[state.JobID] = state
}

// Get returns a copy of the job's latest snapshot.
func (s *Store) Get(jobID string) (models.JobState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.jobs[jobID]
	return state, ok
}

// List returns every known job snapshot.
func (s *Store) List() []models.JobState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.JobState, 0, len(s.jobs))
	for _, state := range s.jobs {
		out = append(out, state)
	}
	return out
}

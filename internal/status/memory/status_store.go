// Package memory provides the in-process job status store.
package memory

import (
	"errors"
	"sort"
	"sync"

	"github.com/umaten/autopress/internal/pipeline"
)

// ErrJobExists is returned when a status record is created twice.
var ErrJobExists = errors.New("job already exists")

// StatusStore maps job IDs to their current status record. Each record is
// mutated only by the runner that owns the job; reads may come from any
// number of polling clients. Updates replace the stored record wholesale so
// a concurrent reader never observes a half-written status.
type StatusStore struct {
	mu       sync.RWMutex
	statuses map[string]pipeline.JobStatus
}

// NewStatusStore constructs an empty StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		statuses: make(map[string]pipeline.JobStatus),
	}
}

// Create stores a new status record in queued state.
func (s *StatusStore) Create(status pipeline.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.statuses[status.JobID]; exists {
		return ErrJobExists
	}
	s.statuses[status.JobID] = status
	return nil
}

// Get fetches a status snapshot by job ID.
func (s *StatusStore) Get(jobID string) (pipeline.JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[jobID]
	return status, ok
}

// List returns all status snapshots ordered by creation time, newest first.
func (s *StatusStore) List() []pipeline.JobStatus {
	s.mu.RLock()
	out := make([]pipeline.JobStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		out = append(out, status)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].JobID > out[j].JobID
		}
		return out[i].Created.After(out[j].Created)
	})
	return out
}

// Update applies mutate to a copy of the current record and stores the copy
// back, returning the new snapshot. Returns false if the job is unknown.
func (s *StatusStore) Update(jobID string, mutate func(*pipeline.JobStatus)) (pipeline.JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[jobID]
	if !ok {
		return pipeline.JobStatus{}, false
	}
	mutate(&status)
	s.statuses[jobID] = status
	return status, true
}

// URLKnown reports whether any job, in any state, targets the given URL.
// Terminal jobs count too: a URL that already failed is not retried within
// this process lifetime, so resubmission never hammers the source site.
func (s *StatusStore) URLKnown(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range s.statuses {
		if status.URL == url {
			return true
		}
	}
	return false
}

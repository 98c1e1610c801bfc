// Package settings holds the runtime-tunable knobs read by the supervising loop.
package settings

import (
	"fmt"
	"sync/atomic"

	"github.com/umaten/autopress/internal/pipeline"
)

// Defaults applied when a store is created without explicit values.
const (
	DefaultArticlesPerHour = 10
	DefaultConcurrentJobs  = 3
)

// Store publishes the current Settings record. Updates swap the whole record
// through an atomic pointer: readers see either the old or the new record,
// never a torn mix of fields.
type Store struct {
	current atomic.Pointer[pipeline.Settings]
}

// NewStore seeds a Store with the given settings, filling zero fields with
// defaults.
func NewStore(initial pipeline.Settings) *Store {
	if initial.ArticlesPerHour <= 0 {
		initial.ArticlesPerHour = DefaultArticlesPerHour
	}
	if initial.ConcurrentJobs <= 0 {
		initial.ConcurrentJobs = DefaultConcurrentJobs
	}
	s := &Store{}
	s.current.Store(&initial)
	return s
}

// Current returns the active settings snapshot.
func (s *Store) Current() pipeline.Settings {
	return *s.current.Load()
}

// Update validates and installs a replacement settings record.
func (s *Store) Update(next pipeline.Settings) error {
	if next.ArticlesPerHour <= 0 {
		return fmt.Errorf("articles_per_hour must be > 0, got %d", next.ArticlesPerHour)
	}
	if next.ConcurrentJobs <= 0 {
		return fmt.Errorf("concurrent_jobs must be > 0, got %d", next.ConcurrentJobs)
	}
	s.current.Store(&next)
	return nil
}

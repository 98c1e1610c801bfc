// Package progress defines the status-change events emitted by job runners.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/umaten/autopress/internal/pipeline"
)

// Event captures one job status change: a lifecycle transition or a progress
// update within a stage. Events are snapshots; consumers must not expect to
// see every intermediate value under load.
type Event struct {
	// JobID identifies the job whose status changed.
	JobID string `json:"job_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// State is the lifecycle state after the change.
	State pipeline.State `json:"state"`
	// Progress is the 0-100 completion estimate after the change.
	Progress int `json:"progress"`
	// Step is the human-readable label for the current stage.
	Step string `json:"current_step"`
	// URL is the job's target listing URL.
	URL string `json:"url"`
	// Note carries low-volume context such as error or warning text.
	Note string `json:"note,omitempty"`
	// Dur is the job runtime, set only on terminal events.
	Dur time.Duration `json:"duration_ns,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.State {
	case pipeline.StateQueued, pipeline.StateFetching, pipeline.StateGenerating,
		pipeline.StatePublishing, pipeline.StateCompleted:
	case pipeline.StateError:
		if e.Note == "" {
			return errors.New("error event requires a note")
		}
	default:
		return fmt.Errorf("unknown state %q", e.State)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return fmt.Errorf("progress %d out of range", e.Progress)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// FromStatus builds an Event from a status snapshot.
func FromStatus(status pipeline.JobStatus, ts time.Time) Event {
	note := status.Error
	if note == "" {
		note = status.Warning
	}
	evt := Event{
		JobID:    status.JobID,
		TS:       ts,
		State:    status.State,
		Progress: status.Progress,
		Step:     status.Step,
		URL:      status.URL,
		Note:     note,
	}
	if status.State.Terminal() && !status.Created.IsZero() {
		evt.Dur = ts.Sub(status.Created)
	}
	return evt
}

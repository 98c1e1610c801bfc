// Package usage tracks rolling token consumption and cost windows.
package usage

import (
	"sync"
	"time"

	"github.com/umaten/autopress/internal/pipeline"
)

// Window periods. The total window never resets.
const (
	MinutePeriod = time.Minute
	HourPeriod   = time.Hour
	DayPeriod    = 24 * time.Hour
)

// Window is one rolling accumulator of consumption and cost.
type Window struct {
	InputTokens  int64     `json:"input"`
	OutputTokens int64     `json:"output"`
	Cost         float64   `json:"cost"`
	Count        int64     `json:"count"`
	Start        time.Time `json:"start,omitzero"`
}

// Snapshot is a consistent view of all four windows.
type Snapshot struct {
	Minute Window `json:"minute"`
	Hour   Window `json:"hour"`
	Day    Window `json:"day"`
	Total  Window `json:"total"`
}

// Tracker accumulates usage across minute, hour, day, and total windows.
// All four windows are updated under one critical section per Record call so
// a reader never observes three fresh windows and one stale one. Windows
// whose period has elapsed are reset before any increment is applied.
type Tracker struct {
	mu     sync.Mutex
	clock  pipeline.Clock
	minute Window
	hour   Window
	day    Window
	total  Window
}

// NewTracker constructs a Tracker with all window starts at the current time.
func NewTracker(clock pipeline.Clock) *Tracker {
	now := clock.Now()
	return &Tracker{
		clock:  clock,
		minute: Window{Start: now},
		hour:   Window{Start: now},
		day:    Window{Start: now},
	}
}

// Record adds one completed job's consumption to every window. Call exactly
// once per job that reached the generation stage, fallback included.
func (t *Tracker) Record(inputTokens, outputTokens int64, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.resetExpired(now)
	for _, w := range []*Window{&t.minute, &t.hour, &t.day, &t.total} {
		w.InputTokens += inputTokens
		w.OutputTokens += outputTokens
		w.Cost += cost
		w.Count++
	}
}

// HourCount returns the completion count of the hour window, resetting it
// first if its period has elapsed. The supervising loop reads this against
// the throughput cap every tick.
func (t *Tracker) HourCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetExpired(t.clock.Now())
	return t.hour.Count
}

// SnapshotUsage returns a consistent copy of all four windows, resetting any
// expired window first so readers never see stale accumulation.
func (t *Tracker) SnapshotUsage() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetExpired(t.clock.Now())
	return Snapshot{
		Minute: t.minute,
		Hour:   t.hour,
		Day:    t.day,
		Total:  t.total,
	}
}

func (t *Tracker) resetExpired(now time.Time) {
	resetIfElapsed(&t.minute, now, MinutePeriod)
	resetIfElapsed(&t.hour, now, HourPeriod)
	resetIfElapsed(&t.day, now, DayPeriod)
}

func resetIfElapsed(w *Window, now time.Time, period time.Duration) {
	if now.Sub(w.Start) >= period {
		*w = Window{Start: now}
	}
}

// EstimateTokens approximates token counts from content length. The fixed
// model assumes roughly four bytes per token.
func EstimateTokens(contentLen int) int64 {
	return int64(contentLen / 4)
}

// Cost converts token counts to dollars given per-million-token rates.
func Cost(inputTokens, outputTokens int64, inputRate, outputRate float64) float64 {
	return float64(inputTokens)/1_000_000*inputRate + float64(outputTokens)/1_000_000*outputRate
}

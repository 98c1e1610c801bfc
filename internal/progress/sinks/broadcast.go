package sinks

import (
	"context"
	"sync"

	"github.com/umaten/autopress/internal/progress"
)

// BroadcastSink fans events out to live subscribers (the SSE endpoint).
// Subscribers receive on buffered channels; a subscriber that falls behind
// has events dropped rather than ever blocking the flush path.
type BroadcastSink struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan progress.Event
	bufSize int
	closed  bool
}

// NewBroadcastSink constructs a BroadcastSink with the given per-subscriber
// buffer size (default 64).
func NewBroadcastSink(bufSize int) *BroadcastSink {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &BroadcastSink{
		subs:    make(map[int]chan progress.Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. The channel is closed on cancel or sink close.
func (s *BroadcastSink) Subscribe() (<-chan progress.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ch := make(chan progress.Event)
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	ch := make(chan progress.Event, s.bufSize)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Consume delivers each event to every subscriber without blocking.
func (s *BroadcastSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		for _, ch := range s.subs {
			select {
			case ch <- evt:
			default:
				// Slow subscriber; drop rather than stall the hub.
			}
		}
	}
	return nil
}

// Close closes all subscriber channels.
func (s *BroadcastSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	return nil
}

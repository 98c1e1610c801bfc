package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umaten/autopress/internal/pipeline"
	"github.com/umaten/autopress/internal/progress"
)

func TestBroadcastDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	sink := NewBroadcastSink(4)
	ch1, cancel1 := sink.Subscribe()
	ch2, cancel2 := sink.Subscribe()
	defer cancel1()
	defer cancel2()

	evt := progress.Event{JobID: "job-1", TS: time.Now(), State: pipeline.StateFetching}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{evt}))

	for _, ch := range []<-chan progress.Event{ch1, ch2} {
		select {
		case got := <-ch:
			require.Equal(t, "job-1", got.JobID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBroadcastDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	sink := NewBroadcastSink(1)
	ch, cancel := sink.Subscribe()
	defer cancel()

	batch := make([]progress.Event, 5)
	for i := range batch {
		batch[i] = progress.Event{JobID: "job-1", TS: time.Now(), State: pipeline.StateFetching}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sink.Consume(context.Background(), batch)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume blocked on a slow subscriber")
	}
	// Only the buffered event survives.
	require.Len(t, ch, 1)
}

func TestBroadcastCancelAndClose(t *testing.T) {
	t.Parallel()

	sink := NewBroadcastSink(4)
	ch, cancel := sink.Subscribe()
	cancel()
	_, open := <-ch
	require.False(t, open)

	ch2, _ := sink.Subscribe()
	require.NoError(t, sink.Close(context.Background()))
	_, open = <-ch2
	require.False(t, open)

	// Subscribing after close yields a closed channel.
	ch3, _ := sink.Subscribe()
	_, open = <-ch3
	require.False(t, open)
}

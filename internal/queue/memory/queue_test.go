package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/umaten/autopress/internal/pipeline"
)

func TestQueueFIFOOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := 0; i < 20; i++ {
		q.Enqueue(pipeline.Job{ID: fmt.Sprintf("job-%02d", i)})
	}
	if q.Len() != 20 {
		t.Fatalf("expected 20 pending jobs, got %d", q.Len())
	}
	for i := 0; i < 20; i++ {
		job, ok := q.TryDequeue()
		if !ok {
			t.Fatalf("expected job at position %d", i)
		}
		if want := fmt.Sprintf("job-%02d", i); job.ID != want {
			t.Fatalf("expected %s, got %s", want, job.ID)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected empty queue after draining")
	}
}

func TestQueueTryDequeueEmpty(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected false on empty queue")
	}
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(pipeline.Job{ID: fmt.Sprintf("p%d-%d", p, i)})
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for {
		job, ok := q.TryDequeue()
		if !ok {
			break
		}
		if _, dup := seen[job.ID]; dup {
			t.Fatalf("job %s dequeued twice", job.ID)
		}
		seen[job.ID] = struct{}{}
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("expected %d jobs, got %d", producers*perProducer, len(seen))
	}
}

// Package memory provides the in-process FIFO job queue.
package memory

import (
	"sync"

	"github.com/umaten/autopress/internal/pipeline"
)

// Queue is an unbounded FIFO list of pending jobs. Enqueue may be called from
// any number of submission goroutines; TryDequeue is called only by the
// supervising loop and never blocks.
type Queue struct {
	mu   sync.Mutex
	jobs []pipeline.Job
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a job to the tail.
func (q *Queue) Enqueue(job pipeline.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

// TryDequeue pops the head job, or returns false if the queue is empty.
func (q *Queue) TryDequeue() (pipeline.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return pipeline.Job{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

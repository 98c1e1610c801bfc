// Package scheduler drives job dispatch from the queue into the runner pool.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/pipeline"
)

// Runner executes a single job end to end. Implementations own all status
// reporting for the job; Process never returns an error.
type Runner interface {
	Process(ctx context.Context, job pipeline.Job)
}

// Config controls Scheduler behavior.
type Config struct {
	// TickInterval is the supervising loop period. Defaults to 500ms.
	TickInterval time.Duration
	// PoolSize bounds the total number of runner goroutines. It is sized
	// well above the concurrency cap so that raising the cap at runtime
	// never starves dispatch. Defaults to 10.
	PoolSize int
}

// Scheduler polls the queue on a fixed tick and hands jobs to the runner,
// honoring the concurrency cap and the hourly throughput cap. The check of
// the in-flight count and the dequeue happen under one mutex, so two ticks
// (or a tick racing a release) can never over-admit.
type Scheduler struct {
	queue    pipeline.Queue
	settings pipeline.SettingsSource
	usage    pipeline.UsageRecorder
	runner   Runner
	logger   *zap.Logger
	cfg      Config

	mu       sync.Mutex
	inflight int

	slots chan struct{}
	wg    sync.WaitGroup
}

// New constructs a Scheduler.
func New(
	queue pipeline.Queue,
	settings pipeline.SettingsSource,
	usage pipeline.UsageRecorder,
	runner Runner,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	return &Scheduler{
		queue:    queue,
		settings: settings,
		usage:    usage,
		runner:   runner,
		logger:   logger,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.PoolSize),
	}
}

// Run ticks until the context finishes, then waits for in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Step(ctx)
		}
	}
}

// Step performs one scheduling pass dispatching at most one job. The hour
// counter only rises when a job completes, so admitting a single job per
// tick keeps a burst of queued work from overshooting the throughput cap.
// Exposed so tests can drive the loop without real time.
func (s *Scheduler) Step(ctx context.Context) {
	set := s.settings.Current()
	if s.usage.HourCount() >= int64(set.ArticlesPerHour) {
		return
	}
	job, ok := s.claim(set.ConcurrentJobs)
	if !ok {
		return
	}
	s.dispatch(ctx, job)
}

// claim atomically checks the concurrency cap and pops the queue head.
func (s *Scheduler) claim(cap int) (pipeline.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight >= cap {
		return pipeline.Job{}, false
	}
	job, ok := s.queue.TryDequeue()
	if !ok {
		return pipeline.Job{}, false
	}
	s.inflight++
	return job, true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
}

func (s *Scheduler) dispatch(ctx context.Context, job pipeline.Job) {
	s.logger.Info("dispatching job",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Int("inflight", s.InFlight()),
	)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		case <-ctx.Done():
			return
		}
		s.runner.Process(ctx, job)
	}()
}

// InFlight reports the number of jobs currently being processed.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

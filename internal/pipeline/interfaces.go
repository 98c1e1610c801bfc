package pipeline

import (
	"context"
	"time"
)

// Queue provides FIFO enqueue/dequeue semantics for publishing jobs.
// TryDequeue never blocks; the supervising loop is the only consumer.
type Queue interface {
	Enqueue(job Job)
	TryDequeue() (Job, bool)
	Len() int
}

// StatusStore holds one JobStatus per job for the lifetime of the process.
type StatusStore interface {
	Create(status JobStatus) error
	Get(jobID string) (JobStatus, bool)
	List() []JobStatus
	Update(jobID string, mutate func(*JobStatus)) (JobStatus, bool)
	URLKnown(url string) bool
}

// Scraper fetches listing records from the source site.
type Scraper interface {
	Fetch(ctx context.Context, url string) (Listing, error)
	ExtractListingURLs(ctx context.Context, listURL string, allPages bool) ([]string, error)
}

// Generator produces article content from a fetched listing.
type Generator interface {
	Generate(ctx context.Context, listing Listing) (Article, error)
}

// Publisher pushes articles to the content-management system.
type Publisher interface {
	CreatePost(ctx context.Context, article Article, categoryIDs []int, status PostStatus) (Post, error)
	ResolveCategories(ctx context.Context, listing Listing) ([]int, error)
	Categories(ctx context.Context) ([]Category, error)
}

// UsageRecorder accumulates token consumption and cost per completed job.
type UsageRecorder interface {
	Record(inputTokens, outputTokens int64, cost float64)
	HourCount() int64
}

// SettingsSource exposes the current runtime settings snapshot.
type SettingsSource interface {
	Current() Settings
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Package pipeline defines core types shared across subsystems.
package pipeline

import "time"

// State represents the lifecycle state of a publishing job.
type State string

// Job states reported by the status store. Transitions are one-directional:
// queued -> fetching -> generating -> publishing -> completed, with error
// reachable from any non-terminal state.
const (
	StateQueued     State = "queued"
	StateFetching   State = "fetching"
	StateGenerating State = "generating"
	StatePublishing State = "publishing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Job is one unit of work: fetch a listing, generate an article, publish it.
// Jobs are immutable once enqueued.
type Job struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Submitted time.Time `json:"submitted_at"`

	// CategoryIDs pins the WordPress categories for the resulting post.
	// A nil slice means the publisher auto-classifies from the listing.
	CategoryIDs []int `json:"category_ids,omitempty"`
}

// Result is recorded on successful completion of a job.
type Result struct {
	PostID         int    `json:"post_id"`
	PostURL        string `json:"post_url"`
	RestaurantName string `json:"restaurant_name"`
	UsedFallback   bool   `json:"used_fallback"`
}

// JobStatus is the mutable per-job record read by status-polling clients.
// It is replaced wholesale on every update, never mutated in place, so
// concurrent readers always observe a consistent snapshot.
type JobStatus struct {
	JobID    string    `json:"job_id"`
	URL      string    `json:"url"`
	State    State     `json:"state"`
	Progress int       `json:"progress"`
	Step     string    `json:"current_step"`
	Result   *Result   `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
	Warning  string    `json:"warning,omitempty"`
	Created  time.Time `json:"created_at"`
}

// Budget holds the price band scraped from a listing page.
type Budget struct {
	Lunch  string `json:"lunch,omitempty"`
	Dinner string `json:"dinner,omitempty"`
}

// Review is a short visitor review snippet scraped from the listing.
type Review struct {
	Title   string `json:"title,omitempty"`
	Excerpt string `json:"excerpt"`
}

// Listing is the record returned by the scraping collaborator.
type Listing struct {
	URL           string   `json:"url"`
	Name          string   `json:"name"`
	Categories    []string `json:"categories"`
	Rating        float64  `json:"rating"`
	ReviewCount   int      `json:"review_count"`
	Address       string   `json:"address"`
	Station       string   `json:"station,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	BusinessHours string   `json:"business_hours,omitempty"`
	Holiday       string   `json:"holiday,omitempty"`
	Budget        Budget   `json:"budget"`
	Seats         string   `json:"seats,omitempty"`
	Description   string   `json:"description,omitempty"`
	Website       string   `json:"official_website,omitempty"`
	PhotoCount    int      `json:"photo_count"`
	Images        []string `json:"images"`
	Reviews       []Review `json:"reviews,omitempty"`
}

// Article is the content payload handed to the publisher, either produced by
// the generation collaborator or synthesized as fallback content.
type Article struct {
	Title           string   `json:"title"`
	HTML            string   `json:"html"`
	Slug            string   `json:"slug"`
	Category        string   `json:"category,omitempty"`
	Tags            []string `json:"tags"`
	MetaDescription string   `json:"meta_description"`

	// Token usage reported by the model, zero for fallback payloads.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Post identifies the article created on the publishing side.
type Post struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// Category is one node of the publishing side's category taxonomy.
type Category struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Parent int    `json:"parent"`
}

// PostStatus selects draft vs immediate publication.
type PostStatus string

// Post statuses accepted by the publishing collaborator.
const (
	PostDraft   PostStatus = "draft"
	PostPublish PostStatus = "publish"
)

// Settings is the process-wide runtime configuration read by the supervising
// loop every tick. Updates replace the whole record atomically; readers may
// see the old or new record, never a torn mix.
type Settings struct {
	ArticlesPerHour int  `json:"articles_per_hour"`
	AutoPublish     bool `json:"auto_publish"`
	ConcurrentJobs  int  `json:"concurrent_jobs"`
}

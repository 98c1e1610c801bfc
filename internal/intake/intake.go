// Package intake validates submitted URLs and turns them into queued jobs.
package intake

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/pipeline"
)

// Entry is one submitted URL with optional per-URL category pinning.
type Entry struct {
	URL         string `json:"url"`
	CategoryIDs []int  `json:"category_ids,omitempty"`
}

// Request is a submission batch. Batch-level CategoryIDs apply to entries
// without their own when UseAutoCategory is off.
type Request struct {
	Entries         []Entry `json:"urls"`
	CategoryIDs     []int   `json:"category_ids,omitempty"`
	UseAutoCategory bool    `json:"use_auto_category"`
	IncludeAllPages bool    `json:"include_all_pages"`
}

// EntryError reports why one submitted URL produced no job.
type EntryError struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Receipt summarizes a submission: jobs accepted plus entries skipped.
type Receipt struct {
	JobIDs  []string     `json:"job_ids"`
	Skipped []EntryError `json:"skipped,omitempty"`
}

// ErrEmptyRequest is returned when a submission carries no URLs.
var ErrEmptyRequest = errors.New("no urls submitted")

// listingURL collapses listing subpages (reviews, photo pages) onto the
// canonical detail page, e.g. /hokkaido/A0112/A011203/1011581/dtlrvwlst/
// down to /hokkaido/A0112/A011203/1011581/.
var listingURL = regexp.MustCompile(`^(https?://[^/]+/[^/]+/A\d+/A\d+/\d+)(?:/.*)?$`)

// Intake normalizes URLs, expands list pages, suppresses duplicates, and
// enqueues the surviving jobs with a queued status record.
type Intake struct {
	queue   pipeline.Queue
	status  pipeline.StatusStore
	scraper pipeline.Scraper
	ids     pipeline.IDGenerator
	clock   pipeline.Clock
	logger  *zap.Logger
}

// New constructs an Intake.
func New(
	queue pipeline.Queue,
	status pipeline.StatusStore,
	scraper pipeline.Scraper,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{
		queue:   queue,
		status:  status,
		scraper: scraper,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// Submit processes a batch. Individual bad entries are reported in the
// receipt rather than failing the batch; Submit errors only when the batch
// itself is unusable.
func (in *Intake) Submit(ctx context.Context, req Request) (Receipt, error) {
	var receipt Receipt
	submitted := 0
	seen := make(map[string]struct{})

	for _, entry := range req.Entries {
		raw := strings.TrimSpace(entry.URL)
		if raw == "" {
			continue
		}
		submitted++

		if IsListPage(raw) {
			urls, err := in.scraper.ExtractListingURLs(ctx, raw, req.IncludeAllPages)
			if err != nil {
				receipt.Skipped = append(receipt.Skipped, EntryError{URL: raw, Reason: fmt.Sprintf("list page extraction failed: %v", err)})
				continue
			}
			if len(urls) == 0 {
				receipt.Skipped = append(receipt.Skipped, EntryError{URL: raw, Reason: "no listing urls found on list page"})
				continue
			}
			in.logger.Info("expanded list page",
				zap.String("url", raw),
				zap.Int("listings", len(urls)),
				zap.Bool("all_pages", req.IncludeAllPages),
			)
			for _, u := range urls {
				in.admit(&receipt, seen, NormalizeURL(u), categoriesFor(entry, req))
			}
			continue
		}

		in.admit(&receipt, seen, NormalizeURL(raw), categoriesFor(entry, req))
	}

	if submitted == 0 {
		return Receipt{}, ErrEmptyRequest
	}
	return receipt, nil
}

// admit enqueues one normalized listing URL unless it duplicates an earlier
// job (in any state) or another URL in the same batch.
func (in *Intake) admit(receipt *Receipt, seen map[string]struct{}, url string, categoryIDs []int) {
	if _, dup := seen[url]; dup {
		return
	}
	seen[url] = struct{}{}

	if in.status.URLKnown(url) {
		in.logger.Info("skipping duplicate url", zap.String("url", url))
		receipt.Skipped = append(receipt.Skipped, EntryError{URL: url, Reason: "already submitted"})
		return
	}

	id, err := in.ids.NewID()
	if err != nil {
		receipt.Skipped = append(receipt.Skipped, EntryError{URL: url, Reason: fmt.Sprintf("id generation failed: %v", err)})
		return
	}
	now := in.clock.Now()
	if err := in.status.Create(pipeline.JobStatus{
		JobID:   id,
		URL:     url,
		State:   pipeline.StateQueued,
		Step:    "waiting",
		Created: now,
	}); err != nil {
		receipt.Skipped = append(receipt.Skipped, EntryError{URL: url, Reason: err.Error()})
		return
	}
	in.queue.Enqueue(pipeline.Job{
		ID:          id,
		URL:         url,
		Submitted:   now,
		CategoryIDs: categoryIDs,
	})
	receipt.JobIDs = append(receipt.JobIDs, id)
}

// categoriesFor applies the category precedence: per-URL ids win, then the
// batch ids when auto-classification is off, then nil for auto-resolve.
func categoriesFor(entry Entry, req Request) []int {
	if len(entry.CategoryIDs) > 0 {
		return entry.CategoryIDs
	}
	if !req.UseAutoCategory && len(req.CategoryIDs) > 0 {
		return req.CategoryIDs
	}
	return nil
}

// IsListPage reports whether the URL is a search-result or area list page
// rather than a single listing.
func IsListPage(url string) bool {
	return strings.Contains(url, "/rstLst/") || strings.Contains(url, "/lst/")
}

// NormalizeURL strips query and fragment and collapses listing subpages to
// the canonical detail URL with a trailing slash.
func NormalizeURL(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	if m := listingURL.FindStringSubmatch(url); m != nil {
		return m[1] + "/"
	}
	return strings.TrimRight(url, "/") + "/"
}

package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umaten/autopress/internal/pipeline"
	queuemem "github.com/umaten/autopress/internal/queue/memory"
	statusmem "github.com/umaten/autopress/internal/status/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type listScraper struct {
	urls  []string
	err   error
	calls int

	gotURL      string
	gotAllPages bool
}

func (s *listScraper) Fetch(context.Context, string) (pipeline.Listing, error) {
	return pipeline.Listing{}, errors.New("fetch not used by intake")
}

func (s *listScraper) ExtractListingURLs(_ context.Context, listURL string, allPages bool) ([]string, error) {
	s.calls++
	s.gotURL = listURL
	s.gotAllPages = allPages
	return s.urls, s.err
}

type fixture struct {
	intake  *Intake
	queue   *queuemem.Queue
	status  *statusmem.StatusStore
	scraper *listScraper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:   queuemem.NewQueue(),
		status:  statusmem.NewStatusStore(),
		scraper: &listScraper{},
	}
	f.intake = New(f.queue, f.status, f.scraper, &seqIDs{}, fixedClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}, nil)
	return f
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{
			in:   "https://tabelog.com/hokkaido/A0112/A011203/1011581/dtlrvwlst/",
			want: "https://tabelog.com/hokkaido/A0112/A011203/1011581/",
		},
		{
			in:   "https://tabelog.com/tokyo/A1301/A130101/13000001",
			want: "https://tabelog.com/tokyo/A1301/A130101/13000001/",
		},
		{
			in:   "https://tabelog.com/tokyo/A1301/A130101/13000001/dtlphotolst/?smp=1#photos",
			want: "https://tabelog.com/tokyo/A1301/A130101/13000001/",
		},
		{
			in:   "https://example.com/somewhere/else",
			want: "https://example.com/somewhere/else/",
		},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeURL(tc.in), "input %s", tc.in)
	}
}

func TestIsListPage(t *testing.T) {
	t.Parallel()

	require.True(t, IsListPage("https://tabelog.com/hokkaido/A0105/A010501/rstLst/"))
	require.True(t, IsListPage("https://tabelog.com/tokyo/lst/cond1/"))
	require.False(t, IsListPage("https://tabelog.com/tokyo/A1301/A130101/13000001/"))
}

func TestSubmitSingleURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	receipt, err := f.intake.Submit(context.Background(), Request{
		Entries:         []Entry{{URL: "https://tabelog.com/tokyo/A1301/A130101/13000001/dtlrvwlst/"}},
		UseAutoCategory: true,
	})
	require.NoError(t, err)
	require.Len(t, receipt.JobIDs, 1)
	require.Empty(t, receipt.Skipped)

	job, ok := f.queue.TryDequeue()
	require.True(t, ok)
	require.Equal(t, "https://tabelog.com/tokyo/A1301/A130101/13000001/", job.URL)
	require.Nil(t, job.CategoryIDs)

	status, ok := f.status.Get(job.ID)
	require.True(t, ok)
	require.Equal(t, pipeline.StateQueued, status.State)
	require.Equal(t, 0, status.Progress)
}

func TestSubmitExpandsListPage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.scraper.urls = []string{
		"https://tabelog.com/tokyo/A1301/A130101/13000001/",
		"https://tabelog.com/tokyo/A1301/A130101/13000002/",
		// List pages can repeat a listing across sort orders.
		"https://tabelog.com/tokyo/A1301/A130101/13000001/",
	}

	receipt, err := f.intake.Submit(context.Background(), Request{
		Entries:         []Entry{{URL: "https://tabelog.com/tokyo/A1301/rstLst/"}},
		IncludeAllPages: true,
		UseAutoCategory: true,
	})
	require.NoError(t, err)
	require.Len(t, receipt.JobIDs, 2)
	require.Equal(t, 2, f.queue.Len())
	require.True(t, f.scraper.gotAllPages)
	require.Equal(t, "https://tabelog.com/tokyo/A1301/rstLst/", f.scraper.gotURL)
}

func TestSubmitEmptyListPageIsEntryError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	receipt, err := f.intake.Submit(context.Background(), Request{
		Entries: []Entry{{URL: "https://tabelog.com/tokyo/A1301/rstLst/"}},
	})
	require.NoError(t, err)
	require.Empty(t, receipt.JobIDs)
	require.Len(t, receipt.Skipped, 1)
	require.Contains(t, receipt.Skipped[0].Reason, "no listing urls")
	require.Equal(t, 0, f.queue.Len())
}

func TestSubmitSuppressesDuplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first, err := f.intake.Submit(context.Background(), Request{
		Entries: []Entry{{URL: "https://tabelog.com/tokyo/A1301/A130101/13000001/"}},
	})
	require.NoError(t, err)
	require.Len(t, first.JobIDs, 1)

	// Same listing via a subpage URL is still a duplicate after
	// normalization, regardless of the existing job's state.
	second, err := f.intake.Submit(context.Background(), Request{
		Entries: []Entry{{URL: "https://tabelog.com/tokyo/A1301/A130101/13000001/dtlphotolst/"}},
	})
	require.NoError(t, err)
	require.Empty(t, second.JobIDs)
	require.Len(t, second.Skipped, 1)
	require.Contains(t, second.Skipped[0].Reason, "already submitted")
	require.Equal(t, 1, f.queue.Len())
}

func TestSubmitCategoryPrecedence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	receipt, err := f.intake.Submit(context.Background(), Request{
		Entries: []Entry{
			{URL: "https://tabelog.com/tokyo/A1301/A130101/13000001/", CategoryIDs: []int{5}},
			{URL: "https://tabelog.com/tokyo/A1301/A130101/13000002/"},
		},
		CategoryIDs:     []int{9, 10},
		UseAutoCategory: false,
	})
	require.NoError(t, err)
	require.Len(t, receipt.JobIDs, 2)

	first, ok := f.queue.TryDequeue()
	require.True(t, ok)
	require.Equal(t, []int{5}, first.CategoryIDs)

	second, ok := f.queue.TryDequeue()
	require.True(t, ok)
	require.Equal(t, []int{9, 10}, second.CategoryIDs)
}

func TestSubmitAutoCategoryIgnoresBatchIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.intake.Submit(context.Background(), Request{
		Entries:         []Entry{{URL: "https://tabelog.com/tokyo/A1301/A130101/13000001/"}},
		CategoryIDs:     []int{9},
		UseAutoCategory: true,
	})
	require.NoError(t, err)

	job, ok := f.queue.TryDequeue()
	require.True(t, ok)
	require.Nil(t, job.CategoryIDs)
}

func TestSubmitEmptyRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.intake.Submit(context.Background(), Request{})
	require.ErrorIs(t, err, ErrEmptyRequest)

	_, err = f.intake.Submit(context.Background(), Request{Entries: []Entry{{URL: "   "}}})
	require.ErrorIs(t, err, ErrEmptyRequest)
}

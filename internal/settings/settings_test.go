package settings

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/umaten/autopress/internal/pipeline"
)

func TestStoreDefaults(t *testing.T) {
	t.Parallel()

	s := NewStore(pipeline.Settings{})
	got := s.Current()
	require.Equal(t, DefaultArticlesPerHour, got.ArticlesPerHour)
	require.Equal(t, DefaultConcurrentJobs, got.ConcurrentJobs)
	require.False(t, got.AutoPublish)
}

func TestStoreUpdateValidation(t *testing.T) {
	t.Parallel()

	s := NewStore(pipeline.Settings{ArticlesPerHour: 5, ConcurrentJobs: 2})

	require.Error(t, s.Update(pipeline.Settings{ArticlesPerHour: 0, ConcurrentJobs: 2}))
	require.Error(t, s.Update(pipeline.Settings{ArticlesPerHour: 5, ConcurrentJobs: -1}))
	// Failed updates leave the old record in place.
	require.Equal(t, 5, s.Current().ArticlesPerHour)

	require.NoError(t, s.Update(pipeline.Settings{ArticlesPerHour: 20, AutoPublish: true, ConcurrentJobs: 4}))
	got := s.Current()
	require.Equal(t, 20, got.ArticlesPerHour)
	require.True(t, got.AutoPublish)
	require.Equal(t, 4, got.ConcurrentJobs)
}

func TestStoreConcurrentReadersSeeWholeRecords(t *testing.T) {
	t.Parallel()

	// Writers alternate between two records whose fields are correlated;
	// readers must never observe a mix.
	a := pipeline.Settings{ArticlesPerHour: 1, AutoPublish: false, ConcurrentJobs: 1}
	b := pipeline.Settings{ArticlesPerHour: 100, AutoPublish: true, ConcurrentJobs: 100}
	s := NewStore(a)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					got := s.Current()
					if got != a && got != b {
						t.Errorf("torn settings read: %+v", got)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			require.NoError(t, s.Update(b))
		} else {
			require.NoError(t, s.Update(a))
		}
	}
	close(stop)
	wg.Wait()
}

package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

func newTestStore(t *testing.T, retention crawler.Retention) (*JobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewJobStore(client, "test:", retention), mr
}

func waitingJob(id string, submitted time.Time) crawler.Job {
	return crawler.Job{
		ID:          id,
		URL:         "https://example.com/" + id,
		State:       crawler.StateWaiting,
		MaxAttempts: 3,
		SubmittedAt: submitted,
	}
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t, crawler.Retention{})
	ctx := context.Background()
	submitted := time.Unix(100, 0).UTC()

	require.NoError(t, store.CreateJob(ctx, waitingJob("job-1", submitted)))
	require.Error(t, store.CreateJob(ctx, waitingJob("job-1", submitted)))
	require.True(t, mr.Exists("test:job:job-1"))

	active, err := store.StartAttempt(ctx, "job-1", submitted.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, crawler.StateActive, active.State)
	require.Equal(t, 1, active.Attempts)

	require.NoError(t, store.UpdateProgress(ctx, "job-1", 55))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", 15))
	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 55, job.Progress)
	require.True(t, submitted.Equal(job.SubmittedAt))

	finished := submitted.Add(time.Minute)
	result := crawler.Result{
		Data: map[string]string{"https://example.com/": "hello"},
		Metadata: crawler.Metadata{
			TotalURLsFound:    1,
			SuccessfulScrapes: 1,
			ScrapingMethod:    crawler.MethodRecursiveCrawl,
			Duration:          "1.00s",
		},
	}
	require.NoError(t, store.CompleteJob(ctx, "job-1", result, finished))

	job, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.StateCompleted, job.State)
	require.Equal(t, 100, job.Progress)
	require.True(t, finished.Equal(*job.FinishedAt))
	require.NotNil(t, job.Result)
	require.Equal(t, result.Data, job.Result.Data)
	require.Equal(t, "1.00s", job.Result.Metadata.Duration)

	pending, err := store.PendingJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestJobStoreRetryAndFail(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, crawler.Retention{})
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, waitingJob("job-1", time.Unix(1, 0))))

	_, err := store.StartAttempt(ctx, "job-1", time.Unix(2, 0))
	require.NoError(t, err)
	require.NoError(t, store.RetryJob(ctx, "job-1", "timeout"))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.StateWaiting, job.State)
	require.Equal(t, "timeout", job.FailedReason)

	require.NoError(t, store.FailJob(ctx, "job-1", "gave up", time.Unix(3, 0)))
	job, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.StateFailed, job.State)
	require.Equal(t, "gave up", job.FailedReason)

	_, err = store.StartAttempt(ctx, "job-1", time.Unix(4, 0))
	require.Error(t, err)
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, crawler.Retention{})
	ctx := context.Background()

	_, err := store.GetJob(ctx, "nope")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.ErrorIs(t, store.UpdateProgress(ctx, "nope", 10), crawler.ErrJobNotFound)
	require.ErrorIs(t, store.CompleteJob(ctx, "nope", crawler.Result{}, time.Now()), crawler.ErrJobNotFound)
	require.NoError(t, store.Ping(ctx))
}

func TestJobStorePendingOrderAndEviction(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t, crawler.Retention{KeepCompleted: 1, KeepFailed: 1})
	ctx := context.Background()
	base := time.Unix(1000, 0)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.CreateJob(ctx, waitingJob(id, base.Add(time.Duration(i)*time.Second))))
	}

	pending, err := store.PendingJobs(ctx)
	require.NoError(t, err)
	ids := make([]string, len(pending))
	for i, job := range pending {
		ids[i] = job.ID
	}
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)

	require.NoError(t, store.CompleteJob(ctx, "a", crawler.Result{}, base.Add(time.Minute)))
	require.NoError(t, store.CompleteJob(ctx, "b", crawler.Result{}, base.Add(2*time.Minute)))
	require.NoError(t, store.FailJob(ctx, "c", "x", base.Add(3*time.Minute)))
	require.NoError(t, store.FailJob(ctx, "d", "y", base.Add(4*time.Minute)))

	assert.False(t, mr.Exists("test:job:a"))
	assert.True(t, mr.Exists("test:job:b"))
	assert.False(t, mr.Exists("test:job:c"))
	assert.True(t, mr.Exists("test:job:d"))

	pending, err = store.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "e", pending[0].ID)
}

func TestJobStoreConcurrentProgress(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, crawler.Retention{})
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, waitingJob("job-1", time.Unix(1, 0))))
	_, err := store.StartAttempt(ctx, "job-1", time.Unix(2, 0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 5; p <= 95; p += 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.UpdateProgress(ctx, "job-1", p))
		}()
	}
	wg.Wait()

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 95, job.Progress)
}

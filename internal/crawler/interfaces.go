package crawler

import (
	"context"
	"time"
)

// JobStore persists jobs and their results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// StartAttempt moves the job to active and increments its attempt counter.
	StartAttempt(ctx context.Context, jobID string, startedAt time.Time) (Job, error)
	// UpdateProgress raises the job's progress; lower values are ignored.
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	// RetryJob moves an active job back to waiting and records why the attempt failed.
	RetryJob(ctx context.Context, jobID string, reason string) error
	CompleteJob(ctx context.Context, jobID string, result Result, finishedAt time.Time) error
	FailJob(ctx context.Context, jobID string, reason string, finishedAt time.Time) error
	// PendingJobs lists waiting and active jobs in submission order.
	PendingJobs(ctx context.Context) ([]Job, error)
	Ping(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore archives one summary row per completed job.
type RunStore interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher digests archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RunRecord is the archived summary of a completed job.
type RunRecord struct {
	JobID             string
	URL               string
	Method            Method
	TotalURLsFound    int
	SuccessfulScrapes int
	FailedScrapes     int
	StartedAt         time.Time
	FinishedAt        time.Time
	DurationMillis    int64
	ResultURI         string
	// ResultSHA256 is the hex digest of the archived result document.
	ResultSHA256 string
}

// Retention bounds how many finished jobs a JobStore keeps. The oldest finished job of a
// state is evicted first. Zero keeps every job of that state.
type Retention struct {
	KeepCompleted int
	KeepFailed    int
}

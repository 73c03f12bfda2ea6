// Package jobs is the submission side of the scrape job queue: it validates requests,
// records jobs, and answers status and result queries.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// Errors returned by Service.
var (
	ErrInvalidURL      = errors.New("invalid url")
	ErrBlockedURL      = errors.New("url host is blocked")
	ErrJobNotFound     = crawler.ErrJobNotFound
	ErrJobNotCompleted = errors.New("job not completed")
)

// NotCompletedError reports the state of a job whose result was requested too early.
type NotCompletedError struct {
	JobID string
	State crawler.JobState
}

func (e *NotCompletedError) Error() string {
	return fmt.Sprintf("job %s is not completed yet, current state: %s", e.JobID, e.State)
}

// Is matches ErrJobNotCompleted.
func (e *NotCompletedError) Is(target error) bool {
	return target == ErrJobNotCompleted
}

// Enqueuer accepts queue items for the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// URLPolicy admits start URLs.
type URLPolicy interface {
	AllowURL(rawURL string) bool
}

// Config controls job submission.
type Config struct {
	// MaxAttempts is how many times a job runs before it is marked failed.
	MaxAttempts int
	// EnqueueTimeout bounds how long Submit waits for queue capacity.
	EnqueueTimeout time.Duration
	// Policy rejects start URLs before a job is recorded. Nil admits every URL.
	Policy URLPolicy
}

// Service accepts scrape jobs and reports on them.
type Service struct {
	store  crawler.JobStore
	queue  Enqueuer
	ids    crawler.IDGenerator
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(
	store crawler.JobStore,
	queue Enqueuer,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, queue: queue, ids: ids, clock: clock, cfg: cfg, logger: logger.Named("jobs")}
}

// Submit validates rawURL, records a waiting job, and queues it. It does not wait for
// the scrape to start.
func (s *Service) Submit(ctx context.Context, rawURL string) (crawler.Job, error) {
	target, err := crawler.ParseStartURL(rawURL)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if s.cfg.Policy != nil && !s.cfg.Policy.AllowURL(target.String()) {
		return crawler.Job{}, fmt.Errorf("%w: %s", ErrBlockedURL, target.Hostname())
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.Job{
		ID:          id,
		URL:         target.String(),
		State:       crawler.StateWaiting,
		MaxAttempts: s.cfg.MaxAttempts,
		SubmittedAt: s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := s.enqueue(ctx, job); err != nil {
		if failErr := s.store.FailJob(context.WithoutCancel(ctx), job.ID, err.Error(), s.clock.Now()); failErr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return crawler.Job{}, err
	}
	s.logger.Info("job queued", zap.String("job_id", job.ID), zap.String("url", job.URL))
	return job, nil
}

// Status returns the current state of a job.
func (s *Service) Status(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// Result returns a completed job's result, or a *NotCompletedError naming its state.
func (s *Service) Result(ctx context.Context, jobID string) (crawler.Result, error) {
	job, err := s.Status(ctx, jobID)
	if err != nil {
		return crawler.Result{}, err
	}
	if job.State != crawler.StateCompleted || job.Result == nil {
		return crawler.Result{}, &NotCompletedError{JobID: job.ID, State: job.State}
	}
	return *job.Result, nil
}

// Recover requeues every unfinished job, e.g. after a restart with a persistent store.
// Jobs caught mid-run are moved back to waiting first. It returns how many were queued.
func (s *Service) Recover(ctx context.Context) (int, error) {
	pending, err := s.store.PendingJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	queued := 0
	for _, job := range pending {
		if job.State == crawler.StateActive {
			if err := s.store.RetryJob(ctx, job.ID, "interrupted before completion"); err != nil {
				return queued, fmt.Errorf("reset job %s: %w", job.ID, err)
			}
		}
		if err := s.enqueue(ctx, job); err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("recovered pending jobs", zap.Int("count", queued))
	}
	return queued, nil
}

// Ping reports whether the job store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) enqueue(ctx context.Context, job crawler.Job) error {
	queueCtx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{JobID: job.ID, URL: job.URL, Attempt: job.Attempts + 1}
	if err := s.queue.Enqueue(queueCtx, item); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

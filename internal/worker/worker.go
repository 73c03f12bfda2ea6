// Package worker runs scrape jobs pulled from the queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/cache"
	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/metrics"
)

// Scraper runs one whole-site scrape.
type Scraper interface {
	Scrape(ctx context.Context, startURL string, progress crawler.ProgressFunc) (crawler.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a single attempt.
	JobTimeout time.Duration
	// BackoffInitial is the delay before the second attempt; later delays double.
	BackoffInitial time.Duration
	// ArchivePrefix is prepended to archived result paths.
	ArchivePrefix string
	// Topic receives completion events when set.
	Topic string
}

// Sinks receive completed results. Every field is optional.
type Sinks struct {
	Blobs     crawler.BlobStore
	Runs      crawler.RunStore
	Publisher crawler.Publisher
	// Hasher digests the archived document. Without it runs carry no checksum.
	Hasher crawler.Hasher
}

// Worker consumes queue items and executes scrapes.
type Worker struct {
	queue    crawler.Queue
	jobStore crawler.JobStore
	scraper  Scraper
	clock    crawler.Clock
	sinks    Sinks
	results  *cache.TTL[crawler.Result]
	cfg      Config
	logger   *zap.Logger
	retries  sync.WaitGroup
}

// New constructs a Worker. results may be nil to disable result reuse.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	scraper Scraper,
	clock crawler.Clock,
	sinks Sinks,
	results *cache.TTL[crawler.Result],
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	metrics.Init()
	return &Worker{
		queue:    queue,
		jobStore: jobStore,
		scraper:  scraper,
		clock:    clock,
		sinks:    sinks,
		results:  results,
		cfg:      cfg,
		logger:   logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes. Pending retry timers
// are abandoned on shutdown; the jobs stay waiting for recovery.
func (w *Worker) Run(ctx context.Context) {
	defer w.retries.Wait()
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	job, err := w.jobStore.StartAttempt(ctx, item.JobID, w.clock.Now())
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			w.logger.Warn("dropping queue item for unknown job", zap.String("job_id", item.JobID))
			return
		}
		w.logger.Error("start attempt failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(crawler.StateActive))
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Int("attempt", job.Attempts),
	)

	if w.results.Enabled() {
		cached, ok := w.results.Get(cacheKey(job.URL))
		metrics.ObserveCacheLookup(ok)
		if ok {
			logger.Info("serving cached result")
			w.complete(ctx, job, cached, logger)
			return
		}
	}

	logger.Info("scrape started")
	runCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	result, err := w.scraper.Scrape(runCtx, job.URL, w.progressFunc(job.ID, logger))
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		reason := err.Error()
		if timedOut && ctx.Err() == nil {
			reason = fmt.Sprintf("job timed out after %s", w.cfg.JobTimeout)
		}
		w.handleFailure(ctx, job, reason, logger)
		return
	}

	w.results.Set(cacheKey(job.URL), result)
	w.complete(ctx, job, result, logger)
}

func (w *Worker) progressFunc(jobID string, logger *zap.Logger) crawler.ProgressFunc {
	return func(ctx context.Context, percent int) {
		if err := w.jobStore.UpdateProgress(ctx, jobID, percent); err != nil {
			logger.Debug("progress update failed", zap.Int("progress", percent), zap.Error(err))
		}
	}
}

func (w *Worker) handleFailure(ctx context.Context, job crawler.Job, reason string, logger *zap.Logger) {
	storeCtx := context.WithoutCancel(ctx)
	if ctx.Err() == nil && job.Attempts < job.MaxAttempts {
		if err := w.jobStore.RetryJob(storeCtx, job.ID, reason); err != nil {
			logger.Error("retry job update failed", zap.Error(err))
			return
		}
		delay := backoff(w.cfg.BackoffInitial, job.Attempts)
		metrics.ObserveJob("retried")
		logger.Warn("scrape attempt failed, retrying",
			zap.String("reason", reason),
			zap.Duration("backoff", delay),
		)
		w.scheduleRetry(ctx, crawler.QueueItem{JobID: job.ID, URL: job.URL, Attempt: job.Attempts + 1}, delay)
		return
	}
	if ctx.Err() != nil {
		// Shutting down: leave the job waiting so recovery can resubmit it.
		if err := w.jobStore.RetryJob(storeCtx, job.ID, reason); err != nil {
			logger.Error("requeue on shutdown failed", zap.Error(err))
		}
		logger.Warn("scrape interrupted by shutdown", zap.String("reason", reason))
		return
	}

	if err := w.jobStore.FailJob(storeCtx, job.ID, reason, w.clock.Now()); err != nil {
		logger.Error("fail job update failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(crawler.StateFailed))
	logger.Error("scrape failed", zap.String("reason", reason))
}

func (w *Worker) scheduleRetry(ctx context.Context, item crawler.QueueItem, delay time.Duration) {
	w.retries.Add(1)
	go func() {
		defer w.retries.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := w.queue.Enqueue(ctx, item); err != nil {
			w.logger.Error("retry enqueue failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}()
}

func (w *Worker) complete(ctx context.Context, job crawler.Job, result crawler.Result, logger *zap.Logger) {
	storeCtx := context.WithoutCancel(ctx)
	finishedAt := w.clock.Now()
	if err := w.jobStore.CompleteJob(storeCtx, job.ID, result, finishedAt); err != nil {
		logger.Error("complete job update failed", zap.Error(err))
		return
	}
	meta := result.Metadata
	metrics.ObserveJob(string(crawler.StateCompleted))
	metrics.ObserveResult(
		string(meta.ScrapingMethod),
		time.Duration(meta.DurationMillis)*time.Millisecond,
		meta.SuccessfulScrapes,
		meta.FailedScrapes,
	)
	logger.Info("scrape completed",
		zap.String("method", string(meta.ScrapingMethod)),
		zap.Int("total", meta.TotalURLsFound),
		zap.Int("successful", meta.SuccessfulScrapes),
		zap.Int("failed", meta.FailedScrapes),
		zap.String("duration", meta.Duration),
	)
	w.archive(storeCtx, job, result, finishedAt, logger)
}

// archive hands the result to the configured sinks. Sink failures never fail the job.
func (w *Worker) archive(
	ctx context.Context,
	job crawler.Job,
	result crawler.Result,
	finishedAt time.Time,
	logger *zap.Logger,
) {
	uri, digest := "", ""
	if w.sinks.Blobs != nil {
		payload, err := json.Marshal(result)
		if err != nil {
			logger.Error("encode result failed", zap.Error(err))
		} else if uri, err = w.sinks.Blobs.PutObject(ctx, w.archivePath(job.ID), "application/json", payload); err != nil {
			logger.Warn("archive result failed", zap.Error(err))
			uri = ""
		} else if w.sinks.Hasher != nil {
			if digest, err = w.sinks.Hasher.Hash(payload); err != nil {
				logger.Warn("hash archived result failed", zap.Error(err))
				digest = ""
			}
		}
	}

	meta := result.Metadata
	if w.sinks.Runs != nil {
		startedAt := finishedAt
		if job.StartedAt != nil {
			startedAt = *job.StartedAt
		}
		run := crawler.RunRecord{
			JobID:             job.ID,
			URL:               job.URL,
			Method:            meta.ScrapingMethod,
			TotalURLsFound:    meta.TotalURLsFound,
			SuccessfulScrapes: meta.SuccessfulScrapes,
			FailedScrapes:     meta.FailedScrapes,
			StartedAt:         startedAt,
			FinishedAt:        finishedAt,
			DurationMillis:    meta.DurationMillis,
			ResultURI:         uri,
			ResultSHA256:      digest,
		}
		if err := w.sinks.Runs.RecordRun(ctx, run); err != nil {
			logger.Warn("record run failed", zap.Error(err))
		}
	}

	if w.cfg.Topic == "" || w.sinks.Publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":        job.ID,
		"url":           job.URL,
		"method":        string(meta.ScrapingMethod),
		"total":         meta.TotalURLsFound,
		"successful":    meta.SuccessfulScrapes,
		"failed":        meta.FailedScrapes,
		"duration":      meta.Duration,
		"result_uri":    uri,
		"result_sha256": digest,
		"timestamp":     finishedAt.Format(time.RFC3339),
	}
	if _, err := w.sinks.Publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		logger.Warn("publish completion failed", zap.Error(err))
	}
}

func (w *Worker) archivePath(jobID string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return jobID + ".json"
	}
	return fmt.Sprintf("%s/%s.json", prefix, jobID)
}

// cacheKey normalizes url so equivalent start URLs share cached results.
func cacheKey(url string) string {
	if normalized, err := crawler.NormalizeURL(url); err == nil {
		return normalized
	}
	return url
}

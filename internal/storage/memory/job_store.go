// Package memory provides in-process job and blob stores for single-instance deployments and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]crawler.Job
	pending   []string
	completed []string
	failed    []string
	retention crawler.Retention
}

// NewJobStore constructs a JobStore that keeps finished jobs according to retention.
func NewJobStore(retention crawler.Retention) *JobStore {
	return &JobStore{
		jobs:      make(map[string]crawler.Job),
		retention: retention,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	s.pending = append(s.pending, job.ID)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	return job, nil
}

// StartAttempt marks the job active and counts the attempt.
func (s *JobStore) StartAttempt(_ context.Context, jobID string, startedAt time.Time) (crawler.Job, error) {
	var out crawler.Job
	err := s.mutate(jobID, func(job *crawler.Job) error {
		if job.State.Terminal() {
			return fmt.Errorf("job %s already %s", jobID, job.State)
		}
		job.State = crawler.StateActive
		job.Attempts++
		job.StartedAt = pointerTime(startedAt)
		out = *job
		return nil
	})
	return out, err
}

// UpdateProgress raises the job's progress. Lower values and finished jobs are ignored.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, progress int) error {
	return s.mutate(jobID, func(job *crawler.Job) error {
		progress = min(max(progress, 0), 100)
		if !job.State.Terminal() && progress > job.Progress {
			job.Progress = progress
		}
		return nil
	})
}

// RetryJob moves the job back to waiting and records the failed attempt's reason.
func (s *JobStore) RetryJob(_ context.Context, jobID string, reason string) error {
	return s.mutate(jobID, func(job *crawler.Job) error {
		if job.State.Terminal() {
			return fmt.Errorf("job %s already %s", jobID, job.State)
		}
		job.State = crawler.StateWaiting
		job.FailedReason = reason
		return nil
	})
}

// CompleteJob stores the job's result.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, result crawler.Result, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	job.State = crawler.StateCompleted
	job.Progress = 100
	job.FailedReason = ""
	job.Result = &result
	job.FinishedAt = pointerTime(finishedAt)
	s.jobs[jobID] = job
	s.pending = removeID(s.pending, jobID)
	s.completed = s.evict(append(s.completed, jobID), s.retention.KeepCompleted)
	return nil
}

// FailJob marks the job permanently failed.
func (s *JobStore) FailJob(_ context.Context, jobID string, reason string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	job.State = crawler.StateFailed
	job.FailedReason = reason
	job.FinishedAt = pointerTime(finishedAt)
	s.jobs[jobID] = job
	s.pending = removeID(s.pending, jobID)
	s.failed = s.evict(append(s.failed, jobID), s.retention.KeepFailed)
	return nil
}

// PendingJobs lists unfinished jobs in submission order.
func (s *JobStore) PendingJobs(_ context.Context) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.pending))
	for _, id := range s.pending {
		out = append(out, s.jobs[id])
	}
	return out, nil
}

// Ping always succeeds.
func (s *JobStore) Ping(context.Context) error {
	return nil
}

func (s *JobStore) mutate(jobID string, fn func(*crawler.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrJobNotFound
	}
	if err := fn(&job); err != nil {
		return err
	}
	s.jobs[jobID] = job
	return nil
}

// evict drops the oldest ids beyond keep. Callers hold s.mu.
func (s *JobStore) evict(ids []string, keep int) []string {
	if keep <= 0 {
		return ids
	}
	for len(ids) > keep {
		delete(s.jobs, ids[0])
		ids = ids[1:]
	}
	return ids
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(candidate string) bool { return candidate == id })
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

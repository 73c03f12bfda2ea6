// Package redisstore persists scrape jobs in Redis so they survive restarts.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

const maxTxRetries = 100

// JobStore keeps each job as a JSON document at <prefix>job:<id>. Sorted sets index
// pending jobs by submission time and finished jobs by completion time.
type JobStore struct {
	client    redis.UniversalClient
	prefix    string
	retention crawler.Retention
}

// NewJobStore wraps client. prefix namespaces every key.
func NewJobStore(client redis.UniversalClient, prefix string, retention crawler.Retention) *JobStore {
	return &JobStore{client: client, prefix: prefix, retention: retention}
}

// NewClient opens a Redis client and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// CreateJob stores a new job and indexes it as pending.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.jobKey(job.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !created {
		return errors.New("job already exists")
	}
	member := redis.Z{Score: float64(job.SubmittedAt.UnixMicro()), Member: job.ID}
	if err := s.client.ZAdd(ctx, s.setKey(crawler.StateWaiting), member).Err(); err != nil {
		return fmt.Errorf("index job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	data, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawler.Job{}, crawler.ErrJobNotFound
		}
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return decodeJob(data)
}

// StartAttempt marks the job active and counts the attempt.
func (s *JobStore) StartAttempt(ctx context.Context, jobID string, startedAt time.Time) (crawler.Job, error) {
	return s.update(ctx, jobID, func(job *crawler.Job) error {
		if job.State.Terminal() {
			return fmt.Errorf("job %s already %s", jobID, job.State)
		}
		job.State = crawler.StateActive
		job.Attempts++
		ts := startedAt
		job.StartedAt = &ts
		return nil
	}, nil)
}

// UpdateProgress raises the job's progress. Lower values and finished jobs are ignored.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	progress = min(max(progress, 0), 100)
	_, err := s.update(ctx, jobID, func(job *crawler.Job) error {
		if job.State.Terminal() || progress <= job.Progress {
			return errUnchanged
		}
		job.Progress = progress
		return nil
	}, nil)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// RetryJob moves the job back to waiting and records the failed attempt's reason.
func (s *JobStore) RetryJob(ctx context.Context, jobID string, reason string) error {
	_, err := s.update(ctx, jobID, func(job *crawler.Job) error {
		if job.State.Terminal() {
			return fmt.Errorf("job %s already %s", jobID, job.State)
		}
		job.State = crawler.StateWaiting
		job.FailedReason = reason
		return nil
	}, nil)
	return err
}

// CompleteJob stores the job's result and trims completed history.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, result crawler.Result, finishedAt time.Time) error {
	_, err := s.update(ctx, jobID, func(job *crawler.Job) error {
		job.State = crawler.StateCompleted
		job.Progress = 100
		job.FailedReason = ""
		job.Result = &result
		ts := finishedAt
		job.FinishedAt = &ts
		return nil
	}, s.finish(ctx, crawler.StateCompleted, jobID, finishedAt))
	if err != nil {
		return err
	}
	return s.trim(ctx, crawler.StateCompleted, s.retention.KeepCompleted)
}

// FailJob marks the job permanently failed and trims failed history.
func (s *JobStore) FailJob(ctx context.Context, jobID string, reason string, finishedAt time.Time) error {
	_, err := s.update(ctx, jobID, func(job *crawler.Job) error {
		job.State = crawler.StateFailed
		job.FailedReason = reason
		ts := finishedAt
		job.FinishedAt = &ts
		return nil
	}, s.finish(ctx, crawler.StateFailed, jobID, finishedAt))
	if err != nil {
		return err
	}
	return s.trim(ctx, crawler.StateFailed, s.retention.KeepFailed)
}

// PendingJobs lists unfinished jobs in submission order.
func (s *JobStore) PendingJobs(ctx context.Context) ([]crawler.Job, error) {
	ids, err := s.client.ZRange(ctx, s.setKey(crawler.StateWaiting), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, s.jobKeys(ids)...).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending jobs: %w", err)
	}
	jobs := make([]crawler.Job, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ping checks the Redis connection.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

var errUnchanged = errors.New("job unchanged")

// update applies fn to the stored job inside a WATCH transaction, retrying on conflicts.
// extra queues additional commands in the same MULTI block.
func (s *JobStore) update(
	ctx context.Context,
	jobID string,
	fn func(*crawler.Job) error,
	extra func(redis.Pipeliner),
) (crawler.Job, error) {
	key := s.jobKey(jobID)
	var out crawler.Job
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return crawler.ErrJobNotFound
			}
			return fmt.Errorf("get job: %w", err)
		}
		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		out = job
		return err
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return crawler.Job{}, fmt.Errorf("update job %s: too many concurrent writers", jobID)
}

// finish moves jobID from the pending index to the index of state.
func (s *JobStore) finish(
	ctx context.Context,
	state crawler.JobState,
	jobID string,
	finishedAt time.Time,
) func(redis.Pipeliner) {
	return func(pipe redis.Pipeliner) {
		pipe.ZRem(ctx, s.setKey(crawler.StateWaiting), jobID)
		pipe.ZAdd(ctx, s.setKey(state), redis.Z{Score: float64(finishedAt.UnixMicro()), Member: jobID})
	}
}

// trim deletes the oldest finished jobs of state beyond keep.
func (s *JobStore) trim(ctx context.Context, state crawler.JobState, keep int) error {
	if keep <= 0 {
		return nil
	}
	setKey := s.setKey(state)
	count, err := s.client.ZCard(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("count %s jobs: %w", state, err)
	}
	excess := count - int64(keep)
	if excess <= 0 {
		return nil
	}
	ids, err := s.client.ZRange(ctx, setKey, 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("list %s jobs: %w", state, err)
	}
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, setKey, members...)
		pipe.Del(ctx, s.jobKeys(ids)...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("evict %s jobs: %w", state, err)
	}
	return nil
}

func (s *JobStore) jobKey(jobID string) string {
	return s.prefix + "job:" + jobID
}

func (s *JobStore) jobKeys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	return keys
}

// setKey names the index of jobs in state. Waiting and active jobs share the pending index.
func (s *JobStore) setKey(state crawler.JobState) string {
	switch state {
	case crawler.StateCompleted, crawler.StateFailed:
		return s.prefix + "jobs:" + string(state)
	default:
		return s.prefix + "jobs:pending"
	}
}

func decodeJob(data []byte) (crawler.Job, error) {
	var job crawler.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

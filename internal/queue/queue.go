package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// JobStatus represents the state of a queued run.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is one queued run submission. ChainConfig holds the raw chain
// definition as submitted; it is parsed again by the worker so a job
// survives daemon restarts without any in-memory state.
type Job struct {
	ID          string     `json:"id"`
	ChainName   string     `json:"chain_name"`
	ChainConfig []byte     `json:"chain_config"`
	Input       string     `json:"input"`
	Source      string     `json:"source,omitempty"`
	Status      JobStatus  `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// recordFailure updates retry bookkeeping after a failed attempt and
// reports whether the job goes back on the queue. MaxRetries counts
// total attempts, so a job with MaxRetries 3 dead-letters on its third
// failure.
func (j *Job) recordFailure(cause error) bool {
	j.RetryCount++
	j.Error = cause.Error()
	if j.RetryCount < j.MaxRetries {
		j.Status = StatusPending
		j.StartedAt = nil
		return true
	}
	j.Status = StatusFailed
	now := time.Now()
	j.FinishedAt = &now
	return false
}

// staleAt reports whether the job has been processing since before the
// cutoff. Pending and finished jobs are never stale.
func (j *Job) staleAt(cutoff time.Time) bool {
	return j.Status == StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff)
}

const (
	pendingKey    = "queue:runs"
	processingKey = "queue:processing"
	deadLetterKey = "queue:dead"
	jobKeyPrefix  = "job:"

	defaultMaxRetries = 3
	jobTTL            = 24 * time.Hour
)

// Queue is the Redis-backed run queue. Job records live under job:<id>
// with pending IDs in a list, so multiple workers can pop without
// coordination.
type Queue struct {
	redisClient *redis.Client
}

// NewQueue creates a run queue.
func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{redisClient: redisClient}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// Enqueue stores the job and pushes it onto the pending queue. Missing
// fields are filled with defaults; the assigned ID doubles as the run
// ID.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = defaultMaxRetries
	}
	job.Status = StatusPending
	job.CreatedAt = time.Now()

	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	if err := q.redisClient.RPush(ctx, pendingKey, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to add job to queue: %w", err)
	}
	return nil
}

// Dequeue pops the oldest pending job and marks it processing. It
// returns nil with no error when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		id, err := q.redisClient.LPop(ctx, pendingKey).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}

		job, err := q.GetJob(ctx, id)
		if err != nil {
			// Record expired or corrupt; drop the ID and keep draining.
			log.Printf("Warning: skipping queued job %s: %v", id, err)
			continue
		}

		now := time.Now()
		job.Status = StatusProcessing
		job.StartedAt = &now
		if err := q.saveJob(ctx, job); err != nil {
			return nil, err
		}
		if err := q.redisClient.SAdd(ctx, processingKey, job.ID).Err(); err != nil {
			log.Printf("Warning: failed to track processing job %s: %v", job.ID, err)
		}
		return job, nil
	}
}

// GetJob loads one job record.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.redisClient.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Complete marks a processing job finished.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	now := time.Now()
	job.Status = StatusCompleted
	job.FinishedAt = &now
	job.Error = ""

	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	q.redisClient.SRem(ctx, processingKey, job.ID)
	return nil
}

// Fail records a failed attempt. The job is pushed back onto the
// pending queue until its retries run out, then moved to the dead
// letter queue.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	requeue := job.recordFailure(cause)

	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	q.redisClient.SRem(ctx, processingKey, job.ID)

	if requeue {
		if err := q.redisClient.RPush(ctx, pendingKey, job.ID).Err(); err != nil {
			return fmt.Errorf("failed to requeue job: %w", err)
		}
		return nil
	}
	if err := q.redisClient.RPush(ctx, deadLetterKey, job.ID).Err(); err != nil {
		log.Printf("Warning: failed to add job %s to dead letter queue: %v", job.ID, err)
	}
	return nil
}

// RequeueStale recovers jobs stuck in processing past the cutoff,
// usually after a worker crash. Each recovery counts as a failed
// attempt so a poison job still dead-letters eventually. Returns how
// many jobs went back on the queue.
func (q *Queue) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := q.redisClient.SMembers(ctx, processingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	requeued := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			log.Printf("Warning: dropping stale job reference %s: %v", id, err)
			q.redisClient.SRem(ctx, processingKey, id)
			continue
		}
		if !job.staleAt(cutoff) {
			continue
		}

		if err := q.Fail(ctx, job, fmt.Errorf("job stuck in processing for over %s", olderThan)); err != nil {
			log.Printf("Warning: failed to recover stale job %s: %v", id, err)
			continue
		}
		if job.Status == StatusPending {
			requeued++
		}
	}
	return requeued, nil
}

// Depth returns how many jobs are waiting.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.redisClient.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return depth, nil
}

// DeadLetters returns the jobs that ran out of retries, oldest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]*Job, error) {
	ids, err := q.redisClient.LRange(ctx, deadLetterKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter queue: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.redisClient.Set(ctx, jobKey(job.ID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

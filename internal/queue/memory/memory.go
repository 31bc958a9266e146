package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
	"github.com/slok/webq/internal/queue"
)

// QueueConfig is the configuration for the memory queue.
type QueueConfig struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	LeaseTimeout  time.Duration
	KeepCompleted int
	KeepFailed    int
	Logger        log.Logger
}

func (c *QueueConfig) defaults() error {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = queue.DefaultMaxAttempts
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = queue.DefaultBackoffBase
	}
	if c.LeaseTimeout == 0 {
		c.LeaseTimeout = queue.DefaultLeaseTimeout
	}
	if c.KeepCompleted == 0 {
		c.KeepCompleted = queue.DefaultKeepCompleted
	}
	if c.KeepFailed == 0 {
		c.KeepFailed = queue.DefaultKeepFailed
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "queue.Memory"})
	return nil
}

type jobRecord struct {
	job         model.Job
	status      queue.JobStatus
	availableAt time.Time
	lockedUntil time.Time
	lastError   string
	createdAt   time.Time
	updatedAt   time.Time
}

// Queue is an in-memory implementation of queue.Queue with the same
// lease/retry semantics as the SQLite one. Used for tests and local
// development.
type Queue struct {
	jobs   map[string]*jobRecord
	mu     sync.Mutex
	cfg    QueueConfig
	logger log.Logger
}

// NewQueue creates a new memory queue.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Queue{
		jobs:   make(map[string]*jobRecord),
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Enqueue persists the job before returning.
func (q *Queue) Enqueue(ctx context.Context, job model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[job.ID]; ok {
		return fmt.Errorf("job with id %s: %w", job.ID, model.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	q.jobs[job.ID] = &jobRecord{
		job:         job,
		status:      queue.JobStatusPending,
		availableAt: now,
		createdAt:   now,
		updatedAt:   now,
	}

	q.logger.Debugf("Enqueued job %s for task %s", job.ID, job.TaskID)
	return nil
}

// Dequeue claims at most one available job.
func (q *Queue) Dequeue(ctx context.Context) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	rec := q.nextAvailable(now)
	if rec == nil {
		return nil, nil
	}

	rec.job.Attempts++
	rec.status = queue.JobStatusLeased
	rec.lockedUntil = now.Add(q.cfg.LeaseTimeout)
	rec.updatedAt = now

	jobCopy := rec.job
	q.logger.Debugf("Leased job %s (attempt %d)", jobCopy.ID, jobCopy.Attempts)
	return &jobCopy, nil
}

// Ack marks a leased job as successfully completed.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.jobs[jobID]
	if !ok || rec.status != queue.JobStatusLeased {
		return fmt.Errorf("leased job %s: %w", jobID, model.ErrNotFound)
	}

	rec.status = queue.JobStatusCompleted
	rec.updatedAt = time.Now().UTC()
	q.prune(queue.JobStatusCompleted, q.cfg.KeepCompleted)

	q.logger.Debugf("Completed job %s", jobID)
	return nil
}

// Nack reports a failed attempt, scheduling a retry or archiving the job.
func (q *Queue) Nack(ctx context.Context, jobID string, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.jobs[jobID]
	if !ok || rec.status != queue.JobStatusLeased {
		return false, fmt.Errorf("leased job %s: %w", jobID, model.ErrNotFound)
	}

	if cause != nil {
		rec.lastError = cause.Error()
	}

	now := time.Now().UTC()
	rec.updatedAt = now
	rec.lockedUntil = time.Time{}

	if rec.job.Attempts < q.cfg.MaxAttempts {
		rec.status = queue.JobStatusPending
		rec.availableAt = now.Add(queue.BackoffDelay(q.cfg.BackoffBase, rec.job.Attempts))
		q.logger.Debugf("Job %s failed attempt %d, retrying", jobID, rec.job.Attempts)
		return true, nil
	}

	rec.status = queue.JobStatusFailed
	q.prune(queue.JobStatusFailed, q.cfg.KeepFailed)
	q.logger.Debugf("Job %s failed permanently after %d attempts", jobID, rec.job.Attempts)
	return false, nil
}

func (q *Queue) nextAvailable(now time.Time) *jobRecord {
	var candidates []*jobRecord
	for _, rec := range q.jobs {
		available := rec.status == queue.JobStatusPending && !rec.availableAt.After(now)
		expired := rec.status == queue.JobStatusLeased && rec.lockedUntil.Before(now)
		if available || expired {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].createdAt.Before(candidates[j].createdAt) })
	return candidates[0]
}

func (q *Queue) prune(status queue.JobStatus, keep int) {
	var archived []*jobRecord
	for _, rec := range q.jobs {
		if rec.status == status {
			archived = append(archived, rec)
		}
	}
	if len(archived) <= keep {
		return
	}

	// Evict oldest first.
	sort.Slice(archived, func(i, j int) bool { return archived[i].updatedAt.Before(archived[j].updatedAt) })
	for _, rec := range archived[:len(archived)-keep] {
		delete(q.jobs, rec.job.ID)
	}
}

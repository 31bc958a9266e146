package queue

import (
	"context"
	"time"

	"github.com/slok/webq/internal/model"
)

const (
	// DefaultMaxAttempts is how many times a job is delivered before being
	// archived as failed.
	DefaultMaxAttempts = 3
	// DefaultBackoffBase is the delay before the first retry. It doubles on
	// each subsequent attempt.
	DefaultBackoffBase = 2 * time.Second
	// DefaultLeaseTimeout is how long a dequeued job stays claimed before it
	// becomes re-deliverable.
	DefaultLeaseTimeout = 2 * time.Minute
	// DefaultKeepCompleted is how many completed job records are retained.
	DefaultKeepCompleted = 100
	// DefaultKeepFailed is how many failed job records are retained.
	DefaultKeepFailed = 50
)

// Queue is the interface for the durable job queue.
//
// Delivery is at-least-once: a dequeued job whose lease expires without an
// Ack or Nack becomes available again. Completed and failed jobs are archived
// with bounded retention instead of deleted.
type Queue interface {
	// Enqueue persists the job durably before returning.
	Enqueue(ctx context.Context, job model.Job) error

	// Dequeue claims at most one available job for the caller, leasing it for
	// the configured lease timeout. The returned job's Attempts includes the
	// current delivery. Returns nil when no job is available.
	Dequeue(ctx context.Context) (*model.Job, error)

	// Ack marks a leased job as successfully completed.
	Ack(ctx context.Context, jobID string) error

	// Nack reports a failed attempt. When attempts remain the job is released
	// with an exponentially increasing backoff delay and retrying is true;
	// otherwise the job is archived as failed.
	Nack(ctx context.Context, jobID string, cause error) (retrying bool, err error)
}

// JobStatus is the queue-internal state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusLeased    JobStatus = "leased"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// BackoffDelay returns the delay before re-delivering a job that has failed
// the given number of attempts, doubling the base on each one.
func BackoffDelay(base time.Duration, attempts int) time.Duration {
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

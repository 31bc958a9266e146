package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
	"github.com/slok/webq/internal/queue"
)

// QueueConfig is the configuration for the SQLite queue.
type QueueConfig struct {
	DB            *sql.DB
	MaxAttempts   int
	BackoffBase   time.Duration
	LeaseTimeout  time.Duration
	KeepCompleted int
	KeepFailed    int
	Logger        log.Logger
}

func (c *QueueConfig) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "queue.SQLite"})
	return nil
}

// Queue is a SQLite implementation of queue.Queue. Jobs are claimed inside a
// transaction using lease columns, so a job is delivered to exactly one
// active consumer at a time.
type Queue struct {
	db         *sql.DB
	cfg        QueueConfig
	consumerID string
	logger     log.Logger
}

// NewQueue creates a new SQLite queue.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Queue{
		db:         cfg.DB,
		cfg:        cfg,
		consumerID: ulid.Make().String(),
		logger:     cfg.Logger,
	}, nil
}

// Enqueue persists the job durably before returning.
func (q *Queue) Enqueue(ctx context.Context, job model.Job) error {
	now := time.Now().UTC().UnixMilli()
	query := `
		INSERT INTO jobs (id, task_id, url, question, status, attempts, available_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`

	_, err := q.db.ExecContext(ctx, query, job.ID, job.TaskID, job.URL, job.Question, queue.JobStatusPending, now, now, now)
	if err != nil {
		return fmt.Errorf("could not insert job: %w", err)
	}

	q.logger.Debugf("Enqueued job %s for task %s", job.ID, job.TaskID)
	return nil
}

// Dequeue claims at most one available job, leasing it for the configured
// lease timeout.
func (q *Queue) Dequeue(ctx context.Context) (*model.Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Rollback is safe to call after Commit.

	now := time.Now().UTC()
	query := `
		SELECT id, task_id, url, question, attempts
		FROM jobs
		WHERE (status = ? AND available_at <= ?)
		   OR (status = ? AND locked_until < ?)
		ORDER BY created_at ASC
		LIMIT 1
	`

	var job model.Job
	err = tx.QueryRowContext(ctx, query, queue.JobStatusPending, now.UnixMilli(), queue.JobStatusLeased, now.UnixMilli()).Scan(
		&job.ID,
		&job.TaskID,
		&job.URL,
		&job.Question,
		&job.Attempts,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Nothing available.
		}
		return nil, fmt.Errorf("could not query available job: %w", err)
	}

	job.Attempts++
	lockedUntil := now.Add(q.cfg.LeaseTimeout).UnixMilli()
	update := `
		UPDATE jobs
		SET status = ?, attempts = ?, locked_by = ?, locked_until = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, update, queue.JobStatusLeased, job.Attempts, q.consumerID, lockedUntil, now.UnixMilli(), job.ID); err != nil {
		return nil, fmt.Errorf("could not lease job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit lease: %w", err)
	}

	q.logger.Debugf("Leased job %s (attempt %d)", job.ID, job.Attempts)
	return &job, nil
}

// Ack marks a leased job as successfully completed.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	now := time.Now().UTC().UnixMilli()
	query := `
		UPDATE jobs
		SET status = ?, locked_by = NULL, locked_until = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := q.db.ExecContext(ctx, query, queue.JobStatusCompleted, now, jobID, queue.JobStatusLeased)
	if err != nil {
		return fmt.Errorf("could not update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("leased job %s: %w", jobID, model.ErrNotFound)
	}

	if err := q.prune(ctx, queue.JobStatusCompleted, q.cfg.KeepCompleted); err != nil {
		q.logger.Warningf("Could not prune completed jobs: %s", err)
	}

	q.logger.Debugf("Completed job %s", jobID)
	return nil
}

// Nack reports a failed attempt, scheduling a retry or archiving the job as
// failed once the attempt ceiling is reached.
func (q *Queue) Nack(ctx context.Context, jobID string, cause error) (bool, error) {
	causeMsg := ""
	if cause != nil {
		causeMsg = cause.Error()
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = ? AND status = ?`, jobID, queue.JobStatusLeased).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("leased job %s: %w", jobID, model.ErrNotFound)
		}
		return false, fmt.Errorf("could not query job: %w", err)
	}

	now := time.Now().UTC()
	retrying := attempts < q.cfg.MaxAttempts

	if retrying {
		availableAt := now.Add(queue.BackoffDelay(q.cfg.BackoffBase, attempts)).UnixMilli()
		update := `
			UPDATE jobs
			SET status = ?, locked_by = NULL, locked_until = NULL, available_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, update, queue.JobStatusPending, availableAt, causeMsg, now.UnixMilli(), jobID); err != nil {
			return false, fmt.Errorf("could not release job: %w", err)
		}
	} else {
		update := `
			UPDATE jobs
			SET status = ?, locked_by = NULL, locked_until = NULL, last_error = ?, updated_at = ?
			WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, update, queue.JobStatusFailed, causeMsg, now.UnixMilli(), jobID); err != nil {
			return false, fmt.Errorf("could not archive job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("could not commit: %w", err)
	}

	if retrying {
		q.logger.Debugf("Job %s failed attempt %d, retrying: %s", jobID, attempts, causeMsg)
	} else {
		if err := q.prune(ctx, queue.JobStatusFailed, q.cfg.KeepFailed); err != nil {
			q.logger.Warningf("Could not prune failed jobs: %s", err)
		}
		q.logger.Debugf("Job %s failed permanently after %d attempts: %s", jobID, attempts, causeMsg)
	}

	return retrying, nil
}

// prune evicts archived job records beyond the retention bound, oldest first.
func (q *Queue) prune(ctx context.Context, status queue.JobStatus, keep int) error {
	query := `
		DELETE FROM jobs
		WHERE status = ? AND id NOT IN (
			SELECT id FROM jobs WHERE status = ? ORDER BY updated_at DESC, id DESC LIMIT ?
		)
	`

	_, err := q.db.ExecContext(ctx, query, status, status, keep)
	if err != nil {
		return fmt.Errorf("could not delete jobs: %w", err)
	}

	return nil
}

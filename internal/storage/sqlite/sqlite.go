package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
	"github.com/slok/webq/internal/storage/sqlite/migrations"
)

// DBConfig is the configuration for opening the SQLite database.
type DBConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *DBConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// NewDB opens the SQLite database and runs migrations. The returned handle is
// safe for concurrent use and is shared by the task repository and the job
// queue.
func NewDB(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	// _txlock=immediate makes every transaction take the write lock up front,
	// so concurrent job claims serialize on busy_timeout instead of failing
	// the deferred read-to-write upgrade with SQLITE_BUSY.
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	if err := migrations.Up(db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite database initialized at %s", cfg.DBPath)

	return db, nil
}

// RepositoryConfig is the configuration for the SQLite task repository.
type RepositoryConfig struct {
	DB     *sql.DB
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.TaskRepository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite task repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		db:     cfg.DB,
		logger: cfg.Logger,
	}, nil
}

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	query := `
		INSERT INTO tasks (id, url, question, status, answer, error, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.URL,
		t.Question,
		t.Status,
		t.Answer,
		t.Error,
		t.Attempts,
		t.CreatedAt.Unix(),
		t.UpdatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: tasks.") {
			return fmt.Errorf("task already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert task: %w", err)
	}

	r.logger.Debugf("Created task in repository: %s", t.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	query := `
		SELECT id, url, question, status, answer, error, attempts, created_at, updated_at
		FROM tasks
		WHERE id = ?
	`

	var t model.Task
	var status string
	var createdAt, updatedAt int64

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.URL,
		&t.Question,
		&status,
		&t.Answer,
		&t.Error,
		&t.Attempts,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task: %w", err)
	}

	t.Status = model.TaskStatus(status)
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &t, nil
}

// MarkTaskProcessing marks the task as processing for the given attempt.
func (r *Repository) MarkTaskProcessing(ctx context.Context, id string, attempt int) error {
	query := `
		UPDATE tasks
		SET status = ?, attempts = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		model.TaskStatusProcessing,
		attempt,
		time.Now().UTC().Unix(),
		id,
		model.TaskStatusPending,
		model.TaskStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	if err := r.checkTransitioned(ctx, result, id, model.TaskStatusProcessing); err != nil {
		return err
	}

	r.logger.Debugf("Task %s marked processing (attempt %d)", id, attempt)
	return nil
}

// MarkTaskCompleted marks the task as completed with the answer.
func (r *Repository) MarkTaskCompleted(ctx context.Context, id string, answer string) error {
	query := `
		UPDATE tasks
		SET status = ?, answer = ?, error = '', updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		model.TaskStatusCompleted,
		answer,
		time.Now().UTC().Unix(),
		id,
		model.TaskStatusPending,
		model.TaskStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	if err := r.checkTransitioned(ctx, result, id, model.TaskStatusCompleted); err != nil {
		return err
	}

	r.logger.Debugf("Task %s marked completed", id)
	return nil
}

// MarkTaskFailed marks the task as failed with a human readable cause.
func (r *Repository) MarkTaskFailed(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = ?, error = ?, answer = '', updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		model.TaskStatusFailed,
		errMsg,
		time.Now().UTC().Unix(),
		id,
		model.TaskStatusPending,
		model.TaskStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}

	if err := r.checkTransitioned(ctx, result, id, model.TaskStatusFailed); err != nil {
		return err
	}

	r.logger.Debugf("Task %s marked failed (error: %s)", id, errMsg)
	return nil
}

// checkTransitioned distinguishes a missing task from a rejected transition
// when a guarded update matched no rows.
func (r *Repository) checkTransitioned(ctx context.Context, result sql.Result, id string, to model.TaskStatus) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	current, err := r.GetTask(ctx, id)
	if err != nil {
		return err
	}

	return fmt.Errorf("task %s cannot move from %s to %s: %w", id, current.Status, to, model.ErrNotValid)
}

package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.TaskRepository.
type Repository struct {
	tasks  map[string]model.Task
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:  make(map[string]model.Task),
		logger: cfg.Logger,
	}, nil
}

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task with id %s: %w", t.ID, model.ErrAlreadyExists)
	}

	r.tasks[t.ID] = t
	r.logger.Debugf("Created task in repository: %s", t.ID)

	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	// Return a copy.
	taskCopy := task
	return &taskCopy, nil
}

// MarkTaskProcessing marks the task as processing for the given attempt.
func (r *Repository) MarkTaskProcessing(ctx context.Context, id string, attempt int) error {
	return r.transition(id, model.TaskStatusProcessing, func(t *model.Task) {
		t.Attempts = attempt
	})
}

// MarkTaskCompleted marks the task as completed with the answer.
func (r *Repository) MarkTaskCompleted(ctx context.Context, id string, answer string) error {
	return r.transition(id, model.TaskStatusCompleted, func(t *model.Task) {
		t.Answer = answer
		t.Error = ""
	})
}

// MarkTaskFailed marks the task as failed with a human readable cause.
func (r *Repository) MarkTaskFailed(ctx context.Context, id string, errMsg string) error {
	return r.transition(id, model.TaskStatusFailed, func(t *model.Task) {
		t.Error = errMsg
		t.Answer = ""
	})
}

func (r *Repository) transition(id string, to model.TaskStatus, mutate func(t *model.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	if !task.Status.CanTransition(to) {
		return fmt.Errorf("task %s cannot move from %s to %s: %w", id, task.Status, to, model.ErrNotValid)
	}

	task.Status = to
	mutate(&task)
	task.UpdatedAt = time.Now().UTC()
	r.tasks[id] = task

	r.logger.Debugf("Task %s marked %s", id, to)
	return nil
}

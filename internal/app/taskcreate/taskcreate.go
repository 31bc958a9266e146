package taskcreate

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
	"github.com/slok/webq/internal/queue"
	"github.com/slok/webq/internal/storage"
)

// ServiceConfig is the configuration for the task create service.
type ServiceConfig struct {
	Repository storage.TaskRepository
	Queue      queue.Queue
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Queue == nil {
		return fmt.Errorf("queue is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.TaskCreate"})
	return nil
}

// Service handles task submission business logic.
type Service struct {
	repo   storage.TaskRepository
	queue  queue.Queue
	logger log.Logger
}

// NewService creates a new task create service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		queue:  cfg.Queue,
		logger: cfg.Logger,
	}, nil
}

// Create validates the spec, persists a pending task and enqueues its job.
//
// The task is persisted before the enqueue: if the process dies between the
// two writes the task stays pending forever and is resubmitted by the user,
// it never loses an acknowledged job.
func (s *Service) Create(ctx context.Context, spec model.TaskSpec) (*model.Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	now := time.Now().UTC()
	task := model.Task{
		ID:        ulid.Make().String(),
		URL:       spec.URL,
		Question:  spec.Question,
		Status:    model.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("could not save task: %w", err)
	}

	job := model.Job{
		ID:       ulid.Make().String(),
		TaskID:   task.ID,
		URL:      task.URL,
		Question: task.Question,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("could not enqueue job: %w", err)
	}

	s.logger.Infof("Created task %s and queued job %s", task.ID, job.ID)

	return &task, nil
}

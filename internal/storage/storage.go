package storage

import (
	"context"

	"github.com/slok/webq/internal/model"
)

// TaskRepository is the interface for task persistence.
//
// Status transitions go through the Mark* methods so implementations can
// guard the monotonic lifecycle (pending -> processing -> completed|failed)
// and keep status and answer/error visible atomically to readers.
type TaskRepository interface {
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)

	// MarkTaskProcessing marks the task as processing for the given attempt.
	// Re-marking an already processing task refreshes attempts and updatedAt.
	MarkTaskProcessing(ctx context.Context, id string, attempt int) error

	// MarkTaskCompleted marks the task as completed with the answer.
	MarkTaskCompleted(ctx context.Context, id string, answer string) error

	// MarkTaskFailed marks the task as failed with a human readable cause.
	MarkTaskFailed(ctx context.Context, id string, errMsg string) error
}

// Package storagemock contains testify mocks for the storage interfaces.
package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/webq/internal/model"
)

// MockTaskRepository is a mock implementation of storage.TaskRepository.
type MockTaskRepository struct {
	mock.Mock
}

// CreateTask satisfies storage.TaskRepository.
func (m *MockTaskRepository) CreateTask(ctx context.Context, t model.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

// GetTask satisfies storage.TaskRepository.
func (m *MockTaskRepository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*model.Task), args.Error(1)
}

// MarkTaskProcessing satisfies storage.TaskRepository.
func (m *MockTaskRepository) MarkTaskProcessing(ctx context.Context, id string, attempt int) error {
	args := m.Called(ctx, id, attempt)
	return args.Error(0)
}

// MarkTaskCompleted satisfies storage.TaskRepository.
func (m *MockTaskRepository) MarkTaskCompleted(ctx context.Context, id string, answer string) error {
	args := m.Called(ctx, id, answer)
	return args.Error(0)
}

// MarkTaskFailed satisfies storage.TaskRepository.
func (m *MockTaskRepository) MarkTaskFailed(ctx context.Context, id string, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

// Package queuemock contains testify mocks for the queue interfaces.
package queuemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/webq/internal/model"
)

// MockQueue is a mock implementation of queue.Queue.
type MockQueue struct {
	mock.Mock
}

// Enqueue satisfies queue.Queue.
func (m *MockQueue) Enqueue(ctx context.Context, job model.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// Dequeue satisfies queue.Queue.
func (m *MockQueue) Dequeue(ctx context.Context) (*model.Job, error) {
	args := m.Called(ctx)
	return args.Get(0).(*model.Job), args.Error(1)
}

// Ack satisfies queue.Queue.
func (m *MockQueue) Ack(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// Nack satisfies queue.Queue.
func (m *MockQueue) Nack(ctx context.Context, jobID string, cause error) (bool, error) {
	args := m.Called(ctx, jobID, cause)
	return args.Bool(0), args.Error(1)
}

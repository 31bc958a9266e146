// Package answermock contains testify mocks for the answer interfaces.
package answermock

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockGenerator is a mock implementation of answer.Generator.
type MockGenerator struct {
	mock.Mock
}

// Answer satisfies answer.Generator.
func (m *MockGenerator) Answer(ctx context.Context, content, question string) (string, error) {
	args := m.Called(ctx, content, question)
	return args.String(0), args.Error(1)
}

// Package fetchmock contains testify mocks for the fetch interfaces.
package fetchmock

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockFetcher is a mock implementation of fetch.Fetcher.
type MockFetcher struct {
	mock.Mock
}

// Fetch satisfies fetch.Fetcher.
func (m *MockFetcher) Fetch(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

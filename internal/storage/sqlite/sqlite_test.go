package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
	"github.com/slok/webq/internal/storage/sqlite"
)

func taskFixture(id string) model.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Task{
		ID:        id,
		URL:       "https://example.com",
		Question:  "What is this page about?",
		Status:    model.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newRepo(t *testing.T) (*sqlite.Repository, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.NewDB(ctx, sqlite.DBConfig{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := sqlite.NewRepository(sqlite.RepositoryConfig{DB: db, Logger: log.Noop})
	require.NoError(t, err)

	return repo, db
}

func TestRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	task := taskFixture("id-1")
	require.NoError(t, repo.CreateTask(ctx, task))

	got, err := repo.GetTask(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, "What is this page about?", got.Question)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.Equal(t, task.CreatedAt, got.CreatedAt)

	// Duplicate IDs are rejected.
	err = repo.CreateTask(ctx, task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAlreadyExists))

	_, err = repo.GetTask(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRepositoryLifecycle(t *testing.T) {
	tests := map[string]struct {
		run    func(ctx context.Context, t *testing.T, repo *sqlite.Repository) error
		expErr error
	}{
		"Completing a processing task should set the answer and clear the error": {
			run: func(ctx context.Context, t *testing.T, repo *sqlite.Repository) error {
				require.NoError(t, repo.CreateTask(ctx, taskFixture("id-1")))
				require.NoError(t, repo.MarkTaskProcessing(ctx, "id-1", 1))
				require.NoError(t, repo.MarkTaskCompleted(ctx, "id-1", "an answer"))

				got, err := repo.GetTask(ctx, "id-1")
				require.NoError(t, err)
				assert.Equal(t, model.TaskStatusCompleted, got.Status)
				assert.Equal(t, "an answer", got.Answer)
				assert.Empty(t, got.Error)
				assert.Equal(t, 1, got.Attempts)

				return nil
			},
		},

		"Failing a processing task should set the error and clear the answer": {
			run: func(ctx context.Context, t *testing.T, repo *sqlite.Repository) error {
				require.NoError(t, repo.CreateTask(ctx, taskFixture("id-1")))
				require.NoError(t, repo.MarkTaskProcessing(ctx, "id-1", 3))
				require.NoError(t, repo.MarkTaskFailed(ctx, "id-1", "navigation timed out"))

				got, err := repo.GetTask(ctx, "id-1")
				require.NoError(t, err)
				assert.Equal(t, model.TaskStatusFailed, got.Status)
				assert.Equal(t, "navigation timed out", got.Error)
				assert.Empty(t, got.Answer)
				assert.Equal(t, 3, got.Attempts)

				return nil
			},
		},

		"Re-marking processing should refresh the attempt counter": {
			run: func(ctx context.Context, t *testing.T, repo *sqlite.Repository) error {
				require.NoError(t, repo.CreateTask(ctx, taskFixture("id-1")))
				require.NoError(t, repo.MarkTaskProcessing(ctx, "id-1", 1))
				require.NoError(t, repo.MarkTaskProcessing(ctx, "id-1", 2))

				got, err := repo.GetTask(ctx, "id-1")
				require.NoError(t, err)
				assert.Equal(t, model.TaskStatusProcessing, got.Status)
				assert.Equal(t, 2, got.Attempts)

				return nil
			},
		},

		"Terminal tasks should reject further transitions": {
			run: func(ctx context.Context, t *testing.T, repo *sqlite.Repository) error {
				require.NoError(t, repo.CreateTask(ctx, taskFixture("id-1")))
				require.NoError(t, repo.MarkTaskProcessing(ctx, "id-1", 1))
				require.NoError(t, repo.MarkTaskCompleted(ctx, "id-1", "an answer"))

				return repo.MarkTaskFailed(ctx, "id-1", "too late")
			},
			expErr: model.ErrNotValid,
		},

		"Marking a missing task should fail": {
			run: func(ctx context.Context, t *testing.T, repo *sqlite.Repository) error {
				return repo.MarkTaskCompleted(ctx, "missing", "answer")
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			repo, _ := newRepo(t)

			err := tt.run(context.Background(), t, repo)

			if tt.expErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expErr))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

package taskcreate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/webq/internal/app/taskcreate"
	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
	"github.com/slok/webq/internal/queue/queuemock"
	"github.com/slok/webq/internal/storage/storagemock"
)

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		cfg    taskcreate.ServiceConfig
		expErr bool
		errMsg string
	}{
		"Valid config with all fields": {
			cfg: taskcreate.ServiceConfig{
				Repository: &storagemock.MockTaskRepository{},
				Queue:      &queuemock.MockQueue{},
				Logger:     log.Noop,
			},
		},
		"Valid config without logger uses Noop": {
			cfg: taskcreate.ServiceConfig{
				Repository: &storagemock.MockTaskRepository{},
				Queue:      &queuemock.MockQueue{},
			},
		},
		"Missing repository returns error": {
			cfg: taskcreate.ServiceConfig{
				Queue: &queuemock.MockQueue{},
			},
			expErr: true,
			errMsg: "repository is required",
		},
		"Missing queue returns error": {
			cfg: taskcreate.ServiceConfig{
				Repository: &storagemock.MockTaskRepository{},
			},
			expErr: true,
			errMsg: "queue is required",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			svc, err := taskcreate.NewService(tt.cfg)

			if tt.expErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, svc)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestServiceCreate(t *testing.T) {
	tests := map[string]struct {
		spec        model.TaskSpec
		setupMocks  func(repo *storagemock.MockTaskRepository, q *queuemock.MockQueue)
		expErr      error
		validateRes func(t *testing.T, task *model.Task)
	}{
		"Successful creation persists a pending task and enqueues its job": {
			spec: model.TaskSpec{URL: "https://example.com", Question: "What is this page about?"},
			setupMocks: func(repo *storagemock.MockTaskRepository, q *queuemock.MockQueue) {
				repo.On("CreateTask", mock.Anything, mock.MatchedBy(func(task model.Task) bool {
					return task.Status == model.TaskStatusPending &&
						task.URL == "https://example.com" &&
						task.ID != ""
				})).Return(nil)

				q.On("Enqueue", mock.Anything, mock.MatchedBy(func(job model.Job) bool {
					return job.TaskID != "" && job.URL == "https://example.com" && job.Question == "What is this page about?"
				})).Return(nil)
			},
			validateRes: func(t *testing.T, task *model.Task) {
				assert.Equal(t, model.TaskStatusPending, task.Status)
				assert.NotEmpty(t, task.ID)
				assert.Empty(t, task.Answer)
				assert.Empty(t, task.Error)
			},
		},

		"Invalid URL is rejected before any persistence": {
			spec:       model.TaskSpec{URL: "not-a-url", Question: "q"},
			setupMocks: func(repo *storagemock.MockTaskRepository, q *queuemock.MockQueue) {},
			expErr:     model.ErrNotValid,
		},

		"Empty question is rejected before any persistence": {
			spec:       model.TaskSpec{URL: "https://example.com", Question: ""},
			setupMocks: func(repo *storagemock.MockTaskRepository, q *queuemock.MockQueue) {},
			expErr:     model.ErrNotValid,
		},

		"Repository failure is propagated": {
			spec: model.TaskSpec{URL: "https://example.com", Question: "q"},
			setupMocks: func(repo *storagemock.MockTaskRepository, q *queuemock.MockQueue) {
				repo.On("CreateTask", mock.Anything, mock.Anything).Return(errors.New("db down"))
			},
			expErr: errors.New("db down"),
		},

		"Enqueue failure is propagated after the task was persisted": {
			spec: model.TaskSpec{URL: "https://example.com", Question: "q"},
			setupMocks: func(repo *storagemock.MockTaskRepository, q *queuemock.MockQueue) {
				repo.On("CreateTask", mock.Anything, mock.Anything).Return(nil)
				q.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("queue down"))
			},
			expErr: errors.New("queue down"),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			repo := &storagemock.MockTaskRepository{}
			q := &queuemock.MockQueue{}
			tt.setupMocks(repo, q)

			svc, err := taskcreate.NewService(taskcreate.ServiceConfig{
				Repository: repo,
				Queue:      q,
				Logger:     log.Noop,
			})
			require.NoError(t, err)

			task, err := svc.Create(context.Background(), tt.spec)

			if tt.expErr != nil {
				require.Error(t, err)
				if errors.Is(tt.expErr, model.ErrNotValid) {
					assert.True(t, errors.Is(err, model.ErrNotValid))
				} else {
					assert.Contains(t, err.Error(), tt.expErr.Error())
				}
				assert.Nil(t, task)
			} else {
				require.NoError(t, err)
				tt.validateRes(t, task)
			}

			repo.AssertExpectations(t)
			q.AssertExpectations(t)
		})
	}
}

package model_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/webq/internal/model"
)

func TestTaskSpecValidate(t *testing.T) {
	tests := map[string]struct {
		spec   model.TaskSpec
		expErr bool
	}{
		"Valid http URL and question": {
			spec: model.TaskSpec{URL: "http://example.com", Question: "What is this page about?"},
		},

		"Valid https URL with path and query": {
			spec: model.TaskSpec{URL: "https://example.com/docs?page=2", Question: "Summarize"},
		},

		"Question at max length is valid": {
			spec: model.TaskSpec{URL: "https://example.com", Question: strings.Repeat("a", 500)},
		},

		"Multibyte question at max length is valid, the limit counts characters not bytes": {
			spec: model.TaskSpec{URL: "https://example.com", Question: strings.Repeat("ü", 500)},
		},

		"Multibyte question over max length should fail": {
			spec:   model.TaskSpec{URL: "https://example.com", Question: strings.Repeat("ü", 501)},
			expErr: true,
		},

		"Empty URL should fail": {
			spec:   model.TaskSpec{URL: "", Question: "q"},
			expErr: true,
		},

		"Relative URL should fail": {
			spec:   model.TaskSpec{URL: "/just/a/path", Question: "q"},
			expErr: true,
		},

		"URL without host should fail": {
			spec:   model.TaskSpec{URL: "https://", Question: "q"},
			expErr: true,
		},

		"Non http scheme should fail": {
			spec:   model.TaskSpec{URL: "ftp://example.com/file", Question: "q"},
			expErr: true,
		},

		"Empty question should fail": {
			spec:   model.TaskSpec{URL: "https://example.com", Question: ""},
			expErr: true,
		},

		"Question over max length should fail": {
			spec:   model.TaskSpec{URL: "https://example.com", Question: strings.Repeat("a", 501)},
			expErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.spec.Validate()

			if tt.expErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, model.ErrNotValid))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	tests := map[string]struct {
		from  model.TaskStatus
		to    model.TaskStatus
		expOk bool
	}{
		"Pending to processing is allowed":      {from: model.TaskStatusPending, to: model.TaskStatusProcessing, expOk: true},
		"Pending to completed is allowed":       {from: model.TaskStatusPending, to: model.TaskStatusCompleted, expOk: true},
		"Pending to failed is allowed":          {from: model.TaskStatusPending, to: model.TaskStatusFailed, expOk: true},
		"Processing to processing is allowed":   {from: model.TaskStatusProcessing, to: model.TaskStatusProcessing, expOk: true},
		"Processing to completed is allowed":    {from: model.TaskStatusProcessing, to: model.TaskStatusCompleted, expOk: true},
		"Processing to failed is allowed":       {from: model.TaskStatusProcessing, to: model.TaskStatusFailed, expOk: true},
		"Processing to pending is not allowed":  {from: model.TaskStatusProcessing, to: model.TaskStatusPending},
		"Completed is sticky":                   {from: model.TaskStatusCompleted, to: model.TaskStatusProcessing},
		"Completed cannot become failed":        {from: model.TaskStatusCompleted, to: model.TaskStatusFailed},
		"Failed is sticky":                      {from: model.TaskStatusFailed, to: model.TaskStatusProcessing},
		"Failed cannot become completed":        {from: model.TaskStatusFailed, to: model.TaskStatusCompleted},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expOk, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, model.TaskStatusPending.Terminal())
	assert.False(t, model.TaskStatusProcessing.Terminal())
	assert.True(t, model.TaskStatusCompleted.Terminal())
	assert.True(t, model.TaskStatusFailed.Terminal())
}

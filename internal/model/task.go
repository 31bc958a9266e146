package model

import (
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is created and waiting to be picked up.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusProcessing indicates a worker is rendering the page or asking the model.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusCompleted indicates the task finished with an answer.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed permanently.
	TaskStatusFailed TaskStatus = "failed"
)

// Terminal returns true when no further transitions are allowed from the status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition returns true when moving from the current status to the given
// one is allowed. The lifecycle is monotonic: pending -> processing ->
// completed|failed. Re-marking processing is allowed (a retried job refreshes
// the same state), terminal states are sticky.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	if s.Terminal() {
		return false
	}

	switch to {
	case TaskStatusProcessing:
		return s == TaskStatusPending || s == TaskStatusProcessing
	case TaskStatusCompleted, TaskStatusFailed:
		return s == TaskStatusPending || s == TaskStatusProcessing
	default:
		return false
	}
}

const (
	// QuestionMaxLength is the maximum accepted question length.
	QuestionMaxLength = 500
)

// TaskSpec is the user-submitted part of a task. It is immutable after creation.
type TaskSpec struct {
	URL      string `json:"url"`
	Question string `json:"question"`
}

// Validate validates the task spec.
func (s *TaskSpec) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("url must be a valid absolute URL: %w", ErrNotValid)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https: %w", ErrNotValid)
	}

	if s.Question == "" {
		return fmt.Errorf("question is required: %w", ErrNotValid)
	}
	if utf8.RuneCountInString(s.Question) > QuestionMaxLength {
		return fmt.Errorf("question must be at most %d characters: %w", QuestionMaxLength, ErrNotValid)
	}

	return nil
}

// Task represents a user-submitted question about a web page and its
// lifecycle record. Answer is set only on completed tasks, Error only on
// failed ones.
type Task struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Question  string     `json:"question"`
	Status    TaskStatus `json:"status"`
	Answer    string     `json:"answer,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Job is a queue unit of work referencing a task. It carries the immutable
// url/question so workers don't need to re-read the task mid-flight.
type Job struct {
	ID       string
	TaskID   string
	URL      string
	Question string

	// Attempts is the number of times the job has been delivered to a worker,
	// including the current delivery.
	Attempts int
}

// Package task defines the generation task entity and its lifecycle.
package task

import "time"

// Status represents the current state of a task.
//
// Status transitions:
//
//	pending --(worker ack)--------> processing
//	pending --(dispatch failure)--> error
//	pending/processing --(callback success)--> completed
//	pending/processing --(callback failure)--> error
//
// completed and error are terminal; a terminal task never transitions again.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Task is a generation request tracked from submission to terminal outcome.
// The id is minted at submission and never reused, even after eviction.
type Task struct {
	ID     string `json:"taskId"`
	Prompt string `json:"prompt"`
	Status Status `json:"status"`

	// ImageData holds the base64 payload reported by the worker.
	// Set if and only if Status is completed.
	ImageData string `json:"imageData,omitempty"`

	// FailureReason is set if and only if Status is error.
	FailureReason string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// CompletedAt is set exactly once, on the transition into a terminal
	// state. Zero for pending and processing tasks.
	CompletedAt time.Time `json:"completedAt,omitempty"`

	// DispatchedAt records when the outbound worker notification was
	// issued. Diagnostic only.
	DispatchedAt time.Time `json:"dispatchedAt,omitempty"`

	// DispatchConfirmed is true once the worker acknowledged the
	// notification. Diagnostic only.
	DispatchConfirmed bool `json:"dispatchConfirmed"`
}

// New returns a pending task for the given prompt.
func New(id, prompt string, now time.Time) *Task {
	return &Task{
		ID:        id,
		Prompt:    prompt,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Terminal reports whether the task has reached completed or error.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusError
}

// MarkDispatched records that the worker notification was issued.
func (t *Task) MarkDispatched(now time.Time) {
	t.DispatchedAt = now
}

// MarkProcessing applies the worker's dispatch acknowledgment. The ack is
// recorded even when the callback already finished the task, but a terminal
// status is never disturbed.
func (t *Task) MarkProcessing() {
	t.DispatchConfirmed = true
	if t.Status == StatusPending {
		t.Status = StatusProcessing
	}
}

// MarkCompleted transitions the task into completed with the given payload.
// Returns false without mutating when the task is already terminal.
func (t *Task) MarkCompleted(imageData string, now time.Time) bool {
	if t.Terminal() {
		return false
	}
	t.Status = StatusCompleted
	t.ImageData = imageData
	t.FailureReason = ""
	t.CompletedAt = now
	return true
}

// MarkFailed transitions the task into error with the given reason.
// Returns false without mutating when the task is already terminal.
func (t *Task) MarkFailed(reason string, now time.Time) bool {
	if t.Terminal() {
		return false
	}
	t.Status = StatusError
	t.FailureReason = reason
	t.ImageData = ""
	t.CompletedAt = now
	return true
}

// Age returns how long ago the task was created.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// Package worker defines the port for handing tasks to the external
// generation worker.
package worker

import "context"

// Job is the notification payload sent to the worker. The worker is
// expected to invoke CallbackURL with the terminal outcome when it is done.
type Job struct {
	TaskID      string `json:"taskId"`
	Prompt      string `json:"prompt"`
	CallbackURL string `json:"callbackUrl"`
}

// Notifier hands a job to the external worker. A nil error means the
// worker acknowledged receipt; anything else is a dispatch failure. The
// notification is one-shot: there is no retry and no cancellation of
// worker-side processing.
type Notifier interface {
	Notify(ctx context.Context, job Job) error
}

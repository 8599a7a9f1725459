// Package taskstore defines the port for the in-memory task registry.
package taskstore

import (
	"context"

	"github.com/donahuenet/imagen/internal/domain/task"
)

// Store is the single source of truth for task state. All mutation goes
// through Update, which applies the mutation atomically with respect to
// concurrent Update and Delete calls on the same id. Get and ForEach hand
// out snapshot copies; callers never observe a half-applied mutation and
// never hold a reference into the store.
type Store interface {
	// Create inserts a new task. Returns domain.ErrConflict when the id
	// is already present.
	Create(ctx context.Context, t *task.Task) error

	// Get returns a snapshot of the task, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*task.Task, error)

	// Update applies fn to the task under the store's lock and returns a
	// snapshot of the result. A deleted or never-created id yields
	// domain.ErrNotFound; the mutation is not applied and cannot
	// resurrect a reaped record.
	Update(ctx context.Context, id string, fn func(*task.Task)) (*task.Task, error)

	// Delete removes the task. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string)

	// ForEach calls visit with a snapshot of every task. Used by the
	// reaper sweep; no ordering guarantee.
	ForEach(ctx context.Context, visit func(*task.Task))

	// Len returns the number of live tasks.
	Len(ctx context.Context) int
}

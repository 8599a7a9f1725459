package service

import (
	"context"
	"log/slog"
	"time"

	imotel "github.com/donahuenet/imagen/internal/adapter/otel"
	"github.com/donahuenet/imagen/internal/domain/task"
	"github.com/donahuenet/imagen/internal/port/taskstore"
)

// Reaper periodically evicts task records older than the retention
// horizon. Age is measured from createdAt regardless of status, so a task
// whose callback never arrives cannot linger forever.
type Reaper struct {
	store    taskstore.Store
	horizon  time.Duration
	interval time.Duration
	metrics  *imotel.Metrics // optional
	now      func() time.Time
}

func NewReaper(store taskstore.Store, horizon, interval time.Duration, metrics *imotel.Metrics) *Reaper {
	return &Reaper{
		store:    store,
		horizon:  horizon,
		interval: interval,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("reaper started", "horizon", r.horizon, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep evicts every record past the horizon and returns how many were
// removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	now := r.now()
	var expired []string
	r.store.ForEach(ctx, func(t *task.Task) {
		if t.Age(now) > r.horizon {
			expired = append(expired, t.ID)
		}
	})

	for _, id := range expired {
		r.store.Delete(ctx, id)
	}
	cleaned := len(expired)

	if cleaned > 0 {
		if r.metrics != nil {
			r.metrics.TasksEvicted.Add(ctx, int64(cleaned))
		}
		slog.Info("swept expired tasks", "cleaned", cleaned, "active", r.store.Len(ctx))
	}
	return cleaned
}

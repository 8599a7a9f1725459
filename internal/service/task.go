// Package service implements the task lifecycle coordinator.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	imotel "github.com/donahuenet/imagen/internal/adapter/otel"
	"github.com/donahuenet/imagen/internal/adapter/ws"
	"github.com/donahuenet/imagen/internal/domain"
	"github.com/donahuenet/imagen/internal/domain/task"
	"github.com/donahuenet/imagen/internal/logger"
	"github.com/donahuenet/imagen/internal/port/broadcast"
	"github.com/donahuenet/imagen/internal/port/messagequeue"
	"github.com/donahuenet/imagen/internal/port/taskstore"
	"github.com/donahuenet/imagen/internal/port/worker"
)

// defaultFailureReason is recorded when the worker reports failure
// without a message.
const defaultFailureReason = "Unknown error occurred during generation"

// CallbackReport is the payload the external worker posts back when a
// generation finishes.
type CallbackReport struct {
	TaskID    string `json:"taskId"`
	Success   bool   `json:"success"`
	ImageData string `json:"imageData,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Elapsed decomposes a task's age for polling clients.
type Elapsed struct {
	Minutes     int
	Seconds     int
	TotalMillis int64
}

// StatusView is a point-in-time snapshot of a task for polling clients.
type StatusView struct {
	Task    *task.Task
	Elapsed Elapsed
}

// TaskConfig holds the coordinator's tunables.
type TaskConfig struct {
	// CallbackURL is handed to the worker with every job.
	CallbackURL string
	// DispatchTimeout bounds the outbound notification; a hung worker
	// becomes a dispatch failure after this long.
	DispatchTimeout time.Duration
	// Retention is the horizon past which terminal records are treated
	// as gone on read, mirroring the reaper's sweep.
	Retention time.Duration
	// MaxInFlight caps concurrent outbound notifications.
	MaxInFlight int
}

// TaskService owns the task lifecycle: submission, asynchronous dispatch
// to the worker, callback reconciliation, and status reporting. All state
// lives in the store; the service never holds a task reference across a
// network call.
type TaskService struct {
	store    taskstore.Store
	notifier worker.Notifier
	hub      broadcast.Broadcaster // optional
	queue    messagequeue.Queue    // optional
	metrics  *imotel.Metrics       // optional
	cfg      TaskConfig
	inflight *semaphore.Weighted
	now      func() time.Time // for testing
}

// NewTaskService creates the coordinator. hub, queue, and metrics may be
// nil; the corresponding side channels are then disabled.
func NewTaskService(
	store taskstore.Store,
	notifier worker.Notifier,
	hub broadcast.Broadcaster,
	queue messagequeue.Queue,
	metrics *imotel.Metrics,
	cfg TaskConfig,
) *TaskService {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	return &TaskService{
		store:    store,
		notifier: notifier,
		hub:      hub,
		queue:    queue,
		metrics:  metrics,
		cfg:      cfg,
		inflight: semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		now:      time.Now,
	}
}

// Submit accepts a generation request. The returned task is pending; the
// worker notification happens on a detached goroutine so the caller never
// waits on the worker.
func (s *TaskService) Submit(ctx context.Context, prompt string) (*task.Task, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required and must be a non-empty string", domain.ErrValidation)
	}

	t := task.New(uuid.NewString(), prompt, s.now())
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	slog.Info("task accepted",
		"task_id", t.ID,
		"prompt_chars", len(prompt),
		"request_id", logger.RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.TasksSubmitted.Add(ctx, 1)
	}
	s.publishLifecycle(ctx, messagequeue.SubjectTaskCreated, t)
	s.broadcastStatus(ctx, t)

	go s.dispatch(t.ID, t.Prompt)

	return t, nil
}

// dispatch notifies the worker about a freshly created task. It runs
// detached from the submitting request: its outcome is only ever observed
// through the task record.
func (s *TaskService) dispatch(id, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DispatchTimeout)
	defer cancel()

	ctx, span := imotel.StartDispatchSpan(ctx, id)
	defer span.End()

	if err := s.inflight.Acquire(ctx, 1); err != nil {
		span.SetStatus(codes.Error, "dispatch slot timeout")
		s.failDispatch(ctx, id, "Failed to start generation: dispatch queue saturated")
		return
	}
	defer s.inflight.Release(1)

	if _, err := s.store.Update(ctx, id, func(tk *task.Task) {
		tk.MarkDispatched(s.now())
	}); err != nil {
		// Reaped before we got a slot; nothing to notify about.
		return
	}

	err := s.notifier.Notify(ctx, worker.Job{
		TaskID:      id,
		Prompt:      prompt,
		CallbackURL: s.cfg.CallbackURL,
	})
	if err != nil {
		slog.Error("worker notification failed", "task_id", id, "error", err)
		span.SetStatus(codes.Error, err.Error())
		s.failDispatch(ctx, id, "Failed to start generation: "+err.Error())
		return
	}

	t, err := s.store.Update(ctx, id, func(tk *task.Task) {
		tk.MarkProcessing()
	})
	if err != nil {
		return
	}
	slog.Info("worker acknowledged dispatch", "task_id", id, "status", t.Status)
	s.broadcastStatus(context.WithoutCancel(ctx), t)
}

// failDispatch records a dispatch failure as the task's terminal outcome.
// A task that completed via callback in the meantime is left alone.
func (s *TaskService) failDispatch(ctx context.Context, id, reason string) {
	applied := false
	now := s.now()
	t, err := s.store.Update(ctx, id, func(tk *task.Task) {
		applied = tk.MarkFailed(reason, now)
	})
	if err != nil || !applied {
		return
	}

	ctx = context.WithoutCancel(ctx)
	s.recordTerminal(ctx, t)
	s.publishLifecycle(ctx, messagequeue.SubjectTaskFailed, t)
	s.broadcastStatus(ctx, t)
}

// Report applies a worker callback to the matching task. Duplicate
// callbacks for terminal tasks are acknowledged but inert
// (first-writer-wins); malformed callbacks never disturb the record.
func (s *TaskService) Report(ctx context.Context, rep CallbackReport) (*task.Task, error) {
	if rep.TaskID == "" {
		return nil, fmt.Errorf("%w: taskId is required", domain.ErrValidation)
	}

	ctx, span := imotel.StartCallbackSpan(ctx, rep.TaskID, rep.Success)
	defer span.End()

	if rep.Success && rep.ImageData == "" {
		// The callback is malformed rather than authoritative: the
		// record keeps whatever state it had.
		if _, err := s.store.Get(ctx, rep.TaskID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: imageData is required for a successful result", domain.ErrValidation)
	}

	reason := rep.Error
	if !rep.Success && reason == "" {
		reason = defaultFailureReason
	}

	applied := false
	now := s.now()
	t, err := s.store.Update(ctx, rep.TaskID, func(tk *task.Task) {
		if rep.Success {
			applied = tk.MarkCompleted(rep.ImageData, now)
		} else {
			applied = tk.MarkFailed(reason, now)
		}
	})
	if err != nil {
		// Late callback racing the reaper, or an id we never issued.
		return nil, err
	}

	if !applied {
		slog.Info("duplicate callback ignored", "task_id", t.ID, "status", t.Status)
		return t, nil
	}

	slog.Info("task finished", "task_id", t.ID, "status", t.Status)
	s.recordTerminal(ctx, t)
	if t.Status == task.StatusCompleted {
		s.publishLifecycle(ctx, messagequeue.SubjectTaskCompleted, t)
	} else {
		s.publishLifecycle(ctx, messagequeue.SubjectTaskFailed, t)
	}
	s.broadcastStatus(ctx, t)

	return t, nil
}

// Status returns a point-in-time view of a task. A terminal record older
// than the retention horizon is deleted on the spot and reported as not
// found, so readers never see what the next sweep would evict anyway.
func (s *TaskService) Status(ctx context.Context, id string) (*StatusView, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: taskId is required", domain.ErrValidation)
	}

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if t.Terminal() && now.Sub(t.CompletedAt) > s.cfg.Retention {
		s.store.Delete(ctx, id)
		if s.metrics != nil {
			s.metrics.TasksEvicted.Add(ctx, 1)
		}
		slog.Info("expired task removed on read", "task_id", id)
		return nil, domain.ErrNotFound
	}

	elapsed := now.Sub(t.CreatedAt)
	view := &StatusView{
		Task: t,
		Elapsed: Elapsed{
			Minutes:     int(elapsed / time.Minute),
			Seconds:     int((elapsed % time.Minute) / time.Second),
			TotalMillis: elapsed.Milliseconds(),
		},
	}

	if !t.Terminal() && view.Elapsed.Minutes > 2 {
		slog.Info("long-running task polled",
			"task_id", id,
			"status", t.Status,
			"elapsed", fmt.Sprintf("%dm%ds", view.Elapsed.Minutes, view.Elapsed.Seconds),
		)
	}

	return view, nil
}

// ActiveCount returns the number of live task records.
func (s *TaskService) ActiveCount(ctx context.Context) int {
	return s.store.Len(ctx)
}

// recordTerminal updates terminal-outcome metrics for a task that just
// transitioned.
func (s *TaskService) recordTerminal(ctx context.Context, t *task.Task) {
	if s.metrics == nil {
		return
	}
	if t.Status == task.StatusCompleted {
		s.metrics.TasksCompleted.Add(ctx, 1)
	} else {
		s.metrics.TasksFailed.Add(ctx, 1)
	}
	s.metrics.TaskDuration.Record(ctx, t.CompletedAt.Sub(t.CreatedAt).Seconds())
}

// lifecycleEvent is the slim payload published to the event feed. The
// image payload itself stays in the store.
type lifecycleEvent struct {
	TaskID      string    `json:"taskId"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (s *TaskService) publishLifecycle(ctx context.Context, subject string, t *task.Task) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(lifecycleEvent{
		TaskID:      t.ID,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
		Error:       t.FailureReason,
	})
	if err != nil {
		slog.Error("marshal lifecycle event", "task_id", t.ID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		// The store already holds the truth; the feed is best-effort.
		slog.Error("publish lifecycle event", "subject", subject, "task_id", t.ID, "error", err)
	}
}

func (s *TaskService) broadcastStatus(ctx context.Context, t *task.Task) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
		TaskID:        t.ID,
		Status:        string(t.Status),
		FailureReason: t.FailureReason,
	})
}

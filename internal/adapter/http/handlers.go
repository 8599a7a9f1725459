// Package http exposes the task lifecycle over a JSON REST API.
package http

import (
	"net/http"
	"time"

	"github.com/donahuenet/imagen/internal/domain/task"
	"github.com/donahuenet/imagen/internal/service"
)

const (
	// generate requests carry a prompt only.
	maxGenerateBody = 64 << 10
	// callbacks carry base64 image payloads.
	maxCallbackBody = 50 << 20
)

// Handlers bundles the HTTP endpoints around the task coordinator.
type Handlers struct {
	Tasks *service.TaskService
}

func NewHandlers(tasks *service.TaskService) *Handlers {
	return &Handlers{Tasks: tasks}
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	TaskID  string      `json:"taskId"`
	Status  task.Status `json:"status"`
	Message string      `json:"message"`
}

// Generate accepts a prompt and returns immediately with a pending task id.
// The worker is notified in the background.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[generateRequest](w, r, maxGenerateBody)
	if !ok {
		return
	}

	t, err := h.Tasks.Submit(r.Context(), req.Prompt)
	if err != nil {
		writeDomainError(w, err, "failed to start generation")
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		TaskID:  t.ID,
		Status:  t.Status,
		Message: "Image generation started",
	})
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

type elapsedTime struct {
	Minutes int   `json:"minutes"`
	Seconds int   `json:"seconds"`
	Total   int64 `json:"total"`
}

type statusDebug struct {
	// Dispatched reports whether the outbound worker notification was issued.
	Dispatched bool `json:"dispatchConfirmed"`
	// WorkerAck reports whether the worker acknowledged it.
	WorkerAck bool `json:"hasWorkerAck"`
}

type statusResponse struct {
	TaskID      string      `json:"taskId"`
	Status      task.Status `json:"status"`
	ImageData   string      `json:"imageData,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	ElapsedTime elapsedTime `json:"elapsedTime"`
	Debug       statusDebug `json:"debug"`
}

// Status returns the current state of a task, including the result payload
// once the task completed.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	taskID := urlParam(r, "taskId")

	view, err := h.Tasks.Status(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}

	t := view.Task
	writeJSON(w, http.StatusOK, statusResponse{
		TaskID:    t.ID,
		Status:    t.Status,
		ImageData: t.ImageData,
		Error:     t.FailureReason,
		CreatedAt: t.CreatedAt,
		ElapsedTime: elapsedTime{
			Minutes: view.Elapsed.Minutes,
			Seconds: view.Elapsed.Seconds,
			Total:   view.Elapsed.TotalMillis,
		},
		Debug: statusDebug{
			Dispatched: !t.DispatchedAt.IsZero(),
			WorkerAck:  t.DispatchConfirmed,
		},
	})
}

// ---------------------------------------------------------------------------
// Worker callback
// ---------------------------------------------------------------------------

type callbackAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WebhookResult receives the worker's result callback and reconciles it
// with the task record.
func (h *Handlers) WebhookResult(w http.ResponseWriter, r *http.Request) {
	rep, ok := readJSON[service.CallbackReport](w, r, maxCallbackBody)
	if !ok {
		return
	}

	if _, err := h.Tasks.Report(r.Context(), rep); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}

	writeJSON(w, http.StatusOK, callbackAck{Success: true, Message: "Result processed"})
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	ActiveTaskCount int       `json:"activeTaskCount"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "healthy",
		Timestamp:       time.Now(),
		ActiveTaskCount: h.Tasks.ActiveCount(r.Context()),
	})
}

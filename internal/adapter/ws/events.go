package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// EventTaskStatus is broadcast on every task lifecycle transition.
const EventTaskStatus = "task.status"

// TaskStatusEvent carries a task's new state to connected clients. The
// image payload itself is not broadcast; clients fetch it over the status
// endpoint once they see "completed".
type TaskStatusEvent struct {
	TaskID        string `json:"taskId"`
	Status        string `json:"status"`
	FailureReason string `json:"error,omitempty"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

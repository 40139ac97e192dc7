package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTaskStatus = "task.status"
	EventThreadTurn = "thread.turn"
)

// TaskStatusEvent is broadcast when a dispatch task changes status.
type TaskStatusEvent struct {
	TaskID     string `json:"taskId"`
	ThreadID   string `json:"threadId"`
	Agent      string `json:"agent"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// ThreadTurnEvent is broadcast when an entry is appended to a thread log.
type ThreadTurnEvent struct {
	ThreadID string `json:"threadId"`
	Turn     int    `json:"turn"`
	Role     string `json:"role"`
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

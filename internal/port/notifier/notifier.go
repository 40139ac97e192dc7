// Package notifier defines the task completion notification port (interface).
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no delivery target.
var ErrNotConfigured = errors.New("notifier: not configured")

// Completion is the payload delivered when a dispatch task reaches a
// terminal state.
type Completion struct {
	TaskID     string `json:"taskId"`
	ThreadID   string `json:"threadId"`
	Agent      string `json:"agent"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Notifier is the port interface for delivering completion notices.
// Delivery is best effort; a failed notification never alters task state.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "webhook").
	Name() string

	// Notify delivers a completion notice to the given target.
	Notify(ctx context.Context, target string, c Completion) error
}

// Package dispatch defines the dispatched task entity and its status machine.
package dispatch

import "time"

// Status represents the current state of a dispatched task.
//
// Transitions: running → succeeded | failed | timed_out,
// and running → canceling → canceled. Terminal states are set only after
// the underlying process has actually exited.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCanceling Status = "canceling"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCanceled  Status = "canceled"
)

// IsTerminal returns true if the task is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCanceled:
		return true
	}
	return false
}

// Task represents one headless-agent subprocess run bound to a thread.
// The process handle itself is owned by the task manager and never appears
// here; Task is the externally visible snapshot.
type Task struct {
	ID             string     `json:"taskId"`
	ThreadID       string     `json:"threadId"`
	Agent          string     `json:"agent"`
	Status         Status     `json:"status"`
	Workdir        string     `json:"workdir,omitempty"`
	TimeoutSeconds int        `json:"timeoutSeconds"`
	Callback       string     `json:"callback,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	ExitCode       *int       `json:"exitCode,omitempty"`
	DurationMs     int64      `json:"durationMs,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Request holds the fields of a dispatch invocation.
type Request struct {
	Agent          string `json:"agent"`
	Message        string `json:"message"`
	ThreadID       string `json:"threadId,omitempty"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
	Workdir        string `json:"workdir,omitempty"`
	Callback       string `json:"callback,omitempty"`
}

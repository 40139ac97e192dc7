// Package agentbackend defines the headless agent backend port (interface).
package agentbackend

import (
	"context"
	"os/exec"
)

// InvokeRequest carries the composed input for one dispatch run.
type InvokeRequest struct {
	// Prompt is the full composed prompt, including any prior thread
	// history the dispatcher folded in.
	Prompt string

	// Workdir is the directory the agent operates in.
	Workdir string
}

// Backend is the port interface for a headless agent CLI.
type Backend interface {
	// Name returns the unique identifier for this backend (e.g. "claude", "codex").
	Name() string

	// Command builds the subprocess invocation for one run: binary, args,
	// stdin, and working directory. The command is bound to ctx but not
	// started; the dispatcher owns its lifecycle and kill policy.
	Command(ctx context.Context, req InvokeRequest) (*exec.Cmd, error)
}

// Package codex implements the agentbackend.Backend interface for the
// codex CLI in non-interactive exec mode.
package codex

import (
	"context"
	"os/exec"

	"github.com/nexus-ops/edi-broker/internal/port/agentbackend"
)

const (
	backendName   = "codex"
	defaultBinary = "codex"
)

// Backend invokes the codex CLI. The prompt is the trailing argument to
// the exec subcommand.
type Backend struct {
	binary string
}

// New creates a codex backend. The config map may override "binary".
func New(cfg map[string]string) *Backend {
	binary := cfg["binary"]
	if binary == "" {
		binary = defaultBinary
	}
	return &Backend{binary: binary}
}

// Register registers the codex backend factory.
func Register() {
	agentbackend.Register(backendName, func(cfg map[string]string) (agentbackend.Backend, error) {
		return New(cfg), nil
	})
}

// Name returns "codex".
func (b *Backend) Name() string { return backendName }

// Command builds the exec-mode invocation with the prompt as an argument.
func (b *Backend) Command(ctx context.Context, req agentbackend.InvokeRequest) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, b.binary, "exec", "--skip-git-repo-check", req.Prompt)
	cmd.Dir = req.Workdir
	return cmd, nil
}

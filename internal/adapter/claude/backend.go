// Package claude implements the agentbackend.Backend interface for the
// claude CLI in headless print mode.
package claude

import (
	"context"
	"os/exec"
	"strings"

	"github.com/nexus-ops/edi-broker/internal/port/agentbackend"
)

const (
	backendName   = "claude"
	defaultBinary = "claude"
)

// Backend invokes the claude CLI. The prompt is passed on stdin; -p makes
// the run non-interactive and the permission flag is required for
// unattended execution.
type Backend struct {
	binary string
}

// New creates a claude backend. The config map may override "binary".
func New(cfg map[string]string) *Backend {
	binary := cfg["binary"]
	if binary == "" {
		binary = defaultBinary
	}
	return &Backend{binary: binary}
}

// Register registers the claude backend factory.
func Register() {
	agentbackend.Register(backendName, func(cfg map[string]string) (agentbackend.Backend, error) {
		return New(cfg), nil
	})
}

// Name returns "claude".
func (b *Backend) Name() string { return backendName }

// Command builds the headless invocation with the prompt on stdin.
func (b *Backend) Command(ctx context.Context, req agentbackend.InvokeRequest) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, b.binary,
		"-p",
		"--output-format", "text",
		"--dangerously-skip-permissions",
	)
	cmd.Dir = req.Workdir
	cmd.Stdin = strings.NewReader(req.Prompt)
	return cmd, nil
}

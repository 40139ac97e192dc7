// Package opencode implements the agentbackend.Backend interface for the
// opencode CLI in single-run mode.
package opencode

import (
	"context"
	"os/exec"

	"github.com/nexus-ops/edi-broker/internal/port/agentbackend"
)

const (
	backendName   = "opencode"
	defaultBinary = "opencode"
)

// Backend invokes the opencode CLI. The prompt is the trailing argument
// to the run subcommand.
type Backend struct {
	binary string
}

// New creates an opencode backend. The config map may override "binary".
func New(cfg map[string]string) *Backend {
	binary := cfg["binary"]
	if binary == "" {
		binary = defaultBinary
	}
	return &Backend{binary: binary}
}

// Register registers the opencode backend factory.
func Register() {
	agentbackend.Register(backendName, func(cfg map[string]string) (agentbackend.Backend, error) {
		return New(cfg), nil
	})
}

// Name returns "opencode".
func (b *Backend) Name() string { return backendName }

// Command builds the run-mode invocation with the prompt as an argument.
func (b *Backend) Command(ctx context.Context, req agentbackend.InvokeRequest) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, b.binary, "run", req.Prompt)
	cmd.Dir = req.Workdir
	return cmd, nil
}

package claude

import (
	"context"
	"io"
	"testing"

	"github.com/nexus-ops/edi-broker/internal/port/agentbackend"
)

func TestCommandShape(t *testing.T) {
	b := New(map[string]string{"binary": "/bin/echo"})
	cmd, err := b.Command(context.Background(), agentbackend.InvokeRequest{
		Prompt:  "fix the build",
		Workdir: "/tmp",
	})
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	want := []string{"/bin/echo", "-p", "--output-format", "text", "--dangerously-skip-permissions"}
	if len(cmd.Args) != len(want) {
		t.Fatalf("expected args %v, got %v", want, cmd.Args)
	}
	for i, a := range want {
		if cmd.Args[i] != a {
			t.Fatalf("arg %d: expected %q, got %q", i, a, cmd.Args[i])
		}
	}
	if cmd.Dir != "/tmp" {
		t.Errorf("expected workdir /tmp, got %q", cmd.Dir)
	}

	// The prompt travels on stdin, not in argv.
	data, err := io.ReadAll(cmd.Stdin)
	if err != nil {
		t.Fatalf("read stdin: %v", err)
	}
	if string(data) != "fix the build" {
		t.Errorf("expected prompt on stdin, got %q", data)
	}
}

func TestDefaultBinary(t *testing.T) {
	b := New(nil)
	if b.binary != "claude" {
		t.Fatalf("expected default binary claude, got %q", b.binary)
	}
	if b.Name() != "claude" {
		t.Fatalf("expected name claude, got %q", b.Name())
	}
}

//go:build integration

// Package integration_test runs end-to-end tests against a live broker over
// TCP: real agent subprocesses, real thread logs on disk, real WebSocket and
// callback traffic. Only the remote gateway is stubbed.
// Run with: go test -tags=integration ./tests/integration/...
package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nexus-ops/edi-broker/internal/adapter/callback"
	"github.com/nexus-ops/edi-broker/internal/adapter/gateway"
	edihttp "github.com/nexus-ops/edi-broker/internal/adapter/http"
	"github.com/nexus-ops/edi-broker/internal/adapter/ristretto"
	"github.com/nexus-ops/edi-broker/internal/adapter/ws"
	"github.com/nexus-ops/edi-broker/internal/config"
	"github.com/nexus-ops/edi-broker/internal/domain/thread"
	"github.com/nexus-ops/edi-broker/internal/port/agentbackend"
	"github.com/nexus-ops/edi-broker/internal/service"
	"github.com/nexus-ops/edi-broker/internal/threadlog"
)

var (
	testServer *httptest.Server
	testHub    *ws.Hub
)

// scriptBackend runs a shell script with the prompt on stdin, standing in
// for a real agent CLI.
type scriptBackend struct {
	path string
}

func (b *scriptBackend) Name() string { return "script" }

func (b *scriptBackend) Command(ctx context.Context, req agentbackend.InvokeRequest) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", b.path)
	cmd.Stdin = strings.NewReader(req.Prompt)
	if req.Workdir != "" {
		cmd.Dir = req.Workdir
	}
	return cmd, nil
}

func init() {
	agentbackend.Register("script", func(cfg map[string]string) (agentbackend.Backend, error) {
		return &scriptBackend{path: cfg["path"]}, nil
	})
}

// newGatewayStub fakes the remote gateway: triggers succeed, continuations
// get an immediate reply, history stays empty.
func newGatewayStub() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/hooks/agent", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"runId":"r-1"}`))
	})

	mux.HandleFunc("/tools/invoke", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Tool string `json:"tool"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)

		switch payload.Tool {
		case "sessions_send":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"details":{"reply":"ack over tcp"}}}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":{"details":{"messages":[]}}}`))
		}
	})

	return mux
}

func TestMain(m *testing.M) {
	gatewayStub := httptest.NewServer(newGatewayStub())

	tmp, err := os.MkdirTemp("", "edi-integration-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}

	logs, err := threadlog.NewStore(filepath.Join(tmp, "threads"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "thread log store: %v\n", err)
		os.Exit(1)
	}

	retain, err := ristretto.NewRetention(64, time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "task retention: %v\n", err)
		os.Exit(1)
	}

	script := filepath.Join(tmp, "agent.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho handled\n"), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "write script: %v\n", err)
		os.Exit(1)
	}

	gw := gateway.NewClient(config.Gateway{
		URL:            gatewayStub.URL,
		GatewayToken:   "gw-token",
		HooksToken:     "hooks-token",
		RequestTimeout: 2 * time.Second,
	})

	threads := thread.NewAllocator()
	testHub = ws.NewHub()

	bridge := service.NewBridgeService(config.Bridge{
		DefaultTimeoutSeconds: 2,
		PollInterval:          25 * time.Millisecond,
		InitialPollDelay:      10 * time.Millisecond,
		HistoryLimit:          10,
		RequesterName:         "EDI-CLI",
	}, gw, threads, nil)

	dispatcher := service.NewDispatchService(config.Dispatch{
		DefaultTimeoutSeconds: 10,
		EarlyCheckDelay:       100 * time.Millisecond,
		CancelGrace:           time.Second,
		HistoryWindow:         10,
		MaxConcurrent:         8,
		Retention:             time.Minute,
		DefaultWorkdir:        tmp,
	}, map[string]map[string]string{"script": {"path": script}},
		threads, logs, retain, callback.NewNotifier(), testHub, nil)

	handlers := &edihttp.Handlers{
		Bridge:     bridge,
		Dispatcher: dispatcher,
		Webhooks:   service.NewWebhookService(bridge),
		Logs:       logs,
		Version:    "3",
	}

	testServer = httptest.NewServer(edihttp.NewRouter(handlers, testHub, nil, config.Webhook{}))

	code := m.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = dispatcher.Shutdown(shutdownCtx)
	cancel()
	testServer.Close()
	gatewayStub.Close()
	retain.Close()
	_ = os.RemoveAll(tmp)

	os.Exit(code)
}

// envelope is the union of broker response bodies used by these tests.
type envelope struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error"`
	Reply    string   `json:"reply"`
	ThreadID string   `json:"threadId"`
	TaskID   string   `json:"taskId"`
	Status   string   `json:"status"`
	Server   string   `json:"server"`
	Version  string   `json:"version"`
	Agents   []string `json:"agents"`
}

func postJSON(t *testing.T, path string, v any) envelope {
	t.Helper()

	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(testServer.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		t.Fatalf("POST %s: HTTP %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func getJSON(t *testing.T, path string) envelope {
	t.Helper()

	resp, err := http.Get(testServer.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

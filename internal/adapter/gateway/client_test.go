package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexus-ops/edi-broker/internal/adapter/gateway"
	"github.com/nexus-ops/edi-broker/internal/config"
	"github.com/nexus-ops/edi-broker/internal/domain"
	"github.com/nexus-ops/edi-broker/internal/resilience"
)

func newTestClient(url string) *gateway.Client {
	return gateway.NewClient(config.Gateway{
		URL:            url,
		GatewayToken:   "gw-token",
		HooksToken:     "hooks-token",
		RequestTimeout: 5 * time.Second,
	})
}

func TestTrigger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hooks/agent" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer hooks-token" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["sessionKey"] != "edi:a1b2c3d4" {
			t.Errorf("unexpected sessionKey: %v", payload["sessionKey"])
		}
		if payload["wakeMode"] != "now" {
			t.Errorf("expected wakeMode now, got %v", payload["wakeMode"])
		}
		if payload["deliver"] != false {
			t.Errorf("expected deliver false, got %v", payload["deliver"])
		}
		if payload["name"] != "EDI-CLI" {
			t.Errorf("unexpected requester name: %v", payload["name"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"runId":"run-42"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	err := client.Trigger(context.Background(), gateway.TriggerRequest{
		SessionKey:     "edi:a1b2c3d4",
		Message:        "hello",
		Requester:      "EDI-CLI",
		TimeoutSeconds: 120,
	})
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
}

func TestTriggerAgentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"no such agent"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	err := client.Trigger(context.Background(), gateway.TriggerRequest{SessionKey: "edi:a1b2c3d4"})
	if !errors.Is(err, domain.ErrAgent) {
		t.Fatalf("expected ErrAgent, got %v", err)
	}
}

func TestSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/invoke" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer gw-token" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var payload struct {
			Tool string         `json:"tool"`
			Args map[string]any `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Tool != "sessions_send" {
			t.Fatalf("unexpected tool: %s", payload.Tool)
		}
		if payload.Args["sessionKey"] != "agent:main:edi:a1b2c3d4" {
			t.Errorf("expected namespaced session key, got %v", payload.Args["sessionKey"])
		}

		_, _ = w.Write([]byte(`{"ok":true,"result":{"details":{"reply":"done, pushed to main"}}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	reply, err := client.Send(context.Background(), "edi:a1b2c3d4", "status?", 60)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply != "done, pushed to main" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestSendNoReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"details":{}}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Send(context.Background(), "edi:a1b2c3d4", "status?", 60)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout for missing reply, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Tool string         `json:"tool"`
			Args map[string]any `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Tool != "sessions_history" {
			t.Fatalf("unexpected tool: %s", payload.Tool)
		}
		if payload.Args["includeTools"] != false {
			t.Errorf("expected includeTools false, got %v", payload.Args["includeTools"])
		}
		if payload.Args["limit"] != float64(10) {
			t.Errorf("expected limit 10, got %v", payload.Args["limit"])
		}

		_, _ = w.Write([]byte(`{"ok":true,"result":{"details":{"messages":[
			{"role":"user","content":"hello"},
			{"role":"assistant","content":[{"type":"text","text":"first reply"}]},
			{"role":"user","content":"and?"},
			{"role":"assistant","content":"plain string reply"}
		]}}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	h, err := client.History(context.Background(), "edi:a1b2c3d4", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if h.AssistantCount != 2 {
		t.Errorf("expected 2 assistant messages, got %d", h.AssistantCount)
	}
	if h.LastReply != "plain string reply" {
		t.Errorf("expected latest reply, got %q", h.LastReply)
	}
}

func TestHistorySkipsNonTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"details":{"messages":[
			{"role":"assistant","content":[{"type":"text","text":"useful"}]},
			{"role":"assistant","content":[{"type":"tool_use","name":"exec"}]}
		]}}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	h, err := client.History(context.Background(), "edi:a1b2c3d4", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if h.AssistantCount != 2 {
		t.Errorf("expected 2 assistant messages, got %d", h.AssistantCount)
	}
	// The newest message has no text block; the previous reply stands.
	if h.LastReply != "useful" {
		t.Errorf("expected fallback to prior text reply, got %q", h.LastReply)
	}
}

func TestUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream exploded`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.History(context.Background(), "edi:a1b2c3d4", 10)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream for HTTP 502, got %v", err)
	}

	srv.Close()
	_, err = client.History(context.Background(), "edi:a1b2c3d4", 10)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream for transport failure, got %v", err)
	}
}

func TestBreakerShieldsGateway(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	client.SetBreaker(resilience.NewBreaker(1, time.Minute))

	_, err := client.History(context.Background(), "edi:a1b2c3d4", 10)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	// Circuit is open now; the second call must not reach the server.
	_, err = client.History(context.Background(), "edi:a1b2c3d4", 10)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream from open circuit, got %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", hits)
	}
}

// Package gateway provides an HTTP client for the remote agent gateway.
//
// The gateway exposes two authenticated surfaces: /hooks/agent creates a
// session and wakes the agent (hooks token), and /tools/invoke runs gateway
// tools such as sessions_send and sessions_history (gateway token). Hook
// session keys are namespaced by the gateway under "agent:main:", so tool
// calls must use the prefixed form.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nexus-ops/edi-broker/internal/config"
	"github.com/nexus-ops/edi-broker/internal/domain"
	"github.com/nexus-ops/edi-broker/internal/resilience"
)

// sessionKeyNamespace is prepended by the gateway to hook session keys.
const sessionKeyNamespace = "agent:main:"

// Client talks to the agent gateway.
type Client struct {
	baseURL        string
	gatewayToken   string
	hooksToken     string
	requestTimeout time.Duration
	httpClient     *http.Client
	breaker        *resilience.Breaker
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.Gateway) *Client {
	rt := cfg.RequestTimeout
	if rt <= 0 {
		rt = 15 * time.Second
	}
	return &Client{
		baseURL:        cfg.URL,
		gatewayToken:   cfg.GatewayToken,
		hooksToken:     cfg.HooksToken,
		requestTimeout: rt,
		// Deadlines are per call: sessions_send must be allowed to block
		// for the full agent wait, so the client itself carries none.
		httpClient: &http.Client{},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// TriggerRequest wakes the agent on a fresh session.
type TriggerRequest struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Requester      string `json:"name"`
	WakeMode       string `json:"wakeMode"`
	Deliver        bool   `json:"deliver"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// Trigger creates a session and wakes the agent via /hooks/agent. The hook
// is asynchronous: a successful trigger means the agent was woken, not that
// a reply exists yet.
func (c *Client) Trigger(ctx context.Context, req TriggerRequest) error {
	if req.WakeMode == "" {
		req.WakeMode = "now"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	data, err := c.doRequest(ctx, "/hooks/agent", body, c.hooksToken)
	if err != nil {
		return fmt.Errorf("trigger agent: %w", err)
	}
	if err := gatewayOK(data); err != nil {
		return fmt.Errorf("trigger agent: %w", err)
	}
	return nil
}

// Send continues an existing session via the sessions_send tool and blocks
// until the agent replies or the gateway-side timeout elapses. Returns the
// agent's reply text.
func (c *Client) Send(ctx context.Context, sessionKey, message string, timeoutSeconds int) (string, error) {
	// The gateway holds this request open for up to timeoutSeconds while
	// the agent works; the transport deadline must outlast that wait.
	wait := time.Duration(timeoutSeconds)*time.Second + c.requestTimeout
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	data, err := c.invokeTool(ctx, "sessions_send", map[string]any{
		"sessionKey":     sessionKeyNamespace + sessionKey,
		"message":        message,
		"timeoutSeconds": timeoutSeconds,
	})
	if err != nil {
		return "", fmt.Errorf("sessions_send: %w", err)
	}

	// A missing reply means the gateway-side wait elapsed before the agent
	// answered; the session is still live, so this is a timeout, not an
	// agent failure.
	reply := gjson.GetBytes(data, "result.details.reply")
	if !reply.Exists() || reply.String() == "" {
		return "", fmt.Errorf("sessions_send: %w", domain.ErrTimeout)
	}
	return reply.String(), nil
}

// History is one poll of a session's recent messages.
type History struct {
	// AssistantCount is the number of agent-authored messages in the
	// window, used to detect new output beyond a pre-trigger baseline.
	AssistantCount int
	// LastReply is the text of the most recent agent-authored message,
	// empty when the agent has not produced one yet.
	LastReply string
}

// History reads a session's recent messages via the sessions_history tool.
func (c *Client) History(ctx context.Context, sessionKey string, limit int) (History, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	data, err := c.invokeTool(ctx, "sessions_history", map[string]any{
		"sessionKey":   sessionKeyNamespace + sessionKey,
		"limit":        limit,
		"includeTools": false,
	})
	if err != nil {
		return History{}, fmt.Errorf("sessions_history: %w", err)
	}

	var h History
	messages := gjson.GetBytes(data, "result.details.messages").Array()
	for _, msg := range messages {
		if msg.Get("role").String() != "assistant" {
			continue
		}
		h.AssistantCount++
		if text := assistantText(msg.Get("content")); text != "" {
			h.LastReply = text
		}
	}
	return h, nil
}

// assistantText extracts reply text from a message content field. Content
// is usually a list of typed blocks but some agents return a plain string.
func assistantText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	for _, block := range content.Array() {
		if block.Get("type").String() == "text" {
			return block.Get("text").String()
		}
	}
	return ""
}

func (c *Client) invokeTool(ctx context.Context, tool string, args map[string]any) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"tool": tool,
		"args": args,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", tool, err)
	}

	data, err := c.doRequest(ctx, "/tools/invoke", body, c.gatewayToken)
	if err != nil {
		return nil, err
	}
	if err := gatewayOK(data); err != nil {
		return nil, err
	}
	return data, nil
}

// gatewayOK maps a gateway response body with ok=false to ErrAgent. The
// transport succeeded; the failure belongs to the agent or tool invocation.
func gatewayOK(data []byte) error {
	if gjson.GetBytes(data, "ok").Bool() {
		return nil
	}
	msg := gjson.GetBytes(data, "error").String()
	if msg == "" {
		msg = "gateway reported failure"
	}
	return fmt.Errorf("%w: %s", domain.ErrAgent, msg)
}

// doRequest performs one authenticated POST. Transport failures and HTTP
// error statuses are ErrUpstream and count against the circuit breaker.
func (c *Client) doRequest(ctx context.Context, path string, body []byte, token string) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %v", domain.ErrUpstream, err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstream, resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
			}
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

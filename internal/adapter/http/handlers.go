// Package http exposes the broker's REST surface: the blocking ask bridge,
// the dispatch task manager, thread history, and webhook intake.
package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nexus-ops/edi-broker/internal/domain"
	"github.com/nexus-ops/edi-broker/internal/domain/dispatch"
	"github.com/nexus-ops/edi-broker/internal/domain/thread"
	"github.com/nexus-ops/edi-broker/internal/port/agentbackend"
	"github.com/nexus-ops/edi-broker/internal/resilience"
	"github.com/nexus-ops/edi-broker/internal/service"
	"github.com/nexus-ops/edi-broker/internal/threadlog"
)

// Handlers bundles the HTTP handler dependencies.
type Handlers struct {
	Bridge     *service.BridgeService
	Dispatcher *service.DispatchService
	Webhooks   *service.WebhookService
	Logs       *threadlog.Store
	Breaker    *resilience.Breaker
	Version    string
}

type askResponse struct {
	OK       bool   `json:"ok"`
	Reply    string `json:"reply"`
	ThreadID string `json:"threadId"`
}

type taskResponse struct {
	OK bool `json:"ok"`
	dispatch.Task
}

type taskListResponse struct {
	OK    bool            `json:"ok"`
	Tasks []dispatch.Task `json:"tasks"`
}

type cancelResponse struct {
	OK     bool            `json:"ok"`
	TaskID string          `json:"taskId"`
	Status dispatch.Status `json:"status"`
}

type threadResponse struct {
	OK       bool           `json:"ok"`
	ThreadID string         `json:"threadId"`
	Entries  []thread.Entry `json:"entries"`
}

type healthResponse struct {
	OK      bool     `json:"ok"`
	Server  string   `json:"server"`
	Version string   `json:"version"`
	Agents  []string `json:"agents"`
	Breaker string   `json:"breaker,omitempty"`
}

type webhookResponse struct {
	OK       bool   `json:"ok"`
	ThreadID string `json:"threadId,omitempty"`
}

// Ask handles POST /ask. The call blocks until the agent replies or the
// deadline passes; the resolved thread ID is returned even on failure so
// the caller can retry as a continuation.
func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Message        string `json:"message"`
		ThreadID       string `json:"threadId"`
		TimeoutSeconds int    `json:"timeoutSeconds"`
	}](w, r)
	if !ok {
		return
	}

	reply, threadID, err := h.Bridge.Ask(r.Context(), service.AskRequest{
		ThreadID:       req.ThreadID,
		Message:        req.Message,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		writeDomainError(w, err, threadID)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{OK: true, Reply: reply, ThreadID: threadID})
}

// Dispatch handles POST /dispatch. A JSON body carries the full request; a
// text/* body is the message itself with the remaining fields as query
// parameters, so shell callers can pipe a prompt straight in.
func (h *Handlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request

	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/") {
		r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body", "")
			return
		}

		q := r.URL.Query()
		req = dispatch.Request{
			Agent:    q.Get("agent"),
			Message:  string(body),
			ThreadID: q.Get("threadId"),
			Workdir:  q.Get("workdir"),
			Callback: q.Get("callback"),
		}
		if t := q.Get("timeout"); t != "" {
			secs, err := strconv.Atoi(t)
			if err != nil {
				writeError(w, http.StatusBadRequest, "timeout must be an integer", "")
				return
			}
			req.TimeoutSeconds = secs
		}
	} else {
		var ok bool
		req, ok = readJSON[dispatch.Request](w, r)
		if !ok {
			return
		}
	}

	t, err := h.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, taskResponse{OK: true, Task: t})
}

// ListTasks handles GET /tasks. Only live tasks are listed; terminal tasks
// remain reachable by ID until retention expires.
func (h *Handlers) ListTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := h.Dispatcher.ListActive()
	if tasks == nil {
		tasks = []dispatch.Task{}
	}
	writeJSON(w, http.StatusOK, taskListResponse{OK: true, Tasks: tasks})
}

// GetTask handles GET /tasks/{taskId}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Dispatcher.Get(urlParam(r, "taskId"))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{OK: true, Task: t})
}

// CancelTask handles POST /tasks/{taskId}/cancel. Cancelling a task that
// already reached a terminal state reports that state rather than failing,
// so retried cancels are harmless.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Dispatcher.Cancel(r.Context(), urlParam(r, "taskId"))
	if err != nil && !errors.Is(err, domain.ErrAlreadyTerminal) {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{OK: true, TaskID: t.ID, Status: t.Status})
}

// GetThread handles GET /thread/{threadId}. A thread with no recorded turns
// returns an empty entry list.
func (h *Handlers) GetThread(w http.ResponseWriter, r *http.Request) {
	threadID := urlParam(r, "threadId")
	entries, err := h.Logs.ReadAll(threadID)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{OK: true, ThreadID: threadID, Entries: entries})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		OK:      true,
		Server:  "edi-broker",
		Version: h.Version,
		Agents:  agentbackend.Available(),
	}
	if h.Breaker != nil {
		resp.Breaker = h.Breaker.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGitHubWebhook handles POST /github-webhook. Signature verification
// happens in middleware; agent work runs in the background, so the response
// only acknowledges intake.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	threadID, err := h.Webhooks.HandleEvent(event, body)
	if err != nil {
		writeDomainError(w, err, threadID)
		return
	}

	if event == "ping" {
		writeJSON(w, http.StatusOK, webhookResponse{OK: true})
		return
	}
	writeJSON(w, http.StatusAccepted, webhookResponse{OK: true, ThreadID: threadID})
}

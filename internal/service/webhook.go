package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nexus-ops/edi-broker/internal/domain"
	"github.com/nexus-ops/edi-broker/internal/domain/thread"
)

// WebhookService turns verified external events into agent messages. The
// normalizer in front of this service sends `{"message", "threadId"?}`; raw
// GitHub payloads for a few well-known events are summarized as a fallback.
type WebhookService struct {
	bridge *BridgeService
}

// NewWebhookService creates a WebhookService backed by the given bridge.
func NewWebhookService(bridge *BridgeService) *WebhookService {
	return &WebhookService{bridge: bridge}
}

// HandleEvent processes one verified webhook delivery. Actionable events
// start a background ask on the named or a fresh thread; the call itself
// never blocks on the agent. The returned thread ID is empty for
// acknowledge-only events and for asks that allocate their own thread.
func (s *WebhookService) HandleEvent(event string, payload []byte) (string, error) {
	if event == "ping" {
		slog.Info("webhook ping acknowledged")
		return "", nil
	}

	message := normalizedMessage(payload)
	if message == "" {
		message = synthesizeEventMessage(event, payload)
	}
	if message == "" {
		return "", fmt.Errorf("webhook %q carries no usable message: %w", event, domain.ErrValidation)
	}

	threadID := normalizedThreadID(payload)
	if threadID != "" {
		if err := thread.Validate(threadID); err != nil {
			return "", err
		}
	}

	slog.Info("webhook accepted", "event", event, "threadId", threadID)

	go func() {
		// Detached from the inbound request: webhook senders time out in
		// seconds, the agent may take the bridge's full default deadline.
		if _, tid, err := s.bridge.Ask(context.Background(), AskRequest{ThreadID: threadID, Message: message}); err != nil {
			slog.Warn("webhook ask failed", "event", event, "threadId", tid, "error", err)
		}
	}()
	return threadID, nil
}

func normalizedMessage(payload []byte) string {
	var raw struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ""
	}
	return strings.TrimSpace(raw.Message)
}

func normalizedThreadID(payload []byte) string {
	var raw struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ""
	}
	return strings.TrimSpace(raw.ThreadID)
}

// synthesizeEventMessage builds a one-line agent message from the common
// fields of well-known GitHub event payloads. Returns "" when the event
// carries nothing usable.
func synthesizeEventMessage(event string, payload []byte) string {
	switch event {
	case "push":
		var raw struct {
			Ref    string `json:"ref"`
			Pusher struct {
				Name string `json:"name"`
			} `json:"pusher"`
			Repository struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
			Commits []struct {
				Message string `json:"message"`
			} `json:"commits"`
			HeadCommit *struct {
				Message string `json:"message"`
			} `json:"head_commit"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil || raw.Repository.FullName == "" {
			return ""
		}
		branch := strings.TrimPrefix(raw.Ref, "refs/heads/")
		msg := fmt.Sprintf("GitHub push to %s on %s by %s, %d commits",
			raw.Repository.FullName, branch, raw.Pusher.Name, len(raw.Commits))
		if raw.HeadCommit != nil && raw.HeadCommit.Message != "" {
			msg += ": " + firstLine(raw.HeadCommit.Message)
		}
		return msg

	case "issues":
		var raw struct {
			Action string `json:"action"`
			Issue  struct {
				Number int    `json:"number"`
				Title  string `json:"title"`
			} `json:"issue"`
			Repository struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil || raw.Issue.Number == 0 {
			return ""
		}
		return fmt.Sprintf("GitHub issue #%d %s in %s: %s",
			raw.Issue.Number, raw.Action, raw.Repository.FullName, raw.Issue.Title)

	case "pull_request":
		var raw struct {
			Action      string `json:"action"`
			PullRequest struct {
				Number int    `json:"number"`
				Title  string `json:"title"`
			} `json:"pull_request"`
			Repository struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil || raw.PullRequest.Number == 0 {
			return ""
		}
		return fmt.Sprintf("GitHub pull request #%d %s in %s: %s",
			raw.PullRequest.Number, raw.Action, raw.Repository.FullName, raw.PullRequest.Title)
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

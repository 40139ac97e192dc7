package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nexus-ops/edi-broker/internal/adapter/gateway"
	"github.com/nexus-ops/edi-broker/internal/adapter/otel"
	"github.com/nexus-ops/edi-broker/internal/config"
	"github.com/nexus-ops/edi-broker/internal/domain"
	"github.com/nexus-ops/edi-broker/internal/domain/thread"
)

// AskRequest is one interactive bridge call.
type AskRequest struct {
	ThreadID       string
	Message        string
	TimeoutSeconds int
}

// BridgeService converts the gateway's asynchronous turn-taking into a
// single blocking ask with a deadline. New threads are created by waking the
// agent and polling its session history; continuations ride the gateway's
// own blocking send.
type BridgeService struct {
	cfg     config.Bridge
	gateway *gateway.Client
	threads *thread.Allocator
	metrics *otel.Metrics
}

// NewBridgeService creates a BridgeService over the given gateway client.
func NewBridgeService(cfg config.Bridge, gw *gateway.Client, threads *thread.Allocator, metrics *otel.Metrics) *BridgeService {
	return &BridgeService{
		cfg:     cfg,
		gateway: gw,
		threads: threads,
		metrics: metrics,
	}
}

// Ask sends one message to the agent and blocks until a reply or the
// deadline. The resolved thread ID accompanies every return, including
// failures, so the caller can continue the thread instead of starting over.
func (s *BridgeService) Ask(ctx context.Context, req AskRequest) (reply, threadID string, err error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", "", fmt.Errorf("message is required: %w", domain.ErrValidation)
	}

	threadID, isNew, err := s.threads.Resolve(req.ThreadID)
	if err != nil {
		return "", "", err
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeoutSeconds
	}

	ctx, span := otel.StartAskSpan(ctx, threadID, isNew)
	defer span.End()

	started := time.Now()
	defer func() {
		outcome := askOutcome(err)
		span.SetAttributes(attribute.String("ask.outcome", outcome))
		if s.metrics != nil {
			attrs := metric.WithAttributes(attribute.String("outcome", outcome))
			s.metrics.Asks.Add(context.Background(), 1, attrs)
			s.metrics.AskDuration.Record(context.Background(), time.Since(started).Seconds(), attrs)
		}
	}()

	sessionKey := thread.SessionKey(threadID)

	if !isNew {
		slog.Info("continuing thread", "threadId", threadID, "timeoutSeconds", timeout)
		reply, err = s.gateway.Send(ctx, sessionKey, req.Message, timeout)
		if err != nil {
			return "", threadID, err
		}
		return reply, threadID, nil
	}

	slog.Info("new thread", "threadId", threadID, "timeoutSeconds", timeout)
	reply, err = s.askNewThread(ctx, threadID, sessionKey, req.Message, timeout)
	return reply, threadID, err
}

// askNewThread wakes the agent on a fresh session, then polls its history
// until an agent-authored turn appears beyond the pre-trigger baseline or
// the deadline elapses.
func (s *BridgeService) askNewThread(ctx context.Context, threadID, sessionKey, message string, timeout int) (string, error) {
	// Baseline before triggering: a reused thread ID may point at a session
	// that already holds agent turns, and those must not be mistaken for
	// the answer. A failed read counts as zero, matching a fresh session.
	baseline := 0
	if hist, err := s.gateway.History(ctx, sessionKey, s.cfg.HistoryLimit); err == nil {
		baseline = hist.AssistantCount
	}

	// A trigger failure is terminal for this call; only the poll repeats.
	err := s.gateway.Trigger(ctx, gateway.TriggerRequest{
		SessionKey:     sessionKey,
		Message:        newThreadPreamble(threadID, message),
		Requester:      s.cfg.RequesterName,
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return "", err
	}

	deadline := time.NewTimer(time.Duration(timeout) * time.Second)
	defer deadline.Stop()
	poll := time.NewTimer(s.cfg.InitialPollDelay)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("ask abandoned: %w", ctx.Err())
		case <-deadline.C:
			return "", fmt.Errorf("no reply within %ds: %w", timeout, domain.ErrTimeout)
		case <-poll.C:
		}

		if s.metrics != nil {
			s.metrics.GatewayPolls.Add(context.Background(), 1)
		}

		hist, err := s.gateway.History(ctx, sessionKey, s.cfg.HistoryLimit)
		if err != nil {
			// The agent may still complete the turn; only the deadline
			// ends the loop.
			slog.Debug("history poll failed", "threadId", threadID, "error", err)
		} else if hist.AssistantCount > baseline && hist.LastReply != "" {
			return hist.LastReply, nil
		}

		poll.Reset(s.cfg.PollInterval)
	}
}

// newThreadPreamble frames the first message of a thread so the agent knows
// the channel it is answering on. Continuations carry the session's own
// history and need no framing.
func newThreadPreamble(threadID, message string) string {
	return fmt.Sprintf(`[EDI Request - Thread: %s]

You are answering an automated engineering client over the EDI bridge.
This is a NEW thread. Keep responses focused and technical.

Request: %s`, threadID, message)
}

// askOutcome buckets an ask result for metrics and spans.
func askOutcome(err error) string {
	switch {
	case err == nil:
		return "reply"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrUpstream):
		return "upstream"
	case errors.Is(err, domain.ErrAgent):
		return "agent"
	default:
		return "error"
	}
}

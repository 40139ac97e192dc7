// Package service contains the broker's application services: the dispatch
// task manager, the interactive poll bridge, and webhook intake.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/nexus-ops/edi-broker/internal/adapter/otel"
	"github.com/nexus-ops/edi-broker/internal/adapter/ws"
	"github.com/nexus-ops/edi-broker/internal/config"
	"github.com/nexus-ops/edi-broker/internal/domain"
	"github.com/nexus-ops/edi-broker/internal/domain/dispatch"
	"github.com/nexus-ops/edi-broker/internal/domain/thread"
	"github.com/nexus-ops/edi-broker/internal/port/agentbackend"
	"github.com/nexus-ops/edi-broker/internal/port/broadcast"
	"github.com/nexus-ops/edi-broker/internal/port/cache"
	"github.com/nexus-ops/edi-broker/internal/port/notifier"
	"github.com/nexus-ops/edi-broker/internal/threadlog"
)

// callbackTimeout bounds one completion callback delivery.
const callbackTimeout = 10 * time.Second

// DispatchService runs headless agents as supervised subprocesses bound to
// threads. Each accepted request becomes a task: its process group, watchdog
// timer, and completion bookkeeping are owned by a per-task supervisor
// goroutine, fully detached from the request that created it.
type DispatchService struct {
	cfg      config.Dispatch
	agents   map[string]map[string]string
	threads  *thread.Allocator
	logs     *threadlog.Store
	registry *taskRegistry
	notify   notifier.Notifier
	hub      broadcast.Broadcaster
	metrics  *otel.Metrics
	slots    *semaphore.Weighted
}

// NewDispatchService creates a DispatchService with the given collaborators.
// agents carries per-backend settings keyed by agent kind (binary path,
// extra args) and is handed to the backend factory on each dispatch.
func NewDispatchService(
	cfg config.Dispatch,
	agents map[string]map[string]string,
	threads *thread.Allocator,
	logs *threadlog.Store,
	retained cache.TaskRetention,
	notify notifier.Notifier,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
) *DispatchService {
	return &DispatchService{
		cfg:      cfg,
		agents:   agents,
		threads:  threads,
		logs:     logs,
		registry: newTaskRegistry(retained),
		notify:   notify,
		hub:      hub,
		metrics:  metrics,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Dispatch validates the request, spawns the agent subprocess, and returns
// once the task is registered and the early-failure window has elapsed. The
// returned snapshot is running, or already terminal when the process exited
// inside the window; the call never blocks for the full task duration.
func (s *DispatchService) Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Task, error) {
	if strings.TrimSpace(req.Message) == "" {
		return dispatch.Task{}, fmt.Errorf("message is required: %w", domain.ErrValidation)
	}
	backend, err := agentbackend.New(req.Agent, s.agents[req.Agent])
	if err != nil {
		return dispatch.Task{}, err
	}
	if req.ThreadID != "" {
		if err := thread.Validate(req.ThreadID); err != nil {
			return dispatch.Task{}, err
		}
	}

	if !s.slots.TryAcquire(1) {
		return dispatch.Task{}, fmt.Errorf("%d tasks already active: %w", s.cfg.MaxConcurrent, domain.ErrBusy)
	}

	task, err := s.launch(ctx, req, backend)
	if err != nil {
		s.slots.Release(1)
		return dispatch.Task{}, err
	}
	return task, nil
}

// launch performs the side-effecting half of a dispatch: thread resolution,
// prompt composition, log append, and process start. The slot acquired by
// Dispatch is released by the supervisor on success and by Dispatch on error.
func (s *DispatchService) launch(ctx context.Context, req dispatch.Request, backend agentbackend.Backend) (dispatch.Task, error) {
	threadID, _, err := s.threads.Resolve(req.ThreadID)
	if err != nil {
		return dispatch.Task{}, err
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeoutSeconds
	}
	workdir := req.Workdir
	if workdir == "" {
		workdir = s.cfg.DefaultWorkdir
	}

	history, err := s.logs.Tail(threadID, s.cfg.HistoryWindow)
	if err != nil {
		return dispatch.Task{}, fmt.Errorf("read thread history: %w", err)
	}
	prompt := composePrompt(threadID, history, req.Message)

	turn, err := s.logs.Append(threadID, thread.RoleCaller, req.Message)
	if err != nil {
		return dispatch.Task{}, fmt.Errorf("record caller turn: %w", err)
	}
	s.hub.BroadcastEvent(ctx, ws.EventThreadTurn, ws.ThreadTurnEvent{
		ThreadID: threadID,
		Turn:     turn,
		Role:     string(thread.RoleCaller),
	})

	// The watchdog is rooted in Background, not the request context:
	// closing the HTTP connection must not kill a dispatched task.
	watchdog, cancelWatchdog := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)

	cmd, err := backend.Command(watchdog, agentbackend.InvokeRequest{Prompt: prompt, Workdir: workdir})
	if err != nil {
		cancelWatchdog()
		return dispatch.Task{}, fmt.Errorf("build %s invocation: %w", backend.Name(), err)
	}

	// One buffer for both streams; exec serializes writes to a shared
	// writer, and it is only read after Wait returns.
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	// Each task gets its own process group so advisory and forceful kills
	// reach the agent's grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.CancelGrace

	h := &taskHandle{
		task: dispatch.Task{
			ID:             uuid.NewString(),
			ThreadID:       threadID,
			Agent:          backend.Name(),
			Status:         dispatch.StatusRunning,
			Workdir:        workdir,
			TimeoutSeconds: timeout,
			Callback:       req.Callback,
			StartedAt:      time.Now().UTC(),
		},
		cancelWatchdog: cancelWatchdog,
		done:           make(chan struct{}),
	}
	_, span := otel.StartDispatchSpan(ctx, h.task.ID, threadID, backend.Name())

	s.registry.insert(h)

	if err := cmd.Start(); err != nil {
		// The task record survives spawn failure so the caller can still
		// query what happened.
		now := time.Now().UTC()
		h.mu.Lock()
		h.task.Status = dispatch.StatusFailed
		h.task.Error = fmt.Sprintf("spawn %s: %v", backend.Name(), err)
		h.task.FinishedAt = &now
		h.task.DurationMs = now.Sub(h.task.StartedAt).Milliseconds()
		final := h.task
		h.mu.Unlock()

		cancelWatchdog()
		close(h.done)
		s.slots.Release(1)
		s.registry.complete(final.ID, final)
		go s.publish(final, span)
		return final, nil
	}

	slog.Info("task dispatched",
		"taskId", h.task.ID,
		"threadId", threadID,
		"agent", backend.Name(),
		"timeoutSeconds", timeout,
		"workdir", workdir,
	)

	go s.supervise(h, cmd, watchdog, &output, span)

	// Early-failure window: report a fast exit instead of "running" so
	// malformed invocations fail loudly, without blocking past the window.
	select {
	case <-h.done:
	case <-time.After(s.cfg.EarlyCheckDelay):
	}
	return h.snapshot(), nil
}

// supervise owns the subprocess from start to terminal state. It is the
// only goroutine that touches cmd after Start; everyone else communicates
// through the handle and its done channel.
func (s *DispatchService) supervise(h *taskHandle, cmd *exec.Cmd, watchdog context.Context, output *bytes.Buffer, span trace.Span) {
	defer h.cancelWatchdog()

	waitErr := cmd.Wait()

	snap := h.snapshot()
	text := strings.TrimSpace(output.String())
	if text != "" {
		if turn, err := s.logs.Append(snap.ThreadID, thread.RoleAgent, text); err != nil {
			slog.Error("append agent turn", "taskId", snap.ID, "threadId", snap.ThreadID, "error", err)
		} else {
			s.hub.BroadcastEvent(context.Background(), ws.EventThreadTurn, ws.ThreadTurnEvent{
				ThreadID: snap.ThreadID,
				Turn:     turn,
				Role:     string(thread.RoleAgent),
			})
		}
	}

	now := time.Now().UTC()

	h.mu.Lock()
	switch {
	case h.cancelRequested:
		h.task.Status = dispatch.StatusCanceled
		h.task.Error = "canceled by request"
	case errors.Is(watchdog.Err(), context.DeadlineExceeded):
		h.task.Status = dispatch.StatusTimedOut
		h.task.Error = fmt.Sprintf("timed out after %ds", h.task.TimeoutSeconds)
	case waitErr != nil:
		h.task.Status = dispatch.StatusFailed
		h.task.Error = waitErr.Error()
	default:
		h.task.Status = dispatch.StatusSucceeded
	}
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		h.task.ExitCode = &code
	}
	h.task.FinishedAt = &now
	h.task.DurationMs = now.Sub(h.task.StartedAt).Milliseconds()
	final := h.task
	h.mu.Unlock()

	s.slots.Release(1)
	close(h.done)
	s.registry.complete(final.ID, final)
	s.publish(final, span)
}

// publish reports a terminal task: structured log, best-effort callback,
// watcher broadcast, metrics, and span end. Nothing here can change the
// task's recorded state.
func (s *DispatchService) publish(final dispatch.Task, span trace.Span) {
	slog.Info("task finished",
		"taskId", final.ID,
		"threadId", final.ThreadID,
		"agent", final.Agent,
		"status", string(final.Status),
		"durationMs", final.DurationMs,
	)

	if final.Callback != "" && s.notify != nil {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		err := s.notify.Notify(ctx, final.Callback, notifier.Completion{
			TaskID:     final.ID,
			ThreadID:   final.ThreadID,
			Agent:      final.Agent,
			Status:     string(final.Status),
			ExitCode:   final.ExitCode,
			DurationMs: final.DurationMs,
			Error:      final.Error,
		})
		cancel()
		if err != nil {
			slog.Warn("completion callback failed", "taskId", final.ID, "target", final.Callback, "error", err)
			if s.metrics != nil {
				s.metrics.CallbackFailures.Add(context.Background(), 1)
			}
		}
	}

	s.hub.BroadcastEvent(context.Background(), ws.EventTaskStatus, ws.TaskStatusEvent{
		TaskID:     final.ID,
		ThreadID:   final.ThreadID,
		Agent:      final.Agent,
		Status:     string(final.Status),
		ExitCode:   final.ExitCode,
		DurationMs: final.DurationMs,
	})

	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("status", string(final.Status)))
		s.metrics.Tasks.Add(context.Background(), 1, attrs)
		s.metrics.TaskDuration.Record(context.Background(), float64(final.DurationMs)/1000, attrs)
	}

	span.SetAttributes(attribute.String("task.status", string(final.Status)))
	span.End()
}

// Cancel requests termination of a running task: advisory SIGTERM to the
// process group now, SIGKILL after the grace period. The terminal canceled
// state is recorded only once the process has actually exited, so this call
// returns a canceling snapshot. Cancel on a terminal task returns the
// existing snapshot with ErrAlreadyTerminal; repeating a cancel is harmless.
func (s *DispatchService) Cancel(ctx context.Context, taskID string) (dispatch.Task, error) {
	if h, ok := s.registry.lookup(taskID); ok {
		h.mu.Lock()
		if h.task.Status.IsTerminal() {
			final := h.task
			h.mu.Unlock()
			return final, domain.ErrAlreadyTerminal
		}
		first := !h.cancelRequested
		if first {
			h.cancelRequested = true
			h.task.Status = dispatch.StatusCanceling
		}
		snap := h.task
		h.mu.Unlock()

		h.cancelWatchdog()

		if first {
			slog.Info("task cancel requested", "taskId", taskID)
			s.hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
				TaskID:   snap.ID,
				ThreadID: snap.ThreadID,
				Agent:    snap.Agent,
				Status:   string(snap.Status),
			})
		}
		return snap, nil
	}

	if final, ok := s.registry.get(taskID); ok {
		return final, domain.ErrAlreadyTerminal
	}
	return dispatch.Task{}, fmt.Errorf("task %s: %w", taskID, domain.ErrTaskNotFound)
}

// Get returns a task snapshot from the active registry or, once terminal,
// the retention cache. Purged tasks report ErrTaskNotFound.
func (s *DispatchService) Get(taskID string) (dispatch.Task, error) {
	if t, ok := s.registry.get(taskID); ok {
		return t, nil
	}
	return dispatch.Task{}, fmt.Errorf("task %s: %w", taskID, domain.ErrTaskNotFound)
}

// ListActive returns snapshots of all running and canceling tasks.
func (s *DispatchService) ListActive() []dispatch.Task {
	return s.registry.listActive()
}

// Shutdown cancels every active task and waits for their supervisors to
// record terminal states, bounded by ctx.
func (s *DispatchService) Shutdown(ctx context.Context) error {
	handles := s.registry.handles()
	for _, h := range handles {
		h.mu.Lock()
		if !h.task.Status.IsTerminal() && !h.cancelRequested {
			h.cancelRequested = true
			h.task.Status = dispatch.StatusCanceling
		}
		h.mu.Unlock()
		h.cancelWatchdog()
	}

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// composePrompt folds the thread's recent turns into the subprocess input so
// separate agent runs on one thread carry conversational context.
func composePrompt(threadID string, history []thread.Entry, message string) string {
	if len(history) == 0 {
		return message
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[Thread %s - prior turns]\n", threadID)
	for _, e := range history {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	b.WriteString("\n[New request]\n")
	b.WriteString(message)
	return b.String()
}

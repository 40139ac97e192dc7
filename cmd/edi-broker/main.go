package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexus-ops/edi-broker/internal/adapter/callback"
	"github.com/nexus-ops/edi-broker/internal/adapter/gateway"
	edihttp "github.com/nexus-ops/edi-broker/internal/adapter/http"
	"github.com/nexus-ops/edi-broker/internal/adapter/otel"
	"github.com/nexus-ops/edi-broker/internal/adapter/ristretto"
	"github.com/nexus-ops/edi-broker/internal/adapter/ws"
	"github.com/nexus-ops/edi-broker/internal/config"
	"github.com/nexus-ops/edi-broker/internal/domain/thread"
	"github.com/nexus-ops/edi-broker/internal/logger"
	"github.com/nexus-ops/edi-broker/internal/resilience"
	"github.com/nexus-ops/edi-broker/internal/service"
	"github.com/nexus-ops/edi-broker/internal/threadlog"
)

// version is the broker protocol version reported by /health. It tracks the
// wire contract, not releases.
const version = "3"

// retainedTaskCap bounds how many terminal task snapshots stay queryable
// via GET /tasks/{taskId} within the retention window.
const retainedTaskCap = 4096

func main() {
	// Bootstrap logger for everything before the configured one exists.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) > 1 && os.Args[1] == "sign" {
		if err := runSign(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "sign: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLogs := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLogs.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"gateway", cfg.Gateway.URL,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Telemetry ---

	stopTelemetry, err := otel.Init(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	logs, err := threadlog.NewStore(cfg.Dispatch.ThreadDir)
	if err != nil {
		return fmt.Errorf("thread log store: %w", err)
	}
	slog.Info("thread log store ready", "dir", cfg.Dispatch.ThreadDir)

	retained, err := ristretto.NewRetention(retainedTaskCap, cfg.Dispatch.Retention)
	if err != nil {
		return fmt.Errorf("task retention: %w", err)
	}
	defer retained.Close()

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	gw := gateway.NewClient(cfg.Gateway)
	gw.SetBreaker(breaker)

	// --- Agent backends ---

	registerBackends()

	// --- Services ---

	hub := ws.NewHub()
	threads := thread.NewAllocator()
	bridge := service.NewBridgeService(cfg.Bridge, gw, threads, metrics)
	dispatcher := service.NewDispatchService(
		cfg.Dispatch, cfg.Agents, threads, logs, retained,
		callback.NewNotifier(), hub, metrics,
	)
	webhooks := service.NewWebhookService(bridge)

	// --- HTTP ---

	handlers := &edihttp.Handlers{
		Bridge:     bridge,
		Dispatcher: dispatcher,
		Webhooks:   webhooks,
		Logs:       logs,
		Breaker:    breaker,
		Version:    version,
	}

	secret := cfg.Auth.ResolveSecret()
	r := edihttp.NewRouter(handlers, hub, secret, cfg.Webhook)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
		// No write timeout: /ask holds its response open for the full
		// caller-chosen deadline. Slow clients are bounded by the header
		// and idle timeouts instead.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "auth_enabled", len(secret) > 0)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	case <-done:
	}

	slog.Info("shutting down server")

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}

	// Running agent processes are canceled and their terminal states
	// recorded before the log handler flushes.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDrain()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		slog.Warn("dispatcher shutdown", "error", err)
	}

	return nil
}

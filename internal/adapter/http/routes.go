package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nexus-ops/edi-broker/internal/adapter/otel"
	"github.com/nexus-ops/edi-broker/internal/adapter/ws"
	"github.com/nexus-ops/edi-broker/internal/config"
	"github.com/nexus-ops/edi-broker/internal/middleware"
)

// NewRouter builds the chi router with the broker's middleware chain and all
// routes mounted. The /ask and /dispatch mutations sit behind the shared-secret
// HMAC guard; /github-webhook carries its own GitHub HMAC scheme.
//
// No per-route timeout is applied: /ask legitimately blocks for the full
// bridge deadline, and everything else returns promptly by construction.
// Slow clients are bounded by the server's header and idle timeouts.
func NewRouter(h *Handlers, hub *ws.Hub, secret []byte, webhookCfg config.Webhook) chi.Router {
	log := slog.Default()

	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware("edi-broker"))

	// Signed mutations
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSignature(secret, log))
		r.Post("/ask", h.Ask)
		r.Post("/dispatch", h.Dispatch)
	})

	// Task and thread reads, cancellation
	r.Get("/tasks", h.ListTasks)
	r.Get("/tasks/{taskId}", h.GetTask)
	r.Post("/tasks/{taskId}/cancel", h.CancelTask)
	r.Get("/thread/{threadId}", h.GetThread)

	// Webhook intake (GitHub HMAC, independent of the X-EDI scheme)
	r.With(middleware.GitHubSignature(webhookCfg.GitHubSecret, log)).
		Post("/github-webhook", h.HandleGitHubWebhook)

	r.Get("/health", h.Health)
	r.Get("/ws", hub.HandleWS)

	return r
}

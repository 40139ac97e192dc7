package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexus-ops/edi-broker/internal/domain"
)

// bodyLimit caps inbound request bodies.
const bodyLimit = 1 << 20

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body", "")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	ThreadID string `json:"threadId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError emits the failure envelope. threadID is set when the request
// resolved a thread before failing, so the caller can retry the same thread
// as a continuation.
func writeError(w http.ResponseWriter, status int, message, threadID string) {
	writeJSON(w, status, errorResponse{Error: message, ThreadID: threadID})
}

// writeDomainError maps domain sentinel errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error, threadID string) {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidThreadID),
		errors.Is(err, domain.ErrUnknownAgent):
		writeError(w, http.StatusBadRequest, err.Error(), threadID)
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error(), threadID)
	case errors.Is(err, domain.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error(), threadID)
	case errors.Is(err, domain.ErrBusy):
		writeError(w, http.StatusTooManyRequests, err.Error(), threadID)
	case errors.Is(err, domain.ErrUpstream), errors.Is(err, domain.ErrAgent):
		writeError(w, http.StatusBadGateway, err.Error(), threadID)
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error(), threadID)
	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", threadID)
	}
}

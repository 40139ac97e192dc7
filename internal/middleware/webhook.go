package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderGitHubSignature carries the GitHub webhook HMAC, "sha256=<hex>".
const HeaderGitHubSignature = "X-Hub-Signature-256"

// GitHubSignature returns middleware that validates GitHub webhook
// deliveries. The HMAC-SHA256 is computed over the raw request body with
// the webhook secret; this scheme is independent of the X-EDI headers and
// does no canonicalization. Unlike RequireSignature, an unset secret
// rejects deliveries rather than letting them through: webhooks are only
// mounted when the deployment opted in.
func GitHubSignature(secret string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeAuthError(w, http.StatusServiceUnavailable, "webhook secret not configured")
				return
			}

			sig := r.Header.Get(HeaderGitHubSignature)
			if sig == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing webhook signature")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeAuthError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifyGitHubHMAC(body, sig, secret) {
				log.Warn("webhook signature rejected", "path", r.URL.Path)
				writeAuthError(w, http.StatusForbidden, "invalid webhook signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// verifyGitHubHMAC checks a GitHub-style signature. The "sha256=" prefix
// is required; a bare hex digest is rejected.
func verifyGitHubHMAC(payload []byte, signature, secret string) bool {
	sig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sigBytes, mac.Sum(nil))
}

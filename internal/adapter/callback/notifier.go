// Package callback implements a notifier.Notifier that POSTs task
// completion notices to a caller-supplied webhook URL.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexus-ops/edi-broker/internal/port/notifier"
)

const providerName = "webhook"

// Notifier delivers completion notices over HTTP. The target URL comes
// from the dispatch request, not from configuration.
type Notifier struct {
	httpClient *http.Client
}

// NewNotifier creates a webhook notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns "webhook".
func (n *Notifier) Name() string { return providerName }

// Notify POSTs the completion as JSON to the target URL.
func (n *Notifier) Notify(ctx context.Context, target string, c notifier.Completion) error {
	if target == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("callback marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("callback target %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

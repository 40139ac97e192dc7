// Package broadcast defines the port for streaming broker events to
// connected watchers.
package broadcast

import "context"

// Broadcaster fans a typed event out to all connected watchers. Delivery
// is fire-and-forget; implementations must not block task supervision on
// slow or dead clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected watchers.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Package cache defines the port interface for terminal task retention.
package cache

import "github.com/nexus-ops/edi-broker/internal/domain/dispatch"

// TaskRetention holds snapshots of terminal tasks for a bounded window so
// late status queries and idempotent cancels can still resolve them. A
// miss after the window elapses is expected, not an error.
type TaskRetention interface {
	// Put stores a terminal task snapshot. The snapshot must be
	// immediately visible to Get.
	Put(t dispatch.Task)

	// Get returns a retained snapshot by task ID.
	Get(taskID string) (dispatch.Task, bool)

	// Close releases retention resources.
	Close()
}

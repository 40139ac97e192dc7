// Package ristretto implements the task retention port using
// dgraph-io/ristretto as an in-process TTL cache.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/nexus-ops/edi-broker/internal/domain/dispatch"
)

// Retention keeps terminal task snapshots until the retention window
// elapses. Ristretto evicts expired entries on its own; there is no
// janitor to run.
type Retention struct {
	c   *ristretto.Cache[string, dispatch.Task]
	ttl time.Duration
}

// NewRetention creates a retention cache sized for maxTasks snapshots,
// each kept for the given window.
func NewRetention(maxTasks int64, window time.Duration) (*Retention, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, dispatch.Task]{
		NumCounters: maxTasks * 10, // ~10x expected items
		MaxCost:     maxTasks,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Retention{c: c, ttl: window}, nil
}

// Put stores a terminal task snapshot. Wait makes the entry visible
// before returning so an immediate follow-up Get resolves it.
func (r *Retention) Put(t dispatch.Task) {
	r.c.SetWithTTL(t.ID, t, 1, r.ttl)
	r.c.Wait()
}

// Get returns a retained snapshot by task ID.
func (r *Retention) Get(taskID string) (dispatch.Task, bool) {
	return r.c.Get(taskID)
}

// Close shuts down the cache and releases resources.
func (r *Retention) Close() {
	r.c.Close()
}

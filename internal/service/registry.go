package service

import (
	"context"
	"sort"
	"sync"

	"github.com/nexus-ops/edi-broker/internal/domain/dispatch"
	"github.com/nexus-ops/edi-broker/internal/port/cache"
)

// taskHandle is the registry's live record for one dispatched task. It owns
// the mutable task state; the subprocess itself belongs to the supervisor
// goroutine and is reached only through cancelWatchdog.
type taskHandle struct {
	mu   sync.Mutex
	task dispatch.Task

	// cancelWatchdog tears down the subprocess context, which signals the
	// process group. Safe to call more than once.
	cancelWatchdog context.CancelFunc

	// cancelRequested marks an explicit cancel so the supervisor classifies
	// the exit as canceled rather than failed or timed out.
	cancelRequested bool

	// done is closed by the supervisor once the terminal state is recorded.
	done chan struct{}
}

// snapshot returns a copy of the task that is safe to hand outside the
// registry.
func (h *taskHandle) snapshot() dispatch.Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task
}

// taskRegistry tracks active tasks and hands terminal ones to the retention
// cache. Listing holds the registry lock and takes each handle's lock in
// turn, so it observes a consistent point-in-time view; mutators never hold
// a handle lock while taking the registry lock.
type taskRegistry struct {
	mu       sync.Mutex
	active   map[string]*taskHandle
	retained cache.TaskRetention
}

func newTaskRegistry(retained cache.TaskRetention) *taskRegistry {
	return &taskRegistry{
		active:   make(map[string]*taskHandle),
		retained: retained,
	}
}

func (r *taskRegistry) insert(h *taskHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[h.task.ID] = h
}

// lookup returns the live handle for id, if the task is still active.
func (r *taskRegistry) lookup(id string) (*taskHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.active[id]
	return h, ok
}

// get returns a snapshot of an active or retained task.
func (r *taskRegistry) get(id string) (dispatch.Task, bool) {
	if h, ok := r.lookup(id); ok {
		return h.snapshot(), true
	}
	return r.retained.Get(id)
}

// listActive returns snapshots of all non-terminal tasks ordered by start
// time, task ID breaking ties.
func (r *taskRegistry) listActive() []dispatch.Task {
	r.mu.Lock()
	tasks := make([]dispatch.Task, 0, len(r.active))
	for _, h := range r.active {
		t := h.snapshot()
		if t.Status.IsTerminal() {
			continue
		}
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].StartedAt.Equal(tasks[j].StartedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].StartedAt.Before(tasks[j].StartedAt)
	})
	return tasks
}

// complete removes the task from the active set and retains its terminal
// snapshot for later queries.
func (r *taskRegistry) complete(id string, final dispatch.Task) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
	r.retained.Put(final)
}

// handles returns the current active handles, for shutdown fan-out.
func (r *taskRegistry) handles() []*taskHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*taskHandle, 0, len(r.active))
	for _, h := range r.active {
		out = append(out, h)
	}
	return out
}

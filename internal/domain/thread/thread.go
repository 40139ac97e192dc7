// Package thread defines thread identity: opaque thread IDs, their derived
// remote session keys, and the per-thread conversation log entry.
package thread

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-ops/edi-broker/internal/domain"
)

// sessionKeyPrefix namespaces this broker's sessions on the remote gateway.
const sessionKeyPrefix = "edi:"

// idPattern is the shape check applied to caller-supplied thread IDs.
// Generated IDs are 8 hex chars, but continuations may carry IDs minted by
// earlier deployments, so the check is deliberately loose.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Role identifies the author of a log entry.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// Entry is one persisted turn in a thread's conversation log.
type Entry struct {
	Turn      int       `json:"turn"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewID produces a short opaque thread identifier: the first 8 characters
// of a UUIDv4, lowercase hex.
func NewID() string {
	return uuid.New().String()[:8]
}

// Validate applies the basic shape check to a thread identifier.
func Validate(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("thread id %q: %w", id, domain.ErrInvalidThreadID)
	}
	return nil
}

// SessionKey derives the remote agent session key for a thread.
// The mapping is deterministic and stable for the thread's lifetime.
func SessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Allocator hands out thread IDs and tracks the ones live in this process.
// The set is not persisted: collisions with threads from earlier runs are
// acceptable because thread identity is really owned by the remote session
// store. Allocation never performs I/O.
type Allocator struct {
	mu   sync.Mutex
	live map[string]struct{}
}

func NewAllocator() *Allocator {
	return &Allocator{live: make(map[string]struct{})}
}

// Allocate returns a fresh thread ID not currently tracked, re-rolling on
// collision with an in-flight ID.
func (a *Allocator) Allocate() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for range 8 {
		id := NewID()
		if _, taken := a.live[id]; taken {
			continue
		}
		a.live[id] = struct{}{}
		return id, nil
	}
	return "", fmt.Errorf("thread id space exhausted after retries: %w", domain.ErrValidation)
}

// Resolve maps an optional caller-supplied thread ID to a concrete one.
// An empty input allocates a new thread; a non-empty input is shape-checked
// and tracked. isNew reports whether the thread was allocated by this call.
func (a *Allocator) Resolve(id string) (resolved string, isNew bool, err error) {
	if id == "" {
		resolved, err = a.Allocate()
		return resolved, true, err
	}
	if err := Validate(id); err != nil {
		return "", false, err
	}
	a.mu.Lock()
	a.live[id] = struct{}{}
	a.mu.Unlock()
	return id, false, nil
}

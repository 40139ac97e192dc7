// Package threadlog persists per-thread conversation history as append-only
// JSONL files, one file per thread, keyed by thread ID.
package threadlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nexus-ops/edi-broker/internal/domain/thread"
)

// scanBufSize bounds a single log line; agent outputs can be large.
const scanBufSize = 4 * 1024 * 1024

// Store appends and reads per-thread conversation logs. Appends to one
// thread are serialized by a per-thread lock; readers never take that lock
// and instead tolerate a concurrently written trailing partial line by
// returning only the consistent prefix.
type Store struct {
	dir string

	mu      sync.Mutex
	threads map[string]*threadState
}

type threadState struct {
	mu       sync.Mutex
	nextTurn int // 0 until the existing file has been scanned
}

// NewStore creates the log directory if needed and returns a Store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thread log dir: %w", err)
	}
	return &Store{dir: dir, threads: make(map[string]*threadState)}, nil
}

// Append writes one entry to the thread's log and returns its turn number.
// Turn numbers are per-thread monotonic starting at 1, with no gaps: the
// number is only advanced after the line has been fully written.
func (s *Store) Append(threadID string, role thread.Role, content string) (int, error) {
	if err := thread.Validate(threadID); err != nil {
		return 0, err
	}

	st := s.state(threadID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.nextTurn == 0 {
		last, err := s.lastTurn(threadID)
		if err != nil {
			return 0, err
		}
		st.nextTurn = last + 1
	}

	entry := thread.Entry{
		Turn:      st.nextTurn,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encode log entry: %w", err)
	}

	f, err := os.OpenFile(s.path(threadID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open thread log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("append thread log: %w", err)
	}

	st.nextTurn++
	return entry.Turn, nil
}

// ReadAll returns the thread's entries in turn order. An unknown thread
// returns an empty slice: a thread with no dispatch history is a valid,
// queryable state.
func (s *Store) ReadAll(threadID string) ([]thread.Entry, error) {
	if err := thread.Validate(threadID); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(threadID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []thread.Entry{}, nil
		}
		return nil, fmt.Errorf("open thread log: %w", err)
	}
	defer f.Close()

	entries := []thread.Entry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), scanBufSize)
	for sc.Scan() {
		var e thread.Entry
		// Skip partial or malformed lines; a writer may be mid-append.
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan thread log: %w", err)
	}
	return entries, nil
}

// Tail returns the most recent n entries of the thread, oldest first.
func (s *Store) Tail(threadID string, n int) ([]thread.Entry, error) {
	entries, err := s.ReadAll(threadID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func (s *Store) state(threadID string) *threadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.threads[threadID]
	if !ok {
		st = &threadState{}
		s.threads[threadID] = st
	}
	return st
}

func (s *Store) lastTurn(threadID string) (int, error) {
	entries, err := s.ReadAll(threadID)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].Turn, nil
}

func (s *Store) path(threadID string) string {
	return filepath.Join(s.dir, threadID+".jsonl")
}

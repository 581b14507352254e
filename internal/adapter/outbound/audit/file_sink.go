// Package audit provides audit sinks: an append-only JSON Lines file with a
// recent-events cache, and an in-memory sink for benchmarks and tests.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/agent-gate/agentgate/internal/domain/audit"
)

// defaultCacheSize is the number of recent events kept in memory.
const defaultCacheSize = 1000

// FileSink appends events to a JSONL file. Writes are serialized under a
// mutex; a failed write is reported through the logger and returned, never
// silently dropped.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	cache  *ring
	logger *slog.Logger
	closed bool
}

// NewFileSink opens (or creates) the audit log at path, creating parent
// directories with restricted permissions.
func NewFileSink(path string, logger *slog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileSink{
		file:   f,
		cache:  newRing(defaultCacheSize),
		logger: logger,
	}, nil
}

// Emit appends one event as a JSON line.
func (s *FileSink) Emit(_ context.Context, event audit.Event) error {
	event.Stamp()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit sink closed")
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		s.logger.Error("audit write failed", "error", err, "request_id", event.RequestID)
		return fmt.Errorf("write audit event: %w", err)
	}
	s.cache.add(event)
	return nil
}

// Recent returns up to n most recent events, newest last.
func (s *FileSink) Recent(n int) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.recent(n)
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("sync audit file: %w", err)
	}
	return s.file.Close()
}

// ring is a fixed-size buffer of the most recent events.
type ring struct {
	events []audit.Event
	next   int
	full   bool
}

func newRing(size int) *ring {
	return &ring{events: make([]audit.Event, size)}
}

func (r *ring) add(e audit.Event) {
	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) recent(n int) []audit.Event {
	size := r.next
	if r.full {
		size = len(r.events)
	}
	if n > size {
		n = size
	}
	out := make([]audit.Event, 0, n)
	for i := size - n; i < size; i++ {
		idx := i
		if r.full {
			idx = (r.next + i) % len(r.events)
		}
		out = append(out, r.events[idx])
	}
	return out
}

// MemorySink collects events in memory. The benchmark runner uses it to score
// runs without touching the filesystem.
type MemorySink struct {
	mu     sync.Mutex
	events []audit.Event
}

// NewMemorySink builds an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit records the event.
func (s *MemorySink) Emit(_ context.Context, event audit.Event) error {
	event.Stamp()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of every recorded event.
func (s *MemorySink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

// Close is a no-op.
func (s *MemorySink) Close() error { return nil }

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/agent-gate/agentgate/internal/domain/audit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFileSink_AppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	sink, err := NewFileSink(path, testLogger())
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := sink.Emit(ctx, audit.Event{
			RequestID: fmt.Sprintf("req-%d", i),
			Tool:      "search_docs",
			ToolName:  "search_docs",
			Decision:  "allowed",
			Reason:    "policy_allows",
		})
		if err != nil {
			t.Fatalf("Emit() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e audit.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		if e.TS == 0 {
			t.Errorf("line %d missing timestamp", lines)
		}
		if e.RequestID != fmt.Sprintf("req-%d", lines) {
			t.Errorf("line %d request_id = %q", lines, e.RequestID)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("audit log has %d lines, want 3", lines)
	}
}

func TestFileSink_Recent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path, testLogger())
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		sink.Emit(ctx, audit.Event{RequestID: fmt.Sprintf("req-%d", i)})
	}

	recent := sink.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d events", len(recent))
	}
	if recent[0].RequestID != "req-3" || recent[1].RequestID != "req-4" {
		t.Errorf("Recent(2) = %q, %q", recent[0].RequestID, recent[1].RequestID)
	}
}

func TestFileSink_EmitAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path, testLogger())
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	sink.Close()

	if err := sink.Emit(context.Background(), audit.Event{}); err == nil {
		t.Error("Emit() after Close() should fail")
	}
}

func TestRing_WrapAround(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.add(audit.Event{Step: i})
	}
	got := r.recent(3)
	if len(got) != 3 {
		t.Fatalf("recent(3) = %d events", len(got))
	}
	for i, e := range got {
		if e.Step != i+2 {
			t.Errorf("event %d step = %d, want %d", i, e.Step, i+2)
		}
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	sink.Emit(ctx, audit.Event{RequestID: "a"})
	sink.Emit(ctx, audit.Event{RequestID: "b"})

	events := sink.Events()
	if len(events) != 2 || events[0].RequestID != "a" || events[1].RequestID != "b" {
		t.Errorf("Events() = %+v", events)
	}
}

package eventlog

import (
	"os"
	"testing"
)

func TestAppendAndRead(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, "f1")
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Append("gate", "coder_no_files_generated", map[string]any{"issue": 1}); err != nil {
		t.Fatal(err)
	}
	if err := l.Append("recovery", "retry_level_1", nil); err != nil {
		t.Fatal(err)
	}

	events, err := l.Read()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != "coder_no_files_generated" {
		t.Errorf("unexpected first event kind: %s", events[0].Kind)
	}
}

func TestReadToleratesTruncatedTrailingLine(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, "f2")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append("gate", "ok", nil); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"timestamp":"2026-01-01T00:00:00Z","actor":"x","kind":"partial`)
	f.Close()

	events, err := l.Read()
	if err != nil {
		t.Fatalf("expected truncated trailing line to be tolerated, got error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected only the complete event, got %d", len(events))
	}
}

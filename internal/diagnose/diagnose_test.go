package diagnose

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/episodes"
	"github.com/devforge/kernel/internal/eventlog"
)

func TestRenderEntityLogIncludesEveryEvent(t *testing.T) {
	root := t.TempDir()
	log, err := eventlog.Open(root, "feat-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append("gate", "complexity_evaluated", map[string]any{"tier": "split"}); err != nil {
		t.Fatal(err)
	}
	if err := log.Append("coder", "dispatch_failed", nil); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	r := New(&buf, 1)
	if err := r.RenderEntityLog(root, "feat-1"); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "complexity_evaluated") || !strings.Contains(out, "dispatch_failed") {
		t.Fatalf("expected both events in output, got: %s", out)
	}
	if !strings.Contains(out, "tier") {
		t.Fatalf("expected verbose payload rendered, got: %s", out)
	}
}

func TestRenderEpisodeTraceSumsCost(t *testing.T) {
	root := t.TempDir()
	store, err := episodes.Open(root, "feat-2", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(context.Background(), entities.Episode{Goal: "implement issue 1", CostUSD: 2.5, Outcome: entities.EpisodeOutcome{Success: true}}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(context.Background(), entities.Episode{Goal: "implement issue 2", CostUSD: 1.5, Outcome: entities.EpisodeOutcome{Success: false, Error: "timeout"}}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	r := New(&buf, 1)
	if err := r.RenderEpisodeTrace(root, "feat-2"); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "$4.00") {
		t.Fatalf("expected total cost $4.00 in output, got: %s", out)
	}
	if !strings.Contains(out, "timeout") {
		t.Fatalf("expected failed episode error rendered, got: %s", out)
	}
}

func TestMergedTimelineOrdersByTimestamp(t *testing.T) {
	root := t.TempDir()
	log, err := eventlog.Open(root, "feat-3")
	if err != nil {
		t.Fatal(err)
	}
	if err := log.Append("gate", "complexity_evaluated", nil); err != nil {
		t.Fatal(err)
	}
	store, err := episodes.Open(root, "feat-3", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(context.Background(), entities.Episode{Goal: "implement issue 1", Outcome: entities.EpisodeOutcome{Success: true}}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	r := New(&buf, 0)
	if err := r.MergedTimeline(root, "feat-3"); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "complexity_evaluated") || !strings.Contains(out, "implement issue 1") {
		t.Fatalf("expected both event and episode in merged timeline, got: %s", out)
	}
}

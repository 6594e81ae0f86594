// Package eventlog provides an append-only JSONL audit trail per feature and
// per bug. It is diagnostic only: correctness of the kernel's invariants
// never depends on the event log, only on the state store.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one entry in an entity's audit trail.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"` // component name
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// maxLogBytes is the rotation threshold: once a log file reaches this size,
// the next append rotates it to a numbered backup and starts a fresh file.
const maxLogBytes = 8 * 1024 * 1024

// Log is an append-only JSONL writer/reader for a single entity's events,
// bound to one file under the store's events/ directory.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a Log bound to <root>/events/<entityID>.jsonl, creating the
// events directory if needed.
func Open(root, entityID string) (*Log, error) {
	dir := filepath.Join(root, "events")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create dir: %w", err)
	}
	return &Log{path: filepath.Join(dir, entityID+".jsonl")}, nil
}

// Append writes one event, rotating the file first if it has grown past
// maxLogBytes.
func (l *Log) Append(actor, kind string, payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	evt := Event{Timestamp: time.Now(), Actor: actor, Kind: kind, Payload: payload}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("eventlog: marshal: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("eventlog: write: %w", err)
	}
	return nil
}

func (l *Log) rotateIfNeeded() error {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil // does not exist yet; nothing to rotate
	}
	if info.Size() < maxLogBytes {
		return nil
	}
	n := 1
	for {
		candidate := fmt.Sprintf("%s.%d", l.path, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return os.Rename(l.path, candidate)
		}
		n++
	}
}

// Read returns every event currently in the log, tolerating a truncated
// trailing line (the writer may have been interrupted mid-append).
func (l *Log) Read() ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	defer f.Close()

	var events []Event
	reader := bufio.NewReader(f)
	for {
		line, rerr := reader.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var evt Event
			if uerr := json.Unmarshal(trimmed, &evt); uerr == nil {
				events = append(events, evt)
			}
			// A line that fails to unmarshal is a truncated trailing write;
			// skip it rather than failing the whole read.
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return events, fmt.Errorf("eventlog: read: %w", rerr)
		}
	}
	return events, nil
}

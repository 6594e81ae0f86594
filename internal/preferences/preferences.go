// Package preferences implements the preference learner (§4.8): an
// append-only signal stream of approve/reject decisions keyed by trigger,
// with bounded weight updates and similar-decision retrieval used by the
// checkpoint system's recommendation step.
package preferences

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/devforge/kernel/internal/entities"
)

// Signal is one recorded human decision.
type Signal struct {
	Trigger   entities.Trigger `json:"trigger"`
	Approved  bool             `json:"approved"`
	Timestamp time.Time        `json:"timestamp"`
	Context   string           `json:"context,omitempty"`
}

// minSignalsForWeightUpdate is the ≥10-signals floor below which no weight
// update may occur for a given trigger (§4.8).
const minSignalsForWeightUpdate = 10

// maxWeightChangePerWindow bounds any single weight adjustment to ±20%.
const maxWeightChangePerWindow = 0.20

// Learner owns the signal stream at <root>/preferences/signals.jsonl.
type Learner struct {
	mu   sync.Mutex
	path string
}

// Open binds a Learner to <root>/preferences/signals.jsonl.
func Open(root string) (*Learner, error) {
	dir := filepath.Join(root, "preferences")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("preferences: create dir: %w", err)
	}
	return &Learner{path: filepath.Join(dir, "signals.jsonl")}, nil
}

// Record appends one signal.
func (l *Learner) Record(sig Signal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("preferences: marshal: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("preferences: open: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func (l *Learner) readAll() ([]Signal, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("preferences: open: %w", err)
	}
	defer f.Close()

	var out []Signal
	reader := bufio.NewReader(f)
	for {
		line, rerr := reader.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var sig Signal
			if uerr := json.Unmarshal(trimmed, &sig); uerr == nil {
				out = append(out, sig)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return out, fmt.Errorf("preferences: read: %w", rerr)
		}
	}
	return out, nil
}

// ApprovalRate implements checkpoint.PreferenceSource: the fraction of
// recorded signals for trigger that were approved, and the total signal
// count backing that rate.
func (l *Learner) ApprovalRate(ctx context.Context, trigger entities.Trigger) (float64, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	signals, err := l.readAll()
	if err != nil {
		return 0, 0, err
	}
	var approved, total int
	for _, s := range signals {
		if s.Trigger != trigger {
			continue
		}
		total++
		if s.Approved {
			approved++
		}
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(approved) / float64(total), total, nil
}

// SimilarDecisions implements checkpoint.PreferenceSource: a naive
// substring-overlap ranking over recorded contexts. Unlike episode
// memory's cosine retrieval, the preference stream has no embedding —
// its signal is the trigger and approve/reject outcome, not free text, so
// a cheap lexical match is the proportionate tool here.
func (l *Learner) SimilarDecisions(ctx context.Context, query string, k int) ([]entities.SimilarDecision, error) {
	l.mu.Lock()
	signals, err := l.readAll()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	queryWords := strings.Fields(strings.ToLower(query))
	type scored struct {
		sig   Signal
		score float32
	}
	var candidates []scored
	for _, s := range signals {
		if s.Context == "" {
			continue
		}
		score := overlapScore(queryWords, strings.ToLower(s.Context))
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scored{sig: s, score: score})
	}
	// stable insertion-sort by score descending; preference history is
	// typically small enough that this never needs to be clever.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].score > candidates[j-1].score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if k > 0 && k < len(candidates) {
		candidates = candidates[:k]
	}

	out := make([]entities.SimilarDecision, 0, len(candidates))
	for _, c := range candidates {
		choice := "rejected"
		if c.sig.Approved {
			choice = "approved"
		}
		out = append(out, entities.SimilarDecision{
			Description: c.sig.Context,
			Choice:      choice,
			Similarity:  c.score,
		})
	}
	return out, nil
}

func overlapScore(queryWords []string, context string) float32 {
	if len(queryWords) == 0 {
		return 0
	}
	var hits int
	for _, w := range queryWords {
		if len(w) < 3 {
			continue
		}
		if strings.Contains(context, w) {
			hits++
		}
	}
	return float32(hits) / float32(len(queryWords))
}

// WeightUpdate is a proposed adjustment to a trigger's scoring weight,
// bounded and logged with its rationale.
type WeightUpdate struct {
	Trigger       entities.Trigger
	PreviousWeight float64
	ProposedWeight float64
	AppliedWeight  float64
	SignalCount    int
	Rationale      string
	Applied        bool
}

// ProposeWeightUpdate computes a bounded weight change for trigger given
// its recorded approval rate, refusing to apply anything when fewer than
// minSignalsForWeightUpdate signals exist.
func (l *Learner) ProposeWeightUpdate(ctx context.Context, trigger entities.Trigger, currentWeight float64) (WeightUpdate, error) {
	rate, count, err := l.ApprovalRate(ctx, trigger)
	if err != nil {
		return WeightUpdate{}, err
	}
	if count < minSignalsForWeightUpdate {
		return WeightUpdate{
			Trigger:        trigger,
			PreviousWeight: currentWeight,
			AppliedWeight:  currentWeight,
			SignalCount:    count,
			Rationale:      fmt.Sprintf("only %d signals recorded, need >= %d", count, minSignalsForWeightUpdate),
			Applied:        false,
		}, nil
	}

	// A higher approval rate nudges the weight down (humans rarely object,
	// so the checkpoint threshold for this trigger can relax); a lower
	// rate nudges it up.
	delta := (0.5 - rate) * 2 * maxWeightChangePerWindow
	if delta > maxWeightChangePerWindow {
		delta = maxWeightChangePerWindow
	}
	if delta < -maxWeightChangePerWindow {
		delta = -maxWeightChangePerWindow
	}
	proposed := currentWeight * (1 + delta)

	return WeightUpdate{
		Trigger:        trigger,
		PreviousWeight: currentWeight,
		ProposedWeight: proposed,
		AppliedWeight:  proposed,
		SignalCount:    count,
		Rationale:      fmt.Sprintf("approval rate %.2f over %d signals, capped delta %.2f", rate, count, delta),
		Applied:        true,
	}, nil
}

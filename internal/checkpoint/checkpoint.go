// Package checkpoint detects when a human decision is required, composes
// the question presented to them, persists the checkpoint, and on
// resolution feeds the answer back into subsequent agent prompts (§4.6).
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/store"
)

var ErrNotFound = errors.New("checkpoint: not found")
var ErrAlreadyResolved = errors.New("checkpoint: already resolved")

// PreferenceSource supplies the approval-rate and similar-decision lookups
// the preference learner owns (§4.8); implemented by internal/preferences.
type PreferenceSource interface {
	SimilarDecisions(ctx context.Context, query string, k int) ([]entities.SimilarDecision, error)
	ApprovalRate(ctx context.Context, trigger entities.Trigger) (rate float64, signals int, err error)
}

// EpisodeSource supplies similar-episode retrieval for the "similar past
// decisions" section of a composed question (§4.7).
type EpisodeSource interface {
	SimilarEpisodes(ctx context.Context, query string, k int) ([]entities.SimilarDecision, error)
}

// Manager creates, persists, and resolves checkpoints.
type Manager struct {
	repo  *store.Repo
	prefs PreferenceSource
	eps   EpisodeSource
	idGen func() string
}

func New(repo *store.Repo, prefs PreferenceSource, eps EpisodeSource, idGen func() string) *Manager {
	return &Manager{repo: repo, prefs: prefs, eps: eps, idGen: idGen}
}

// QuestionInput is everything the caller knows about the decision point;
// Manager composes it into the well-formed question format of §4.6.3.
type QuestionInput struct {
	Trigger       entities.Trigger
	OtherTriggers []entities.Trigger
	ProgressSnapshot string
	Risk          entities.RiskAssessment
	Question      string
	Options       []entities.Option
	SessionID     string
}

// Create composes and persists a new pending checkpoint, retrieving
// similar past decisions from both the preference learner and episode
// store.
func (m *Manager) Create(ctx context.Context, in QuestionInput) (*entities.Checkpoint, error) {
	contextText := composeContext(in)

	var similar []entities.SimilarDecision
	if m.prefs != nil {
		if sd, err := m.prefs.SimilarDecisions(ctx, in.Question, 5); err == nil {
			similar = append(similar, sd...)
		}
	}
	if m.eps != nil {
		if sd, err := m.eps.SimilarEpisodes(ctx, in.Question, 5); err == nil {
			similar = append(similar, sd...)
		}
	}

	options := ensureRecommendation(in.Options)

	cp := &entities.Checkpoint{
		CheckpointID:     m.idGen(),
		Trigger:          in.Trigger,
		OtherTriggers:    in.OtherTriggers,
		Context:          contextText,
		Question:         in.Question,
		Options:          options,
		SimilarDecisions: similar,
		Status:           entities.CheckpointPending,
		CreatedAt:        time.Now(),
		SessionID:        in.SessionID,
		RiskAssessment:   &in.Risk,
	}
	if err := m.repo.SaveCheckpoint(cp); err != nil {
		return nil, fmt.Errorf("checkpoint: create: %w", err)
	}
	return cp, nil
}

func composeContext(in QuestionInput) string {
	return fmt.Sprintf(
		"progress: %s\nrisk: cost_impact=%.2f scope=%.2f reversibility=%.2f confidence=%.2f precedent=%.2f (score=%.2f, %s)\nother_triggers=%v",
		in.ProgressSnapshot,
		in.Risk.CostImpact, in.Risk.Scope, in.Risk.Reversibility, in.Risk.Confidence, in.Risk.Precedent,
		in.Risk.Score, in.Risk.Recommendation, in.OtherTriggers,
	)
}

// ensureRecommendation guarantees exactly one option is flagged
// recommended, defaulting to the first if the caller did not mark one.
func ensureRecommendation(options []entities.Option) []entities.Option {
	for _, o := range options {
		if o.IsRecommended {
			return options
		}
	}
	if len(options) > 0 {
		options[0].IsRecommended = true
	}
	return options
}

// Resolution is the human decision fed back to Resolve.
type Resolution struct {
	OptionID string
	Notes    string
}

// Resolve records the chosen option and moves the checkpoint to a terminal
// status. It is idempotent: resolving an already-resolved checkpoint with
// the same option id is a no-op that returns the stored checkpoint
// unchanged (§8 law: resolve applied twice is equivalent to applying it
// once).
func (m *Manager) Resolve(ctx context.Context, checkpointID string, res Resolution) (*entities.Checkpoint, error) {
	cp, err := m.repo.LoadCheckpoint(checkpointID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: resolve: %w", err)
	}
	if cp == nil {
		return nil, ErrNotFound
	}
	if cp.Status != entities.CheckpointPending {
		if cp.ResolvedOption == res.OptionID {
			return cp, nil
		}
		return nil, ErrAlreadyResolved
	}

	now := time.Now()
	cp.Status = entities.CheckpointApproved
	cp.ResolvedAt = &now
	cp.ResolvedOption = res.OptionID
	cp.ResolutionNotes = res.Notes

	if err := m.repo.SaveCheckpoint(cp); err != nil {
		return nil, fmt.Errorf("checkpoint: resolve: save: %w", err)
	}
	return cp, nil
}

// ListPending proxies to the repo for the approval surface's list_pending
// operation (§6).
func (m *Manager) ListPending() ([]entities.Checkpoint, error) {
	return m.repo.ListPendingCheckpoints()
}

// Get proxies to the repo for the approval surface's get operation (§6).
func (m *Manager) Get(checkpointID string) (*entities.Checkpoint, error) {
	cp, err := m.repo.LoadCheckpoint(checkpointID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrNotFound
	}
	return cp, nil
}

// FeedbackNote is one resolution note fed back into a subsequent agent
// prompt, tagged with an expiry the incorporator enforces.
type FeedbackNote struct {
	Trigger   entities.Trigger
	Notes     string
	ExpiresAt *time.Time
}

// IncorporateFeedback filters expired notes out of the candidate set and
// renders the remainder into a short prompt addendum. The narrow
// enforcement resolved in SPEC_FULL.md: a note past its expires_at is
// dropped when it would otherwise be read back into a prompt, nothing
// more elaborate.
func IncorporateFeedback(notes []FeedbackNote, now time.Time) string {
	var active []FeedbackNote
	for _, n := range notes {
		if n.ExpiresAt != nil && now.After(*n.ExpiresAt) {
			continue
		}
		active = append(active, n)
	}
	if len(active) == 0 {
		return ""
	}
	out := "prior human decisions relevant to this unit of work:\n"
	for _, n := range active {
		out += fmt.Sprintf("- (%s) %s\n", n.Trigger, n.Notes)
	}
	return out
}

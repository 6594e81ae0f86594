// Package autopilot implements the autopilot runner (§4.12): it drives an
// ordered list of goals under a budget, a duration limit, and an optional
// stop trigger, pausing into a checkpoint whenever a pre-flight or
// post-check trigger fires.
package autopilot

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/devforge/kernel/internal/checkpoint"
	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/store"
)

// ErrNotPaused is returned by Resume when the session is not paused.
var ErrNotPaused = fmt.Errorf("autopilot: session is not paused")

// GoalDispatcher executes one goal and reports what it cost. A goal whose
// Link is the zero value is a manual no-op: the runner never calls
// EstimateCost or Dispatch for it.
type GoalDispatcher interface {
	// EstimateCost returns the pre-flight cost estimate for goal, consulted
	// before the budget/risk checks run.
	EstimateCost(ctx context.Context, goal entities.Goal) (float64, error)
	// Dispatch runs goal to completion (feature issue cycle, bug fix cycle,
	// or spec-only pipeline) and returns its actual cost.
	Dispatch(ctx context.Context, goal entities.Goal) (costUSD float64, err error)
}

// Config bounds pre-flight/post-check thresholds, sourced from
// kernelconfig's closed set.
type Config struct {
	PerUnitThreshold     float64 // checkpoint_budget_usd
	MinExecutionBudget   float64
	ErrorStreakThreshold int
	MaxSkipCount         int // continue-on-block loop guard
}

// Runner drives AutopilotSession records through their goal lists.
type Runner struct {
	repo        *store.Repo
	checkpoints *checkpoint.Manager
	dispatcher  GoalDispatcher
	cfg         Config
	idGen       func() string
	logger      *logging.Logger
}

// New constructs a Runner.
func New(repo *store.Repo, checkpoints *checkpoint.Manager, dispatcher GoalDispatcher, cfg Config, idGen func() string) *Runner {
	return &Runner{
		repo:        repo,
		checkpoints: checkpoints,
		dispatcher:  dispatcher,
		cfg:         cfg,
		idGen:       idGen,
		logger:      logging.New().WithComponent("autopilot"),
	}
}

// Start creates and runs a new session over goals under budget and
// durationLimitSeconds, stopping early if stopTrigger fires post-check.
func (r *Runner) Start(ctx context.Context, goals []entities.Goal, budget, durationLimitSeconds float64, stopTrigger entities.Trigger, continueOnBlock bool) (*entities.AutopilotSession, error) {
	sess := &entities.AutopilotSession{
		SessionID:            r.idGen(),
		Goals:                goals,
		BudgetUSD:            budget,
		DurationLimitSeconds: durationLimitSeconds,
		StopTrigger:          stopTrigger,
		Status:               entities.AutopilotRunning,
		ContinueOnBlock:      continueOnBlock,
		LastPersistedAt:      time.Now(),
	}
	if err := r.repo.SaveAutopilotSession(sess); err != nil {
		return nil, err
	}
	if err := r.runLoop(ctx, sess, time.Now()); err != nil {
		return sess, err
	}
	return sess, nil
}

// Resume continues a paused session from its persisted CurrentGoalIndex.
func (r *Runner) Resume(ctx context.Context, sessionID string) (*entities.AutopilotSession, error) {
	sess, err := r.repo.LoadAutopilotSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("autopilot: session %s not found", sessionID)
	}
	if sess.Status != entities.AutopilotPaused {
		return sess, ErrNotPaused
	}
	sess.Status = entities.AutopilotRunning
	if err := r.runLoop(ctx, sess, time.Now()); err != nil {
		return sess, err
	}
	return sess, nil
}

// Cancel aborts a session. Idempotent on unknown ids.
func (r *Runner) Cancel(sessionID string) error {
	sess, err := r.repo.LoadAutopilotSession(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	sess.Status = entities.AutopilotAborted
	return r.repo.SaveAutopilotSession(sess)
}

// ListPaused returns every session currently paused.
func (r *Runner) ListPaused() ([]entities.AutopilotSession, error) {
	return r.repo.ListPausedAutopilotSessions()
}

// DescribeGoal renders a one-line human description of a goal.
func DescribeGoal(g entities.Goal) string {
	switch {
	case g.Link.BugID != "":
		return fmt.Sprintf("%s (bug %s)", g.Description, g.Link.BugID)
	case g.Link.FeatureID != "" && g.Link.SpecOnly:
		return fmt.Sprintf("%s (feature %s, spec only)", g.Description, g.Link.FeatureID)
	case g.Link.FeatureID != "":
		return fmt.Sprintf("%s (feature %s, issue %d)", g.Description, g.Link.FeatureID, g.Link.IssueNumber)
	default:
		return fmt.Sprintf("%s (manual no-op)", g.Description)
	}
}

func isManualNoop(g entities.Goal) bool {
	return g.Link == entities.GoalLink{}
}

// dependenciesSatisfied reports whether every goal id in g.Dependencies has
// already completed within this run, the signal EvaluatePreFlight's BLOCKER
// check consults (§4.6.2).
func dependenciesSatisfied(g entities.Goal, completed map[string]bool) bool {
	for _, dep := range g.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// goalScope is a coarse [0,1] blast-radius proxy for a goal, until the
// kernel has a real affected-file count to feed Score: a goal with more
// declared dependencies touches more of the system.
func goalScope(g entities.Goal) float64 {
	f := float64(len(g.Dependencies)) * 0.25
	if f > 1.0 {
		return 1.0
	}
	return f
}

func (r *Runner) runLoop(ctx context.Context, sess *entities.AutopilotSession, startedAt time.Time) error {
	skipped := 0
	consecutiveFailures := 0
	completed := make(map[string]bool, len(sess.Goals))

	for sess.CurrentGoalIndex < len(sess.Goals) {
		i := sess.CurrentGoalIndex
		goal := sess.Goals[i]

		if isManualNoop(goal) {
			completed[goal.ID] = true
			sess.CurrentGoalIndex++
			if err := r.persist(sess, startedAt); err != nil {
				return err
			}
			continue
		}

		estimated, err := r.dispatcher.EstimateCost(ctx, goal)
		if err != nil {
			return fmt.Errorf("autopilot: estimate goal %s: %w", goal.ID, err)
		}

		remaining := sess.BudgetUSD - sess.CostSpentUSD
		risk := checkpoint.Score(checkpoint.RiskInputs{
			CostImpact: checkpoint.CostImpactFactor(estimated, remaining),
			Scope:      goalScope(goal),
			ActionText: goal.Description,
			Confidence: 0.5,
		})
		surfaced, others, ok := checkpoint.EvaluatePreFlight(checkpoint.PreFlightInputs{
			RemainingBudget:    remaining,
			EstimatedCost:      estimated,
			PerUnitThreshold:   r.cfg.PerUnitThreshold,
			SessionSpend:       sess.CostSpentUSD,
			DailyBudget:        sess.BudgetUSD,
			DependenciesOK:     dependenciesSatisfied(goal, completed),
			Risk:               risk,
			MinExecutionBudget: r.cfg.MinExecutionBudget,
		})
		if !ok {
			return r.pauseForCheckpoint(ctx, sess, surfaced, others, goal, i, startedAt, risk)
		}

		cost, derr := r.dispatcher.Dispatch(ctx, goal)
		sess.CostSpentUSD += cost
		if derr != nil {
			consecutiveFailures++
			if sess.ContinueOnBlock && skipped < maxSkip(r.cfg.MaxSkipCount) {
				skipped++
				sess.SkippedGoals++
				sess.CurrentGoalIndex++
				if err := r.persist(sess, startedAt); err != nil {
					return err
				}
				if esurfaced, eothers, epok := checkpoint.EvaluatePostCheck(checkpoint.PostCheckInputs{
					ElapsedSeconds:       time.Since(startedAt).Seconds(),
					DurationLimitSeconds: sess.DurationLimitSeconds,
					ConsecutiveFailures:  consecutiveFailures,
					ErrorStreakThreshold: r.cfg.ErrorStreakThreshold,
				}); !epok {
					return r.pauseForCheckpoint(ctx, sess, esurfaced, eothers, goal, sess.CurrentGoalIndex, startedAt, risk)
				}
				continue
			}
			fsurfaced, fothers, _ := checkpoint.EvaluatePostCheck(checkpoint.PostCheckInputs{UnexpectedFatal: true})
			if cerr := r.pauseForCheckpoint(ctx, sess, fsurfaced, fothers, goal, i, startedAt, risk); cerr != nil {
				return cerr
			}
			return fmt.Errorf("autopilot: goal %s dispatch failed: %w", goal.ID, derr)
		}

		consecutiveFailures = 0
		completed[goal.ID] = true
		sess.CurrentGoalIndex++
		if err := r.persist(sess, startedAt); err != nil {
			return err
		}

		psurfaced, _, pok := checkpoint.EvaluatePostCheck(checkpoint.PostCheckInputs{
			ElapsedSeconds:       time.Since(startedAt).Seconds(),
			DurationLimitSeconds: sess.DurationLimitSeconds,
			ConsecutiveFailures:  consecutiveFailures,
			ErrorStreakThreshold: r.cfg.ErrorStreakThreshold,
			SessionEnded:         sess.CurrentGoalIndex >= len(sess.Goals),
		})
		if !pok {
			if psurfaced == entities.TriggerEndOfSession {
				break
			}
			if sess.StopTrigger != "" && psurfaced == sess.StopTrigger {
				sess.Status = entities.AutopilotAborted
				return r.persist(sess, startedAt)
			}
			sess.Status = entities.AutopilotPaused
			return r.persist(sess, startedAt)
		}
	}

	sess.Status = entities.AutopilotCompleted
	return r.persist(sess, startedAt)
}

func maxSkip(configured int) int {
	if configured <= 0 {
		return 3
	}
	return configured
}

func (r *Runner) pauseForCheckpoint(ctx context.Context, sess *entities.AutopilotSession, surfaced entities.Trigger, others []entities.Trigger, goal entities.Goal, goalIndex int, startedAt time.Time, risk entities.RiskAssessment) error {
	if r.checkpoints != nil {
		cp, err := r.checkpoints.Create(ctx, checkpoint.QuestionInput{
			Trigger:          surfaced,
			OtherTriggers:    others,
			ProgressSnapshot: fmt.Sprintf("autopilot %s: goal %d/%d (%s)", sess.SessionID, goalIndex+1, len(sess.Goals), DescribeGoal(goal)),
			Risk:             risk,
			Question:         fmt.Sprintf("Proceed with goal %q?", goal.Description),
			Options: []entities.Option{
				{ID: "proceed", Label: "Proceed", IsRecommended: true},
				{ID: "proceed-with-reduced", Label: "Proceed with reduced scope"},
				{ID: "abort", Label: "Abort"},
			},
			SessionID: sess.SessionID,
		})
		if err == nil {
			sess.Checkpoints = append(sess.Checkpoints, cp.CheckpointID)
		}
	}
	sess.Status = entities.AutopilotPaused
	sess.CurrentGoalIndex = goalIndex
	return r.persist(sess, startedAt)
}

func (r *Runner) persist(sess *entities.AutopilotSession, startedAt time.Time) error {
	if !startedAt.IsZero() {
		sess.DurationSeconds = time.Since(startedAt).Seconds()
	}
	sess.LastPersistedAt = time.Now()
	return r.repo.SaveAutopilotSession(sess)
}

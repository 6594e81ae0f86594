// Package campaign implements the campaign executor (§4.13): a multi-day
// plan of milestones and day plans, executed day by day through the
// autopilot runner under a daily budget cap, with replanning when progress
// falls too far behind elapsed time.
package campaign

import (
	"context"
	"fmt"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/devforge/kernel/internal/autopilot"
	"github.com/devforge/kernel/internal/checkpoint"
	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/store"
)

// Replanner regenerates the remaining day plans when progress has fallen
// too far behind schedule. Kept as an interface so the planning agent (an
// LLM call, or a deterministic heuristic in tests) is swappable.
type Replanner interface {
	Replan(ctx context.Context, campaign entities.Campaign, fromDay int) ([]entities.DayPlan, error)
}

// GoalSource resolves the goals behind a day plan's goal_ids for dispatch
// through the autopilot runner.
type GoalSource interface {
	ResolveGoals(ctx context.Context, goalIDs []string) ([]entities.Goal, error)
}

// Executor drives a Campaign's day plans to completion.
type Executor struct {
	repo       *store.Repo
	runner     *autopilot.Runner
	replanner  Replanner
	goals      GoalSource
	checkpoints *checkpoint.Manager
	idGen      func() string
	logger     *logging.Logger
}

// New constructs a campaign Executor.
func New(repo *store.Repo, runner *autopilot.Runner, replanner Replanner, goals GoalSource, cp *checkpoint.Manager, idGen func() string) *Executor {
	return &Executor{
		repo:        repo,
		runner:      runner,
		replanner:   replanner,
		goals:       goals,
		checkpoints: cp,
		idGen:       idGen,
		logger:      logging.New().WithComponent("campaign"),
	}
}

// milestonesDone counts how many milestones are marked Done.
func milestonesDone(c entities.Campaign) int {
	n := 0
	for _, m := range c.Milestones {
		if m.Done {
			n++
		}
	}
	return n
}

// progressDeficit is the gap between elapsed-time fraction and completed-
// milestone fraction at the end of a day: how far behind schedule the
// campaign is running. Grounded on the literal replan scenario (day 3 of 5,
// 1/4 milestones done → time fraction 0.6 vs milestone fraction 0.25, a
// deficit in the neighborhood the scenario calls 0.33).
func progressDeficit(c entities.Campaign, day int) float64 {
	if c.OriginalDurationDays == 0 || len(c.Milestones) == 0 {
		return 0
	}
	timeFraction := float64(day) / float64(c.OriginalDurationDays)
	milestoneFraction := float64(milestonesDone(c)) / float64(len(c.Milestones))
	deficit := timeFraction - milestoneFraction
	if deficit < 0 {
		return 0
	}
	return deficit
}

// RunDay executes campaign's current day: at a milestone boundary it first
// injects a SCOPE_CHANGE checkpoint, then dispatches the day's goals through
// the autopilot runner under min(daily_budget, total-spent). If the
// progress deficit exceeds the replanning threshold, the replanner
// regenerates the remaining day plans before the day advances.
func (e *Executor) RunDay(ctx context.Context, c *entities.Campaign) error {
	if c.State != entities.CampaignActive && c.State != entities.CampaignPlanning {
		return fmt.Errorf("campaign %s: RunDay requires planning or active, got %s", c.CampaignID, c.State)
	}
	if c.CurrentDay >= len(c.DayPlans) {
		return fmt.Errorf("campaign %s: no day plan for day %d", c.CampaignID, c.CurrentDay)
	}
	c.State = entities.CampaignActive

	plan := c.DayPlans[c.CurrentDay]
	if plan.Milestone != "" && e.checkpoints != nil {
		if _, err := e.checkpoints.Create(ctx, checkpoint.QuestionInput{
			Trigger:          entities.TriggerScopeChange,
			ProgressSnapshot: fmt.Sprintf("campaign %s: day %d reaches milestone %q", c.CampaignID, c.CurrentDay+1, plan.Milestone),
			Question:         fmt.Sprintf("Proceed into milestone %q?", plan.Milestone),
			Options: []entities.Option{
				{ID: "proceed", Label: "Proceed", IsRecommended: true},
				{ID: "hold", Label: "Hold for review"},
			},
		}); err != nil {
			e.logger.Warn("milestone checkpoint creation failed", map[string]interface{}{"campaign_id": c.CampaignID, "error": err.Error()})
		}
	}

	goals, err := e.goals.ResolveGoals(ctx, plan.GoalIDs)
	if err != nil {
		return fmt.Errorf("campaign %s: resolve goals: %w", c.CampaignID, err)
	}

	dayBudget := c.RemainingDailyBudget()
	sess, err := e.runner.Start(ctx, goals, dayBudget, 0, "", false)
	if sess == nil {
		c.State = entities.CampaignFailed
		e.repo.SaveCampaign(c)
		return fmt.Errorf("campaign %s: day %d execution failed: %w", c.CampaignID, c.CurrentDay+1, err)
	}
	if err != nil {
		e.logger.Warn("day execution ended early", map[string]interface{}{"campaign_id": c.CampaignID, "day": c.CurrentDay + 1, "error": err.Error()})
	}
	c.SpentUSD += sess.CostSpentUSD

	for i := range c.Milestones {
		if c.Milestones[i].Name == plan.Milestone && sess.Status == entities.AutopilotCompleted {
			c.Milestones[i].Done = true
		}
	}

	deficit := progressDeficit(*c, c.CurrentDay+1)
	if deficit > c.ReplanningThreshold && e.replanner != nil {
		remaining, rerr := e.replanner.Replan(ctx, *c, c.CurrentDay+1)
		if rerr != nil {
			e.logger.Warn("replan failed", map[string]interface{}{"campaign_id": c.CampaignID, "error": rerr.Error()})
		} else {
			c.DayPlans = append(c.DayPlans[:c.CurrentDay+1], remaining...)
			c.ReplanCount++
		}
	}

	c.CurrentDay++
	if allMilestonesDone(*c) {
		c.State = entities.CampaignCompleted
	} else if c.CurrentDay >= len(c.DayPlans) {
		c.State = entities.CampaignFailed
	}
	return e.repo.SaveCampaign(c)
}

func allMilestonesDone(c entities.Campaign) bool {
	for _, m := range c.Milestones {
		if !m.Done {
			return false
		}
	}
	return len(c.Milestones) > 0
}

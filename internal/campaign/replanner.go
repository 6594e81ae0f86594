package campaign

import (
	"context"
	"fmt"

	"github.com/devforge/kernel/internal/entities"
)

// HeuristicReplanner regenerates the remaining day plans by spreading the
// goals of the day plans from fromDay onward evenly across the days left
// before the campaign's original duration, carrying forward only the
// milestones not yet marked Done.
// It is a deterministic fallback — campaigns under goaladapter's budget
// estimates have no extra signal an LLM replan could use that a proportional
// redistribution doesn't already capture.
type HeuristicReplanner struct{}

// Replan satisfies Replanner.
func (HeuristicReplanner) Replan(ctx context.Context, c entities.Campaign, fromDay int) ([]entities.DayPlan, error) {
	daysLeft := c.OriginalDurationDays - fromDay
	if daysLeft <= 0 {
		daysLeft = 1
	}

	var pending []entities.Milestone
	for _, m := range c.Milestones {
		if !m.Done {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	var remainingGoalIDs []string
	for day := fromDay; day < len(c.DayPlans); day++ {
		remainingGoalIDs = append(remainingGoalIDs, c.DayPlans[day].GoalIDs...)
	}
	if len(remainingGoalIDs) == 0 {
		return nil, fmt.Errorf("campaign %s: no remaining goals to redistribute from day %d", c.CampaignID, fromDay)
	}

	plans := make([]entities.DayPlan, 0, daysLeft)
	perDay := (len(remainingGoalIDs) + daysLeft - 1) / daysLeft
	if perDay < 1 {
		perDay = 1
	}

	milestoneIdx := 0
	for day := 0; day < daysLeft && len(remainingGoalIDs) > 0; day++ {
		end := perDay
		if end > len(remainingGoalIDs) {
			end = len(remainingGoalIDs)
		}
		plan := entities.DayPlan{Day: fromDay + day + 1, GoalIDs: remainingGoalIDs[:end]}
		remainingGoalIDs = remainingGoalIDs[end:]

		// The day reaching a pending milestone's original target carries it
		// forward so the executor still injects a SCOPE_CHANGE checkpoint.
		if milestoneIdx < len(pending) && plan.Day >= pending[milestoneIdx].TargetDay {
			plan.Milestone = pending[milestoneIdx].Name
			milestoneIdx++
		}
		plans = append(plans, plan)
	}
	// Anything left over (more goals than days) rides along on the last day.
	if len(remainingGoalIDs) > 0 && len(plans) > 0 {
		plans[len(plans)-1].GoalIDs = append(plans[len(plans)-1].GoalIDs, remainingGoalIDs...)
	}
	return plans, nil
}

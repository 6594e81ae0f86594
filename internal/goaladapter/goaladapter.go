// Package goaladapter implements autopilot.GoalDispatcher and
// campaign.GoalSource against the real feature and bug orchestrators,
// the integration glue between the autopilot/campaign layer and the
// per-entity state machines (§4.12, §4.13).
package goaladapter

import (
	"context"
	"fmt"

	"github.com/devforge/kernel/internal/bug"
	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/feature"
	"github.com/devforge/kernel/internal/store"
)

// Config bounds the flat per-goal cost estimate consulted before a goal's
// actual cost is known (pre-flight budget checks need a number before
// RunCycle/Fix has executed even once).
type Config struct {
	EstimatedCostPerCycle float64
}

// Adapter drives autopilot/campaign goals through the feature and bug
// orchestrators.
type Adapter struct {
	repo    *store.Repo
	feature *feature.Orchestrator
	bug     *bug.Orchestrator
	cfg     Config
}

// New constructs an Adapter.
func New(repo *store.Repo, featureOrch *feature.Orchestrator, bugOrch *bug.Orchestrator, cfg Config) *Adapter {
	if cfg.EstimatedCostPerCycle <= 0 {
		cfg.EstimatedCostPerCycle = 0.25
	}
	return &Adapter{repo: repo, feature: featureOrch, bug: bugOrch, cfg: cfg}
}

// EstimateCost returns the flat per-cycle estimate for any non-manual goal;
// the kernel has no cheaper way to price a cycle before running it.
func (a *Adapter) EstimateCost(ctx context.Context, goal entities.Goal) (float64, error) {
	return a.cfg.EstimatedCostPerCycle, nil
}

// Dispatch runs one step of whichever pipeline goal.Link identifies: a
// feature implementation cycle, a bug pipeline step, or a feature's spec
// pipeline up to the human-approval checkpoint.
func (a *Adapter) Dispatch(ctx context.Context, goal entities.Goal) (float64, error) {
	switch {
	case goal.Link.BugID != "":
		return a.dispatchBug(ctx, goal.Link.BugID)
	case goal.Link.FeatureID != "" && goal.Link.SpecOnly:
		return a.dispatchSpec(ctx, goal.Link.FeatureID)
	case goal.Link.FeatureID != "":
		return a.dispatchFeature(ctx, goal.Link.FeatureID)
	default:
		return 0, fmt.Errorf("goaladapter: goal %s has no dispatchable link", goal.ID)
	}
}

func (a *Adapter) dispatchFeature(ctx context.Context, featureID string) (float64, error) {
	f, err := a.repo.LoadFeature(featureID)
	if err != nil {
		return 0, fmt.Errorf("goaladapter: load feature %s: %w", featureID, err)
	}
	if f == nil {
		return 0, fmt.Errorf("goaladapter: feature %s not found", featureID)
	}
	before := f.TotalCostUSD
	if err := a.feature.RunCycle(ctx, f); err != nil {
		return f.TotalCostUSD - before, err
	}
	return f.TotalCostUSD - before, nil
}

// dispatchSpec drives a newly-reported feature through spec authoring up
// to the approval checkpoint; it never calls ApproveSpec itself, since
// that step is an external human decision (§4.10).
func (a *Adapter) dispatchSpec(ctx context.Context, featureID string) (float64, error) {
	f, err := a.repo.LoadFeature(featureID)
	if err != nil {
		return 0, fmt.Errorf("goaladapter: load feature %s: %w", featureID, err)
	}
	if f == nil {
		return 0, fmt.Errorf("goaladapter: feature %s not found", featureID)
	}
	if f.Phase != entities.PhasePRDReady {
		return 0, nil // already past spec authoring; nothing to do
	}
	if err := a.feature.StartSpec(ctx, f); err != nil {
		return a.cfg.EstimatedCostPerCycle, err
	}
	return a.cfg.EstimatedCostPerCycle, nil
}

// dispatchBug advances a bug by exactly one pipeline step, matching
// whichever phase it is currently in. Planned bugs are left untouched:
// Fix requires an externally-resolved approval checkpoint first (§4.11).
func (a *Adapter) dispatchBug(ctx context.Context, bugID string) (float64, error) {
	b, err := a.repo.LoadBug(bugID)
	if err != nil {
		return 0, fmt.Errorf("goaladapter: load bug %s: %w", bugID, err)
	}
	if b == nil {
		return 0, fmt.Errorf("goaladapter: bug %s not found", bugID)
	}
	before := b.CostUSD

	switch b.Phase {
	case entities.BugReported:
		err = a.bug.Reproduce(ctx, b)
	case entities.BugInvestigating:
		err = a.bug.Investigate(ctx, b)
	case entities.BugPlanned:
		return 0, fmt.Errorf("goaladapter: bug %s is awaiting fix approval", bugID)
	case entities.BugFixing, entities.BugVerifying:
		err = a.bug.Fix(ctx, b)
	default:
		return 0, fmt.Errorf("goaladapter: bug %s is in terminal or unexpected phase %s", bugID, b.Phase)
	}

	reloaded, rerr := a.repo.LoadBug(bugID)
	if rerr != nil || reloaded == nil {
		return 0, err
	}
	return reloaded.CostUSD - before, err
}

// ResolveGoals implements campaign.GoalSource by looking up each id's
// current feature/bug state and rendering it into a dispatchable Goal. ids
// are expected to be "feature:<id>:<issue>" or "bug:<id>" references.
func (a *Adapter) ResolveGoals(ctx context.Context, ids []string) ([]entities.Goal, error) {
	goals := make([]entities.Goal, 0, len(ids))
	for _, id := range ids {
		goal, err := a.resolveGoal(id)
		if err != nil {
			return nil, err
		}
		goals = append(goals, goal)
	}
	return goals, nil
}

func (a *Adapter) resolveGoal(id string) (entities.Goal, error) {
	kind, rest, ok := splitOnce(id, ':')
	if !ok {
		return entities.Goal{ID: id, Description: id}, nil
	}
	switch kind {
	case "bug":
		b, err := a.repo.LoadBug(rest)
		if err != nil {
			return entities.Goal{}, fmt.Errorf("goaladapter: resolve goal %s: %w", id, err)
		}
		if b == nil {
			return entities.Goal{}, fmt.Errorf("goaladapter: resolve goal %s: bug not found", id)
		}
		return entities.Goal{ID: id, Description: "fix bug " + rest, Link: entities.GoalLink{BugID: rest}}, nil
	case "feature":
		featureID, issueStr, hasIssue := splitOnce(rest, ':')
		if !hasIssue {
			f, err := a.repo.LoadFeature(rest)
			if err != nil {
				return entities.Goal{}, fmt.Errorf("goaladapter: resolve goal %s: %w", id, err)
			}
			if f == nil {
				return entities.Goal{}, fmt.Errorf("goaladapter: resolve goal %s: feature not found", id)
			}
			return entities.Goal{ID: id, Description: "advance spec for feature " + rest, Link: entities.GoalLink{FeatureID: rest, SpecOnly: true}}, nil
		}
		issue := 0
		fmt.Sscanf(issueStr, "%d", &issue)
		return entities.Goal{ID: id, Description: fmt.Sprintf("implement feature %s issue %d", featureID, issue), Link: entities.GoalLink{FeatureID: featureID, IssueNumber: issue}}, nil
	default:
		return entities.Goal{ID: id, Description: id}, nil
	}
}

func splitOnce(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

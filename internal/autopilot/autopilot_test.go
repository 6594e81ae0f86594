package autopilot

import (
	"context"
	"testing"

	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/store"
)

// scriptedDispatcher plays back a fixed cost per goal ID, grounding the
// literal checkpoint pause/resume scenario (§8 scenario 3) without needing a
// real feature/bug orchestrator wired in.
type scriptedDispatcher struct {
	estimates map[string]float64
	costs     map[string]float64
	dispatched []string
}

func (d *scriptedDispatcher) EstimateCost(ctx context.Context, g entities.Goal) (float64, error) {
	return d.estimates[g.ID], nil
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, g entities.Goal) (float64, error) {
	d.dispatched = append(d.dispatched, g.ID)
	return d.costs[g.ID], nil
}

func newTestRunner(t *testing.T, d GoalDispatcher) (*Runner, *store.Repo) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo := store.NewRepo(s)
	n := 0
	idGen := func() string {
		n++
		return "sess-" + string(rune('0'+n))
	}
	return New(repo, nil, d, Config{PerUnitThreshold: 0, MinExecutionBudget: 0.5}, idGen), repo
}

func link(featureID string, issue int) entities.Goal {
	return entities.Goal{Link: entities.GoalLink{FeatureID: featureID, IssueNumber: issue}}
}

func TestBudgetExceededPausesWithCostCumulative(t *testing.T) {
	d := &scriptedDispatcher{
		estimates: map[string]float64{"g1": 8, "g2": 20, "g3": 5},
		costs:     map[string]float64{"g1": 8, "g2": 9, "g3": 3},
	}
	goals := []entities.Goal{
		withID(link("f1", 1), "g1"),
		withID(link("f1", 2), "g2"),
		withID(link("f1", 3), "g3"),
	}
	r, repo := newTestRunner(t, d)

	sess, err := r.Start(context.Background(), goals, 25, 0, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != entities.AutopilotPaused {
		t.Fatalf("expected paused after g1, got %s", sess.Status)
	}
	if sess.CurrentGoalIndex != 1 {
		t.Fatalf("expected current_goal_index=1, got %d", sess.CurrentGoalIndex)
	}
	if sess.CostSpentUSD != 8 {
		t.Fatalf("expected $8 spent, got %f", sess.CostSpentUSD)
	}

	// Human resolves with "proceed-with-reduced"; resume executes g2 and g3.
	d.estimates["g2"] = 5 // reduced scope re-estimate
	resumed, err := r.Resume(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != entities.AutopilotCompleted {
		t.Fatalf("expected completed after resume, got %s", resumed.Status)
	}
	if len(d.dispatched) != 3 {
		t.Fatalf("expected all 3 goals dispatched across both runs, got %v", d.dispatched)
	}

	reloaded, _ := repo.LoadAutopilotSession(sess.SessionID)
	if reloaded.Status != entities.AutopilotCompleted {
		t.Fatalf("expected persisted session to read back completed, got %s", reloaded.Status)
	}
}

func withID(g entities.Goal, id string) entities.Goal {
	g.ID = id
	return g
}

func TestResumeFailsWhenNotPaused(t *testing.T) {
	d := &scriptedDispatcher{estimates: map[string]float64{}, costs: map[string]float64{}}
	r, _ := newTestRunner(t, d)
	sess, err := r.Start(context.Background(), nil, 10, 0, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resume(context.Background(), sess.SessionID); err != ErrNotPaused {
		t.Fatalf("expected ErrNotPaused, got %v", err)
	}
}

func TestCancelIsIdempotentOnUnknownID(t *testing.T) {
	r, _ := newTestRunner(t, &scriptedDispatcher{})
	if err := r.Cancel("does-not-exist"); err != nil {
		t.Fatalf("expected cancel on unknown id to be a no-op, got %v", err)
	}
}

func TestManualNoopGoalNeverDispatches(t *testing.T) {
	d := &scriptedDispatcher{estimates: map[string]float64{}, costs: map[string]float64{}}
	r, _ := newTestRunner(t, d)
	goals := []entities.Goal{{ID: "manual", Description: "human does this by hand"}}
	sess, err := r.Start(context.Background(), goals, 10, 0, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != entities.AutopilotCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
	if len(d.dispatched) != 0 {
		t.Fatalf("expected manual goal to never reach Dispatch, got %v", d.dispatched)
	}
}

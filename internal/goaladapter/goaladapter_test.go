package goaladapter

import (
	"context"
	"testing"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/bug"
	"github.com/devforge/kernel/internal/contract"
	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/feature"
	"github.com/devforge/kernel/internal/gate"
	"github.com/devforge/kernel/internal/recovery"
	"github.com/devforge/kernel/internal/store"
)

func newTestAdapter(t *testing.T) (*Adapter, *agent.MockDispatcher, *store.Repo) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo := store.NewRepo(s)
	d := agent.NewMockDispatcher()
	g := gate.New(d, 8)
	rec := recovery.New(recovery.Config{BaseBackoff: 1, CircuitBreakerThreshold: 5, MaxRecoveryAttempts: 6}, nil)
	featureCfg := feature.Config{MaxCriticRounds: 3, SpecCriticScoreThreshold: 0.7, MaxEstimatedTurns: 8}
	featureOrch := feature.New(repo, d, g, rec, nil, nil, featureCfg)
	bugOrch := bug.New(repo, d, rec, nil, nil)
	return New(repo, featureOrch, bugOrch, Config{}), d, repo
}

func TestDispatchFeatureGoalAdvancesIssueAndReportsCost(t *testing.T) {
	a, d, repo := newTestAdapter(t)
	f := &entities.Feature{
		FeatureID: "f1",
		Phase:     entities.PhaseGreenlit,
		Tasks: []entities.Task{
			{IssueNumber: 1, Stage: entities.StageReady, Title: "small task", Body: "- [ ] one"},
		},
	}
	if err := repo.SaveFeature(f); err != nil {
		t.Fatal(err)
	}
	d.Enqueue(contract.RoleCoder, agent.Response{Variant: agent.Ok, Output: contract.CoderOutput{FilesCreated: []string{"a.go"}, TestFile: "a_test.go"}})
	d.Enqueue(contract.RoleCritic, agent.Response{Variant: agent.Ok, Output: contract.CriticOutput{Score: 0.9, Approved: true}})
	d.Enqueue(contract.RoleCritic, agent.Response{Variant: agent.Ok, Output: contract.CriticOutput{Score: 0.9, Approved: true}})
	d.Enqueue(contract.RoleCritic, agent.Response{Variant: agent.Ok, Output: contract.CriticOutput{Score: 0.9, Approved: true}})
	d.Enqueue(contract.RoleVerifier, agent.Response{Variant: agent.Ok, Output: contract.VerifierOutput{TestsPassed: true, CommitSHA: "deadbeef"}})

	cost, err := a.Dispatch(context.Background(), entities.Goal{ID: "g1", Link: entities.GoalLink{FeatureID: "f1", IssueNumber: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if cost <= 0 {
		t.Fatalf("expected positive cost delta, got %f", cost)
	}

	reloaded, err := repo.LoadFeature("f1")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Tasks[0].Stage != entities.StageDone {
		t.Fatalf("expected issue done, got %s", reloaded.Tasks[0].Stage)
	}
}

func TestDispatchBugGoalAdvancesThroughReproduce(t *testing.T) {
	a, d, repo := newTestAdapter(t)
	b := &entities.Bug{BugID: "b1", Phase: entities.BugReported, Report: "crashes on empty input"}
	if err := repo.SaveBug(b); err != nil {
		t.Fatal(err)
	}
	d.Enqueue(contract.RoleBugResearcher, agent.Response{Variant: agent.Ok, Output: contract.BugResearcherOutput{
		Confirmed: true,
		Evidence:  "stack trace shows nil pointer",
	}})

	if _, err := a.Dispatch(context.Background(), entities.Goal{ID: "g1", Link: entities.GoalLink{BugID: "b1"}}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := repo.LoadBug("b1")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Phase != entities.BugInvestigating {
		t.Fatalf("expected investigating, got %s", reloaded.Phase)
	}
}

func TestDispatchBugGoalRejectsAwaitingApproval(t *testing.T) {
	a, _, repo := newTestAdapter(t)
	b := &entities.Bug{BugID: "b2", Phase: entities.BugPlanned}
	if err := repo.SaveBug(b); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Dispatch(context.Background(), entities.Goal{ID: "g2", Link: entities.GoalLink{BugID: "b2"}}); err == nil {
		t.Fatal("expected dispatch on a planned bug awaiting approval to fail")
	}
}

func TestResolveGoalsParsesFeatureAndBugReferences(t *testing.T) {
	a, _, repo := newTestAdapter(t)
	if err := repo.SaveBug(&entities.Bug{BugID: "b1", Phase: entities.BugReported}); err != nil {
		t.Fatal(err)
	}

	goals, err := a.ResolveGoals(context.Background(), []string{"bug:b1", "feature:f1:3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(goals) != 2 {
		t.Fatalf("expected 2 goals, got %d", len(goals))
	}
	if goals[0].Link.BugID != "b1" {
		t.Fatalf("expected bug link, got %+v", goals[0].Link)
	}
	if goals[1].Link.FeatureID != "f1" || goals[1].Link.IssueNumber != 3 {
		t.Fatalf("expected feature link f1/3, got %+v", goals[1].Link)
	}
}

func TestEstimateCostIsPositiveFlatRate(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	cost, err := a.EstimateCost(context.Background(), entities.Goal{ID: "g1"})
	if err != nil {
		t.Fatal(err)
	}
	if cost <= 0 {
		t.Fatalf("expected positive estimate, got %f", cost)
	}
}

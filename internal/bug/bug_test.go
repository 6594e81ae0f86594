package bug

import (
	"context"
	"testing"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/contract"
	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/recovery"
	"github.com/devforge/kernel/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *agent.MockDispatcher, *store.Repo) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo := store.NewRepo(s)
	d := agent.NewMockDispatcher()
	rec := recovery.New(recovery.Config{BaseBackoff: 1, CircuitBreakerThreshold: 5, MaxRecoveryAttempts: 6}, nil)
	return New(repo, d, rec, nil, nil), d, repo
}

func TestReproduceAdvancesToInvestigating(t *testing.T) {
	o, d, repo := newTestOrchestrator(t)
	b := &entities.Bug{BugID: "b1", Phase: entities.BugReported, Report: "crashes on empty input"}
	if err := repo.SaveBug(b); err != nil {
		t.Fatal(err)
	}

	d.Enqueue(contract.RoleBugResearcher, agent.Response{Variant: agent.Ok, Output: contract.BugResearcherOutput{
		Confirmed: true,
		Evidence:  "stack trace shows nil pointer",
	}})

	if err := o.Reproduce(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	if b.Phase != entities.BugInvestigating {
		t.Fatalf("expected investigating, got %s", b.Phase)
	}
}

func TestReproduceFailsWhenNotConfirmed(t *testing.T) {
	o, d, repo := newTestOrchestrator(t)
	b := &entities.Bug{BugID: "b2", Phase: entities.BugReported, Report: "ghost bug"}
	if err := repo.SaveBug(b); err != nil {
		t.Fatal(err)
	}

	d.Enqueue(contract.RoleBugResearcher, agent.Response{Variant: agent.Ok, Output: contract.BugResearcherOutput{
		Confirmed: false,
		Evidence:  "could not reproduce",
	}})

	if err := o.Reproduce(context.Background(), b); err == nil {
		t.Fatal("expected reproduction failure to return an error")
	}
	if b.Phase != entities.BugBlocked {
		t.Fatalf("expected blocked, got %s", b.Phase)
	}
}

func TestInvestigateProducesFixPlan(t *testing.T) {
	o, d, repo := newTestOrchestrator(t)
	b := &entities.Bug{BugID: "b3", Phase: entities.BugInvestigating, Evidence: "nil pointer at line 42"}
	if err := repo.SaveBug(b); err != nil {
		t.Fatal(err)
	}

	d.Enqueue(contract.RoleRootCauseAnalyzer, agent.Response{Variant: agent.Ok, Output: contract.RootCauseAnalyzerOutput{
		RootCause: "missing nil check before dereference",
	}})
	d.Enqueue(contract.RoleFixPlanner, agent.Response{Variant: agent.Ok, Output: contract.FixPlannerOutput{
		PlanSteps: []string{"add nil check", "add regression test"},
	}})

	if err := o.Investigate(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	if b.Phase != entities.BugPlanned {
		t.Fatalf("expected planned, got %s", b.Phase)
	}
	if b.FixPlan == "" {
		t.Fatal("expected a non-empty fix plan")
	}
}

func TestFixRejectsEmptyCoderOutput(t *testing.T) {
	o, d, repo := newTestOrchestrator(t)
	b := &entities.Bug{BugID: "b4", Phase: entities.BugPlanned, RootCause: "x", FixPlan: "y"}
	if err := repo.SaveBug(b); err != nil {
		t.Fatal(err)
	}

	d.Enqueue(contract.RoleCoder, agent.Response{Variant: agent.Ok, Output: contract.CoderOutput{}})

	if err := o.Fix(context.Background(), b); err == nil {
		t.Fatal("expected empty coder output to fail the fix cycle")
	}
}

func TestFixAdvancesToFixedOnVerifiedSuccess(t *testing.T) {
	o, d, repo := newTestOrchestrator(t)
	b := &entities.Bug{BugID: "b5", Phase: entities.BugPlanned, RootCause: "x", FixPlan: "y"}
	if err := repo.SaveBug(b); err != nil {
		t.Fatal(err)
	}

	d.Enqueue(contract.RoleCoder, agent.Response{Variant: agent.Ok, Output: contract.CoderOutput{
		FilesModified: []string{"handler.go"},
		TestFile:      "handler_test.go",
	}})
	d.Enqueue(contract.RoleCritic, agent.Response{Variant: agent.Ok, Output: contract.CriticOutput{Approved: true, Score: 0.9}})
	d.Enqueue(contract.RoleCritic, agent.Response{Variant: agent.Ok, Output: contract.CriticOutput{Approved: true, Score: 0.9}})
	d.Enqueue(contract.RoleVerifier, agent.Response{Variant: agent.Ok, Output: contract.VerifierOutput{TestsPassed: true, CommitSHA: "abc123"}})

	if err := o.Fix(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	if b.Phase != entities.BugFixed {
		t.Fatalf("expected fixed, got %s", b.Phase)
	}
}

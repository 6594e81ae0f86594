package validation

import (
	"context"
	"testing"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/contract"
)

// focusDispatcher answers each Critic dispatch with the response keyed by
// the critic's focus, so the verdict a critic receives does not depend on
// the order in which Run's concurrent dispatches arrive.
type focusDispatcher map[string]agent.Response

func (d focusDispatcher) Dispatch(ctx context.Context, role contract.Role, input contract.Validatable) agent.Response {
	return d[input.(contract.CriticInput).Focus]
}

func TestSecurityVetoOverridesMajority(t *testing.T) {
	// Two approvals, one security rejection — matches literal scenario 4.
	d := focusDispatcher{
		"style":       {Variant: agent.Ok, Output: contract.CriticOutput{Approved: true, Score: 0.9}},
		"correctness": {Variant: agent.Ok, Output: contract.CriticOutput{Approved: true, Score: 0.8}},
		"security": {Variant: agent.Ok, Output: contract.CriticOutput{
			Approved: false,
			Issues:   []string{"unchecked shell invocation"},
		}},
	}

	critics := []CriticSpec{
		{Focus: "style", Weight: 1},
		{Focus: "correctness", Weight: 1},
		{Focus: "security", Weight: 1, IsSecurity: true},
	}

	rep := Run(context.Background(), d, "diff content", critics)
	if rep.Approved {
		t.Fatal("expected security veto to reject despite 2/3 majority approval")
	}
	if !rep.HumanReviewRequired {
		t.Fatal("expected human_review_required on veto")
	}
	found := false
	for _, issue := range rep.BlockingIssues {
		if issue == "unchecked shell invocation" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the security issue to be surfaced, got %v", rep.BlockingIssues)
	}
}

func TestConsensusApprovesAtThreshold(t *testing.T) {
	d := agent.NewMockDispatcher()
	d.Enqueue(contract.RoleCritic, agent.Response{Variant: agent.Ok, Output: contract.CriticOutput{Approved: true}})
	d.Enqueue(contract.RoleCritic, agent.Response{Variant: agent.Ok, Output: contract.CriticOutput{Approved: true}})
	d.Enqueue(contract.RoleCritic, agent.Response{Variant: agent.Ok, Output: contract.CriticOutput{Approved: false, Issues: []string{"nit"}}})

	critics := []CriticSpec{
		{Focus: "a", Weight: 1},
		{Focus: "b", Weight: 1},
		{Focus: "c", Weight: 1},
	}

	rep := Run(context.Background(), d, "spec text", critics)
	if !rep.Approved {
		t.Fatalf("expected 2/3 weighted approval (66%%) to clear the 60%% threshold: %s", rep.ConsensusSummary)
	}
}

func TestPatternClassifierFlagsShellInvocation(t *testing.T) {
	c := NewPatternClassifier()
	risk, reason := c.Classify(context.Background(), "result := exec.Command(\"rm\", path).Run()")
	if risk != SecurityRiskHigh {
		t.Fatalf("expected high risk, got %s (%s)", risk, reason)
	}
}

func TestPatternClassifierBenignCode(t *testing.T) {
	c := NewPatternClassifier()
	risk, _ := c.Classify(context.Background(), "func add(a, b int) int { return a + b }")
	if risk != SecurityRiskNone {
		t.Fatalf("expected no risk, got %s", risk)
	}
}

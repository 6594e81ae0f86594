package gate

import (
	"context"
	"strings"
	"testing"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/contract"
)

func checkboxes(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("- [ ] do thing\n")
	}
	return b.String()
}

func TestInstantPassBoundary(t *testing.T) {
	g := New(agent.NewMockDispatcher(), 0)
	d, err := g.Evaluate(context.Background(), "t", checkboxes(5), "")
	if err != nil {
		t.Fatal(err)
	}
	if d.NeedsSplit {
		t.Fatal("5 criteria, 0 methods should instant-pass")
	}
}

func TestInstantFailBoundary(t *testing.T) {
	g := New(agent.NewMockDispatcher(), 0)
	d, err := g.Evaluate(context.Background(), "t", checkboxes(13), "")
	if err != nil {
		t.Fatal(err)
	}
	if !d.NeedsSplit {
		t.Fatal("13 criteria should instant-fail")
	}
	if len(d.SplitSuggestions) == 0 {
		t.Fatal("expected split suggestions on instant fail")
	}
}

func TestBorderlineDelegatesToEstimator(t *testing.T) {
	d := agent.NewMockDispatcher()
	d.Enqueue(contract.RoleComplexityGate, agent.Response{
		Variant: agent.Ok,
		Output: contract.ComplexityGateOutput{
			EstimatedTurns: 4,
			NeedsSplit:     false,
			Confidence:     0.6,
			Reasoning:      "moderate",
		},
	})
	g := New(d, 0)
	body := checkboxes(8) // between 5 and 12: borderline
	dec, err := g.Evaluate(context.Background(), "t", body, "spec")
	if err != nil {
		t.Fatal(err)
	}
	if dec.NeedsSplit {
		t.Fatal("estimator said no split")
	}
	if dec.EstimatedTurns != 4 {
		t.Fatalf("expected estimator's turn count, got %d", dec.EstimatedTurns)
	}
}

func TestMaxEstimatedTurnsForcesSplit(t *testing.T) {
	d := agent.NewMockDispatcher()
	d.Enqueue(contract.RoleComplexityGate, agent.Response{
		Variant: agent.Ok,
		Output: contract.ComplexityGateOutput{
			EstimatedTurns: 20,
			NeedsSplit:     false,
			Confidence:     0.5,
		},
	})
	g := New(d, 10) // complexity_max_estimated_turns
	dec, err := g.Evaluate(context.Background(), "t", checkboxes(8), "spec")
	if err != nil {
		t.Fatal(err)
	}
	if !dec.NeedsSplit {
		t.Fatal("estimated_turns above configured max should force split even when estimator disagreed")
	}
}

func TestCountMethodsFiltersFalsePositives(t *testing.T) {
	body := "Call `it(` in prose but also `computeTotal(` for real."
	if n := CountMethods(body); n != 1 {
		t.Fatalf("expected 1 real method after filtering, got %d", n)
	}
}

package preferences

import (
	"context"
	"testing"

	"github.com/devforge/kernel/internal/entities"
)

func TestApprovalRate(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l.Record(Signal{Trigger: entities.TriggerHighRisk, Approved: true})
	l.Record(Signal{Trigger: entities.TriggerHighRisk, Approved: true})
	l.Record(Signal{Trigger: entities.TriggerHighRisk, Approved: false})
	l.Record(Signal{Trigger: entities.TriggerCostSingle, Approved: false})

	rate, count, err := l.ApprovalRate(context.Background(), entities.TriggerHighRisk)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected 3 signals, got %d", count)
	}
	if rate < 0.66 || rate > 0.67 {
		t.Fatalf("expected ~0.667 approval rate, got %f", rate)
	}
}

func TestWeightUpdateRefusedBelowMinSignals(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		l.Record(Signal{Trigger: entities.TriggerHighRisk, Approved: true})
	}

	update, err := l.ProposeWeightUpdate(context.Background(), entities.TriggerHighRisk, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if update.Applied {
		t.Fatal("expected weight update to be refused below the 10-signal floor")
	}
}

func TestWeightUpdateCappedAtTwentyPercent(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 12; i++ {
		l.Record(Signal{Trigger: entities.TriggerHighRisk, Approved: false})
	}

	update, err := l.ProposeWeightUpdate(context.Background(), entities.TriggerHighRisk, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if !update.Applied {
		t.Fatal("expected update to apply with 12 signals")
	}
	maxDelta := 0.25 * 1.20
	if update.AppliedWeight > maxDelta+1e-9 {
		t.Fatalf("expected weight change capped at +20%%, got %f (max %f)", update.AppliedWeight, maxDelta)
	}
}

func TestSimilarDecisionsRanksByOverlap(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l.Record(Signal{Trigger: entities.TriggerHighRisk, Approved: true, Context: "deploy payments service to production"})
	l.Record(Signal{Trigger: entities.TriggerHighRisk, Approved: false, Context: "unrelated database migration notes"})

	results, err := l.SimilarDecisions(context.Background(), "deploy payments to production", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Choice != "approved" {
		t.Fatalf("expected the deploy-related decision to rank first, got %+v", results)
	}
}

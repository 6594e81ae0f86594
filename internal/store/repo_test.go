package store

import (
	"testing"
	"time"

	"github.com/devforge/kernel/internal/entities"
)

func TestRepoFeatureRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r := NewRepo(s)

	f := &entities.Feature{
		FeatureID: "f1",
		Phase:     entities.PhasePRDReady,
		PRD:       "build a thing",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := r.SaveFeature(f); err != nil {
		t.Fatal(err)
	}

	loaded, err := r.LoadFeature("f1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.PRD != f.PRD {
		t.Fatalf("round-trip mismatch: %+v", loaded)
	}

	missing, err := r.LoadFeature("does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for missing feature")
	}
}

func TestRepoPendingCheckpoints(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r := NewRepo(s)

	pending := &entities.Checkpoint{CheckpointID: "c1", Status: entities.CheckpointPending, CreatedAt: time.Now()}
	resolved := &entities.Checkpoint{CheckpointID: "c2", Status: entities.CheckpointApproved, CreatedAt: time.Now()}
	if err := r.SaveCheckpoint(pending); err != nil {
		t.Fatal(err)
	}
	if err := r.SaveCheckpoint(resolved); err != nil {
		t.Fatal(err)
	}

	list, err := r.ListPendingCheckpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].CheckpointID != "c1" {
		t.Fatalf("expected exactly checkpoint c1 pending, got %+v", list)
	}
}

func TestFeaturePhaseTransitions(t *testing.T) {
	cases := []struct {
		from, to entities.FeaturePhase
		legal    bool
	}{
		{entities.PhasePRDReady, entities.PhaseSpecInProgress, true},
		{entities.PhasePRDReady, entities.PhaseImplementing, false},
		{entities.PhaseSpecNeedsApproval, entities.PhaseSpecApproved, true},
		{entities.PhaseImplementing, entities.PhaseComplete, true},
		{entities.PhaseComplete, entities.PhaseFailed, false},
		{entities.PhaseImplementing, entities.PhaseFailed, true},
		{entities.PhaseIssuesCreated, entities.PhaseBlocked, true},
	}
	for _, c := range cases {
		if got := entities.IsLegalTransition(c.from, c.to); got != c.legal {
			t.Errorf("IsLegalTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.legal)
		}
	}
}

func TestTaskReadiness(t *testing.T) {
	byNumber := map[int]entities.Task{
		1: {IssueNumber: 1, Stage: entities.StageDone},
		2: {IssueNumber: 2, Stage: entities.StageInProgress},
		3: {IssueNumber: 3, Stage: entities.StageReady, Dependencies: []int{1}},
		4: {IssueNumber: 4, Stage: entities.StageBacklog, Dependencies: []int{2}},
		5: {IssueNumber: 5, Stage: entities.StageBacklog},
	}

	if !byNumber[3].IsReady(byNumber) {
		t.Error("task 3 depends only on DONE task 1, expected ready")
	}
	if byNumber[4].IsReady(byNumber) {
		t.Error("task 4 depends on in-progress task 2, expected not ready")
	}
	if !byNumber[5].IsReady(byNumber) {
		t.Error("zero-dependency task must be READY at creation")
	}
}

func TestTaskReadinessThroughSplit(t *testing.T) {
	byNumber := map[int]entities.Task{
		5:  {IssueNumber: 5, Stage: entities.StageSplit, ChildIssues: []int{10, 11, 12}},
		10: {IssueNumber: 10, Stage: entities.StageDone},
		11: {IssueNumber: 11, Stage: entities.StageDone},
		12: {IssueNumber: 12, Stage: entities.StageInProgress},
		20: {IssueNumber: 20, Stage: entities.StageBacklog, Dependencies: []int{5}},
	}

	if byNumber[20].IsReady(byNumber) {
		t.Error("dependent of a SPLIT task should not be ready until all children are DONE")
	}

	byNumber[12] = entities.Task{IssueNumber: 12, Stage: entities.StageDone}
	task20 := byNumber[20]
	if !task20.IsReady(byNumber) {
		t.Error("dependent of a SPLIT task should be ready once every child is DONE")
	}
}

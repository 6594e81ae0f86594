// Package bug implements the bug orchestrator (§4.11): a state machine
// mirroring the feature orchestrator's implementation cycle, but dispatching
// BugResearcher → RootCauseAnalyzer → FixPlanner → Coder → Verifier, with a
// human approval checkpoint between planning and fixing.
package bug

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/checkpoint"
	"github.com/devforge/kernel/internal/contract"
	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/eventlog"
	"github.com/devforge/kernel/internal/recovery"
	"github.com/devforge/kernel/internal/store"
	"github.com/devforge/kernel/internal/telemetry"
	"github.com/devforge/kernel/internal/validation"
)

// EpisodeRecorder is the subset of internal/episodes.Store the orchestrator
// needs to close the loop on a unit of work.
type EpisodeRecorder interface {
	RecordAttempt(ctx context.Context, ep entities.Episode) error
}

// Orchestrator drives bugs through the reported..fixed pipeline.
type Orchestrator struct {
	repo        *store.Repo
	dispatcher  agent.Dispatcher
	recovery    *recovery.Manager
	checkpoints *checkpoint.Manager
	episodes    EpisodeRecorder
	logger      *logging.Logger
}

// New constructs a bug Orchestrator.
func New(repo *store.Repo, dispatcher agent.Dispatcher, rec *recovery.Manager, cp *checkpoint.Manager, eps EpisodeRecorder) *Orchestrator {
	return &Orchestrator{
		repo:        repo,
		dispatcher:  dispatcher,
		recovery:    rec,
		checkpoints: cp,
		episodes:    eps,
		logger:      logging.New().WithComponent("bug"),
	}
}

func (o *Orchestrator) events(bugID string) (*eventlog.Log, error) {
	return eventlog.Open(o.repo.Root(), "bug-"+bugID)
}

// Reproduce runs reported → reproducing → investigating: BugResearcher
// confirms the report and gathers evidence.
func (o *Orchestrator) Reproduce(ctx context.Context, b *entities.Bug) error {
	if b.Phase != entities.BugReported {
		return fmt.Errorf("bug %s: Reproduce requires reported, got %s", b.BugID, b.Phase)
	}
	ev, err := o.events(b.BugID)
	if err != nil {
		return err
	}
	b.Phase = entities.BugReproducing
	if err := o.repo.SaveBug(b); err != nil {
		return err
	}

	resp := o.dispatcher.Dispatch(ctx, contract.RoleBugResearcher, contract.BugResearcherInput{
		BugID:  b.BugID,
		Report: b.Report,
	})
	if resp.Variant != agent.Ok {
		return o.fail(b, ev, "bug_researcher_failed", resp.Err)
	}
	out, ok := resp.Output.(contract.BugResearcherOutput)
	if !ok {
		return o.fail(b, ev, "bug_researcher_bad_output", fmt.Errorf("unexpected output type %T", resp.Output))
	}
	if !out.Confirmed {
		return o.fail(b, ev, "bug_not_reproducible", fmt.Errorf("bug researcher could not confirm the report"))
	}
	b.Evidence = out.Evidence
	b.Phase = entities.BugInvestigating
	ev.Append("bug", "reproduced", map[string]any{"files": out.AffectedFiles})
	return o.repo.SaveBug(b)
}

// Investigate runs investigating → planned: RootCauseAnalyzer locates the
// defect, FixPlanner drafts the remediation steps.
func (o *Orchestrator) Investigate(ctx context.Context, b *entities.Bug) error {
	if b.Phase != entities.BugInvestigating {
		return fmt.Errorf("bug %s: Investigate requires investigating, got %s", b.BugID, b.Phase)
	}
	ev, err := o.events(b.BugID)
	if err != nil {
		return err
	}

	rresp := o.dispatcher.Dispatch(ctx, contract.RoleRootCauseAnalyzer, contract.RootCauseAnalyzerInput{
		BugID:    b.BugID,
		Evidence: b.Evidence,
	})
	if rresp.Variant != agent.Ok {
		return o.fail(b, ev, "root_cause_analyzer_failed", rresp.Err)
	}
	rout, ok := rresp.Output.(contract.RootCauseAnalyzerOutput)
	if !ok {
		return o.fail(b, ev, "root_cause_analyzer_bad_output", fmt.Errorf("unexpected output type %T", rresp.Output))
	}
	b.RootCause = rout.RootCause
	ev.Append("bug", "root_cause_identified", map[string]any{"candidates": rout.CandidateLocations})

	fresp := o.dispatcher.Dispatch(ctx, contract.RoleFixPlanner, contract.FixPlannerInput{
		BugID:     b.BugID,
		RootCause: b.RootCause,
	})
	if fresp.Variant != agent.Ok {
		return o.fail(b, ev, "fix_planner_failed", fresp.Err)
	}
	fout, ok := fresp.Output.(contract.FixPlannerOutput)
	if !ok {
		return o.fail(b, ev, "fix_planner_bad_output", fmt.Errorf("unexpected output type %T", fresp.Output))
	}
	b.FixPlan = joinSteps(fout.PlanSteps)
	b.Phase = entities.BugPlanned
	ev.Append("bug", "fix_planned", map[string]any{"steps": len(fout.PlanSteps)})
	return o.repo.SaveBug(b)
}

func joinSteps(steps []string) string {
	out := ""
	for i, s := range steps {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%d. %s", i+1, s)
	}
	return out
}

// RequestFixApproval creates the planned → fixing approval checkpoint
// (§4.11). The caller resolves it externally and then calls Fix.
func (o *Orchestrator) RequestFixApproval(ctx context.Context, b *entities.Bug) (*entities.Checkpoint, error) {
	if b.Phase != entities.BugPlanned {
		return nil, fmt.Errorf("bug %s: RequestFixApproval requires planned, got %s", b.BugID, b.Phase)
	}
	if o.checkpoints == nil {
		return nil, fmt.Errorf("bug %s: no checkpoint manager configured", b.BugID)
	}
	cp, err := o.checkpoints.Create(ctx, checkpoint.QuestionInput{
		Trigger:          entities.TriggerApprovalRequired,
		ProgressSnapshot: fmt.Sprintf("bug %s: root cause identified, fix plan ready", b.BugID),
		Question:         "Approve the fix plan for bug " + b.BugID + "?",
		Options: []entities.Option{
			{ID: "approve", Label: "Approve", IsRecommended: true},
			{ID: "reject", Label: "Reject"},
		},
	})
	if err != nil {
		return nil, err
	}
	b.ApprovalCheckpointID = cp.CheckpointID
	if serr := o.repo.SaveBug(b); serr != nil {
		return cp, serr
	}
	return cp, nil
}

// pendingApprovalFeedback pulls the resolved fix-approval checkpoint's notes
// (if any) into a prompt addendum and clears the link, so the note is read
// back into exactly the next Coder dispatch (§4.6.4) rather than every
// subsequent one.
func (o *Orchestrator) pendingApprovalFeedback(b *entities.Bug) string {
	if b.ApprovalCheckpointID == "" || o.checkpoints == nil {
		return ""
	}
	cp, err := o.checkpoints.Get(b.ApprovalCheckpointID)
	if err != nil || cp == nil || cp.Status == entities.CheckpointPending {
		return ""
	}
	b.ApprovalCheckpointID = ""
	if cp.ResolutionNotes == "" {
		return ""
	}
	return checkpoint.IncorporateFeedback([]checkpoint.FeedbackNote{
		{Trigger: cp.Trigger, Notes: cp.ResolutionNotes},
	}, time.Now())
}

// Fix runs planned → fixing → verifying → fixed: dispatches Coder through
// the recovery manager, validates the diff, then dispatches Verifier. A bug
// already in fixing or verifying is accepted too and runs the cycle again.
// On verifier failure the bug is put back in fixing (retryable) rather than
// blocked, so a later Fix call reruns the Coder through the recovery
// manager; the verifier's result is not passed to that rerun. The feature
// orchestrator, by contrast, marks the task BLOCKED when verification fails.
func (o *Orchestrator) Fix(ctx context.Context, b *entities.Bug) error {
	if b.Phase != entities.BugPlanned && b.Phase != entities.BugFixing && b.Phase != entities.BugVerifying {
		return fmt.Errorf("bug %s: Fix requires planned (post-approval), fixing or verifying, got %s", b.BugID, b.Phase)
	}
	ev, err := o.events(b.BugID)
	if err != nil {
		return err
	}
	b.Phase = entities.BugFixing
	if err := o.repo.SaveBug(b); err != nil {
		return err
	}

	ctx, span := telemetry.StartPhaseSpan(ctx, "bug", b.BugID, "fixing")
	var cycleErr error
	defer func() { telemetry.EndPhaseSpan(span, cycleErr) }()

	start := time.Now()
	goal := fmt.Sprintf("bug=%s fix", b.BugID)
	priorSummaries := []string{b.RootCause, b.FixPlan}
	if feedback := o.pendingApprovalFeedback(b); feedback != "" {
		priorSummaries = append(priorSummaries, feedback)
		ev.Append("bug", "approval_feedback_incorporated", map[string]any{"bug_id": b.BugID, "checkpoint_notes": feedback})
	}
	outcome, rerr := o.recovery.Run(ctx, goal,
		func(ctx context.Context) agent.Response {
			return o.dispatcher.Dispatch(ctx, contract.RoleCoder, contract.CoderInput{
				FeatureID:      b.BugID,
				IssueNumber:    1,
				PriorSummaries: priorSummaries,
			})
		},
		nil, nil,
	)
	if rerr != nil {
		cycleErr = o.fail(b, ev, "bug_fix_failed", rerr)
		return cycleErr
	}
	coderOut, ok := outcome.Response.Output.(contract.CoderOutput)
	if !ok {
		cycleErr = o.fail(b, ev, "bug_fix_bad_output", fmt.Errorf("unexpected coder output type %T", outcome.Response.Output))
		return cycleErr
	}
	if len(coderOut.FilesCreated) == 0 && len(coderOut.FilesModified) == 0 && coderOut.TestFile == "" {
		ev.Append("bug", "coder_no_files_generated", map[string]any{"bug_id": b.BugID})
		cycleErr = fmt.Errorf("bug %s: coder produced no files and no test file", b.BugID)
		return cycleErr
	}

	artifact := joinFiles(coderOut.FilesCreated, coderOut.FilesModified)
	report := validation.Run(ctx, o.dispatcher, artifact, []validation.CriticSpec{
		{Focus: "correctness", Weight: 1},
		{Focus: "security", Weight: 1, IsSecurity: true},
	})
	ev.Append("bug", "validation_report", map[string]any{"bug_id": b.BugID, "approved": report.Approved})
	if !report.Approved {
		b.Phase = entities.BugBlocked
		o.repo.SaveBug(b)
		cycleErr = fmt.Errorf("bug %s: validation rejected fix: %s", b.BugID, report.ConsensusSummary)
		return cycleErr
	}

	b.Phase = entities.BugVerifying
	if err := o.repo.SaveBug(b); err != nil {
		cycleErr = err
		return cycleErr
	}

	vresp := o.dispatcher.Dispatch(ctx, contract.RoleVerifier, contract.VerifierInput{
		FeatureID:   b.BugID,
		IssueNumber: 1,
		Files:       append(append([]string{}, coderOut.FilesCreated...), coderOut.FilesModified...),
		TestFile:    coderOut.TestFile,
	})
	vout, ok := vresp.Output.(contract.VerifierOutput)
	if vresp.Variant != agent.Ok || !ok || !vout.TestsPassed {
		ev.Append("bug", "verify_failed", map[string]any{"bug_id": b.BugID})
		b.Phase = entities.BugFixing // stays retryable, routed back through recovery on next call
		o.repo.SaveBug(b)
		cycleErr = fmt.Errorf("bug %s: verification failed", b.BugID)
		return cycleErr
	}

	b.Phase = entities.BugFixed
	b.CostUSD += estimateCost(outcome.TotalAttempts)
	if err := o.repo.SaveBug(b); err != nil {
		cycleErr = err
		return cycleErr
	}
	ev.Append("bug", "fixed", map[string]any{"commit": vout.CommitSHA})

	if o.episodes != nil {
		o.episodes.RecordAttempt(ctx, entities.Episode{
			Goal:            goal,
			Outcome:         entities.EpisodeOutcome{Success: true, Artifacts: coderOut.FilesCreated},
			RecoveryLevel:   outcome.LevelUsed,
			DurationSeconds: time.Since(start).Seconds(),
		})
	}
	return nil
}

func joinFiles(created, modified []string) string {
	out := ""
	for _, f := range created {
		out += f + "\n"
	}
	for _, f := range modified {
		out += f + "\n"
	}
	return out
}

func estimateCost(attempts int) float64 {
	return float64(attempts) * 0.05
}

func (o *Orchestrator) fail(b *entities.Bug, ev *eventlog.Log, kind string, cause error) error {
	b.Phase = entities.BugBlocked
	ev.Append("bug", kind, map[string]any{"error": cause.Error()})
	o.repo.SaveBug(b)
	o.logger.Error(kind, map[string]interface{}{"bug_id": b.BugID, "error": cause.Error()})
	return fmt.Errorf("%s: %w", kind, cause)
}

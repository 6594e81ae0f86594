// Package feature implements the feature orchestrator (§4.10): the state
// machine that carries a feature from a raw PRD through spec authoring,
// issue decomposition, and per-issue implementation to completion.
package feature

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/checkpoint"
	"github.com/devforge/kernel/internal/contract"
	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/eventlog"
	"github.com/devforge/kernel/internal/gate"
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

// Config bounds the orchestrator's spec critic loop and per-unit turn
// budget, sourced from kernelconfig's closed set.
type Config struct {
	MaxCriticRounds          int
	SpecCriticScoreThreshold float64
	MaxEstimatedTurns        int
	MaxRecoveryAttempts      int
	// SkipEmptyOutputValidation, when true, skips the validation-layer
	// critic panel for the coder's artifact. It does not relax the
	// empty-output check: a coder result with no files always fails the
	// cycle.
	SkipEmptyOutputValidation bool
}

// Orchestrator drives features through the PRD_READY..COMPLETE DAG.
type Orchestrator struct {
	repo      *store.Repo
	dispatcher agent.Dispatcher
	gate      *gate.Gate
	recovery  *recovery.Manager
	checkpoints *checkpoint.Manager
	episodes  EpisodeRecorder
	cfg       Config
	logger    *logging.Logger
}

// New constructs a feature Orchestrator.
func New(repo *store.Repo, dispatcher agent.Dispatcher, g *gate.Gate, rec *recovery.Manager, cp *checkpoint.Manager, eps EpisodeRecorder, cfg Config) *Orchestrator {
	return &Orchestrator{
		repo:        repo,
		dispatcher:  dispatcher,
		gate:        g,
		recovery:    rec,
		checkpoints: cp,
		episodes:    eps,
		cfg:         cfg,
		logger:      logging.New().WithComponent("feature"),
	}
}

func (o *Orchestrator) events(featureID string) (*eventlog.Log, error) {
	return eventlog.Open(o.repo.Root(), featureID)
}

// StartSpec runs PRD_READY → SPEC_IN_PROGRESS → SPEC_NEEDS_APPROVAL/SPEC_APPROVED:
// SpecAuthor drafts a spec, then a bounded critic/revise loop either clears
// the average-score threshold (auto-advancing toward approval) or leaves the
// feature at SPEC_NEEDS_APPROVAL for a human checkpoint.
func (o *Orchestrator) StartSpec(ctx context.Context, f *entities.Feature) error {
	if f.Phase != entities.PhasePRDReady {
		return fmt.Errorf("feature %s: StartSpec requires PRD_READY, got %s", f.FeatureID, f.Phase)
	}
	ev, err := o.events(f.FeatureID)
	if err != nil {
		return err
	}

	f.Phase = entities.PhaseSpecInProgress
	if err := o.repo.SaveFeature(f); err != nil {
		return err
	}

	resp := o.dispatcher.Dispatch(ctx, contract.RoleSpecAuthor, contract.SpecAuthorInput{
		FeatureID: f.FeatureID,
		PRD:       f.PRD,
	})
	if resp.Variant != agent.Ok {
		return o.fail(f, ev, "spec_author_failed", resp.Err)
	}
	out, ok := resp.Output.(contract.SpecAuthorOutput)
	if !ok {
		return o.fail(f, ev, "spec_author_bad_output", fmt.Errorf("unexpected output type %T", resp.Output))
	}
	spec := out.SpecMarkdown

	var avgScore float64
	var lastFeedback string
	rounds := o.cfg.MaxCriticRounds
	if rounds <= 0 {
		rounds = 3
	}
	for round := 0; round < rounds; round++ {
		cresp := o.dispatcher.Dispatch(ctx, contract.RoleSpecCritic, contract.SpecCriticInput{
			FeatureID: f.FeatureID,
			Spec:      spec,
			PRD:       f.PRD,
			Round:     round,
		})
		if cresp.Variant != agent.Ok {
			return o.fail(f, ev, "spec_critic_failed", cresp.Err)
		}
		cout, ok := cresp.Output.(contract.SpecCriticOutput)
		if !ok {
			return o.fail(f, ev, "spec_critic_bad_output", fmt.Errorf("unexpected output type %T", cresp.Output))
		}
		avgScore = cout.Score
		lastFeedback = cout.Feedback
		ev.Append("feature", "spec_critic_round", map[string]any{"round": round, "score": cout.Score})
		if avgScore >= o.cfg.SpecCriticScoreThreshold {
			break
		}
		// Re-author with feedback incorporated for the next round.
		resp = o.dispatcher.Dispatch(ctx, contract.RoleSpecAuthor, contract.SpecAuthorInput{
			FeatureID: f.FeatureID,
			PRD:       f.PRD + "\n\nCritic feedback:\n" + lastFeedback,
		})
		if resp.Variant != agent.Ok {
			return o.fail(f, ev, "spec_author_revise_failed", resp.Err)
		}
		out, ok = resp.Output.(contract.SpecAuthorOutput)
		if !ok {
			return o.fail(f, ev, "spec_author_bad_output", fmt.Errorf("unexpected output type %T", resp.Output))
		}
		spec = out.SpecMarkdown
	}

	f.Spec = spec
	if avgScore >= o.cfg.SpecCriticScoreThreshold {
		f.Phase = entities.PhaseSpecApproved
		ev.Append("feature", "spec_auto_approved", map[string]any{"score": avgScore})
	} else {
		f.Phase = entities.PhaseSpecNeedsApproval
		ev.Append("feature", "spec_needs_approval", map[string]any{"score": avgScore, "feedback": lastFeedback})
	}
	return o.repo.SaveFeature(f)
}

// RequestSpecApproval creates the SPEC_NEEDS_APPROVAL checkpoint a human
// resolves before ApproveSpec can run.
func (o *Orchestrator) RequestSpecApproval(ctx context.Context, f *entities.Feature, criticScore float64, feedback string) (*entities.Checkpoint, error) {
	if f.Phase != entities.PhaseSpecNeedsApproval {
		return nil, fmt.Errorf("feature %s: RequestSpecApproval requires SPEC_NEEDS_APPROVAL, got %s", f.FeatureID, f.Phase)
	}
	if o.checkpoints == nil {
		return nil, fmt.Errorf("feature %s: no checkpoint manager configured", f.FeatureID)
	}
	cp, err := o.checkpoints.Create(ctx, checkpoint.QuestionInput{
		Trigger:          entities.TriggerApprovalRequired,
		ProgressSnapshot: fmt.Sprintf("feature %s: spec critic score %.2f below threshold", f.FeatureID, criticScore),
		Question:         "Approve the spec for feature " + f.FeatureID + " despite the critic score?",
		Options: []entities.Option{
			{ID: "approve", Label: "Approve", Description: feedback, IsRecommended: false},
			{ID: "reject", Label: "Reject", IsRecommended: true},
		},
	})
	if err != nil {
		return nil, err
	}
	f.ApprovalCheckpointID = cp.CheckpointID
	if serr := o.repo.SaveFeature(f); serr != nil {
		return cp, serr
	}
	return cp, nil
}

// pendingApprovalFeedback pulls the resolved spec-approval checkpoint's
// notes (if any) into a prompt addendum and clears the link, so the note
// is read back into exactly the next dispatch (§4.6.4) rather than every
// subsequent one.
func (o *Orchestrator) pendingApprovalFeedback(f *entities.Feature) string {
	if f.ApprovalCheckpointID == "" || o.checkpoints == nil {
		return ""
	}
	cp, err := o.checkpoints.Get(f.ApprovalCheckpointID)
	if err != nil || cp == nil || cp.Status == entities.CheckpointPending {
		return ""
	}
	f.ApprovalCheckpointID = ""
	if cp.ResolutionNotes == "" {
		return ""
	}
	return checkpoint.IncorporateFeedback([]checkpoint.FeedbackNote{
		{Trigger: cp.Trigger, Notes: cp.ResolutionNotes},
	}, time.Now())
}

// ApproveSpec advances SPEC_NEEDS_APPROVAL → SPEC_APPROVED following an
// external human decision (the caller already resolved the checkpoint).
func (o *Orchestrator) ApproveSpec(f *entities.Feature) error {
	if f.Phase != entities.PhaseSpecNeedsApproval {
		return fmt.Errorf("feature %s: ApproveSpec requires SPEC_NEEDS_APPROVAL, got %s", f.FeatureID, f.Phase)
	}
	f.Phase = entities.PhaseSpecApproved
	return o.repo.SaveFeature(f)
}

// CreateIssues runs SPEC_APPROVED → ISSUES_CREATED: IssueCreator emits the
// ordered task list with dependencies and sizes.
func (o *Orchestrator) CreateIssues(ctx context.Context, f *entities.Feature) error {
	if f.Phase != entities.PhaseSpecApproved {
		return fmt.Errorf("feature %s: CreateIssues requires SPEC_APPROVED, got %s", f.FeatureID, f.Phase)
	}
	ev, err := o.events(f.FeatureID)
	if err != nil {
		return err
	}

	spec := f.Spec
	if feedback := o.pendingApprovalFeedback(f); feedback != "" {
		spec += "\n\n" + feedback
		ev.Append("feature", "approval_feedback_incorporated", map[string]any{"checkpoint_notes": feedback})
	}
	resp := o.dispatcher.Dispatch(ctx, contract.RoleIssueCreator, contract.IssueCreatorInput{
		FeatureID: f.FeatureID,
		Spec:      spec,
	})
	if resp.Variant != agent.Ok {
		return o.fail(f, ev, "issue_creator_failed", resp.Err)
	}
	out, ok := resp.Output.(contract.IssueCreatorOutput)
	if !ok {
		return o.fail(f, ev, "issue_creator_bad_output", fmt.Errorf("unexpected output type %T", resp.Output))
	}

	tasks := make([]entities.Task, 0, len(out.Issues))
	for i, d := range out.Issues {
		tasks = append(tasks, entities.Task{
			IssueNumber:   i + 1,
			Stage:         entities.StageBacklog,
			Title:         d.Title,
			Body:          d.Body,
			Dependencies:  d.Dependencies,
			EstimatedSize: entities.EstimatedSize(d.EstimatedSize),
		})
	}
	f.Tasks = tasks
	f.Phase = entities.PhaseIssuesCreated
	ev.Append("feature", "issues_created", map[string]any{"count": len(tasks)})
	return o.repo.SaveFeature(f)
}

// Greenlight runs ISSUES_CREATED → GREENLIT, marking every backlog task
// READY. Called by the human-approval surface or an auto-rule.
func (o *Orchestrator) Greenlight(f *entities.Feature) error {
	if f.Phase != entities.PhaseIssuesCreated {
		return fmt.Errorf("feature %s: Greenlight requires ISSUES_CREATED, got %s", f.FeatureID, f.Phase)
	}
	for i := range f.Tasks {
		if f.Tasks[i].Stage == entities.StageBacklog {
			f.Tasks[i].Stage = entities.StageReady
		}
	}
	f.Phase = entities.PhaseGreenlit
	return o.repo.SaveFeature(f)
}

func byNumber(tasks []entities.Task) map[int]entities.Task {
	m := make(map[int]entities.Task, len(tasks))
	for _, t := range tasks {
		m[t.IssueNumber] = t
	}
	return m
}

var excludedFromSelection = map[entities.TaskStage]bool{
	entities.StageDone:    true,
	entities.StageSplit:   true,
	entities.StageSkipped: true,
	entities.StageBlocked: true,
}

// selectionPriority ranks a task for the "in-progress > new" tie-break of
// §4.10 among tasks not already excluded by stage. Resuming an in-progress
// task outranks starting a fresh one; lower is higher priority.
func selectionPriority(t entities.Task) int {
	if t.Stage == entities.StageInProgress {
		return 0
	}
	return 1
}

// NextTask returns the highest-priority READY task not excluded by stage,
// or nil if none remain.
func NextTask(f *entities.Feature) *entities.Task {
	idx := byNumber(f.Tasks)
	var best *entities.Task
	bestPriority := -1
	for i := range f.Tasks {
		t := f.Tasks[i]
		if excludedFromSelection[t.Stage] {
			continue
		}
		if !t.IsReady(idx) {
			continue
		}
		p := selectionPriority(t)
		if best == nil || p < bestPriority {
			best = &f.Tasks[i]
			bestPriority = p
		}
	}
	return best
}

// IsComplete reports whether every non-SPLIT task is DONE or SKIPPED.
func IsComplete(f *entities.Feature) bool {
	for _, t := range f.Tasks {
		if t.Stage == entities.StageSplit {
			continue
		}
		if t.Stage != entities.StageDone && t.Stage != entities.StageSkipped {
			return false
		}
	}
	return true
}

// RunCycle executes one implementation-cycle iteration (§4.10 step list) for
// the highest-priority READY task, advancing the feature to COMPLETE when
// nothing remains. It acquires the (feature, issue) lock for the duration of
// the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context, f *entities.Feature) error {
	if f.Phase != entities.PhaseGreenlit && f.Phase != entities.PhaseImplementing {
		return fmt.Errorf("feature %s: RunCycle requires GREENLIT or IMPLEMENTING, got %s", f.FeatureID, f.Phase)
	}
	if f.Phase == entities.PhaseGreenlit {
		f.Phase = entities.PhaseImplementing
		if err := o.repo.SaveFeature(f); err != nil {
			return err
		}
	}

	task := NextTask(f)
	if task == nil {
		if IsComplete(f) {
			f.Phase = entities.PhaseComplete
			return o.repo.SaveFeature(f)
		}
		return fmt.Errorf("feature %s: no READY task and feature is not complete (blocked dependency chain)", f.FeatureID)
	}
	issueNumber := task.IssueNumber

	ev, err := o.events(f.FeatureID)
	if err != nil {
		return err
	}

	return o.repo.WithLock(f.FeatureID, issueNumber, func() error {
		return o.runImplementationCycle(ctx, f, issueNumber, ev)
	})
}

func (o *Orchestrator) runImplementationCycle(ctx context.Context, f *entities.Feature, issueNumber int, ev *eventlog.Log) error {
	ctx, span := telemetry.StartPhaseSpan(ctx, "feature", f.FeatureID, "implementing")
	var cycleErr error
	defer func() { telemetry.EndPhaseSpan(span, cycleErr) }()

	sess := &entities.Session{
		SessionID:   fmt.Sprintf("%s-%d-%d", f.FeatureID, issueNumber, time.Now().UnixNano()),
		FeatureID:   f.FeatureID,
		IssueNumber: issueNumber,
		StartedAt:   time.Now(),
		Status:      entities.SessionActive,
	}
	if cycleErr = o.repo.SaveSession(sess); cycleErr != nil {
		return cycleErr
	}

	ti := taskIndex(f, issueNumber)
	if ti < 0 {
		cycleErr = fmt.Errorf("issue %d not found on feature %s", issueNumber, f.FeatureID)
		return cycleErr
	}
	task := f.Tasks[ti]
	task.Stage = entities.StageInProgress
	f.Tasks[ti] = task
	if cycleErr = o.repo.SaveFeature(f); cycleErr != nil {
		return cycleErr
	}

	// Step 2: complexity gate.
	decision, gerr := o.gate.Evaluate(ctx, task.Title, task.Body, f.Spec)
	if gerr != nil {
		cycleErr = gerr
		return cycleErr
	}
	if decision.NeedsSplit {
		if cycleErr = o.applySplit(ctx, f, issueNumber, decision, ev); cycleErr != nil {
			return cycleErr
		}
		sess.Status = entities.SessionCompleted
		o.repo.SaveSession(sess)
		return nil // caller restarts selection per §4.10
	}

	// Step 3: dispatch Coder through the recovery manager.
	registry := buildRegistry(f)
	coderGoal := fmt.Sprintf("feature=%s issue=%d", f.FeatureID, issueNumber)
	outcome, rerr := o.recovery.Run(ctx, coderGoal,
		func(ctx context.Context) agent.Response {
			return o.dispatcher.Dispatch(ctx, contract.RoleCoder, contract.CoderInput{
				FeatureID: f.FeatureID,
				IssueNumber: issueNumber,
				Registry:    registry,
			})
		},
		nil, nil,
	)
	if rerr != nil {
		cycleErr = rerr
		ev.Append("feature", "coder_failed", map[string]any{"issue": issueNumber, "error": rerr.Error()})
		o.markBlocked(f, ti, sess)
		return cycleErr
	}
	coderOut, ok := outcome.Response.Output.(contract.CoderOutput)
	if !ok {
		cycleErr = fmt.Errorf("issue %d: unexpected coder output type %T", issueNumber, outcome.Response.Output)
		return cycleErr
	}
	if len(coderOut.FilesCreated) == 0 && len(coderOut.FilesModified) == 0 && coderOut.TestFile == "" {
		// Empty agent output is always a failure (§7); task stays IN_PROGRESS
		// and retryable, no file is written.
		ev.Append("feature", "coder_no_files_generated", map[string]any{"issue": issueNumber})
		cycleErr = fmt.Errorf("issue %d: coder produced no files and no test file", issueNumber)
		sess.Status = entities.SessionInterrupted
		o.repo.SaveSession(sess)
		return cycleErr
	}

	// Step 4: validation layer.
	artifact := strings.Join(append(append([]string{}, coderOut.FilesCreated...), coderOut.FilesModified...), "\n")
	if !o.cfg.SkipEmptyOutputValidation {
		report := validation.Run(ctx, o.dispatcher, artifact, []validation.CriticSpec{
			{Focus: "correctness", Weight: 1},
			{Focus: "style", Weight: 0.5},
			{Focus: "security", Weight: 1, IsSecurity: true},
		})
		ev.Append("feature", "validation_report", map[string]any{"issue": issueNumber, "approved": report.Approved, "summary": report.ConsensusSummary})
		if !report.Approved {
			cycleErr = fmt.Errorf("issue %d: validation rejected artifact: %s", issueNumber, report.ConsensusSummary)
			o.markBlocked(f, ti, sess)
			return cycleErr
		}
	}

	// Step 5: dispatch Verifier.
	vresp := o.dispatcher.Dispatch(ctx, contract.RoleVerifier, contract.VerifierInput{
		FeatureID:   f.FeatureID,
		IssueNumber: issueNumber,
		Files:       append(append([]string{}, coderOut.FilesCreated...), coderOut.FilesModified...),
		TestFile:    coderOut.TestFile,
	})
	if vresp.Variant != agent.Ok {
		cycleErr = fmt.Errorf("issue %d: verifier dispatch failed: %v", issueNumber, vresp.Err)
		o.markBlocked(f, ti, sess)
		return cycleErr
	}
	vout, ok := vresp.Output.(contract.VerifierOutput)
	if !ok || !vout.TestsPassed {
		ev.Append("feature", "verify_failed", map[string]any{"issue": issueNumber})
		cycleErr = fmt.Errorf("issue %d: verification failed", issueNumber)
		o.markBlocked(f, ti, sess)
		return cycleErr
	}

	// Step 6: commit, release, record episode, append events.
	task.Stage = entities.StageDone
	f.Tasks[ti] = task
	f.TotalCostUSD += estimateCost(outcome.TotalAttempts)
	if IsComplete(f) {
		f.Phase = entities.PhaseComplete
	}
	if cycleErr = o.repo.SaveFeature(f); cycleErr != nil {
		return cycleErr
	}
	sess.Status = entities.SessionCompleted
	o.repo.SaveSession(sess)
	ev.Append("feature", "issue_done", map[string]any{"issue": issueNumber, "commit": vout.CommitSHA})

	if o.episodes != nil {
		o.episodes.RecordAttempt(ctx, entities.Episode{
			Goal:          coderGoal,
			Outcome:       entities.EpisodeOutcome{Success: true, Artifacts: coderOut.FilesCreated},
			RecoveryLevel: outcome.LevelUsed,
			DurationSeconds: time.Since(sess.StartedAt).Seconds(),
		})
	}
	return nil
}

func (o *Orchestrator) markBlocked(f *entities.Feature, taskIdx int, sess *entities.Session) {
	f.Tasks[taskIdx].Stage = entities.StageBlocked
	o.repo.SaveFeature(f)
	sess.Status = entities.SessionInterrupted
	o.repo.SaveSession(sess)
}

func taskIndex(f *entities.Feature, issueNumber int) int {
	for i, t := range f.Tasks {
		if t.IssueNumber == issueNumber {
			return i
		}
	}
	return -1
}

func buildRegistry(f *entities.Feature) map[string]string {
	reg := make(map[string]string)
	for _, t := range f.Tasks {
		if t.Stage == entities.StageDone {
			reg[fmt.Sprintf("issue-%d", t.IssueNumber)] = t.Title
		}
	}
	return reg
}

// applySplit runs IssueSplitter and rewires the task graph per §4.10 step 2
// and the literal split-on-complexity scenario: the first child inherits the
// parent's dependencies, each subsequent child depends on the previous, any
// task that depended on the parent now depends on the last child, and the
// parent becomes SPLIT.
func (o *Orchestrator) applySplit(ctx context.Context, f *entities.Feature, issueNumber int, decision gate.Decision, ev *eventlog.Log) error {
	ti := taskIndex(f, issueNumber)
	parent := f.Tasks[ti]

	resp := o.dispatcher.Dispatch(ctx, contract.RoleIssueSplitter, contract.IssueSplitterInput{
		Issue: contract.IssueDraft{
			Title:        parent.Title,
			Body:         parent.Body,
			Dependencies: parent.Dependencies,
		},
		Suggestions: decision.SplitSuggestions,
	})
	if resp.Variant != agent.Ok {
		return fmt.Errorf("issue %d: issue splitter failed: %v", issueNumber, resp.Err)
	}
	out, ok := resp.Output.(contract.IssueSplitterOutput)
	if !ok {
		return fmt.Errorf("issue %d: unexpected splitter output type %T", issueNumber, resp.Output)
	}

	nextNumber := 0
	for _, t := range f.Tasks {
		if t.IssueNumber > nextNumber {
			nextNumber = t.IssueNumber
		}
	}

	childNumbers := make([]int, 0, len(out.SubIssues))
	newTasks := make([]entities.Task, 0, len(out.SubIssues))
	for i, d := range out.SubIssues {
		nextNumber++
		child := entities.Task{
			IssueNumber:   nextNumber,
			Stage:         entities.StageReady,
			Title:         d.Title,
			Body:          d.Body,
			EstimatedSize: entities.EstimatedSize(d.EstimatedSize),
			ParentIssue:   &issueNumber,
		}
		if i == 0 {
			child.Dependencies = append([]int{}, parent.Dependencies...)
		} else {
			child.Dependencies = []int{childNumbers[i-1]}
		}
		childNumbers = append(childNumbers, nextNumber)
		newTasks = append(newTasks, child)
	}

	parent.Stage = entities.StageSplit
	parent.ChildIssues = childNumbers
	f.Tasks[ti] = parent

	lastChild := childNumbers[len(childNumbers)-1]
	for i, t := range f.Tasks {
		if t.IssueNumber == issueNumber {
			continue
		}
		for _, dep := range t.Dependencies {
			if dep == issueNumber {
				f.Tasks[i].Dependencies = replaceDep(t.Dependencies, issueNumber, lastChild)
				break
			}
		}
	}

	f.Tasks = append(f.Tasks, newTasks...)
	ev.Append("feature", "issue_split", map[string]any{"issue": issueNumber, "children": childNumbers})
	return o.repo.SaveFeature(f)
}

func replaceDep(deps []int, old, new int) []int {
	out := make([]int, len(deps))
	for i, d := range deps {
		if d == old {
			out[i] = new
		} else {
			out[i] = d
		}
	}
	return out
}

func (o *Orchestrator) fail(f *entities.Feature, ev *eventlog.Log, kind string, cause error) error {
	f.Phase = entities.PhaseFailed
	ev.Append("feature", kind, map[string]any{"error": cause.Error()})
	o.repo.SaveFeature(f)
	o.logger.Error(kind, map[string]interface{}{"feature_id": f.FeatureID, "error": cause.Error()})
	return fmt.Errorf("%s: %w", kind, cause)
}

// estimateCost gives a flat per-attempt cost, the same convention the bug
// orchestrator uses, until real token-usage accounting is wired through
// the dispatcher.
func estimateCost(attempts int) float64 {
	return float64(attempts) * 0.05
}

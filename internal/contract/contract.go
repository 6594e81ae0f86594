// Package contract defines the typed input/output envelope for each agent
// role (§4.3) and the boundary validation the kernel runs before dispatch
// and after consumption.
//
// The source system modeled these as untyped maps validated by runtime
// introspection; here each role gets a tagged Go struct with explicit
// optional fields (via pointers or zero-value sentinels), so most of what
// the source's schema checker did at runtime is instead enforced by the
// compiler. The remaining runtime check is Validate(): did the caller
// actually populate the fields the role needs.
package contract

import "fmt"

// Role identifies one of the closed set of agent roles the kernel dispatches
// to.
type Role string

const (
	RoleSpecAuthor          Role = "spec_author"
	RoleSpecCritic          Role = "spec_critic"
	RoleIssueCreator        Role = "issue_creator"
	RoleComplexityGate      Role = "complexity_gate"
	RoleIssueSplitter       Role = "issue_splitter"
	RoleCoder               Role = "coder"
	RoleVerifier            Role = "verifier"
	RoleBugResearcher       Role = "bug_researcher"
	RoleRootCauseAnalyzer   Role = "root_cause_analyzer"
	RoleFixPlanner          Role = "fix_planner"
	RoleRecovery            Role = "recovery"
	RoleCritic              Role = "critic"
)

// Violation is raised when a required field is missing from an input or
// output envelope. It indicates a code bug, not a runtime condition to
// retry — callers treat it as fatal for the current unit of work.
type Violation struct {
	Role      Role
	Direction string // "input" or "output"
	Missing   []string
	Extra     []string
	TypeErrors map[string]string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("contract violation for role %s (%s): missing=%v extra=%v type_errors=%v",
		v.Role, v.Direction, v.Missing, v.Extra, v.TypeErrors)
}

// Validatable is implemented by every role's input and output envelope.
type Validatable interface {
	// Validate returns a non-nil error naming every required-but-empty
	// field, or nil if the envelope is complete.
	Validate() error
}

// missingFields is a small helper envelopes use to build their Validate
// errors uniformly.
func missingFields(role Role, direction string, missing ...string) error {
	if len(missing) == 0 {
		return nil
	}
	return &Violation{Role: role, Direction: direction, Missing: missing}
}

// --- SpecAuthor ---

type SpecAuthorInput struct {
	FeatureID string
	PRD       string
}

func (i SpecAuthorInput) Validate() error {
	var missing []string
	if i.FeatureID == "" {
		missing = append(missing, "feature_id")
	}
	if i.PRD == "" {
		missing = append(missing, "prd")
	}
	return missingFields(RoleSpecAuthor, "input", missing...)
}

type SpecAuthorOutput struct {
	SpecMarkdown string
}

func (o SpecAuthorOutput) Validate() error {
	if o.SpecMarkdown == "" {
		return missingFields(RoleSpecAuthor, "output", "spec_markdown")
	}
	return nil
}

// --- SpecCritic ---

type SpecCriticInput struct {
	FeatureID string
	Spec      string
	PRD       string
	Round     int
}

func (i SpecCriticInput) Validate() error {
	var missing []string
	if i.FeatureID == "" {
		missing = append(missing, "feature_id")
	}
	if i.Spec == "" {
		missing = append(missing, "spec")
	}
	return missingFields(RoleSpecCritic, "input", missing...)
}

type SpecCriticOutput struct {
	Score    float64
	Feedback string
}

func (o SpecCriticOutput) Validate() error {
	if o.Score < 0 || o.Score > 1 {
		return &Violation{Role: RoleSpecCritic, Direction: "output", TypeErrors: map[string]string{"score": "out of [0,1]"}}
	}
	return nil
}

// --- IssueCreator ---

type IssueCreatorInput struct {
	FeatureID string
	Spec      string
	MaxIssues int // 0 means unbounded
}

func (i IssueCreatorInput) Validate() error {
	var missing []string
	if i.FeatureID == "" {
		missing = append(missing, "feature_id")
	}
	if i.Spec == "" {
		missing = append(missing, "spec")
	}
	return missingFields(RoleIssueCreator, "input", missing...)
}

type IssueDraft struct {
	Title         string
	Body          string
	Labels        []string
	Dependencies  []int
	EstimatedSize string
}

type IssueCreatorOutput struct {
	Issues []IssueDraft
}

func (o IssueCreatorOutput) Validate() error {
	if len(o.Issues) == 0 {
		return missingFields(RoleIssueCreator, "output", "issues")
	}
	return nil
}

// --- ComplexityGate (agent-backed borderline estimator) ---

type ComplexityGateInput struct {
	IssueTitle string
	IssueBody  string
	Spec       string
}

func (i ComplexityGateInput) Validate() error {
	if i.IssueBody == "" {
		return missingFields(RoleComplexityGate, "input", "issue_body")
	}
	return nil
}

type ComplexityGateOutput struct {
	EstimatedTurns   int
	NeedsSplit       bool
	SplitSuggestions []string
	Confidence       float64
	Reasoning        string
}

func (o ComplexityGateOutput) Validate() error {
	if o.EstimatedTurns <= 0 {
		return missingFields(RoleComplexityGate, "output", "estimated_turns")
	}
	return nil
}

// --- IssueSplitter ---

type IssueSplitterInput struct {
	Issue       IssueDraft
	Suggestions []string
}

func (i IssueSplitterInput) Validate() error {
	if i.Issue.Title == "" {
		return missingFields(RoleIssueSplitter, "input", "issue")
	}
	return nil
}

type IssueSplitterOutput struct {
	SubIssues []IssueDraft
}

func (o IssueSplitterOutput) Validate() error {
	if len(o.SubIssues) < 2 {
		return &Violation{Role: RoleIssueSplitter, Direction: "output", TypeErrors: map[string]string{"sub_issues": "need >= 2"}}
	}
	return nil
}

// --- Coder ---

type CoderInput struct {
	FeatureID      string
	IssueNumber    int
	Registry       map[string]string // known symbols / files available to the coder
	PriorSummaries []string
}

func (i CoderInput) Validate() error {
	var missing []string
	if i.FeatureID == "" {
		missing = append(missing, "feature_id")
	}
	if i.IssueNumber == 0 {
		missing = append(missing, "issue_number")
	}
	return missingFields(RoleCoder, "input", missing...)
}

type CoderOutput struct {
	FilesCreated   []string
	FilesModified  []string
	ClassesDefined map[string][]string
	TestFile       string
}

// Validate only checks structural completeness; the "no files and no test
// file at all" empty-output case is checked by the orchestrator itself
// (§7: empty agent output is always a failure, not a contract violation).
func (o CoderOutput) Validate() error { return nil }

// --- Verifier ---

type VerifierInput struct {
	FeatureID   string
	IssueNumber int
	Files       []string
	TestFile    string
}

func (i VerifierInput) Validate() error {
	if i.TestFile == "" {
		return missingFields(RoleVerifier, "input", "test_file")
	}
	return nil
}

type VerifierOutput struct {
	TestsPassed     bool
	CommitSHA       string
	SchemaConflicts []string
}

func (o VerifierOutput) Validate() error { return nil }

// --- BugResearcher ---

type BugResearcherInput struct {
	BugID  string
	Report string
}

func (i BugResearcherInput) Validate() error {
	if i.BugID == "" {
		return missingFields(RoleBugResearcher, "input", "bug_id")
	}
	return nil
}

type BugResearcherOutput struct {
	Confirmed      bool
	Evidence       string
	AffectedFiles  []string
}

func (o BugResearcherOutput) Validate() error {
	if o.Evidence == "" {
		return missingFields(RoleBugResearcher, "output", "evidence")
	}
	return nil
}

// --- RootCauseAnalyzer ---

type RootCauseAnalyzerInput struct {
	BugID    string
	Evidence string
}

func (i RootCauseAnalyzerInput) Validate() error {
	if i.Evidence == "" {
		return missingFields(RoleRootCauseAnalyzer, "input", "evidence")
	}
	return nil
}

type RootCauseAnalyzerOutput struct {
	RootCause         string
	CandidateLocations []string
}

func (o RootCauseAnalyzerOutput) Validate() error {
	if o.RootCause == "" {
		return missingFields(RoleRootCauseAnalyzer, "output", "root_cause")
	}
	return nil
}

// --- FixPlanner ---

type FixPlannerInput struct {
	BugID     string
	RootCause string
}

func (i FixPlannerInput) Validate() error {
	if i.RootCause == "" {
		return missingFields(RoleFixPlanner, "input", "root_cause")
	}
	return nil
}

type FixPlannerOutput struct {
	PlanSteps []string
}

func (o FixPlannerOutput) Validate() error {
	if len(o.PlanSteps) == 0 {
		return missingFields(RoleFixPlanner, "output", "plan_steps")
	}
	return nil
}

// --- Recovery (the agent consulted for RETRY_ALTERNATE / RETRY_CLARIFY) ---

type RecoveryInput struct {
	Failure string
	Context map[string]string
}

func (i RecoveryInput) Validate() error {
	if i.Failure == "" {
		return missingFields(RoleRecovery, "input", "failure")
	}
	return nil
}

type RecoveryOutput struct {
	Recoverable        bool
	Strategy           string
	Plan               string
	HumanInstructions  string
}

func (o RecoveryOutput) Validate() error { return nil }

// --- Critic (Spec/Code/Test x focus) ---

type CriticInput struct {
	Focus    string
	Artifact string
}

func (i CriticInput) Validate() error {
	if i.Artifact == "" {
		return missingFields(RoleCritic, "input", "artifact")
	}
	return nil
}

type CriticOutput struct {
	Score       float64
	Approved    bool
	Issues      []string
	Suggestions []string
	Reasoning   string
}

func (o CriticOutput) Validate() error {
	if o.Score < 0 || o.Score > 1 {
		return &Violation{Role: RoleCritic, Direction: "output", TypeErrors: map[string]string{"score": "out of [0,1]"}}
	}
	return nil
}

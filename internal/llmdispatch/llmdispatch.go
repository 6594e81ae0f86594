// Package llmdispatch adapts an agentkit llm.Provider into the kernel's
// agent.Dispatcher boundary (§4.16): one role invocation becomes one chat
// completion, with the input envelope rendered as a JSON payload and the
// model's response parsed back into the role's typed output envelope.
//
// This is the only package in the kernel that imports agentkit/llm; every
// orchestrator talks to agent.Dispatcher instead, exactly as the agent
// package's doc comment describes.
package llmdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/contract"
)

// Dispatcher sends one role invocation as a single chat completion against
// an agentkit llm.Provider.
type Dispatcher struct {
	provider llm.Provider
	prompts  map[contract.Role]string
}

// New builds a Dispatcher over provider, using the built-in role prompts.
// Override a role's prompt with WithPrompt.
func New(provider llm.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{provider: provider, prompts: defaultPrompts()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPrompt overrides the system prompt used for role.
func WithPrompt(role contract.Role, prompt string) Option {
	return func(d *Dispatcher) { d.prompts[role] = prompt }
}

// defaultPrompts gives every role a short, task-specific system prompt. Each
// instructs the model to respond with a single JSON object matching the
// role's output envelope and nothing else.
func defaultPrompts() map[contract.Role]string {
	return map[contract.Role]string{
		contract.RoleSpecAuthor: "You write a technical spec in markdown from a feature's PRD. " +
			`Respond with JSON: {"SpecMarkdown": "..."}.`,
		contract.RoleSpecCritic: "You critique a feature spec against its PRD for gaps, ambiguity, and untestable requirements. " +
			`Respond with JSON: {"Score": 0.0-1.0, "Feedback": "..."}.`,
		contract.RoleIssueCreator: "You break a spec into a dependency-ordered list of implementation issues. " +
			`Respond with JSON: {"Issues": [{"Title": "...", "Body": "...", "Labels": [...], "Dependencies": [...], "EstimatedSize": "..."}]}.`,
		contract.RoleComplexityGate: "You estimate how many agent turns an issue will take to implement and whether it should be split. " +
			`Respond with JSON: {"EstimatedTurns": N, "NeedsSplit": bool, "SplitSuggestions": [...], "Confidence": 0.0-1.0, "Reasoning": "..."}.`,
		contract.RoleIssueSplitter: "You split one issue into two or more smaller, sequentially implementable issues. " +
			`Respond with JSON: {"SubIssues": [{"Title": "...", "Body": "...", "Labels": [...], "Dependencies": [...], "EstimatedSize": "..."}]}.`,
		contract.RoleCoder: "You implement one issue against the repository registry you are given. " +
			`Respond with JSON: {"FilesCreated": [...], "FilesModified": [...], "ClassesDefined": {...}, "TestFile": "..."}.`,
		contract.RoleVerifier: "You run the given test file against the changed files and report the result. " +
			`Respond with JSON: {"TestsPassed": bool, "CommitSHA": "...", "SchemaConflicts": [...]}.`,
		contract.RoleBugResearcher: "You attempt to reproduce a reported bug and gather evidence. " +
			`Respond with JSON: {"Confirmed": bool, "Evidence": "...", "AffectedFiles": [...]}.`,
		contract.RoleRootCauseAnalyzer: "You analyze reproduction evidence to find a bug's root cause. " +
			`Respond with JSON: {"RootCause": "...", "CandidateLocations": [...]}.`,
		contract.RoleFixPlanner: "You turn a bug's root cause into an ordered list of fix steps. " +
			`Respond with JSON: {"PlanSteps": [...]}.`,
		contract.RoleRecovery: "A prior agent invocation failed. Decide whether the failure is recoverable and, if so, propose an alternate strategy. " +
			`Respond with JSON: {"Recoverable": bool, "Strategy": "...", "Plan": "...", "HumanInstructions": "..."}.`,
		contract.RoleCritic: "You critique an artifact (spec, code, or test) along the given focus dimension. " +
			`Respond with JSON: {"Score": 0.0-1.0, "Approved": bool, "Issues": [...], "Suggestions": [...], "Reasoning": "..."}.`,
	}
}

// Dispatch renders input as JSON, sends it to the model under the role's
// system prompt, and parses the response back into the role's output
// envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, role contract.Role, input contract.Validatable) agent.Response {
	if v := agent.Validate(role, input); v != nil {
		return *v
	}

	payload, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return agent.Response{Variant: agent.SystematicErr, Err: fmt.Errorf("llmdispatch: marshal input: %w", err)}
	}

	system, ok := d.prompts[role]
	if !ok {
		return agent.Response{Variant: agent.FatalErr, Err: fmt.Errorf("llmdispatch: no prompt configured for role %s", role)}
	}

	resp, err := d.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: string(payload)},
		},
	})
	if err != nil {
		return agent.Response{Variant: classifyProviderError(err), Err: fmt.Errorf("llmdispatch: chat: %w", err)}
	}

	output, err := parseOutput(role, resp.Content)
	if err != nil {
		return agent.Response{Variant: agent.SystematicErr, Err: fmt.Errorf("llmdispatch: parse %s output: %w", role, err)}
	}
	if verr := output.Validate(); verr != nil {
		return agent.Response{Variant: agent.ContractErr, Err: verr}
	}
	return agent.Response{Variant: agent.Ok, Output: output}
}

// classifyProviderError distinguishes errors the kernel should retry
// as-is (rate limits, timeouts, transport resets) from everything else,
// which it treats as systematic rather than leaving the default transient
// assumption in place for every provider failure.
func classifyProviderError(err error) agent.Variant {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "429"):
		return agent.TransientErr
	default:
		return agent.SystematicErr
	}
}

// parseOutput strips a possible markdown code fence and unmarshals into the
// output envelope matching role.
func parseOutput(role contract.Role, content string) (contract.Validatable, error) {
	raw := stripFence(content)

	switch role {
	case contract.RoleSpecAuthor:
		var o contract.SpecAuthorOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleSpecCritic:
		var o contract.SpecCriticOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleIssueCreator:
		var o contract.IssueCreatorOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleComplexityGate:
		var o contract.ComplexityGateOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleIssueSplitter:
		var o contract.IssueSplitterOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleCoder:
		var o contract.CoderOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleVerifier:
		var o contract.VerifierOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleBugResearcher:
		var o contract.BugResearcherOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleRootCauseAnalyzer:
		var o contract.RootCauseAnalyzerOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleFixPlanner:
		var o contract.FixPlannerOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleRecovery:
		var o contract.RecoveryOutput
		return o, unmarshalInto(raw, &o)
	case contract.RoleCritic:
		var o contract.CriticOutput
		return o, unmarshalInto(raw, &o)
	default:
		return nil, fmt.Errorf("unknown role %s", role)
	}
}

func unmarshalInto(raw string, out contract.Validatable) error {
	return json.Unmarshal([]byte(raw), out)
}

// stripFence removes a surrounding ```json ... ``` or ``` ... ``` fence,
// which models commonly wrap JSON responses in despite instructions not to.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// retryAfter is a fixed pause for callers that retry this dispatcher
// without a recovery.Manager. Nothing in the kernel reads it: the recovery
// manager's RETRY_SAME backoff is exponential via cenkalti/backoff, seeded
// from its own Config.BaseBackoff (§4.5).
const retryAfter = 2 * time.Second

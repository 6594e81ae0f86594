// Package gate implements the complexity gate (§4.4): a cheap pre-filter
// that decides whether a task is small enough to dispatch straight to the
// Coder, clearly too large and must be split, or borderline and needs a
// cheap LLM estimate.
package gate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/contract"
)

const (
	instantPassMaxCriteria = 5
	instantPassMaxMethods  = 3
	instantFailMinCriteria = 12
	instantFailMinMethods  = 8
)

// Decision is the gate's verdict for one task body.
type Decision struct {
	NeedsSplit       bool
	SplitSuggestions []string
	EstimatedTurns   int
	ComplexityScore  float64
	Reasoning        string
	CriteriaCount    int
	MethodCount      int
}

// Gate evaluates task bodies against the tiered thresholds, delegating to
// an agent dispatcher only for the borderline band.
type Gate struct {
	dispatcher        agent.Dispatcher
	maxEstimatedTurns int // complexity_max_estimated_turns; 0 means no cap applied beyond instant-fail
}

// New returns a Gate. maxEstimatedTurns is the configured
// complexity_max_estimated_turns option (§6); above this the gate forces a
// split even for a borderline estimate.
func New(dispatcher agent.Dispatcher, maxEstimatedTurns int) *Gate {
	return &Gate{dispatcher: dispatcher, maxEstimatedTurns: maxEstimatedTurns}
}

var checkboxPattern = regexp.MustCompile(`(?m)^\s*[-*]\s*\[[ xX]\]`)

// backtickCallPattern matches `foo(...)`-style inline code spans naming a
// callable.
var backtickCallPattern = regexp.MustCompile("`([a-zA-Z_][a-zA-Z0-9_.]*)\\(")

// defPattern matches def / async def declarations, the other half of the
// "methods" heuristic (the source material mixes Python-flavored and
// generic pseudocode bodies).
var defPattern = regexp.MustCompile(`(?m)^\s*(async\s+def|def)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

// falsePositiveWords filters common English words that happen to match the
// backtick-call pattern's shape but never name a real method (e.g. `it(`
// from prose, not a test framework).
var falsePositiveWords = map[string]bool{
	"it": true, "if": true, "is": true, "in": true, "or": true, "and": true,
	"for": true, "not": true, "do": true, "ok": true,
}

// CountCriteria returns the number of markdown checkbox lines in body.
func CountCriteria(body string) int {
	return len(checkboxPattern.FindAllString(body, -1))
}

// CountMethods returns the number of distinct referenced method names in
// body, after filtering the false-positive word list.
func CountMethods(body string) int {
	seen := make(map[string]bool)
	for _, m := range backtickCallPattern.FindAllStringSubmatch(body, -1) {
		name := strings.ToLower(m[1])
		if falsePositiveWords[name] {
			continue
		}
		seen[name] = true
	}
	for _, m := range defPattern.FindAllStringSubmatch(body, -1) {
		name := strings.ToLower(m[2])
		if falsePositiveWords[name] {
			continue
		}
		seen[name] = true
	}
	return len(seen)
}

// Evaluate runs the tiered decision for one task's title/body, delegating
// to the borderline LLM estimator through dispatcher when neither the
// instant-pass nor instant-fail thresholds are met.
func (g *Gate) Evaluate(ctx context.Context, title, body, specText string) (Decision, error) {
	criteria := CountCriteria(body)
	methods := CountMethods(body)

	switch {
	case criteria <= instantPassMaxCriteria && methods <= instantPassMaxMethods:
		return Decision{
			NeedsSplit:      false,
			EstimatedTurns:  estimateTurnsFromCounts(criteria, methods),
			ComplexityScore: 0,
			Reasoning:       "instant pass: criteria and method counts within trivial bounds",
			CriteriaCount:   criteria,
			MethodCount:     methods,
		}, nil

	case criteria > instantFailMinCriteria || methods > instantFailMinMethods:
		return Decision{
			NeedsSplit:       true,
			SplitSuggestions: SuggestSplits(title, body, criteria),
			EstimatedTurns:   estimateTurnsFromCounts(criteria, methods),
			ComplexityScore:  1,
			Reasoning:        fmt.Sprintf("instant fail: %d criteria, %d methods exceeds bounds", criteria, methods),
			CriteriaCount:    criteria,
			MethodCount:      methods,
		}, nil
	}

	resp := g.dispatcher.Dispatch(ctx, contract.RoleComplexityGate, contract.ComplexityGateInput{
		IssueTitle: title,
		IssueBody:  body,
		Spec:       specText,
	})
	if resp.Variant != agent.Ok {
		return Decision{}, fmt.Errorf("gate: borderline estimator failed: %v", resp.Err)
	}
	out, ok := resp.Output.(contract.ComplexityGateOutput)
	if !ok {
		return Decision{}, fmt.Errorf("gate: borderline estimator returned wrong output type %T", resp.Output)
	}

	needsSplit := out.NeedsSplit
	if g.maxEstimatedTurns > 0 && out.EstimatedTurns > g.maxEstimatedTurns {
		needsSplit = true
	}

	d := Decision{
		NeedsSplit:      needsSplit,
		EstimatedTurns:  out.EstimatedTurns,
		ComplexityScore: out.Confidence,
		Reasoning:       out.Reasoning,
		CriteriaCount:   criteria,
		MethodCount:     methods,
	}
	if needsSplit {
		if len(out.SplitSuggestions) > 0 {
			d.SplitSuggestions = out.SplitSuggestions
		} else {
			d.SplitSuggestions = SuggestSplits(title, body, criteria)
		}
	}
	return d, nil
}

// estimateTurnsFromCounts is a rough budget seed for the instant-decision
// branches, where there is no LLM estimate to consult. No margin is added
// to it and complexity_max_estimated_turns is not applied to it: Evaluate
// checks that cap only against the borderline estimator's figure.
func estimateTurnsFromCounts(criteria, methods int) int {
	turns := 1 + criteria/3 + methods/2
	if turns < 1 {
		turns = 1
	}
	return turns
}

var triggerTypeWords = []string{"on create", "on update", "on delete", "webhook", "event", "cron", "schedule"}
var crudWords = []string{"create", "read", "update", "delete", "list", "get", "fetch"}
var layerWords = []string{"handler", "service", "repository", "model", "controller", "migration", "schema"}

// SuggestSplits produces split suggestions by domain heuristics in order of
// preference: trigger-type grouping, CRUD-operation grouping,
// architectural-layer grouping, falling back to an N-way split by
// criterion count.
func SuggestSplits(title, body string, criteria int) []string {
	lower := strings.ToLower(title + "\n" + body)

	if found := matchingWords(lower, triggerTypeWords); len(found) >= 2 {
		return labeledSuggestions("trigger", found)
	}
	if found := matchingWords(lower, crudWords); len(found) >= 2 {
		return labeledSuggestions("operation", found)
	}
	if found := matchingWords(lower, layerWords); len(found) >= 2 {
		return labeledSuggestions("layer", found)
	}

	n := criteria / 5
	if n < 2 {
		n = 2
	}
	if n > 5 {
		n = 5
	}
	suggestions := make([]string, n)
	for i := range suggestions {
		suggestions[i] = fmt.Sprintf("criterion group %d of %d", i+1, n)
	}
	return suggestions
}

func matchingWords(lower string, words []string) []string {
	var found []string
	for _, w := range words {
		if strings.Contains(lower, w) {
			found = append(found, w)
		}
	}
	return found
}

func labeledSuggestions(kind string, found []string) []string {
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = fmt.Sprintf("split by %s: %s", kind, f)
	}
	return out
}

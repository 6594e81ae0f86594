// Package validation implements the validation layer (§4.9): a panel of
// critics runs in parallel against an artifact, weighted approval of ≥60%
// is consensus, and any security-focused critic rejecting the artifact
// vetoes it regardless of majority.
package validation

import (
	"context"
	"fmt"
	"sync"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/contract"
)

// Gate names the pipeline point at which validation runs.
type Gate string

const (
	GatePreApproval Gate = "pre_approval" // specs
	GatePreCommit   Gate = "pre_commit"   // code diffs
	GatePreVerify   Gate = "pre_verify"   // tests
)

// CriticSpec names one critic to run, its focus, and its voting weight.
// IsSecurity marks the critic whose rejection vetoes consensus outright.
type CriticSpec struct {
	Focus      string
	Weight     float64
	IsSecurity bool
}

// Result is one critic's verdict, kept alongside its spec for the report.
type Result struct {
	Spec   CriticSpec
	Output contract.CriticOutput
	Err    error
}

// Report is the validation layer's final verdict.
type Report struct {
	Approved            bool
	Scores              []Result
	BlockingIssues       []string
	ConsensusSummary     string
	HumanReviewRequired  bool
}

const consensusThreshold = 0.60

// patternGate is the default SecurityClassifier consulted before an
// artifact ever reaches the critic panel (§4.18): a high-risk verdict
// vetoes outright, sparing the round-trip to every critic.
var patternGate SecurityClassifier = NewPatternClassifier()

// Run dispatches one Critic invocation per spec in critics concurrently
// (bounded fan-out with a join barrier, per the kernel's single-process
// cooperative scheduling model), then computes weighted-approval consensus
// with a security veto. Before any critic runs, the default pattern
// classifier gets a pass over the artifact; a high-risk verdict there
// vetoes the artifact without needing a single Critic dispatch.
func Run(ctx context.Context, dispatcher agent.Dispatcher, artifact string, critics []CriticSpec) Report {
	if risk, reason := patternGate.Classify(ctx, artifact); risk == SecurityRiskHigh {
		return Report{
			Approved:            false,
			HumanReviewRequired: true,
			BlockingIssues:      []string{reason},
			ConsensusSummary:    fmt.Sprintf("security veto: pattern classifier flagged %q before critic dispatch", reason),
		}
	}

	results := make([]Result, len(critics))

	var wg sync.WaitGroup
	for i, spec := range critics {
		wg.Add(1)
		go func(i int, spec CriticSpec) {
			defer wg.Done()
			resp := dispatcher.Dispatch(ctx, contract.RoleCritic, contract.CriticInput{
				Focus:    spec.Focus,
				Artifact: artifact,
			})
			r := Result{Spec: spec}
			if resp.Variant != agent.Ok {
				r.Err = fmt.Errorf("critic %q: %v", spec.Focus, resp.Err)
				results[i] = r
				return
			}
			out, ok := resp.Output.(contract.CriticOutput)
			if !ok {
				r.Err = fmt.Errorf("critic %q: unexpected output type %T", spec.Focus, resp.Output)
				results[i] = r
				return
			}
			r.Output = out
			results[i] = r
		}(i, spec)
	}
	wg.Wait()

	return consensus(results)
}

func consensus(results []Result) Report {
	rep := Report{Scores: results}

	var totalWeight, approvedWeight float64
	securityVetoed := false
	for _, r := range results {
		if r.Err != nil {
			rep.BlockingIssues = append(rep.BlockingIssues, r.Err.Error())
			rep.HumanReviewRequired = true
			continue
		}
		totalWeight += r.Spec.Weight
		if r.Output.Approved {
			approvedWeight += r.Spec.Weight
		} else {
			rep.BlockingIssues = append(rep.BlockingIssues, r.Output.Issues...)
			if r.Spec.IsSecurity {
				securityVetoed = true
			}
		}
	}

	var ratio float64
	if totalWeight > 0 {
		ratio = approvedWeight / totalWeight
	}

	if securityVetoed {
		rep.Approved = false
		rep.HumanReviewRequired = true
		rep.ConsensusSummary = fmt.Sprintf("security veto: weighted approval %.0f%% overridden by security critic rejection", ratio*100)
		return rep
	}

	rep.Approved = ratio >= consensusThreshold
	rep.ConsensusSummary = fmt.Sprintf("weighted approval %.0f%% (threshold %.0f%%)", ratio*100, consensusThreshold*100)
	if !rep.Approved {
		rep.HumanReviewRequired = true
	}
	return rep
}

package checkpoint

import (
	"context"
	"regexp"
	"strings"

	"github.com/devforge/kernel/internal/entities"
	"github.com/devforge/kernel/internal/validation"
)

// securityClassifier flags actions that read as high-risk constructs (shell
// exec, destructive SQL, disabled TLS, ...) even when they dodge the
// destructive/publish verb regexes below, reusing the default validation
// layer classifier (§4.18) rather than a second hand-rolled pattern table.
var securityClassifier = validation.NewPatternClassifier()

// Risk factor weights (§4.6.1). They must sum to 1.0.
const (
	weightCostImpact    = 0.25
	weightScope         = 0.20
	weightReversibility = 0.25
	weightConfidence    = 0.15
	weightPrecedent     = 0.15
)

// Recommendation strings stored on entities.RiskAssessment.
const (
	RecommendProceed    = "proceed"
	RecommendCheckpoint = "checkpoint"
	RecommendBlock      = "block"
)

// RiskInputs are the five normalized [0,1] factors fed into the weighted
// sum. CostImpact and Scope are supplied by the caller (they depend on
// budget and blast-radius context the checkpoint package does not own);
// Reversibility is derived here from the action text; Confidence and
// Precedent are supplied by episode memory and the preference learner
// respectively.
type RiskInputs struct {
	CostImpact float64
	Scope      float64
	ActionText string // used to derive Reversibility
	Confidence float64
	Precedent  float64
}

var destructiveVerbs = regexp.MustCompile(`(?i)\b(delete|drop|reset)\b`)
var publishVerbs = regexp.MustCompile(`(?i)\b(deploy|publish|push)\b`)

// classifyReversibility applies the destructive/publish/default buckets
// from §4.6.1 to a short description of the pending action.
func classifyReversibility(actionText string) float64 {
	lower := strings.ToLower(actionText)
	switch {
	case destructiveVerbs.MatchString(lower):
		return 1.0
	case publishVerbs.MatchString(lower):
		return 0.7
	}
	if risk, _ := securityClassifier.Classify(context.Background(), actionText); risk == validation.SecurityRiskHigh {
		return 1.0
	}
	return 0.2
}

// CostImpactFactor computes the canonical cost-impact normalization
// resolved in SPEC_FULL.md: min(1.0, cost / (0.3 * budget)). Callers should
// use this to build RiskInputs.CostImpact rather than hand-rolling a
// factor, keeping Score() itself a pure function of pre-normalized inputs.
func CostImpactFactor(estimatedCost, remainingBudget float64) float64 {
	if remainingBudget <= 0 {
		return 1.0
	}
	factor := estimatedCost / (0.3 * remainingBudget)
	if factor > 1.0 {
		return 1.0
	}
	if factor < 0 {
		return 0
	}
	return factor
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Score runs the weighted sum and recommendation thresholds.
func Score(in RiskInputs) entities.RiskAssessment {
	a := entities.RiskAssessment{
		CostImpact:    clamp01(in.CostImpact),
		Scope:         clamp01(in.Scope),
		Reversibility: classifyReversibility(in.ActionText),
		Confidence:    clamp01(in.Confidence),
		Precedent:     clamp01(in.Precedent),
	}
	a.Score = weightCostImpact*a.CostImpact +
		weightScope*a.Scope +
		weightReversibility*a.Reversibility +
		weightConfidence*a.Confidence +
		weightPrecedent*a.Precedent

	switch {
	case a.Score >= 0.7:
		a.Recommendation = RecommendBlock
	case a.Score >= 0.4:
		a.Recommendation = RecommendCheckpoint
	default:
		a.Recommendation = RecommendProceed
	}
	return a
}

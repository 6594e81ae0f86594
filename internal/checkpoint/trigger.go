package checkpoint

import "github.com/devforge/kernel/internal/entities"

// severity orders triggers so that when several fire at once, the detector
// can surface the single highest-severity one and record the rest as
// context (§4.6). Order chosen to put irrecoverable/process-ending
// conditions ahead of budget/time nudges.
var severity = map[entities.Trigger]int{
	entities.TriggerHiccup:          9,
	entities.TriggerBlocker:         8,
	entities.TriggerHighRisk:        7,
	entities.TriggerErrorSpike:      6,
	entities.TriggerScopeChange:     5,
	entities.TriggerUXChange:        4,
	entities.TriggerApprovalRequired: 3,
	entities.TriggerCostCumulative:  2,
	entities.TriggerCostSingle:      1,
	entities.TriggerTime:            1,
	entities.TriggerEndOfSession:    0,
}

// highest picks the single surfaced trigger from a set that fired
// together, per the "multiple triggers can fire; the highest-severity one
// is surfaced, others recorded in context" rule.
func highest(fired []entities.Trigger) (entities.Trigger, []entities.Trigger) {
	if len(fired) == 0 {
		return "", nil
	}
	best := fired[0]
	for _, t := range fired[1:] {
		if severity[t] > severity[best] {
			best = t
		}
	}
	var others []entities.Trigger
	for _, t := range fired {
		if t != best {
			others = append(others, t)
		}
	}
	return best, others
}

// PreFlightInputs carries the four checks run before every dispatch
// (§4.6.2).
type PreFlightInputs struct {
	RemainingBudget  float64
	EstimatedCost    float64
	PerUnitThreshold float64 // checkpoint_budget_usd
	SessionSpend     float64
	DailyBudget      float64 // checkpoint_daily_budget_usd
	DependenciesOK   bool
	Risk             entities.RiskAssessment
	FileConflict     bool
	MinExecutionBudget float64
}

// EvaluatePreFlight runs the pre-flight checks and returns the surfaced
// trigger (if any) plus the others that also fired. ok is false whenever
// any check blocks dispatch.
func EvaluatePreFlight(in PreFlightInputs) (surfaced entities.Trigger, others []entities.Trigger, ok bool) {
	var fired []entities.Trigger

	// Budget check is strict less-than: equal to the estimate still
	// proceeds (§8 boundary behavior).
	if in.RemainingBudget < in.EstimatedCost || in.RemainingBudget < in.MinExecutionBudget {
		fired = append(fired, entities.TriggerCostSingle)
	}
	if in.EstimatedCost >= in.PerUnitThreshold && in.PerUnitThreshold > 0 {
		fired = append(fired, entities.TriggerCostSingle)
	}
	if in.DailyBudget > 0 && in.SessionSpend+in.EstimatedCost >= in.DailyBudget {
		fired = append(fired, entities.TriggerCostCumulative)
	}
	if !in.DependenciesOK {
		fired = append(fired, entities.TriggerBlocker)
	}
	if in.Risk.Recommendation != RecommendProceed {
		fired = append(fired, entities.TriggerHighRisk)
	}
	if in.FileConflict {
		fired = append(fired, entities.TriggerBlocker)
	}

	if len(fired) == 0 {
		return "", nil, true
	}
	surfaced, others = highest(fired)
	return surfaced, others, false
}

// PostCheckInputs carries the signals evaluated after a unit completes.
type PostCheckInputs struct {
	ElapsedSeconds      float64
	DurationLimitSeconds float64
	ConsecutiveFailures int
	ErrorStreakThreshold int
	UnexpectedFatal     bool
	SessionEnded        bool
}

// EvaluatePostCheck runs the post-unit checks.
func EvaluatePostCheck(in PostCheckInputs) (surfaced entities.Trigger, others []entities.Trigger, ok bool) {
	var fired []entities.Trigger

	if in.DurationLimitSeconds > 0 && in.ElapsedSeconds >= in.DurationLimitSeconds {
		fired = append(fired, entities.TriggerTime)
	}
	if in.ErrorStreakThreshold > 0 && in.ConsecutiveFailures >= in.ErrorStreakThreshold {
		fired = append(fired, entities.TriggerErrorSpike)
	}
	if in.UnexpectedFatal {
		fired = append(fired, entities.TriggerHiccup)
	}
	if in.SessionEnded {
		fired = append(fired, entities.TriggerEndOfSession)
	}

	if len(fired) == 0 {
		return "", nil, true
	}
	surfaced, others = highest(fired)
	return surfaced, others, false
}

// Package recovery implements the four-level recovery manager (§4.5): a
// fixed escalation ladder from same-context retry up to a human checkpoint,
// with a circuit breaker halting escalation after too many consecutive
// failures and every attempt recorded as an episode.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/entities"
)

// Class is the error classification that routes a failure to its recovery
// level (§7).
type Class string

const (
	ClassTransient Class = "transient"
	ClassSystematic Class = "systematic"
	ClassAmbiguity Class = "ambiguity"
	ClassFatal     Class = "fatal"
)

// ClassifyVariant maps an agent.Variant to its recovery class. ContractErr
// is treated as Fatal: a schema mismatch is never retried (§7).
func ClassifyVariant(v agent.Variant) Class {
	switch v {
	case agent.TransientErr:
		return ClassTransient
	case agent.SystematicErr:
		return ClassSystematic
	case agent.AmbiguityErr:
		return ClassAmbiguity
	default:
		return ClassFatal
	}
}

// Attempt performs one unit of work and returns its result.
type Attempt func(ctx context.Context) agent.Response

// Candidate is one alternative plan considered at Level 2. Probability is
// the estimated chance of success, CostMultiplier the estimated cost
// relative to the original approach; candidates are ranked by
// probability/cost.
type Candidate struct {
	Label          string
	Run            Attempt
	Probability    float64
	CostMultiplier float64
}

func (c Candidate) score() float64 {
	if c.CostMultiplier <= 0 {
		return c.Probability
	}
	return c.Probability / c.CostMultiplier
}

// AltGenerator produces the bounded set of candidate approaches for Level
// 2, typically seeded from episode-memory retrieval.
type AltGenerator func(ctx context.Context) ([]Candidate, error)

// EpisodeRecorder is implemented by internal/episodes; the recovery
// manager records one episode per attempt, successful or not.
type EpisodeRecorder interface {
	RecordAttempt(ctx context.Context, rec entities.Episode) error
}

// EscalationError is returned when recovery reaches Level 4: the caller
// must create a checkpoint and pause rather than keep working.
type EscalationError struct {
	Goal    string
	Class   Class
	Cause   error
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("recovery: escalating %q (%s): %v", e.Goal, e.Class, e.Cause)
}

func (e *EscalationError) Unwrap() error { return e.Cause }

// Config bounds the manager's retry behavior.
type Config struct {
	BaseBackoff            time.Duration // base seconds for Level 1 exponential backoff
	CircuitBreakerThreshold int           // consecutive failures across levels that halt escalation
	MaxRecoveryAttempts    int           // hard cap across all four levels (§6 max_recovery_attempts)
}

func DefaultConfig() Config {
	return Config{
		BaseBackoff:             1 * time.Second,
		CircuitBreakerThreshold: 5,
		MaxRecoveryAttempts:     6, // 3 (L1) + 2 (L2) + 1 (L3), L4 terminal
	}
}

// Manager runs a unit of work through the four-level ladder.
type Manager struct {
	cfg      Config
	recorder EpisodeRecorder

	consecutiveFailures int
}

func New(cfg Config, recorder EpisodeRecorder) *Manager {
	return &Manager{cfg: cfg, recorder: recorder}
}

// Outcome is the final result of Run: the last response obtained, the
// recovery level it took to get there, and the total number of dispatches
// made.
type Outcome struct {
	Response      agent.Response
	LevelUsed     entities.RecoveryLevel
	TotalAttempts int
}

// Run executes unit, escalating through the recovery ladder on failure.
// goal is a short label used in episode records and the escalation error.
// alts supplies Level-2 alternative candidates; clarify, when the
// classification reaches Level 3, asks a clarifying question and returns
// the (possibly re-contextualized) response to try once more. Either may
// be nil if the caller has no sensible alternative/clarify path, in which
// case that level is skipped straight to the next.
func (m *Manager) Run(ctx context.Context, goal string, unit Attempt, alts AltGenerator, clarify Attempt) (Outcome, error) {
	totalAttempts := 0

	resp, n, err := m.runLevel1(ctx, goal, unit)
	totalAttempts += n
	if err == nil && resp.Variant == agent.Ok {
		return Outcome{Response: resp, LevelUsed: entities.RecoveryRetrySame, TotalAttempts: totalAttempts}, nil
	}
	if m.circuitOpen() {
		return Outcome{}, &EscalationError{Goal: goal, Class: ClassifyVariant(resp.Variant), Cause: fmt.Errorf("circuit breaker open after %d consecutive failures", m.consecutiveFailures)}
	}
	if totalAttempts >= m.cfg.MaxRecoveryAttempts {
		return Outcome{}, &EscalationError{Goal: goal, Class: ClassifyVariant(resp.Variant), Cause: fmt.Errorf("max recovery attempts exceeded")}
	}

	class := ClassifyVariant(resp.Variant)
	if class == ClassSystematic && alts != nil {
		resp2, n2, lvlErr := m.runLevel2(ctx, goal, alts)
		totalAttempts += n2
		if lvlErr == nil && resp2.Variant == agent.Ok {
			return Outcome{Response: resp2, LevelUsed: entities.RecoveryRetryAlternate, TotalAttempts: totalAttempts}, nil
		}
		resp = resp2
		class = ClassifyVariant(resp.Variant)
	}

	if m.circuitOpen() {
		return Outcome{}, &EscalationError{Goal: goal, Class: class, Cause: fmt.Errorf("circuit breaker open after %d consecutive failures", m.consecutiveFailures)}
	}

	if class == ClassAmbiguity && clarify != nil {
		totalAttempts++
		resp3 := m.record(ctx, goal, entities.RecoveryRetryClarify, clarify(ctx))
		if resp3.Variant == agent.Ok {
			return Outcome{Response: resp3, LevelUsed: entities.RecoveryRetryClarify, TotalAttempts: totalAttempts}, nil
		}
		resp = resp3
	}

	return Outcome{}, &EscalationError{Goal: goal, Class: ClassifyVariant(resp.Variant), Cause: resp.Err}
}

func (m *Manager) runLevel1(ctx context.Context, goal string, unit Attempt) (agent.Response, int, error) {
	attempts := 0
	op := func() (agent.Response, error) {
		attempts++
		resp := m.record(ctx, goal, entities.RecoveryRetrySame, unit(ctx))
		if resp.Variant == agent.Ok {
			return resp, nil
		}
		if ClassifyVariant(resp.Variant) != ClassTransient {
			// Not a transient failure: stop retrying at this level
			// immediately rather than burning the backoff schedule.
			return resp, backoff.Permanent(resp.Err)
		}
		return resp, fmt.Errorf("transient: %w", resp.Err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.BaseBackoff

	resp, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(3))
	return resp, attempts, err
}

func (m *Manager) runLevel2(ctx context.Context, goal string, alts AltGenerator) (agent.Response, int, error) {
	candidates, err := alts(ctx)
	if err != nil || len(candidates) == 0 {
		return agent.Response{Variant: agent.SystematicErr, Err: fmt.Errorf("recovery: no alternative candidates: %w", err)}, 0, err
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score() > best.score() {
			best = c
		}
	}

	attempts := 0
	delay := m.cfg.BaseBackoff * 2
	var last agent.Response
	for try := 0; try < 2; try++ {
		attempts++
		last = m.record(ctx, goal, entities.RecoveryRetryAlternate, best.Run(ctx))
		if last.Variant == agent.Ok {
			return last, attempts, nil
		}
		if try == 0 {
			select {
			case <-ctx.Done():
				return last, attempts, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return last, attempts, fmt.Errorf("recovery: alternative %q exhausted", best.Label)
}

// record tracks the circuit breaker and hands the attempt to the episode
// recorder (if any), then returns resp unchanged for chaining.
func (m *Manager) record(ctx context.Context, goal string, level entities.RecoveryLevel, resp agent.Response) agent.Response {
	if resp.Variant == agent.Ok {
		m.consecutiveFailures = 0
	} else {
		m.consecutiveFailures++
	}

	if m.recorder != nil {
		ep := entities.Episode{
			Goal:          goal,
			RecoveryLevel: level,
			Outcome: entities.EpisodeOutcome{
				Success: resp.Variant == agent.Ok,
			},
		}
		if resp.Err != nil {
			ep.Outcome.Error = resp.Err.Error()
		}
		_ = m.recorder.RecordAttempt(ctx, ep) // recording failure is diagnostic, never blocks recovery
	}
	return resp
}

func (m *Manager) circuitOpen() bool {
	return m.consecutiveFailures >= m.cfg.CircuitBreakerThreshold
}

package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/entities"
)

type fakeRecorder struct {
	records []entities.Episode
}

func (f *fakeRecorder) RecordAttempt(ctx context.Context, rec entities.Episode) error {
	f.records = append(f.records, rec)
	return nil
}

func fastConfig() Config {
	return Config{BaseBackoff: time.Millisecond, CircuitBreakerThreshold: 5, MaxRecoveryAttempts: 6}
}

func TestLevel1SucceedsOnSecondTry(t *testing.T) {
	rec := &fakeRecorder{}
	m := New(fastConfig(), rec)

	calls := 0
	unit := func(ctx context.Context) agent.Response {
		calls++
		if calls < 2 {
			return agent.Response{Variant: agent.TransientErr, Err: errors.New("timeout")}
		}
		return agent.Response{Variant: agent.Ok}
	}

	out, err := m.Run(context.Background(), "goal", unit, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.LevelUsed != entities.RecoveryRetrySame {
		t.Fatalf("expected level 1, got %v", out.LevelUsed)
	}
	if len(rec.records) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(rec.records))
	}
}

func TestSystematicEscalatesToLevel2Alternative(t *testing.T) {
	rec := &fakeRecorder{}
	m := New(fastConfig(), rec)

	unit := func(ctx context.Context) agent.Response {
		return agent.Response{Variant: agent.SystematicErr, Err: errors.New("wrong approach")}
	}
	alts := func(ctx context.Context) ([]Candidate, error) {
		return []Candidate{
			{Label: "weak", Probability: 0.3, CostMultiplier: 1, Run: func(ctx context.Context) agent.Response {
				return agent.Response{Variant: agent.SystematicErr, Err: errors.New("still bad")}
			}},
			{Label: "strong", Probability: 0.9, CostMultiplier: 1, Run: func(ctx context.Context) agent.Response {
				return agent.Response{Variant: agent.Ok}
			}},
		}, nil
	}

	out, err := m.Run(context.Background(), "goal", unit, alts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.LevelUsed != entities.RecoveryRetryAlternate {
		t.Fatalf("expected level 2, got %v", out.LevelUsed)
	}
}

func TestAmbiguityEscalatesToClarify(t *testing.T) {
	rec := &fakeRecorder{}
	m := New(fastConfig(), rec)

	unit := func(ctx context.Context) agent.Response {
		return agent.Response{Variant: agent.AmbiguityErr, Err: errors.New("unclear spec")}
	}
	clarify := func(ctx context.Context) agent.Response {
		return agent.Response{Variant: agent.Ok}
	}

	out, err := m.Run(context.Background(), "goal", unit, nil, clarify)
	if err != nil {
		t.Fatal(err)
	}
	if out.LevelUsed != entities.RecoveryRetryClarify {
		t.Fatalf("expected level 3, got %v", out.LevelUsed)
	}
}

func TestFatalEscalatesImmediately(t *testing.T) {
	rec := &fakeRecorder{}
	m := New(fastConfig(), rec)

	unit := func(ctx context.Context) agent.Response {
		return agent.Response{Variant: agent.FatalErr, Err: errors.New("destructive operation detected")}
	}

	_, err := m.Run(context.Background(), "goal", unit, nil, nil)
	var esc *EscalationError
	if !errors.As(err, &esc) {
		t.Fatalf("expected EscalationError, got %v", err)
	}
	if esc.Class != ClassFatal {
		t.Fatalf("expected fatal class, got %s", esc.Class)
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	rec := &fakeRecorder{}
	cfg := fastConfig()
	cfg.CircuitBreakerThreshold = 2
	m := New(cfg, rec)

	unit := func(ctx context.Context) agent.Response {
		return agent.Response{Variant: agent.TransientErr, Err: errors.New("timeout")}
	}

	_, err := m.Run(context.Background(), "goal", unit, nil, nil)
	var esc *EscalationError
	if !errors.As(err, &esc) {
		t.Fatalf("expected EscalationError once circuit breaker trips, got %v", err)
	}
}

package llmdispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/devforge/kernel/internal/agent"
	"github.com/devforge/kernel/internal/contract"
)

type scriptedProvider struct {
	content string
	err     error
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Content: p.content}, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req llm.ChatRequest, callback func(string)) (*llm.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func TestDispatchParsesFencedJSON(t *testing.T) {
	provider := &scriptedProvider{content: "```json\n{\"Score\": 0.8, \"Feedback\": \"looks fine\"}\n```"}
	d := New(provider)

	resp := d.Dispatch(context.Background(), contract.RoleSpecCritic, contract.SpecCriticInput{FeatureID: "f1", Spec: "spec text"})
	if resp.Variant != agent.Ok {
		t.Fatalf("expected Ok, got %s (%v)", resp.Variant, resp.Err)
	}
	out, ok := resp.Output.(contract.SpecCriticOutput)
	if !ok {
		t.Fatalf("expected SpecCriticOutput, got %T", resp.Output)
	}
	if out.Score != 0.8 || out.Feedback != "looks fine" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestDispatchRejectsInvalidInput(t *testing.T) {
	d := New(&scriptedProvider{content: "{}"})
	resp := d.Dispatch(context.Background(), contract.RoleSpecCritic, contract.SpecCriticInput{})
	if resp.Variant != agent.ContractErr {
		t.Fatalf("expected ContractErr for missing required input fields, got %s", resp.Variant)
	}
}

func TestDispatchClassifiesRateLimitAsTransient(t *testing.T) {
	d := New(&scriptedProvider{err: errors.New("429 rate limit exceeded")})
	resp := d.Dispatch(context.Background(), contract.RoleCoder, contract.CoderInput{FeatureID: "f1", IssueNumber: 1})
	if resp.Variant != agent.TransientErr {
		t.Fatalf("expected TransientErr, got %s", resp.Variant)
	}
}

func TestDispatchClassifiesOtherProviderErrorsAsSystematic(t *testing.T) {
	d := New(&scriptedProvider{err: errors.New("invalid api key")})
	resp := d.Dispatch(context.Background(), contract.RoleCoder, contract.CoderInput{FeatureID: "f1", IssueNumber: 1})
	if resp.Variant != agent.SystematicErr {
		t.Fatalf("expected SystematicErr, got %s", resp.Variant)
	}
}

func TestDispatchSurfacesScoreOutOfRangeAsContractErr(t *testing.T) {
	d := New(&scriptedProvider{content: `{"Score": 1.5, "Feedback": "bad"}`})
	resp := d.Dispatch(context.Background(), contract.RoleSpecCritic, contract.SpecCriticInput{FeatureID: "f1", Spec: "spec text"})
	if resp.Variant != agent.ContractErr {
		t.Fatalf("expected ContractErr for out-of-range score, got %s", resp.Variant)
	}
}

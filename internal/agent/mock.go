package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/devforge/kernel/internal/contract"
)

// MockDispatcher is a canned-response test double, mirroring the role
// llm.NewMockProvider plays for the agentkit-backed executor: tests arrange
// a fixed response (or a forced error) per role and assert the orchestrator
// reacts correctly, without making a real model call.
type MockDispatcher struct {
	mu        sync.Mutex
	responses map[contract.Role][]Response
	calls     []contract.Role
}

// NewMockDispatcher returns an empty MockDispatcher. Queue responses with
// Enqueue before exercising code that dispatches.
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{responses: make(map[contract.Role][]Response)}
}

// Enqueue appends one response to the FIFO queue for role. Dispatch pops
// from the front; if the queue for a role is empty, Dispatch returns a
// FatalErr so an unconfigured test does not silently succeed.
func (m *MockDispatcher) Enqueue(role contract.Role, resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[role] = append(m.responses[role], resp)
}

// Calls returns the roles dispatched so far, in order.
func (m *MockDispatcher) Calls() []contract.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]contract.Role, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockDispatcher) Dispatch(ctx context.Context, role contract.Role, input contract.Validatable) Response {
	if v := Validate(role, input); v != nil {
		return *v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, role)

	queue := m.responses[role]
	if len(queue) == 0 {
		return Response{Variant: FatalErr, Err: fmt.Errorf("agent: no mock response queued for role %s", role)}
	}
	resp := queue[0]
	m.responses[role] = queue[1:]
	return resp
}

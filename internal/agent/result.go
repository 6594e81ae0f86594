// Package agent defines the dispatch boundary between the kernel and
// whatever drives its agent roles (an LLM-backed implementation in
// production, a canned responder in tests). The kernel only ever talks to
// the Dispatcher and ProcessSupervisor interfaces here; it never imports a
// concrete vendor SDK or calls exec.Command directly (§4.16, §4.19).
package agent

import (
	"context"
	"fmt"

	"github.com/devforge/kernel/internal/contract"
)

// Variant tags the outcome of a single agent invocation so the recovery
// manager can classify it without inspecting error strings.
type Variant int

const (
	// Ok means the invocation returned a contract-valid output.
	Ok Variant = iota
	// TransientErr means the failure is expected to clear on its own
	// (rate limit, timeout, connection reset). Eligible for RETRY_SAME.
	TransientErr
	// SystematicErr means the same input will keep failing the same way
	// (bad prompt, missing tool, stale context). Eligible for
	// RETRY_ALTERNATE.
	SystematicErr
	// AmbiguityErr means the agent could not proceed without more
	// information from a human. Eligible for RETRY_CLARIFY.
	AmbiguityErr
	// FatalErr means recovery should not be attempted; escalate
	// immediately.
	FatalErr
	// ContractErr means the output failed its envelope's Validate check.
	ContractErr
)

func (v Variant) String() string {
	switch v {
	case Ok:
		return "ok"
	case TransientErr:
		return "transient_error"
	case SystematicErr:
		return "systematic_error"
	case AmbiguityErr:
		return "ambiguity_error"
	case FatalErr:
		return "fatal_error"
	case ContractErr:
		return "contract_error"
	default:
		return "unknown"
	}
}

// Response is the uniform return value of every agent dispatch.
type Response struct {
	Variant Variant
	Output  contract.Validatable
	Err     error
}

// ClassifiedError is returned by a Dispatcher implementation when it wants
// to tag the failure with a specific Variant rather than leave it to the
// kernel's default TransientErr assumption.
type ClassifiedError struct {
	Variant Variant
	Cause   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Variant, e.Cause)
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// Dispatcher sends one role invocation and waits for its result. Production
// implementations adapt an LLM provider client; test implementations return
// canned responses (see MockDispatcher).
type Dispatcher interface {
	Dispatch(ctx context.Context, role contract.Role, input contract.Validatable) Response
}

// Validate runs input.Validate() and, on failure, wraps it as a
// ContractErr Response rather than letting a malformed envelope reach the
// underlying model call.
func Validate(role contract.Role, input contract.Validatable) *Response {
	if err := input.Validate(); err != nil {
		return &Response{Variant: ContractErr, Err: err}
	}
	return nil
}

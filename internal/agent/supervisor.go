package agent

import "context"

// ProcessHandle is an opaque reference to a running subprocess.
type ProcessHandle interface {
	// PID returns the OS process id, or 0 if the handle has no live
	// process backing it.
	PID() int
	// Wait blocks until the process exits and returns its error, if any.
	Wait() error
}

// ProcessSupervisor starts, signals, and reaps subprocesses on behalf of
// agent roles that shell out (e.g. a test runner invoked by Verifier).
// Kernel code never calls exec.Command directly; it goes through this
// interface so production and test bindings can differ without the
// orchestrators knowing (§4.19).
type ProcessSupervisor interface {
	// Start launches command with args in dir and returns a handle.
	Start(ctx context.Context, dir, command string, args ...string) (ProcessHandle, error)
	// Stop sends a graceful termination signal to the process and waits
	// up to the implementation's grace period before escalating to a
	// forced kill.
	Stop(ctx context.Context, h ProcessHandle) error
}

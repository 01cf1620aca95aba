package worker

import (
	"context"

	"github.com/GriffinCanCode/scriptbox/internal/sandbox"
)

// Runner executes one validated invocation. Run never returns nil.
type Runner interface {
	Run(ctx context.Context, inv sandbox.Invocation) *sandbox.Outcome
	Name() string
}

// Isolation modes
const (
	IsolationProcess   = "process"
	IsolationInProcess = "inprocess"
)

// InProcessRunner runs invocations on the caller's goroutine.
type InProcessRunner struct {
	exec *sandbox.Executor
}

// NewInProcessRunner creates a runner backed by exec
func NewInProcessRunner(exec *sandbox.Executor) *InProcessRunner {
	return &InProcessRunner{exec: exec}
}

func (r *InProcessRunner) Run(ctx context.Context, inv sandbox.Invocation) *sandbox.Outcome {
	return r.exec.Run(ctx, inv)
}

func (r *InProcessRunner) Name() string { return IsolationInProcess }

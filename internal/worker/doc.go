/*
Package worker runs sandbox invocations with bounded concurrency.

A Pool admits at most Size invocations at once and hands each one to a
Runner. InProcessRunner executes on the calling goroutine. ProcessRunner
re-executes the current binary as a short-lived child per invocation, which
gives every run its own heap, an empty environment and an OS-level kill if
the interpreter ever fails to stop on its own.

Pool refusals (ErrPoolClosed, ErrTimeout) are returned as errors; everything
that happens once an invocation is admitted is reported as a sandbox.Outcome.
*/
package worker

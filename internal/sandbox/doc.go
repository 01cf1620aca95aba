/*
Package sandbox executes untrusted JavaScript inside a bounded goja runtime.

# Overview

Every invocation gets a fresh interpreter that is discarded afterwards. No
runtime, global or cache is shared between invocations. Each run has:

  - A wall-clock deadline enforced by interrupting the interpreter
  - A memory ceiling enforced by heap sampling and host-side reservations
  - Mediated network access (see package network)
  - Captured console output, returned even when the run fails

# Architecture

 1. Executor: validates the request and owns one session per invocation
 2. Governor: deadline timer and memory watcher; interrupts the runtime
 3. Capabilities: the immutable bundle (fetch, console, input) installed
    into the runtime
 4. Result protocol: turns whatever happened into an Outcome

# Caller code

Code runs as the body of an async entry function:

	async function main(input) { <code> }

Code that is a single expression is returned directly, so "2 + 2" yields 4.
Returning an object with a skip_reason or error_reason key is a cooperative
signal and is reported in the Outcome without failing the run.

# Security Model

Sandboxed code cannot:
  - Reach the filesystem, processes, timers or modules (goja has none)
  - Generate code from strings (eval and the Function constructor are removed)
  - Mutate Object.prototype, Array.prototype or Function.prototype
  - Reach private networks or hosts outside its allowlist

# Usage Example

	executor := sandbox.NewExecutor(sandbox.DefaultConfig(), sandbox.WithLogger(logger))

	outcome := executor.Execute(ctx, sandbox.Request{
		Code:           `const r = await fetch("https://api.example.com/x"); return r.json;`,
		AllowedDomains: []string{"api.example.com"},
	})
*/
package sandbox

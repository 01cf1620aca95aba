// Package cli implements the scriptbox command line.
//
// Commands:
//   - serve: HTTP service (POST /execute, GET /health, GET /metrics)
//   - run: execute one script file or stdin and print the outcome
//   - worker: child side of process isolation (hidden)
//   - version
package cli

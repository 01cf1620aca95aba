// Command scriptbox runs untrusted JavaScript in a resource-bounded sandbox.
//
// Usage:
//
//	scriptbox serve [--port 8000] [--isolation process|inprocess]
//	scriptbox run script.js --input '{"n": 1}' --allow api.example.com
//	echo 'return 2 + 2' | scriptbox run - --output yaml
//
// Configuration is read from the environment (PORT, LOG_LEVEL, SANDBOX_*,
// WORKER_*); command line flags override it.
package main

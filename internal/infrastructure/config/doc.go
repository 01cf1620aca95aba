// Package config provides 12-factor configuration management for scriptbox.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, request body cap)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Sandbox: Invocation limits and fetch settings
//   - Worker: Pool size and isolation mode
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	exec := sandbox.NewExecutor(cfg.Sandbox.ToSandbox())
//
// Environment Variables:
//   - PORT, HOST, MAX_BODY_BYTES
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - SANDBOX_DEFAULT_TIMEOUT_MS, SANDBOX_MAX_TIMEOUT_MS, SANDBOX_*_MEMORY_BYTES,
//     SANDBOX_MAX_CODE_BYTES, SANDBOX_FETCH_*
//   - WORKER_POOL_SIZE, WORKER_ISOLATION, WORKER_ACQUIRE_TIMEOUT_MS, WORKER_KILL_GRACE_MS
package config

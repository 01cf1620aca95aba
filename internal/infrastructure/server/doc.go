// Package server wires the scriptbox HTTP service together.
//
// Server Lifecycle:
//  1. Load configuration from the environment
//  2. Initialize logger and metrics
//  3. Build the runner selected by WORKER_ISOLATION and the worker pool
//  4. Set up routes and middleware (recovery, request ID, access log,
//     metrics, CORS, rate limiting on /execute) behind gzip compression
//  5. Serve until the context is cancelled
//  6. Shut down HTTP, then drain in-flight invocations
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx)
package server

// Package http provides the HTTP handlers for the scriptbox REST API.
//
// Endpoints:
//   - GET  /        liveness
//   - GET  /health  pool occupancy, request limits and counters
//   - POST /execute run one script and return its outcome
//
// A script failure is still a successful exchange: /execute answers 200 with
// an outcome whose classification says what happened. Non-200 answers are
// reserved for requests that never reached a sandbox (400 malformed body,
// 413 oversized body, 503 pool closed or saturated).
//
// Example Usage:
//
//	handlers := http.NewHandlers(pool, metrics, logger, cfg.Server.MaxBodyBytes)
//	router.POST("/execute", handlers.Execute)
package http

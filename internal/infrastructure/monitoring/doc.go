/*
Package monitoring provides metrics collection for scriptbox.

# Overview

Metrics are registered on a private Prometheus registry so tests and
multiple servers never collide on the global one. The collector tracks HTTP
traffic, sandbox invocations by terminal classification, fetch policy
decisions and the number of invocations in flight.

Metrics satisfies both worker.Observer and sandbox.Observer, so the pool and
the executor report into it without knowing about Prometheus.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	pool := worker.NewPool(runner, cfg, metrics, logger)
*/
package monitoring

/*
Package monitoring provides Prometheus metrics for the bridge and its HTTP
host.

# Overview

Collectors are registered on a caller supplied prometheus.Registerer so that
tests and embedded hosts can use their own registry. A nil *Metrics is valid
and records nothing.

# Features

- Bridge operation counts and latency by operation and outcome
- Exception counts by kind
- Open page gauge and rejected bytecode counter
- HTTP request metrics (latency, throughput, size)
- Exception stream connection gauge

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics, "evaluate_scripts")
	// ... perform operation ...
	timer.Stop(monitoring.StatusOK)
*/
package monitoring

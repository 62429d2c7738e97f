/*
Package monitoring provides metrics collection for the supervisor.

# Overview

Prometheus collectors track the process table (live processes, creations,
exits by reason, pending registrations), every request the manager services
(count and latency by op), and the HTTP and WebSocket surface.

Collectors are registered on a caller-supplied registry rather than the
global one, so several managers can coexist in one binary or test.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics, "KILL_PROCESS")
	// ... service the request ...
	timer.Stop("ok")
*/
package monitoring

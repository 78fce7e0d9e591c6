// Package health tracks the health of a running flow.
//
// A Monitor holds one Status per named part (a scheduler, a network edge, the
// runtime itself) and aggregates them: any unhealthy part makes the whole
// unhealthy, otherwise any degraded part makes it degraded.
//
//	monitor := health.NewMonitor()
//	monitor.Update("scheduler.default", health.FromScheduler(stats, nil))
//	monitor.Update("buffer.src:out->sink:in", health.FromBuffer(bufStats))
//
//	http.Handle("/health", monitor.Handler("streamrt"))
//
// Error text placed in a Status is sanitized: URLs, paths, addresses and
// credentials are replaced by placeholders before they reach an HTTP client.
package health

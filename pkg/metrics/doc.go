/*
Package metrics provides Prometheus instrumentation for goadmit.

Components accept an optional metrics.Config; when enabled, the
orchestrator records admission outcomes, quota consumption, violations,
and throttle load into a shared Registry. Use a dedicated Prometheus
registry per component to avoid metric name collisions:

	registry := prometheus.NewRegistry()
	cfg := metrics.Config{Enabled: true, Registry: registry}
	reg := metrics.NewRegistry(registry)

Expose collected metrics with promhttp in the host process.
*/
package metrics

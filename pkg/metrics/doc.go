/*
Package metrics exposes the step daemon's Prometheus instrumentation:
the connection counter and per-opcode request counts and latency, which
pkg/server updates. The step-scoped gauges (suspend state, lifecycle
state, tracked extern pids) and the stray-socket counter are registered
and exported as well, but no code in this module sets them, so they
always read zero.

Metrics are registered once at package init and exposed over the
daemon's debug HTTP listener alongside the health endpoint (see
Handler and health.go).
*/
package metrics

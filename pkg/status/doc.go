/*
Package status serves read-only monitoring on status_port, away from the
WebSocket port so monitoring never competes with client traffic.

	GET /status   JSON snapshot (connections, per-topic subscribers and
	              stored events, queue depths, events per second, poll state,
	              last cleanup report, fatal error if any)
	GET /health   component health, 503 when any component is unhealthy
	GET /ready    readiness of the event store and the gateway
	GET /live     liveness
	GET /metrics  Prometheus metrics

Snapshots are bounded by status_timeout and never modify the components
they read. After a fatal startup failure the server still runs, with only
the fatal message and topic configuration populated.
*/
package status

/*
Package metrics holds beacon's Prometheus collectors, the component health
checker behind /health, /ready and /live, and the throughput tracker that
feeds the status snapshot.

All collectors are registered with the default registry in init and are
exposed through Handler. Gauges that mirror live state (connections,
subscribers, queue depth, stored events) are refreshed by a Collector that
samples a Sampler on a ticker; counters and histograms are updated inline
by the packages that own the events.

# Health

Components report through RegisterComponent and UpdateComponent. Readiness
requires the critical components (eventstore and gateway) to be registered
and healthy. MarkFatal records an unrecoverable failure that stays visible
in every health response until the process exits:

	if errors.Is(err, types.ErrStoreAllocation) {
		metrics.MarkFatal("eventstore", err.Error())
	}

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CleanupDuration)
*/
package metrics

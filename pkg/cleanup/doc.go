// Package cleanup runs the periodic sweep that is the only remover of
// expired state: stored events past event_ttl, queued entries past
// queue_ttl, cache entries past cache_ttl and throughput history past
// monitoring_retention. It also reaps queues and subscriptions whose
// connection no longer exists, bounding how long any orphan survives to one
// cleanup_interval.
package cleanup

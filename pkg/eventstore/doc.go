/*
Package eventstore keeps a bounded, TTL-expiring window of recent events for
every enabled topic.

Each topic owns a fixed-size ring buffer allocated once in New. Ingest
assigns the next per-topic sequence number (starting at 1) and the ingest
time; when the ring is full the oldest event is evicted first, so a topic
never holds more than max_events. Query never returns an event older than
event_ttl even if the cleanup sweep has not removed it yet.

New is the only operation that can fail fatally. Callers must treat
types.ErrStoreAllocation as unrecoverable.
*/
package eventstore

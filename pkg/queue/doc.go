/*
Package queue implements the per-connection delivery queues.

A Queue is a bounded FIFO that sheds load by dropping its oldest entry when
full; the producer (the hub's fan-out) never waits on a slow client. The
connection's write pump drains it in batches of at most batch_size, either
on the flush_interval tick or as soon as Ready fires because the depth has
reached flush_threshold. Entries older than queue_ttl are never delivered.

The Set maps connection ids to queues. The gateway opens a queue when a
connection is accepted and discards it on close; the cleanup sweep calls
ExpireAll and Retain to remove expired entries and orphaned queues.
*/
package queue

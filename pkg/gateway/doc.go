/*
Package gateway owns the client-facing WebSocket boundary.

# Admission

A handshake on /ws passes, in order: the IP deny/allow lists, the Origin
allow-list, the per-IP handshake rate, identity verification (pkg/auth) and
finally the per-IP connection cap enforced by Manager.Open. Only then is the
connection upgraded.

# Lifecycle

Every connection moves Connecting -> Open -> Closing -> Closed. Close is
synchronous and idempotent: when it returns, the connection's
subscriptions and delivery queue are gone, its context is cancelled (which
stops the write pump) and its IP slot is free. Client close, read and
write errors and the idle timeout all end in Close.

# Pumps

Each connection runs two goroutines. The read pump decodes control frames:

	{"action":"subscribe","topic":"device_health","since":41}
	{"action":"unsubscribe","topic":"device_health"}
	{"action":"ping"}

and answers with ack, error or pong frames. The write pump is the only
writer on the socket; it relays those replies and flushes the delivery
queue as batch frames of at most batch_size events, every flush_interval
or as soon as the queue reaches flush_threshold.

# Push

POST /events accepts a JSON array of {topic, payload} records from the
backend when push_token is configured.
*/
package gateway

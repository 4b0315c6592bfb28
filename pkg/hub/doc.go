/*
Package hub connects the event store, the subscription registry and the
delivery queues.

Publishing takes the topic's lock, ingests the event (assigning its
sequence), resolves the current subscribers and enqueues the event for each
of them before releasing the lock. Subscribing with a replay cursor takes
the same lock, so replayed events always precede live ones and a subscriber
never observes a topic's sequence out of order.

	event, err := h.Publish(types.TopicDeviceHealth, payload)
	if errors.Is(err, types.ErrUnsupportedTopic) {
		// topic disabled in data_types
	}
*/
package hub

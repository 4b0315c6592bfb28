package hub

import (
	"encoding/json"
	"sync"

	"github.com/cuemby/beacon/pkg/eventstore"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/queue"
	"github.com/cuemby/beacon/pkg/registry"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/rs/zerolog"
)

// Hub routes ingested events to the delivery queues of their subscribers
type Hub struct {
	store      *eventstore.Store
	registry   *registry.Registry
	queues     *queue.Set
	throughput *metrics.Throughput
	logger     zerolog.Logger

	// one lock per topic: ingest, resolve and enqueue happen as a unit so
	// every subscriber sees a topic's events in sequence order
	locks [types.NumTopics]sync.Mutex
}

// New creates a hub over the shared store, registry and queues
func New(store *eventstore.Store, reg *registry.Registry, queues *queue.Set, throughput *metrics.Throughput) *Hub {
	return &Hub{
		store:      store,
		registry:   reg,
		queues:     queues,
		throughput: throughput,
		logger:     log.WithComponent("hub"),
	}
}

// Publish ingests an event and enqueues it for every current subscriber
func (h *Hub) Publish(topic types.Topic, payload json.RawMessage) (types.Event, error) {
	return h.PublishFrom(topic, payload, 0)
}

// PublishFrom is Publish for an event that carries an upstream record id
func (h *Hub) PublishFrom(topic types.Topic, payload json.RawMessage, sourceID int64) (types.Event, error) {
	if !topic.Valid() {
		return types.Event{}, types.ErrUnsupportedTopic
	}

	h.locks[topic].Lock()
	defer h.locks[topic].Unlock()

	event, err := h.store.IngestFrom(topic, payload, sourceID)
	if err != nil {
		return types.Event{}, err
	}

	subscribers := h.registry.Resolve(topic)
	for _, connID := range subscribers {
		// false means the connection closed after Resolve; its close
		// cascade removes the subscription
		h.queues.Enqueue(connID, event)
	}
	h.throughput.Add(1)

	h.logger.Debug().
		Str("topic", topic.String()).
		Uint64("seq", event.Sequence).
		Int("subscribers", len(subscribers)).
		Msg("Event published")

	return event, nil
}

// Subscribe registers the subscription and, when since is set, queues the
// stored events newer than since ahead of any live event. A connection that
// already holds the topic has been receiving it live, so nothing is
// replayed. It returns the topic's last sequence so the client can detect
// gaps.
func (h *Hub) Subscribe(connID string, topic types.Topic, since *uint64) (uint64, error) {
	if !topic.Valid() {
		return 0, types.ErrUnsupportedTopic
	}

	h.locks[topic].Lock()
	defer h.locks[topic].Unlock()

	added, err := h.registry.Subscribe(connID, topic)
	if err != nil {
		return 0, err
	}

	if added && since != nil {
		replay, err := h.store.Query(topic, *since)
		if err != nil {
			return 0, err
		}
		for _, event := range replay {
			h.queues.Enqueue(connID, event)
		}
		if len(replay) > 0 {
			h.logger.Debug().
				Str("conn_id", connID).
				Str("topic", topic.String()).
				Int("events", len(replay)).
				Msg("Replayed stored events")
		}
	}

	return h.store.LastSequence(topic), nil
}

// Unsubscribe removes a subscription. It is idempotent.
func (h *Hub) Unsubscribe(connID string, topic types.Topic) {
	h.registry.Unsubscribe(connID, topic)
}

// Store returns the event store
func (h *Hub) Store() *eventstore.Store {
	return h.store
}

// Registry returns the subscription registry
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Queues returns the delivery queue set
func (h *Hub) Queues() *queue.Set {
	return h.queues
}

// Throughput returns the ingest rate tracker
func (h *Hub) Throughput() *metrics.Throughput {
	return h.throughput
}

// Sample implements metrics.Sampler
func (h *Hub) Sample() metrics.Sample {
	sample := metrics.Sample{
		Connections:  h.queues.Len(),
		QueueDepth:   h.queues.TotalDepth(),
		Subscribers:  make(map[string]int),
		StoredEvents: make(map[string]int),
	}
	for topic, count := range h.registry.Counts() {
		sample.Subscribers[topic.String()] = count
	}
	for topic, st := range h.store.Stats() {
		sample.StoredEvents[topic.String()] = st.Stored
	}
	return sample
}

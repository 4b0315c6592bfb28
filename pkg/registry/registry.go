package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/beacon/pkg/types"
)

// Registry is the connection <-> topic relation. It holds only connection
// ids; the gateway owns the connections themselves.
type Registry struct {
	mu      sync.RWMutex
	enabled types.TopicSet
	limit   int
	byConn  map[string]types.TopicSet
	byTopic [types.NumTopics]map[string]struct{}
}

// New creates a registry that accepts subscriptions to enabled topics and
// caps each connection at limit topics
func New(enabled types.TopicSet, limit int) *Registry {
	r := &Registry{
		enabled: enabled,
		limit:   limit,
		byConn:  make(map[string]types.TopicSet),
	}
	for i := range r.byTopic {
		r.byTopic[i] = make(map[string]struct{})
	}
	return r
}

// Subscribe adds topic to the connection's subscriptions and reports
// whether it was newly added. Subscribing to a topic already held succeeds
// with added false and does not count twice.
func (r *Registry) Subscribe(connID string, topic types.Topic) (added bool, err error) {
	if !topic.Valid() {
		return false, fmt.Errorf("%w: %s", types.ErrUnsupportedTopic, topic)
	}
	if !r.enabled.Has(topic) {
		return false, fmt.Errorf("%w: %s", types.ErrTopicDisabled, topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.byConn[connID]
	if held.Has(topic) {
		return false, nil
	}
	if held.Len() >= r.limit {
		return false, fmt.Errorf("%w: %d of %d", types.ErrSubscriptionLimitExceeded, held.Len(), r.limit)
	}

	r.byConn[connID] = held.Add(topic)
	r.byTopic[topic][connID] = struct{}{}
	return true, nil
}

// Unsubscribe removes topic from the connection. Removing a subscription
// that does not exist is not an error.
func (r *Registry) Unsubscribe(connID string, topic types.Topic) {
	if !topic.Valid() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.byConn[connID]
	if !ok || !held.Has(topic) {
		return
	}
	held = held.Remove(topic)
	if held.Len() == 0 {
		delete(r.byConn, connID)
	} else {
		r.byConn[connID] = held
	}
	delete(r.byTopic[topic], connID)
}

// Resolve returns the connections subscribed to topic, sorted by id
func (r *Registry) Resolve(topic types.Topic) []string {
	if !topic.Valid() {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]string, 0, len(r.byTopic[topic]))
	for id := range r.byTopic[topic] {
		subs = append(subs, id)
	}
	sort.Strings(subs)
	return subs
}

// RemoveConnection drops every subscription held by the connection and
// returns the topics it was subscribed to
func (r *Registry) RemoveConnection(connID string) []types.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	topics := held.Topics()
	for _, t := range topics {
		delete(r.byTopic[t], connID)
	}
	delete(r.byConn, connID)
	return topics
}

// Topics returns the topics held by the connection
func (r *Registry) Topics(connID string) []types.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID].Topics()
}

// Counts returns the number of subscribers for every enabled topic
func (r *Registry) Counts() map[types.Topic]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[types.Topic]int, r.enabled.Len())
	for _, t := range r.enabled.Topics() {
		counts[t] = len(r.byTopic[t])
	}
	return counts
}

// Connections lists every connection holding at least one subscription
func (r *Registry) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byConn))
	for id := range r.byConn {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of connections holding at least one subscription
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Enabled returns the topics that accept subscriptions
func (r *Registry) Enabled() types.TopicSet {
	return r.enabled
}

package eventstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/types"
)

// MaxCapacity is the per-topic ceiling accepted by New
const MaxCapacity = 1 << 20

// Store is a bounded, TTL-expiring buffer of recent events per topic
type Store struct {
	maxEvents int
	ttl       time.Duration
	enabled   types.TopicSet
	now       func() time.Time
	topics    [types.NumTopics]*topicLog
}

// topicLog is a ring buffer ordered by sequence (and therefore by ingest time)
type topicLog struct {
	mu         sync.RWMutex
	buf        []types.Event
	head       int
	size       int
	nextSeq    uint64
	lastIngest time.Time
	evicted    uint64
	expired    uint64
}

// TopicStats is a read-only summary of one topic
type TopicStats struct {
	Stored     int       `json:"stored"`
	FirstSeq   uint64    `json:"first_seq"`
	LastSeq    uint64    `json:"last_seq"`
	LastIngest time.Time `json:"last_ingest,omitempty"`
	Evicted    uint64    `json:"evicted"`
	Expired    uint64    `json:"expired"`
}

// Option customises a Store
type Option func(*Store)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New allocates the store for every enabled topic. Failure here is the only
// fatal error in the service and is reported as ErrStoreAllocation.
func New(cfg *config.Config, opts ...Option) (store *Store, err error) {
	if cfg.MaxEvents <= 0 || cfg.MaxEvents > MaxCapacity {
		return nil, fmt.Errorf("%w: max_events %d outside 1..%d", types.ErrStoreAllocation, cfg.MaxEvents, MaxCapacity)
	}
	if cfg.EventTTL <= 0 {
		return nil, fmt.Errorf("%w: event_ttl must be positive", types.ErrStoreAllocation)
	}

	defer func() {
		if r := recover(); r != nil {
			store = nil
			err = fmt.Errorf("%w: %v", types.ErrStoreAllocation, r)
		}
	}()

	s := &Store{
		maxEvents: cfg.MaxEvents,
		ttl:       cfg.EventTTLDuration(),
		enabled:   cfg.EnabledTopics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, topic := range types.AllTopics() {
		tl := &topicLog{nextSeq: 1}
		if s.enabled.Has(topic) {
			tl.buf = make([]types.Event, s.maxEvents)
		}
		s.topics[topic] = tl
	}

	return s, nil
}

// Ingest stores a new event and assigns its sequence number and time.
// When the topic is full the oldest event is evicted first.
func (s *Store) Ingest(topic types.Topic, payload json.RawMessage) (types.Event, error) {
	return s.IngestFrom(topic, payload, 0)
}

// IngestFrom is Ingest with the upstream record id kept on the event
func (s *Store) IngestFrom(topic types.Topic, payload json.RawMessage, sourceID int64) (types.Event, error) {
	if !s.enabled.Has(topic) {
		return types.Event{}, fmt.Errorf("%w: %s", types.ErrUnsupportedTopic, topic)
	}

	tl := s.topics[topic]
	tl.mu.Lock()
	defer tl.mu.Unlock()

	now := s.now()
	event := types.Event{
		Topic:     topic,
		Sequence:  tl.nextSeq,
		CreatedAt: now,
		SourceID:  sourceID,
		Payload:   append(json.RawMessage(nil), payload...),
	}

	if tl.size == len(tl.buf) {
		tl.head = (tl.head + 1) % len(tl.buf)
		tl.size--
		tl.evicted++
		metrics.EventsEvictedTotal.WithLabelValues(topic.String(), "capacity").Inc()
	}
	tl.buf[(tl.head+tl.size)%len(tl.buf)] = event
	tl.size++
	tl.nextSeq++
	tl.lastIngest = now

	metrics.EventsIngestedTotal.WithLabelValues(topic.String()).Inc()
	metrics.EventsStored.WithLabelValues(topic.String()).Set(float64(tl.size))

	return event, nil
}

// Query returns live events with a sequence above since, oldest first
func (s *Store) Query(topic types.Topic, since uint64) ([]types.Event, error) {
	if !s.enabled.Has(topic) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedTopic, topic)
	}

	tl := s.topics[topic]
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	cutoff := s.now().Add(-s.ttl)
	var out []types.Event
	for i := 0; i < tl.size; i++ {
		e := tl.buf[(tl.head+i)%len(tl.buf)]
		if e.Sequence <= since || !e.CreatedAt.After(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// LastSequence returns the highest sequence assigned to topic (0 if none)
func (s *Store) LastSequence(topic types.Topic) uint64 {
	if !topic.Valid() {
		return 0
	}
	tl := s.topics[topic]
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.nextSeq - 1
}

// ExpireBefore drops every event older than the TTL relative to now and
// returns how many were removed
func (s *Store) ExpireBefore(now time.Time) int {
	cutoff := now.Add(-s.ttl)
	removed := 0

	for _, topic := range s.enabled.Topics() {
		tl := s.topics[topic]
		tl.mu.Lock()
		n := 0
		for tl.size > 0 {
			oldest := &tl.buf[tl.head]
			if oldest.CreatedAt.After(cutoff) {
				break
			}
			*oldest = types.Event{}
			tl.head = (tl.head + 1) % len(tl.buf)
			tl.size--
			n++
		}
		tl.expired += uint64(n)
		size := tl.size
		tl.mu.Unlock()

		if n > 0 {
			metrics.EventsEvictedTotal.WithLabelValues(topic.String(), "ttl").Add(float64(n))
		}
		metrics.EventsStored.WithLabelValues(topic.String()).Set(float64(size))
		removed += n
	}

	return removed
}

// Enabled returns the set of topics the store accepts
func (s *Store) Enabled() types.TopicSet {
	return s.enabled
}

// Len returns the number of events held for topic, expired or not
func (s *Store) Len(topic types.Topic) int {
	if !topic.Valid() {
		return 0
	}
	tl := s.topics[topic]
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.size
}

// Stats summarises every enabled topic
func (s *Store) Stats() map[types.Topic]TopicStats {
	out := make(map[types.Topic]TopicStats, s.enabled.Len())
	for _, topic := range s.enabled.Topics() {
		tl := s.topics[topic]
		tl.mu.RLock()
		st := TopicStats{
			Stored:     tl.size,
			LastSeq:    tl.nextSeq - 1,
			LastIngest: tl.lastIngest,
			Evicted:    tl.evicted,
			Expired:    tl.expired,
		}
		if tl.size > 0 {
			st.FirstSeq = tl.buf[tl.head].Sequence
		}
		tl.mu.RUnlock()
		out[topic] = st
	}
	return out
}

package queue

import (
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/types"
)

// Set owns the delivery queue of every open connection
type Set struct {
	mu     sync.RWMutex
	queues map[string]*Queue

	capacity  int
	batchSize int
	threshold int
	ttl       time.Duration
	now       func() time.Time
}

// Option customises a Set
type Option func(*Set)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Set) {
		s.now = now
	}
}

// NewSet creates an empty set using the delivery settings from cfg
func NewSet(cfg *config.Config, opts ...Option) *Set {
	s := &Set{
		queues:    make(map[string]*Queue),
		capacity:  cfg.MaxQueueSize,
		batchSize: cfg.BatchSize,
		threshold: cfg.EffectiveFlushThreshold(),
		ttl:       cfg.QueueTTLDuration(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns the queue for a connection, creating it if needed
func (s *Set) Open(connID string) *Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[connID]; ok {
		return q
	}
	q := newQueue(connID, s)
	s.queues[connID] = q
	return q
}

// Get returns the queue for a connection, or nil
func (s *Set) Get(connID string) *Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queues[connID]
}

// Discard releases the connection's queue and returns the number of events
// that were never delivered. Discarding an unknown id is a no-op.
func (s *Set) Discard(connID string) int {
	s.mu.Lock()
	q, ok := s.queues[connID]
	delete(s.queues, connID)
	s.mu.Unlock()

	if !ok {
		return 0
	}
	return q.close()
}

// Enqueue appends event to the connection's queue. It returns false when
// the connection has no queue.
func (s *Set) Enqueue(connID string, event types.Event) bool {
	q := s.Get(connID)
	if q == nil {
		return false
	}
	return q.Enqueue(event)
}

// ExpireAll drops entries older than the queue TTL from every queue
func (s *Set) ExpireAll(now time.Time) int {
	cutoff := now.Add(-s.ttl)
	removed := 0
	for _, q := range s.snapshot() {
		removed += q.ExpireBefore(cutoff)
	}
	return removed
}

// Retain discards every queue whose connection is no longer live and
// returns how many were reaped
func (s *Set) Retain(live func(connID string) bool) int {
	reaped := 0
	for _, q := range s.snapshot() {
		if !live(q.id) {
			s.Discard(q.id)
			reaped++
		}
	}
	return reaped
}

// Depths returns the pending entry count of every queue
func (s *Set) Depths() map[string]int {
	queues := s.snapshot()
	depths := make(map[string]int, len(queues))
	for _, q := range queues {
		depths[q.id] = q.Len()
	}
	return depths
}

// TotalDepth returns the sum of all queue depths
func (s *Set) TotalDepth() int {
	total := 0
	for _, q := range s.snapshot() {
		total += q.Len()
	}
	return total
}

// Len returns the number of queues
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queues)
}

func (s *Set) snapshot() []*Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Queue, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, q)
	}
	return out
}

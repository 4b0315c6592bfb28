package queue

import (
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/types"
)

type entry struct {
	event    types.Event
	enqueued time.Time
}

// Queue is a lossy FIFO of events waiting to be written to one connection.
// It never blocks the producer: when full, the oldest entry is dropped.
type Queue struct {
	mu        sync.Mutex
	id        string
	items     []entry
	capacity  int
	batchSize int
	threshold int
	ttl       time.Duration
	now       func() time.Time
	ready     chan struct{}
	closed    bool

	dropped uint64
	expired uint64
}

func newQueue(id string, s *Set) *Queue {
	return &Queue{
		id:        id,
		capacity:  s.capacity,
		batchSize: s.batchSize,
		threshold: s.threshold,
		ttl:       s.ttl,
		now:       s.now,
		ready:     make(chan struct{}, 1),
	}
}

// ID returns the connection id the queue belongs to
func (q *Queue) ID() string {
	return q.id
}

// Enqueue appends an event, dropping the oldest when the queue is full.
// It returns false if the queue has been discarded.
func (q *Queue) Enqueue(event types.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.items) >= q.capacity {
		q.items[0] = entry{}
		q.items = q.items[1:]
		q.dropped++
		metrics.QueueDroppedTotal.WithLabelValues("overflow").Inc()
	}
	q.items = append(q.items, entry{event: event, enqueued: q.now()})

	if len(q.items) >= q.threshold {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return true
}

// Drain removes and returns up to n of the oldest live events, never more
// than the batch size. Entries past the queue TTL are dropped on the way.
func (q *Queue) Drain(n int) []types.Event {
	if n <= 0 || n > q.batchSize {
		n = q.batchSize
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.ttl)
	out := make([]types.Event, 0, min(n, len(q.items)))
	taken, expired := 0, 0
	for taken < len(q.items) && len(out) < n {
		e := q.items[taken]
		q.items[taken] = entry{}
		taken++
		if !e.enqueued.After(cutoff) {
			expired++
			continue
		}
		out = append(out, e.event)
	}
	q.items = q.items[taken:]
	if len(q.items) == 0 {
		q.items = nil
	}

	if expired > 0 {
		q.expired += uint64(expired)
		metrics.QueueDroppedTotal.WithLabelValues("expired").Add(float64(expired))
	}
	return out
}

// ExpireBefore drops every entry enqueued at or before cutoff and returns
// how many were removed
func (q *Queue) ExpireBefore(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, e := range q.items {
		if !e.enqueued.After(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = entry{}
	}
	q.items = kept

	if removed > 0 {
		q.expired += uint64(removed)
		metrics.QueueDroppedTotal.WithLabelValues("expired").Add(float64(removed))
	}
	return removed
}

// Ready fires when the depth reaches the flush threshold
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of pending entries, expired ones included
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of entries shed by overflow
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Expired returns the number of entries dropped for age
func (q *Queue) Expired() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.expired
}

// close empties the queue and rejects further enqueues
func (q *Queue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	n := len(q.items)
	q.items = nil
	if n > 0 {
		metrics.QueueDroppedTotal.WithLabelValues("discarded").Add(float64(n))
	}
	return n
}

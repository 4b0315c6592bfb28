package metrics

import (
	"sync"
	"time"
)

// Throughput counts events per wall-clock second and keeps the per-second
// history for the configured monitoring retention
type Throughput struct {
	mu        sync.Mutex
	retention time.Duration
	buckets   map[int64]uint64
	total     uint64
	now       func() time.Time
}

// Point is one second of throughput history
type Point struct {
	Second int64  `json:"second"`
	Count  uint64 `json:"count"`
}

// NewThroughput creates a tracker that retains history for retention
func NewThroughput(retention time.Duration) *Throughput {
	return &Throughput{
		retention: retention,
		buckets:   make(map[int64]uint64),
		now:       time.Now,
	}
}

// Add records n events in the current second
func (t *Throughput) Add(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[t.now().Unix()] += uint64(n)
	t.total += uint64(n)
}

// Rate returns the average events per second over the trailing window,
// the current partial second included
func (t *Throughput) Rate(window time.Duration) float64 {
	seconds := int64(window / time.Second)
	if seconds <= 0 {
		seconds = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.now().Unix()
	var sum uint64
	for sec := current - seconds + 1; sec <= current; sec++ {
		sum += t.buckets[sec]
	}
	return float64(sum) / float64(seconds)
}

// Peak returns the busiest retained second
func (t *Throughput) Peak() Point {
	t.mu.Lock()
	defer t.mu.Unlock()

	var peak Point
	for sec, count := range t.buckets {
		if count > peak.Count || (count == peak.Count && sec > peak.Second) {
			peak = Point{Second: sec, Count: count}
		}
	}
	return peak
}

// Total returns the number of events recorded since start
func (t *Throughput) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Trim drops history older than the retention window and returns how many
// seconds were removed
func (t *Throughput) Trim(now time.Time) int {
	cutoff := now.Add(-t.retention).Unix()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for sec := range t.buckets {
		if sec < cutoff {
			delete(t.buckets, sec)
			removed++
		}
	}
	return removed
}

// Retained returns the number of seconds of history held
func (t *Throughput) Retained() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

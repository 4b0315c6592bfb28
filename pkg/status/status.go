package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/beacon/pkg/cleanup"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/gateway"
	"github.com/cuemby/beacon/pkg/hub"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/poller"
	"github.com/cuemby/beacon/pkg/types"
)

// ErrSnapshotTimeout is returned when a snapshot cannot be assembled within
// status_timeout
var ErrSnapshotTimeout = errors.New("status snapshot timed out")

// Snapshot is the read-only document served on /status
type Snapshot struct {
	Timestamp          time.Time                `json:"timestamp"`
	Uptime             string                   `json:"uptime"`
	Version            string                   `json:"version,omitempty"`
	Connections        int                      `json:"connections"`
	ConnectionsByState map[string]int           `json:"connections_by_state"`
	Topics             map[string]TopicSnapshot `json:"topics"`
	Queues             QueueSnapshot            `json:"queues"`
	EventsPerSecond    float64                  `json:"events_per_second"`
	PeakPerSecond      metrics.Point            `json:"peak_per_second"`
	TotalEvents        uint64                   `json:"total_events"`
	Poll               *poller.Status           `json:"poll,omitempty"`
	Cleanup            *cleanup.Report          `json:"cleanup,omitempty"`
	Fatal              string                   `json:"fatal,omitempty"`
}

// TopicSnapshot describes one topic
type TopicSnapshot struct {
	Enabled     bool   `json:"enabled"`
	Subscribers int    `json:"subscribers"`
	Stored      int    `json:"stored"`
	LastSeq     uint64 `json:"last_seq"`
	Evicted     uint64 `json:"evicted"`
	Expired     uint64 `json:"expired"`
}

// QueueSnapshot describes the delivery queues
type QueueSnapshot struct {
	TotalDepth    int            `json:"total_depth"`
	MaxDepth      int            `json:"max_depth"`
	PerConnection map[string]int `json:"per_connection"`
}

// Sources are the components a snapshot reads. Any of them may be nil,
// e.g. while serving status after a fatal startup failure.
type Sources struct {
	Hub     *hub.Hub
	Manager *gateway.Manager
	Poller  *poller.Poller
	Cleanup *cleanup.Scheduler
}

// Reporter assembles snapshots without mutating any component
type Reporter struct {
	sources Sources
	enabled types.TopicSet
	window  time.Duration
	timeout time.Duration
	version string
	collect func() Snapshot
}

// NewReporter creates a reporter
func NewReporter(cfg *config.Config, sources Sources, version string) *Reporter {
	r := &Reporter{
		sources: sources,
		enabled: cfg.EnabledTopics(),
		window:  10 * time.Second,
		timeout: cfg.StatusTimeoutDuration(),
		version: version,
	}
	r.collect = r.gather
	return r
}

// Snapshot collects the current state, giving up after status_timeout
func (r *Reporter) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result := make(chan Snapshot, 1)
	go func() {
		result <- r.collect()
	}()

	select {
	case snap := <-result:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, fmt.Errorf("%w after %s", ErrSnapshotTimeout, r.timeout)
	}
}

func (r *Reporter) gather() Snapshot {
	snap := Snapshot{
		Timestamp:          time.Now(),
		Uptime:             metrics.Uptime().Round(time.Second).String(),
		Version:            r.version,
		ConnectionsByState: map[string]int{},
		Topics:             make(map[string]TopicSnapshot, types.NumTopics),
		Queues:             QueueSnapshot{PerConnection: map[string]int{}},
		Fatal:              metrics.Fatal(),
	}

	for _, t := range types.AllTopics() {
		snap.Topics[t.String()] = TopicSnapshot{Enabled: r.enabled.Has(t)}
	}

	if m := r.sources.Manager; m != nil {
		snap.Connections = m.Len()
		snap.ConnectionsByState = m.CountByState()
	}

	if h := r.sources.Hub; h != nil {
		counts := h.Registry().Counts()
		for topic, st := range h.Store().Stats() {
			ts := snap.Topics[topic.String()]
			ts.Subscribers = counts[topic]
			ts.Stored = st.Stored
			ts.LastSeq = st.LastSeq
			ts.Evicted = st.Evicted
			ts.Expired = st.Expired
			snap.Topics[topic.String()] = ts
		}

		depths := h.Queues().Depths()
		for _, depth := range depths {
			snap.Queues.TotalDepth += depth
			if depth > snap.Queues.MaxDepth {
				snap.Queues.MaxDepth = depth
			}
		}
		snap.Queues.PerConnection = depths

		tp := h.Throughput()
		snap.EventsPerSecond = tp.Rate(r.window)
		snap.PeakPerSecond = tp.Peak()
		snap.TotalEvents = tp.Total()
	}

	if p := r.sources.Poller; p != nil {
		st := p.Status()
		snap.Poll = &st
	}
	if c := r.sources.Cleanup; c != nil && c.Cycles() > 0 {
		report := c.LastReport()
		snap.Cleanup = &report
	}

	return snap
}

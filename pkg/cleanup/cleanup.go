package cleanup

import (
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/cache"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/eventstore"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/queue"
	"github.com/cuemby/beacon/pkg/registry"
	"github.com/rs/zerolog"
)

// Report summarises one sweep
type Report struct {
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	Events         int            `json:"events"`
	QueueEntries   int            `json:"queue_entries"`
	OrphanQueues   int            `json:"orphan_queues"`
	OrphanSubs     int            `json:"orphan_subscriptions"`
	CacheEntries   map[string]int `json:"cache_entries"`
	MonitorSeconds int            `json:"monitor_seconds"`
}

// Total returns the number of entries removed
func (r Report) Total() int {
	total := r.Events + r.QueueEntries + r.OrphanQueues + r.OrphanSubs + r.MonitorSeconds
	for _, n := range r.CacheEntries {
		total += n
	}
	return total
}

// Scheduler periodically removes everything that is past its deadline:
// stored events, queued entries, cache entries, throughput history, and
// queues or subscriptions left behind by connections that are gone
type Scheduler struct {
	store      *eventstore.Store
	queues     *queue.Set
	registry   *registry.Registry
	throughput *metrics.Throughput
	caches     []cache.Sweeper
	isLive     func(connID string) bool
	interval   time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	mu     sync.Mutex
	last   Report
	cycles uint64
	stopCh chan struct{}
}

// NewScheduler creates a cleanup scheduler. isLive reports whether a
// connection id still names an open connection.
func NewScheduler(cfg *config.Config, store *eventstore.Store, queues *queue.Set, reg *registry.Registry, throughput *metrics.Throughput, isLive func(string) bool) *Scheduler {
	return &Scheduler{
		store:      store,
		queues:     queues,
		registry:   reg,
		throughput: throughput,
		isLive:     isLive,
		interval:   cfg.CleanupIntervalDuration(),
		now:        time.Now,
		logger:     log.WithComponent("cleanup"),
		stopCh:     make(chan struct{}),
	}
}

// AddCache registers a cache to purge on every sweep
func (s *Scheduler) AddCache(c cache.Sweeper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches = append(s.caches, c)
}

// Start begins the cleanup loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the cleanup loop
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Cleanup scheduler started")

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopCh:
			s.logger.Info().Msg("Cleanup scheduler stopped")
			return
		}
	}
}

// RunOnce performs one sweep. Each step only removes entries already past
// their deadline, so it is safe to run alongside ingest and delivery.
func (s *Scheduler) RunOnce() Report {
	timer := metrics.NewTimer()
	now := s.now()

	s.mu.Lock()
	caches := append([]cache.Sweeper(nil), s.caches...)
	s.mu.Unlock()

	report := Report{
		StartedAt:    now,
		CacheEntries: make(map[string]int, len(caches)),
	}

	report.Events = s.store.ExpireBefore(now)
	report.QueueEntries = s.queues.ExpireAll(now)
	report.OrphanQueues = s.queues.Retain(s.isLive)
	report.OrphanSubs = s.removeOrphanSubscriptions()
	for _, c := range caches {
		report.CacheEntries[c.Name()] = c.DeleteExpired()
	}
	report.MonitorSeconds = s.throughput.Trim(now)
	report.Duration = timer.Duration()

	timer.ObserveDuration(metrics.CleanupDuration)
	metrics.CleanupCyclesTotal.Inc()
	metrics.CleanupRemovedTotal.WithLabelValues("events").Add(float64(report.Events))
	metrics.CleanupRemovedTotal.WithLabelValues("queue_entries").Add(float64(report.QueueEntries))
	metrics.CleanupRemovedTotal.WithLabelValues("orphan_queues").Add(float64(report.OrphanQueues))
	metrics.CleanupRemovedTotal.WithLabelValues("orphan_subscriptions").Add(float64(report.OrphanSubs))
	for name, n := range report.CacheEntries {
		metrics.CleanupRemovedTotal.WithLabelValues("cache_" + name).Add(float64(n))
	}

	s.mu.Lock()
	s.last = report
	s.cycles++
	s.mu.Unlock()

	event := s.logger.Debug()
	if report.OrphanQueues > 0 || report.OrphanSubs > 0 {
		event = s.logger.Info()
	}
	event.
		Int("events", report.Events).
		Int("queue_entries", report.QueueEntries).
		Int("orphan_queues", report.OrphanQueues).
		Int("orphan_subscriptions", report.OrphanSubs).
		Int("monitor_seconds", report.MonitorSeconds).
		Dur("duration", report.Duration).
		Msg("Cleanup sweep finished")

	return report
}

// removeOrphanSubscriptions drops registry entries whose connection is gone.
// A subscribe racing a close can leave one behind.
func (s *Scheduler) removeOrphanSubscriptions() int {
	removed := 0
	for _, id := range s.registry.Connections() {
		if !s.isLive(id) {
			removed += len(s.registry.RemoveConnection(id))
		}
	}
	return removed
}

// LastReport returns the most recent sweep report
func (s *Scheduler) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Cycles returns the number of sweeps run
func (s *Scheduler) Cycles() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

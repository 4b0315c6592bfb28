package metrics

import (
	"time"
)

// Sample is a point-in-time view of the live state that gauges mirror
type Sample struct {
	Connections  int
	Subscribers  map[string]int
	QueueDepth   int
	StoredEvents map[string]int
}

// Sampler produces samples; the hub implements it
type Sampler interface {
	Sample() Sample
}

// Collector periodically copies samples into the Prometheus gauges
type Collector struct {
	sampler  Sampler
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(sampler Sampler, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		sampler:  sampler,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect takes one sample and updates the gauges
func (c *Collector) Collect() {
	sample := c.sampler.Sample()

	ConnectionsActive.Set(float64(sample.Connections))
	QueueDepth.Set(float64(sample.QueueDepth))

	for topic, count := range sample.Subscribers {
		SubscriptionsActive.WithLabelValues(topic).Set(float64(count))
	}
	for topic, count := range sample.StoredEvents {
		EventsStored.WithLabelValues(topic).Set(float64(count))
	}
}

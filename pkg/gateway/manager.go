package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/auth"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/hub"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// controlBuffer bounds frames waiting behind the write pump per connection
const controlBuffer = 32

// Manager owns every live connection and enforces the per-IP cap
type Manager struct {
	hub      *hub.Hub
	maxPerIP int
	logger   zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
	perIP map[string]int
}

// NewManager creates a connection manager
func NewManager(cfg *config.Config, h *hub.Hub) *Manager {
	return &Manager{
		hub:      h,
		maxPerIP: cfg.MaxConnectionsPerIP,
		logger:   log.WithComponent("gateway"),
		conns:    make(map[string]*Connection),
		perIP:    make(map[string]int),
	}
}

// Open admits a new connection from ip. It fails with
// ErrConnectionLimitExceeded when ip already holds the maximum number of
// open connections.
func (m *Manager) Open(ip string, identity auth.Identity) (*Connection, error) {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	c := &Connection{
		id:       id,
		ip:       ip,
		identity: identity,
		openedAt: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		control:  make(chan types.ServerFrame, controlBuffer),
		manager:  m,
		logger:   log.WithConnection(id, ip),
	}
	c.state.Store(int32(types.StateConnecting))

	m.mu.Lock()
	if m.perIP[ip] >= m.maxPerIP {
		held := m.perIP[ip]
		m.mu.Unlock()

		cancel()
		c.state.Store(int32(types.StateClosed))
		metrics.ConnectionsRejectedTotal.WithLabelValues("ip_limit").Inc()
		return nil, fmt.Errorf("%w: %s holds %d", types.ErrConnectionLimitExceeded, ip, held)
	}
	m.perIP[ip]++
	m.conns[id] = c
	c.queue = m.hub.Queues().Open(id)
	c.transition(types.StateConnecting, types.StateOpen)
	m.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	c.logger.Info().Str("identity", identity.Subject).Msg("Connection opened")
	return c, nil
}

// release frees the IP slot; called once from Connection.Close
func (m *Manager) release(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[c.id]; !ok {
		return
	}
	delete(m.conns, c.id)
	m.perIP[c.ip]--
	if m.perIP[c.ip] <= 0 {
		delete(m.perIP, c.ip)
	}
	metrics.ConnectionsActive.Dec()
}

// Get returns the connection with the given id, or nil
func (m *Manager) Get(id string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[id]
}

// IsLive reports whether id names a connection that is still open
func (m *Manager) IsLive(id string) bool {
	c := m.Get(id)
	return c != nil && c.State() == types.StateOpen
}

// Len returns the number of tracked connections
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// ConnectionsFrom returns the number of open connections held by ip
func (m *Manager) ConnectionsFrom(ip string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perIP[ip]
}

// CountByState groups tracked connections by lifecycle state
func (m *Manager) CountByState() map[string]int {
	counts := map[string]int{}
	for _, c := range m.snapshot() {
		counts[c.State().String()]++
	}
	return counts
}

// CloseAll closes every connection, used on shutdown
func (m *Manager) CloseAll(reason string) int {
	conns := m.snapshot()
	for _, c := range conns {
		c.Close(reason)
	}
	return len(conns)
}

// Hub returns the hub connections subscribe through
func (m *Manager) Hub() *hub.Hub {
	return m.hub
}

func (m *Manager) snapshot() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

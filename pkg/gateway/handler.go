package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/beacon/pkg/auth"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/gorilla/websocket"
)

// Handler accepts WebSocket handshakes and runs the connection pumps
type Handler struct {
	manager  *Manager
	verifier *auth.Verifier
	access   *Access
	upgrader websocket.Upgrader

	batchSize     int
	flushInterval time.Duration
	idleTimeout   time.Duration
	pingPeriod    time.Duration
}

// NewHandler creates the /ws handler
func NewHandler(cfg *config.Config, manager *Manager, verifier *auth.Verifier, access *Access) *Handler {
	idle := cfg.IdleTimeoutDuration()
	return &Handler{
		manager:  manager,
		verifier: verifier,
		access:   access,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// origin is checked before the connection is admitted
			CheckOrigin: func(*http.Request) bool { return true },
		},
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushIntervalDuration(),
		idleTimeout:   idle,
		pingPeriod:    idle * 9 / 10,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := h.access.ClientIP(r)

	if err := h.access.CheckIP(ip); err != nil {
		h.reject(w, http.StatusForbidden, "ip_denied", err)
		return
	}
	if !h.access.CheckOrigin(r) {
		h.reject(w, http.StatusForbidden, "origin", errors.New("origin not allowed"))
		return
	}
	if err := h.access.AllowHandshake(ip); err != nil {
		w.Header().Set("Retry-After", "1")
		h.reject(w, http.StatusTooManyRequests, "rate_limited", err)
		return
	}
	identity, err := h.verifier.Authenticate(r)
	if err != nil {
		h.reject(w, http.StatusUnauthorized, "unauthorized", err)
		return
	}

	conn, err := h.manager.Open(ip, identity)
	if err != nil {
		// counted by the manager
		h.manager.logger.Warn().Err(err).Str("ip", ip).Msg("Handshake rejected")
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		conn.Close("upgrade failed")
		return
	}
	conn.attach(ws)

	welcome := types.ServerFrame{
		Type:         types.FrameWelcome,
		ConnectionID: conn.ID(),
		Topics:       h.manager.hub.Registry().Enabled().Topics(),
	}
	if err := conn.send(welcome); err != nil {
		return
	}

	go h.writePump(conn, ws)
	h.readPump(conn, ws)
}

func (h *Handler) reject(w http.ResponseWriter, status int, reason string, err error) {
	metrics.ConnectionsRejectedTotal.WithLabelValues(reason).Inc()
	h.manager.logger.Warn().Err(err).Str("reason", reason).Msg("Handshake rejected")
	http.Error(w, http.StatusText(status), status)
}

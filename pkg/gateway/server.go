package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
)

// Server serves the WebSocket endpoint and the push endpoint
type Server struct {
	manager *Manager
	mux     *http.ServeMux
	server  *http.Server
}

// NewServer wires the handlers onto a mux
func NewServer(addr string, manager *Manager, ws *Handler, push *PushHandler) *Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/events", push)

	return &Server{
		manager: manager,
		mux:     mux,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on l until ctx is cancelled, then closes every
// client connection and shuts the listener down
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	metrics.RegisterComponent("gateway", true, "listening on "+l.Addr().String())
	log.Logger.Info().Str("addr", l.Addr().String()).Msg("WebSocket server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(l)
	}()

	select {
	case err := <-errCh:
		metrics.UpdateComponent("gateway", false, err.Error())
		return err
	case <-ctx.Done():
	}

	closed := s.manager.CloseAll("server shutdown")
	log.Logger.Info().Int("connections", closed).Msg("WebSocket server stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		metrics.UpdateComponent("gateway", false, err.Error())
		return err
	}
	return s.Serve(ctx, l)
}

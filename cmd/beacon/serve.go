package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/beacon/pkg/auth"
	"github.com/cuemby/beacon/pkg/cleanup"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/eventstore"
	"github.com/cuemby/beacon/pkg/gateway"
	"github.com/cuemby/beacon/pkg/hub"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/poller"
	"github.com/cuemby/beacon/pkg/queue"
	"github.com/cuemby/beacon/pkg/registry"
	"github.com/cuemby/beacon/pkg/status"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broadcasting service",
	Long: `Run the poller, the WebSocket gateway on websocket_port and the status
server on status_port until interrupted.

If the event store cannot be allocated the status server still starts and
reports the failure for fatal_grace seconds before the process exits with
a non-zero status.`,
	RunE: runServe,
}

func init() {
	addConfigFlags(serveCmd.Flags())
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Components capture their loggers at construction
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	metrics.SetVersion(Version)
	logger := log.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := eventstore.New(cfg)
	if err != nil {
		if errors.Is(err, types.ErrStoreAllocation) {
			return serveFatal(ctx, cfg, err)
		}
		return err
	}
	metrics.RegisterComponent("eventstore", true, "")

	throughput := metrics.NewThroughput(cfg.MonitoringRetentionDuration())
	reg := registry.New(cfg.EnabledTopics(), cfg.MaxSubscriptionsPerClient)
	queues := queue.NewSet(cfg)
	h := hub.New(store, reg, queues, throughput)

	access, err := gateway.NewAccess(cfg)
	if err != nil {
		return err
	}
	manager := gateway.NewManager(cfg, h)
	handler := gateway.NewHandler(cfg, manager, auth.NewVerifier(cfg), access)
	gw := gateway.NewServer(cfg.WebSocketAddr(), manager, handler, gateway.NewPushHandler(h, cfg.PushToken))

	cursors, err := openCursorStore(cfg)
	if err != nil {
		return err
	}
	defer cursors.Close()

	p, err := poller.New(cfg, h, cursors)
	if err != nil {
		return err
	}

	sched := cleanup.NewScheduler(cfg, store, queues, reg, throughput, manager.IsLive)
	sched.AddCache(access.Limiters())
	sched.AddCache(p.ETags())

	collector := metrics.NewCollector(h, 0)

	reporter := status.NewReporter(cfg, status.Sources{
		Hub:     h,
		Manager: manager,
		Poller:  p,
		Cleanup: sched,
	}, Version)
	statusServer := status.NewServer(cfg.StatusAddr(), reporter)

	logger.Info().
		Str("version", Version).
		Str("websocket", cfg.WebSocketAddr()).
		Str("status", cfg.StatusAddr()).
		Str("backend", cfg.BackendEndpoint).
		Strs("topics", topicNames(cfg.EnabledTopics())).
		Msg("Beacon starting")

	sched.Start()
	defer sched.Stop()
	collector.Start()
	defer collector.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.ListenAndServe(gctx)
	})
	g.Go(func() error {
		return statusServer.ListenAndServe(gctx)
	})
	g.Go(func() error {
		return p.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Beacon stopped with error")
		return err
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}

// serveFatal keeps the status server up for fatal_grace so the failure is
// observable, then returns the original error
func serveFatal(ctx context.Context, cfg *config.Config, cause error) error {
	logger := log.WithComponent("serve")
	logger.Error().Err(cause).Dur("grace", cfg.FatalGraceDuration()).Msg("Event store allocation failed")
	metrics.MarkFatal("eventstore", cause.Error())

	reporter := status.NewReporter(cfg, status.Sources{}, Version)
	statusServer := status.NewServer(cfg.StatusAddr(), reporter)

	graceCtx, cancel := context.WithTimeout(ctx, cfg.FatalGraceDuration())
	defer cancel()
	if err := statusServer.ListenAndServe(graceCtx); err != nil {
		logger.Error().Err(err).Msg("Status server failed")
	}

	return fmt.Errorf("fatal: %w", cause)
}

func openCursorStore(cfg *config.Config) (storage.Store, error) {
	if cfg.DataDir == "" {
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor store: %w", err)
	}
	return store, nil
}

func topicNames(set types.TopicSet) []string {
	topics := set.Topics()
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.String())
	}
	return names
}

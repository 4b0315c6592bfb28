package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/beacon/pkg/auth"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/eventstore"
	"github.com/cuemby/beacon/pkg/gateway"
	"github.com/cuemby/beacon/pkg/hub"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/queue"
	"github.com/cuemby/beacon/pkg/registry"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSources(t *testing.T, cfg *config.Config) Sources {
	t.Helper()

	store, err := eventstore.New(cfg)
	require.NoError(t, err)
	h := hub.New(store,
		registry.New(cfg.EnabledTopics(), cfg.MaxSubscriptionsPerClient),
		queue.NewSet(cfg),
		metrics.NewThroughput(time.Minute))
	m := gateway.NewManager(cfg, h)
	t.Cleanup(func() { m.CloseAll("test done") })

	return Sources{Hub: h, Manager: m}
}

func TestSnapshotReflectsLiveState(t *testing.T) {
	cfg := config.Default()
	cfg.DataTypes[types.TopicSystemAlerts.String()] = config.DataType{Enabled: false}
	sources := newSources(t, cfg)
	reporter := NewReporter(cfg, sources, "test")

	conn, err := sources.Manager.Open("10.0.0.1", auth.Identity{Subject: auth.Anonymous})
	require.NoError(t, err)
	_, err = sources.Hub.Subscribe(conn.ID(), types.TopicPublisherStatus, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := sources.Hub.Publish(types.TopicPublisherStatus, json.RawMessage(`{"n":1}`))
		require.NoError(t, err)
	}

	snap, err := reporter.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "test", snap.Version)
	assert.Equal(t, 1, snap.Connections)
	assert.Equal(t, 1, snap.ConnectionsByState[types.StateOpen.String()])

	ps := snap.Topics[types.TopicPublisherStatus.String()]
	assert.True(t, ps.Enabled)
	assert.Equal(t, 1, ps.Subscribers)
	assert.Equal(t, 3, ps.Stored)
	assert.Equal(t, uint64(3), ps.LastSeq)

	assert.False(t, snap.Topics[types.TopicSystemAlerts.String()].Enabled)
	assert.Len(t, snap.Topics, types.NumTopics)

	assert.Equal(t, 3, snap.Queues.TotalDepth)
	assert.Equal(t, 3, snap.Queues.MaxDepth)
	assert.Equal(t, 3, snap.Queues.PerConnection[conn.ID()])
	assert.Equal(t, uint64(3), snap.TotalEvents)
	assert.Nil(t, snap.Poll)
	assert.Nil(t, snap.Cleanup)
}

func TestSnapshotDoesNotMutate(t *testing.T) {
	cfg := config.Default()
	sources := newSources(t, cfg)
	reporter := NewReporter(cfg, sources, "")

	conn, err := sources.Manager.Open("10.0.0.1", auth.Identity{Subject: auth.Anonymous})
	require.NoError(t, err)
	_, err = sources.Hub.Subscribe(conn.ID(), types.TopicDeviceHealth, nil)
	require.NoError(t, err)
	_, err = sources.Hub.Publish(types.TopicDeviceHealth, json.RawMessage(`{}`))
	require.NoError(t, err)

	first, err := reporter.Snapshot(context.Background())
	require.NoError(t, err)
	second, err := reporter.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Queues, second.Queues)
	assert.Equal(t, first.Topics, second.Topics)
	assert.Equal(t, 1, conn.Queue().Len())
}

func TestSnapshotTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.StatusTimeout = 20
	reporter := NewReporter(cfg, Sources{}, "")

	release := make(chan struct{})
	defer close(release)
	reporter.collect = func() Snapshot {
		<-release
		return Snapshot{}
	}

	_, err := reporter.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotTimeout)

	srv := httptest.NewServer(NewServer(cfg.StatusAddr(), reporter).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusEndpoints(t *testing.T) {
	cfg := config.Default()
	reporter := NewReporter(cfg, newSources(t, cfg), "")
	srv := httptest.NewServer(NewServer(cfg.StatusAddr(), reporter).Handler())
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "status", method: http.MethodGet, path: "/status", want: http.StatusOK},
		{name: "status wrong method", method: http.MethodPost, path: "/status", want: http.StatusMethodNotAllowed},
		{name: "live", method: http.MethodGet, path: "/live", want: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{name: "unknown", method: http.MethodGet, path: "/nope", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestStatusJSONShape(t *testing.T) {
	cfg := config.Default()
	reporter := NewReporter(cfg, newSources(t, cfg), "")
	srv := httptest.NewServer(NewServer(cfg.StatusAddr(), reporter).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	for _, key := range []string{"timestamp", "uptime", "connections", "connections_by_state", "topics", "queues", "events_per_second"} {
		assert.Contains(t, body, key)
	}
}

func TestFatalSnapshot(t *testing.T) {
	cfg := config.Default()
	reporter := NewReporter(cfg, Sources{}, "")

	metrics.MarkFatal("eventstore", "allocation failed")

	snap, err := reporter.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eventstore: allocation failed", snap.Fatal)
	assert.Zero(t, snap.Connections)
	assert.Len(t, snap.Topics, types.NumTopics)
	assert.True(t, snap.Topics[types.TopicPublisherStatus.String()].Enabled)

	srv := httptest.NewServer(NewServer(cfg.StatusAddr(), reporter).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

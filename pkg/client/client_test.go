package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
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
	"github.com/cuemby/beacon/pkg/status"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	cfg     *config.Config
	gateway *httptest.Server
	status  *httptest.Server
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.gateway.URL, "http") + "/ws"
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.FlushInterval = 10
	cfg.PushToken = "push-secret"
	if mutate != nil {
		mutate(cfg)
	}

	store, err := eventstore.New(cfg)
	require.NoError(t, err)
	h := hub.New(store,
		registry.New(cfg.EnabledTopics(), cfg.MaxSubscriptionsPerClient),
		queue.NewSet(cfg),
		metrics.NewThroughput(time.Minute))
	access, err := gateway.NewAccess(cfg)
	require.NoError(t, err)

	manager := gateway.NewManager(cfg, h)
	handler := gateway.NewHandler(cfg, manager, auth.NewVerifier(cfg), access)
	gw := gateway.NewServer(cfg.WebSocketAddr(), manager, handler, gateway.NewPushHandler(h, cfg.PushToken))
	reporter := status.NewReporter(cfg, status.Sources{Hub: h, Manager: manager}, "test")

	s := &testServer{
		cfg:     cfg,
		gateway: httptest.NewServer(gw.Handler()),
		status:  httptest.NewServer(status.NewServer(cfg.StatusAddr(), reporter).Handler()),
	}
	t.Cleanup(func() {
		manager.CloseAll("test done")
		s.gateway.Close()
		s.status.Close()
	})
	return s
}

func readFrame(t *testing.T, c *Client) types.ServerFrame {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := c.ReadFrame()
	require.NoError(t, err)
	return frame
}

func TestDialReceivesWelcome(t *testing.T) {
	s := newTestServer(t, nil)

	c, err := Dial(context.Background(), s.wsURL(), "")
	require.NoError(t, err)
	defer c.Close()

	assert.NotEmpty(t, c.ConnectionID())
	assert.Len(t, c.AvailableTopics(), types.NumTopics)
}

func TestDialRejected(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.AuthSecret = "secret"
		cfg.AuthRequired = true
	})

	_, err := Dial(context.Background(), s.wsURL(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")

	token, err := auth.Issue("secret", "dashboard-1", time.Minute)
	require.NoError(t, err)
	c, err := Dial(context.Background(), s.wsURL(), token)
	require.NoError(t, err)
	c.Close()
}

func TestSubscribePublishDeliver(t *testing.T) {
	s := newTestServer(t, nil)

	c, err := Dial(context.Background(), s.wsURL(), "")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Subscribe("campaign_metrics", nil))
	ack := readFrame(t, c)
	require.Equal(t, types.FrameAck, ack.Type)
	assert.Equal(t, types.ActionSubscribe, ack.Action)

	result, err := Publish(context.Background(), s.gateway.URL, s.cfg.PushToken, []types.PushRecord{
		{Topic: "campaign_metrics", Payload: json.RawMessage(`{"clicks":1}`)},
		{Topic: "campaign_metrics", Payload: json.RawMessage(`{"clicks":2}`)},
		{Topic: "nope", Payload: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, 2, result.Rejected[0].Index)
	assert.Equal(t, types.CodeUnsupportedTopic, result.Rejected[0].Code)

	var events []types.Event
	for len(events) < 2 {
		frame := readFrame(t, c)
		require.Equal(t, types.FrameBatch, frame.Type)
		events = append(events, frame.Events...)
	}
	assert.Equal(t, uint64(1), events[0].Sequence)
	assert.JSONEq(t, `{"clicks":2}`, string(events[1].Payload))

	require.NoError(t, c.Unsubscribe("campaign_metrics"))
	assert.Equal(t, types.FrameAck, readFrame(t, c).Type)

	require.NoError(t, c.Ping())
	assert.Equal(t, types.FramePong, readFrame(t, c).Type)
}

func TestFramesStopsOnCancel(t *testing.T) {
	s := newTestServer(t, nil)

	c, err := Dial(context.Background(), s.wsURL(), "")
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	frames, errs := c.Frames(ctx)

	require.NoError(t, c.Ping())
	select {
	case frame := <-frames:
		assert.Equal(t, types.FramePong, frame.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, <-errs)
}

func TestPublishBadToken(t *testing.T) {
	s := newTestServer(t, nil)

	_, err := Publish(context.Background(), s.gateway.URL, "wrong", []types.PushRecord{
		{Topic: "system_alerts", Payload: json.RawMessage(`{}`)},
	})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestFetchStatus(t *testing.T) {
	s := newTestServer(t, nil)

	c, err := Dial(context.Background(), s.wsURL(), "")
	require.NoError(t, err)
	defer c.Close()

	snap, err := FetchStatus(context.Background(), s.status.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "test", snap.Version)
	assert.Equal(t, 1, snap.Connections)
	assert.True(t, snap.Topics["playback_events"].Enabled)
}

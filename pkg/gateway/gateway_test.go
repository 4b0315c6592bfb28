package gateway

import (
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
	"github.com/cuemby/beacon/pkg/hub"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/queue"
	"github.com/cuemby/beacon/pkg/registry"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	cfg     *config.Config
	hub     *hub.Hub
	manager *Manager
	access  *Access
	handler *Handler
	server  *httptest.Server
}

func newStack(t *testing.T, mutate func(*config.Config)) *stack {
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

	access, err := NewAccess(cfg)
	require.NoError(t, err)

	s := &stack{cfg: cfg, hub: h, access: access}
	s.manager = NewManager(cfg, h)
	s.handler = NewHandler(cfg, s.manager, auth.NewVerifier(cfg), access)
	srv := NewServer(cfg.WebSocketAddr(), s.manager, s.handler, NewPushHandler(h, cfg.PushToken))
	s.server = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		s.manager.CloseAll("test done")
		s.server.Close()
	})
	return s
}

func (s *stack) dial(t *testing.T) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	return websocket.DefaultDialer.Dial(url, nil)
}

func readFrame(t *testing.T, ws *websocket.Conn) types.ServerFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame types.ServerFrame
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func TestManagerOpenEnforcesPerIPLimit(t *testing.T) {
	s := newStack(t, func(c *config.Config) { c.MaxConnectionsPerIP = 1 })
	id := auth.Identity{Subject: "u"}

	first, err := s.manager.Open("10.0.0.1", id)
	require.NoError(t, err)
	assert.Equal(t, types.StateOpen, first.State())

	_, err = s.manager.Open("10.0.0.1", id)
	assert.True(t, errors.Is(err, types.ErrConnectionLimitExceeded))
	assert.True(t, errors.Is(err, types.ErrLimitExceeded))

	other, err := s.manager.Open("10.0.0.2", id)
	require.NoError(t, err)
	assert.Equal(t, 2, s.manager.Len())

	first.Close("test")
	again, err := s.manager.Open("10.0.0.1", id)
	require.NoError(t, err)
	assert.Equal(t, 1, s.manager.ConnectionsFrom("10.0.0.1"))

	again.Close("test")
	other.Close("test")
	assert.Zero(t, s.manager.Len())
}

func TestConnectionCloseCascade(t *testing.T) {
	s := newStack(t, nil)

	c, err := s.manager.Open("10.0.0.1", auth.Identity{Subject: "u"})
	require.NoError(t, err)
	_, err = s.hub.Subscribe(c.ID(), types.TopicDeviceHealth, nil)
	require.NoError(t, err)
	_, err = s.hub.Publish(types.TopicDeviceHealth, json.RawMessage(`1`))
	require.NoError(t, err)
	require.Equal(t, 1, c.Queue().Len())
	assert.True(t, s.manager.IsLive(c.ID()))

	c.Close("bye")

	assert.Equal(t, types.StateClosed, c.State())
	assert.Equal(t, "bye", c.CloseReason())
	assert.Empty(t, s.hub.Registry().Resolve(types.TopicDeviceHealth))
	assert.Nil(t, s.hub.Queues().Get(c.ID()))
	assert.False(t, s.manager.IsLive(c.ID()))
	assert.Zero(t, s.manager.ConnectionsFrom("10.0.0.1"))
	select {
	case <-c.Done():
	default:
		t.Fatal("context not cancelled")
	}

	// no further deliveries
	_, err = s.hub.Publish(types.TopicDeviceHealth, json.RawMessage(`2`))
	require.NoError(t, err)
	assert.Zero(t, c.Queue().Len())

	c.Close("again")
	assert.Equal(t, "bye", c.CloseReason())
}

func TestCountByState(t *testing.T) {
	s := newStack(t, nil)
	for i := 0; i < 3; i++ {
		_, err := s.manager.Open("10.0.0.1", auth.Identity{Subject: "u"})
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]int{"open": 3}, s.manager.CountByState())
	assert.Equal(t, 3, s.manager.CloseAll("shutdown"))
	assert.Empty(t, s.manager.CountByState())
}

func TestHandleControl(t *testing.T) {
	s := newStack(t, func(c *config.Config) {
		c.MaxSubscriptionsPerClient = 1
		c.DataTypes["system_alerts"] = config.DataType{Enabled: false}
	})
	c, err := s.manager.Open("10.0.0.1", auth.Identity{Subject: "u"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		frame    string
		wantType types.FrameType
		wantCode types.ErrorCode
	}{
		{name: "ping", frame: `{"action":"ping"}`, wantType: types.FramePong},
		{name: "malformed", frame: `{"action":`, wantType: types.FrameError, wantCode: types.CodeBadRequest},
		{name: "unknown action", frame: `{"action":"dance"}`, wantType: types.FrameError, wantCode: types.CodeBadRequest},
		{name: "unknown topic", frame: `{"action":"subscribe","topic":"weather"}`, wantType: types.FrameError, wantCode: types.CodeUnsupportedTopic},
		{name: "disabled topic", frame: `{"action":"subscribe","topic":"system_alerts"}`, wantType: types.FrameError, wantCode: types.CodeTopicDisabled},
		{name: "subscribe", frame: `{"action":"subscribe","topic":"device_health"}`, wantType: types.FrameAck},
		{name: "resubscribe", frame: `{"action":"subscribe","topic":"device_health"}`, wantType: types.FrameAck},
		{name: "over limit", frame: `{"action":"subscribe","topic":"publisher_status"}`, wantType: types.FrameError, wantCode: types.CodeLimitExceeded},
		{name: "unsubscribe", frame: `{"action":"unsubscribe","topic":"device_health"}`, wantType: types.FrameAck},
		{name: "unsubscribe again", frame: `{"action":"unsubscribe","topic":"device_health"}`, wantType: types.FrameAck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := s.handler.handleControl(c, []byte(tt.frame))
			assert.Equal(t, tt.wantType, reply.Type)
			assert.Equal(t, tt.wantCode, reply.Code)
		})
	}
	assert.Empty(t, s.hub.Registry().Topics(c.ID()))
}

func TestWebSocketSubscribeAndDeliver(t *testing.T) {
	s := newStack(t, nil)

	ws, _, err := s.dial(t)
	require.NoError(t, err)
	defer ws.Close()

	welcome := readFrame(t, ws)
	assert.Equal(t, types.FrameWelcome, welcome.Type)
	assert.NotEmpty(t, welcome.ConnectionID)
	assert.Len(t, welcome.Topics, types.NumTopics)

	require.NoError(t, ws.WriteJSON(types.ControlFrame{Action: types.ActionSubscribe, Topic: "device_health"}))
	ack := readFrame(t, ws)
	require.Equal(t, types.FrameAck, ack.Type)
	require.NotNil(t, ack.Topic)
	assert.Equal(t, types.TopicDeviceHealth, *ack.Topic)
	require.NotNil(t, ack.LastSequence)
	assert.Zero(t, *ack.LastSequence)

	for _, p := range []string{`"a"`, `"b"`, `"c"`} {
		_, err := s.hub.Publish(types.TopicDeviceHealth, json.RawMessage(p))
		require.NoError(t, err)
	}

	var got []uint64
	for len(got) < 3 {
		frame := readFrame(t, ws)
		require.Equal(t, types.FrameBatch, frame.Type)
		assert.LessOrEqual(t, len(frame.Events), s.cfg.BatchSize)
		for _, e := range frame.Events {
			got = append(got, e.Sequence)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)

	require.NoError(t, ws.WriteJSON(types.ControlFrame{Action: types.ActionPing}))
	assert.Equal(t, types.FramePong, readFrame(t, ws).Type)
}

func TestWebSocketReplaySince(t *testing.T) {
	s := newStack(t, nil)
	for i := 0; i < 4; i++ {
		_, err := s.hub.Publish(types.TopicCampaignMetrics, json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	ws, _, err := s.dial(t)
	require.NoError(t, err)
	defer ws.Close()
	readFrame(t, ws)

	since := uint64(2)
	require.NoError(t, ws.WriteJSON(types.ControlFrame{Action: types.ActionSubscribe, Topic: "campaign_metrics", Since: &since}))

	var got []uint64
	for len(got) < 2 {
		frame := readFrame(t, ws)
		if frame.Type == types.FrameAck {
			assert.Equal(t, uint64(4), *frame.LastSequence)
			continue
		}
		for _, e := range frame.Events {
			got = append(got, e.Sequence)
		}
	}
	assert.Equal(t, []uint64{3, 4}, got)
}

func TestWebSocketResubscribeDoesNotRedeliver(t *testing.T) {
	s := newStack(t, nil)

	ws, _, err := s.dial(t)
	require.NoError(t, err)
	defer ws.Close()
	readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(types.ControlFrame{Action: types.ActionSubscribe, Topic: "device_health"}))
	require.Equal(t, types.FrameAck, readFrame(t, ws).Type)

	var got []uint64
	// next reads frames until stop returns true, recording delivered sequences
	next := func(stop func(types.ServerFrame) bool) {
		for {
			frame := readFrame(t, ws)
			for _, e := range frame.Events {
				got = append(got, e.Sequence)
			}
			if stop(frame) {
				return
			}
		}
	}
	upTo := func(seq uint64) func(types.ServerFrame) bool {
		return func(types.ServerFrame) bool { return len(got) > 0 && got[len(got)-1] >= seq }
	}

	for _, p := range []string{`"a"`, `"b"`} {
		_, err := s.hub.Publish(types.TopicDeviceHealth, json.RawMessage(p))
		require.NoError(t, err)
	}
	next(upTo(2))

	since := uint64(0)
	require.NoError(t, ws.WriteJSON(types.ControlFrame{Action: types.ActionSubscribe, Topic: "device_health", Since: &since}))
	next(func(f types.ServerFrame) bool {
		if f.Type != types.FrameAck {
			return false
		}
		require.NotNil(t, f.LastSequence)
		assert.Equal(t, uint64(2), *f.LastSequence)
		return true
	})

	_, err = s.hub.Publish(types.TopicDeviceHealth, json.RawMessage(`"c"`))
	require.NoError(t, err)
	next(upTo(3))

	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	s := newStack(t, nil)

	ws, _, err := s.dial(t)
	require.NoError(t, err)
	welcome := readFrame(t, ws)
	require.NoError(t, ws.WriteJSON(types.ControlFrame{Action: types.ActionSubscribe, Topic: "device_health"}))
	readFrame(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	ws.Close()

	assert.Eventually(t, func() bool {
		return s.manager.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, s.hub.Registry().Resolve(types.TopicDeviceHealth))
	assert.Nil(t, s.hub.Queues().Get(welcome.ConnectionID))
}

func TestHandshakeRejectedOverIPLimit(t *testing.T) {
	s := newStack(t, func(c *config.Config) { c.MaxConnectionsPerIP = 1 })

	first, _, err := s.dial(t)
	require.NoError(t, err)
	defer first.Close()
	readFrame(t, first)

	_, resp, err := s.dial(t)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 1, s.manager.Len())
}

func TestHandshakeRequiresToken(t *testing.T) {
	s := newStack(t, func(c *config.Config) {
		c.AuthSecret = "secret"
		c.AuthRequired = true
	})

	_, resp, err := s.dial(t)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := auth.Issue("secret", "user-1", time.Minute)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, types.FrameWelcome, readFrame(t, ws).Type)
}

func TestHandshakeRejectedByDenyList(t *testing.T) {
	s := newStack(t, func(c *config.Config) { c.DeniedCIDRs = []string{"127.0.0.0/8", "::1"} })

	_, resp, err := s.dial(t)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

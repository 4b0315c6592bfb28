package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Control frames are tiny; anything larger is a misbehaving client
	maxMessageSize = 4096
)

// readPump reads control frames until the socket fails or goes idle, then
// closes the connection
func (h *Handler) readPump(c *Connection, ws *websocket.Conn) {
	reason := "client closed"
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Read pump panicked")
			reason = "internal error"
		}
		c.Close(reason)
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.idleTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.idleTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			reason = readCloseReason(err)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("Read failed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.idleTimeout))

		if err := c.send(h.handleControl(c, data)); err != nil {
			reason = "closing"
			return
		}
	}
}

func readCloseReason(err error) string {
	var netErr interface{ Timeout() bool }
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return "idle timeout"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "client closed"
	default:
		return "read error"
	}
}

// handleControl applies one client frame and returns the reply. Failures
// become error frames; the connection stays open.
func (h *Handler) handleControl(c *Connection, data []byte) types.ServerFrame {
	var frame types.ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return errorFrame(types.CodeBadRequest, nil, fmt.Sprintf("malformed frame: %v", err))
	}

	switch frame.Action {
	case types.ActionPing:
		return types.ServerFrame{Type: types.FramePong}

	case types.ActionSubscribe, types.ActionUnsubscribe:
		topic, err := types.ParseTopic(frame.Topic)
		if err != nil {
			return errorFrame(types.CodeFor(err), nil, err.Error())
		}

		if frame.Action == types.ActionUnsubscribe {
			h.manager.hub.Unsubscribe(c.id, topic)
			c.logger.Debug().Str("topic", topic.String()).Msg("Unsubscribed")
			return types.ServerFrame{Type: types.FrameAck, Action: frame.Action, Topic: &topic}
		}

		if c.State() != types.StateOpen {
			return errorFrame(types.CodeInternal, &topic, types.ErrConnectionClosed.Error())
		}
		last, err := h.manager.hub.Subscribe(c.id, topic, frame.Since)
		if err != nil {
			c.logger.Debug().Err(err).Str("topic", topic.String()).Msg("Subscribe rejected")
			return errorFrame(types.CodeFor(err), &topic, err.Error())
		}
		c.logger.Debug().Str("topic", topic.String()).Msg("Subscribed")
		return types.ServerFrame{Type: types.FrameAck, Action: frame.Action, Topic: &topic, LastSequence: &last}

	default:
		return errorFrame(types.CodeBadRequest, nil, fmt.Sprintf("unknown action %q", frame.Action))
	}
}

func errorFrame(code types.ErrorCode, topic *types.Topic, message string) types.ServerFrame {
	return types.ServerFrame{Type: types.FrameError, Code: code, Topic: topic, Message: message}
}

// writePump is the socket's only writer. It flushes the delivery queue on
// the flush tick or as soon as the queue reaches the flush threshold, relays
// control replies and keeps the peer alive with pings.
func (h *Handler) writePump(c *Connection, ws *websocket.Conn) {
	flushTicker := time.NewTicker(h.flushInterval)
	pingTicker := time.NewTicker(h.pingPeriod)
	defer func() {
		flushTicker.Stop()
		pingTicker.Stop()
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Write pump panicked")
			c.Close("internal error")
		}
	}()

	for {
		var err error
		select {
		case <-c.Done():
			return
		case frame := <-c.control:
			err = writeFrame(ws, frame)
		case <-c.queue.Ready():
			err = h.flush(c, ws)
		case <-flushTicker.C:
			err = h.flush(c, ws)
		case <-pingTicker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			err = ws.WriteMessage(websocket.PingMessage, nil)
		}

		if err != nil {
			c.logger.Debug().Err(err).Msg("Write failed")
			c.Close("write error")
			return
		}
	}
}

// flush writes the queue out in batches of at most batch_size events
func (h *Handler) flush(c *Connection, ws *websocket.Conn) error {
	for {
		// stop as soon as the connection starts closing
		select {
		case <-c.Done():
			return nil
		default:
		}

		events := c.queue.Drain(h.batchSize)
		if len(events) == 0 {
			return nil
		}
		if err := writeFrame(ws, types.ServerFrame{Type: types.FrameBatch, Events: events}); err != nil {
			return err
		}
		metrics.EventsDeliveredTotal.Add(float64(len(events)))
		metrics.BatchSize.Observe(float64(len(events)))

		if len(events) < h.batchSize {
			return nil
		}
	}
}

func writeFrame(ws *websocket.Conn, frame types.ServerFrame) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(frame)
}

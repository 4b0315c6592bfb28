package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/beacon/pkg/types"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ErrUnexpectedFrame is returned when the server does not open with a
// welcome frame
var ErrUnexpectedFrame = errors.New("unexpected frame")

// Client is a subscriber connection to the WebSocket gateway.
// Reads must come from a single goroutine; writes are serialized.
type Client struct {
	conn    *websocket.Conn
	welcome types.ServerFrame

	writeMu sync.Mutex
}

// Dial opens a WebSocket connection to url (ws:// or wss://) and waits
// for the welcome frame. An empty token connects anonymously.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (HTTP %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{conn: conn}
	frame, err := c.ReadFrame()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	if frame.Type != types.FrameWelcome {
		conn.Close()
		return nil, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedFrame, frame.Type, types.FrameWelcome)
	}
	c.welcome = frame

	return c, nil
}

// ConnectionID returns the id the server assigned to this connection
func (c *Client) ConnectionID() string {
	return c.welcome.ConnectionID
}

// AvailableTopics returns the enabled topics announced in the welcome frame
func (c *Client) AvailableTopics() []types.Topic {
	return c.welcome.Topics
}

// Subscribe asks for events on topic. A non-nil since also requests replay
// of stored events with a higher sequence.
func (c *Client) Subscribe(topic string, since *uint64) error {
	return c.send(types.ControlFrame{Action: types.ActionSubscribe, Topic: topic, Since: since})
}

// Unsubscribe stops delivery for topic
func (c *Client) Unsubscribe(topic string) error {
	return c.send(types.ControlFrame{Action: types.ActionUnsubscribe, Topic: topic})
}

// Ping sends an application-level ping; the server answers with a pong frame
func (c *Client) Ping() error {
	return c.send(types.ControlFrame{Action: types.ActionPing})
}

func (c *Client) send(frame types.ControlFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

// ReadFrame blocks until the next server frame arrives
func (c *Client) ReadFrame() (types.ServerFrame, error) {
	var frame types.ServerFrame
	err := c.conn.ReadJSON(&frame)
	return frame, err
}

// Frames reads frames in the background until ctx is cancelled or the
// connection fails. The terminal error, if any, is sent on the error
// channel; both channels are closed when reading stops.
func (c *Client) Frames(ctx context.Context) (<-chan types.ServerFrame, <-chan error) {
	frames := make(chan types.ServerFrame)
	errCh := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(errCh)
		defer close(frames)
		for {
			frame, err := c.ReadFrame()
			if err != nil {
				if ctx.Err() == nil {
					errCh <- err
				}
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	return frames, errCh
}

// Close sends a normal closure and closes the connection
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

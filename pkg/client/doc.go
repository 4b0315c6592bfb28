/*
Package client is the Go client for beacon.

Dial opens a subscriber connection to the WebSocket gateway and returns once
the welcome frame has arrived:

	c, err := client.Dial(ctx, "ws://localhost:6001/ws", token)
	if err != nil {
		return err
	}
	defer c.Close()

	since := uint64(0)
	if err := c.Subscribe("device_health", &since); err != nil {
		return err
	}

	frames, errs := c.Frames(ctx)
	for frame := range frames {
		if frame.Type == types.FrameBatch {
			handle(frame.Events)
		}
	}
	return <-errs

FetchStatus reads the status server's snapshot, and Publish posts records to
the gateway's push endpoint. Both fail with *HTTPError on non-2xx responses.
*/
package client

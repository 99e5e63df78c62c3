package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// EventNewDetection is the notification type carrying a freshly analysed
// detection.
const EventNewDetection = "new_detection"

// Event is one message from the server's notification stream.
type Event struct {
	// Type discriminates the payload; see EventNewDetection. Unknown types
	// are delivered as-is so callers can ignore them.
	Type string `json:"type"`

	// Detection is set for new-detection events.
	Detection *Detection `json:"detection,omitempty"`
}

// streamBackoff is the reconnect schedule for the notification stream. After
// the last entry the delay stays at the final value.
var streamBackoff = []time.Duration{
	time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
}

// StreamNotifications subscribes to the server's websocket notification
// stream and invokes onEvent for every decoded message. It reconnects with
// backoff on any transport error and only returns once ctx is cancelled
// (with ctx.Err()).
//
// onEvent is called on the stream goroutine; it must not block for long or
// notifications will back up in the socket.
func (c *Client) StreamNotifications(ctx context.Context, onEvent func(Event)) error {
	wsURL := c.wsEndpoint("/ws/notifications")

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.streamOnce(ctx, wsURL, onEvent, &attempt)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}

		delay := streamBackoff[min(attempt, len(streamBackoff)-1)]
		attempt++
		if c.metrics != nil {
			c.metrics.StreamReconnects.Add(ctx, 1)
		}
		slog.Warn("notification stream disconnected, retrying",
			"err", err,
			"retry_in", delay,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// streamOnce dials the stream and pumps events until the connection drops.
// On a successful read it resets attempt so the backoff schedule restarts.
func (c *Client) streamOnce(ctx context.Context, wsURL string, onEvent func(Event), attempt *int) error {
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.token}}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	if c.metrics != nil {
		c.metrics.ActiveStreams.Add(ctx, 1)
		defer c.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	}

	slog.Info("notification stream connected", "url", wsURL)

	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return err
		}
		*attempt = 0
		onEvent(ev)
	}
}

// wsEndpoint derives the websocket URL for path from the client's base URL.
func (c *Client) wsEndpoint(path string) string {
	u := c.endpoint(path)
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

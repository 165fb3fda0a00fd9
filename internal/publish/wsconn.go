package publish

import (
	"context"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 5 * time.Second
	maxIncoming = 1 << 16
)

var wsDialer = websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
	NetDialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 15 * time.Second,
	}).DialContext,
}

// dialConsumer connects to the consumer and starts draining what it sends,
// which is how pongs and close frames get processed. The consumer has
// nothing to say to the sink, so data messages are discarded. The channel
// yields the error that ended reading, including a missed pong deadline.
func dialConsumer(ctx context.Context, url string, pongWait time.Duration) (*websocket.Conn, <-chan error, error) {
	c, _, err := wsDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, err
	}
	c.SetReadLimit(maxIncoming)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := c.NextReader(); err != nil {
				readErr <- err
				return
			}
		}
	}()
	return c, readErr, nil
}

// hangUp says goodbye and closes c, which also stops its reader.
func hangUp(c *websocket.Conn) {
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.Close()
}

// ABOUTME: WebSocket client for the rate trace stream
// ABOUTME: Connects to a trace hub and delivers decoded frames on a channel
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Client receives trace frames from a hub
type Client struct {
	conn   *websocket.Conn
	frames chan Frame
	once   sync.Once
	done   chan struct{}
}

// Dial connects to the hub at addr (host:port)
func Dial(ctx context.Context, addr string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: DefaultPath}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := &Client{
		conn:   conn,
		frames: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	go c.readMessages()
	return c, nil
}

// Frames returns the frame channel. It is closed when the connection ends.
func (c *Client) Frames() <-chan Frame {
	return c.frames
}

// Close disconnects from the hub
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readMessages() {
	defer close(c.frames)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Trace read error: %v", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("Error unmarshaling trace frame: %v", err)
			continue
		}

		select {
		case c.frames <- f:
		case <-c.done:
			return
		}
	}
}

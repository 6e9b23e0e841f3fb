package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// Client is a bridge WebSocket client, used by auractl and tests.
type Client struct {
	conn *websocket.Conn
}

// DialOption configures [Dial].
type DialOption func(*dialConfig)

type dialConfig struct {
	readLimit int64
}

// WithClientReadLimit caps the size of one inbound frame. Default
// [DefaultReadLimit], large enough for a forwarded audio segment.
func WithClientReadLimit(n int64) DialOption {
	return func(c *dialConfig) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// Dial connects to a bridge at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...DialOption) (*Client, error) {
	cfg := dialConfig{readLimit: DefaultReadLimit}
	for _, o := range opts {
		o(&cfg)
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", url, err)
	}
	conn.SetReadLimit(cfg.readLimit)
	return &Client{conn: conn}, nil
}

// Send writes m as one text frame.
func (c *Client) Send(ctx context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("bridge: marshal %s: %w", m.Type, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("bridge: send %s: %w", m.Type, err)
	}
	return nil
}

// Read blocks until the next frame arrives and decodes it.
func (c *Client) Read(ctx context.Context) (Message, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("bridge: read: %w", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("bridge: decode: %w", err)
	}
	return m, nil
}

// Close performs the closing handshake.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "done")
}

// Package natsclient wraps a NATS connection for fire-and-forget publishing.
package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const flushTimeout = 2 * time.Second

// Client publishes raw payloads to NATS subjects.
type Client struct {
	conn *nats.Conn
}

// Connect dials the server with reconnect handling enabled.
func Connect(url, name string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Publish sends data and flushes so that connection errors surface to the caller.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	var err error
	if _, ok := ctx.Deadline(); ok {
		err = c.conn.FlushWithContext(ctx)
	} else {
		err = c.conn.FlushTimeout(flushTimeout)
	}
	if err != nil {
		return fmt.Errorf("flushing %s: %w", subject, err)
	}
	return nil
}

// Connected reports whether the underlying connection is up.
func (c *Client) Connected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

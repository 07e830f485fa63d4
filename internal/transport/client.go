package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
)

// Client speaks line framing to a running server. It is used by the
// hermitd CLI and in tests. A Client is not safe for concurrent use.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the server listening on socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return &Client{conn: conn, r: bufio.NewReaderSize(conn, 4096)}, nil
}

// Roundtrip sends one message and returns the reply, without the
// trailing newline.
func (c *Client) Roundtrip(msg []byte) ([]byte, error) {
	if _, err := c.conn.Write(append(append([]byte(nil), msg...), '\n')); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return line[:len(line)-1], nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

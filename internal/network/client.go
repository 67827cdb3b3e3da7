package network

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"lanchat/internal/message"
)

// DefaultSendTimeout bounds connect plus write of one outbound packet.
const DefaultSendTimeout = 5 * time.Second

// Client delivers single packets over short-lived TCP connections.
type Client struct {
	Timeout time.Duration
	Dialer  net.Dialer
}

// NewClient returns a client with the given per-send timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Client{Timeout: timeout}
}

// Send opens a connection to ip:port, writes p as one frame, flushes and
// closes. Delivery is at most once; there is no retry.
func (c *Client) Send(ctx context.Context, ip string, port int, p message.Packet) error {
	payload, err := message.Encode(p)
	if err != nil {
		return err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := DialAddr(ip, port)
	conn, err := c.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	w := bufio.NewWriter(conn)
	if err := WriteFrame(w, payload); err != nil {
		return fmt.Errorf("write %s: %w", addr, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", addr, err)
	}
	return nil
}

// DialAddr formats host:port helper.
func DialAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

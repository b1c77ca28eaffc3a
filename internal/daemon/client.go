package daemon

import (
	"fmt"
	"net"
	"time"

	"github.com/MrCodeEU/faceservice/internal/protocol"
)

// maxResponseSize bounds a single response read by the client. Responses
// carry embeddings and quality reports, so they can exceed the request limit.
const maxResponseSize = 1 << 20

// Client is a single connection to a running server
type Client struct {
	conn    messageConn
	timeout time.Duration
}

// Dial connects to the server socket
func Dial(network, socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout(network, socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}

	mc, err := newMessageConn(network, conn, maxResponseSize)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Client{conn: mc, timeout: timeout}, nil
}

// Send writes one raw message and reads the reply
func (c *Client) Send(msg []byte) ([]byte, error) {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	if err := c.conn.WriteMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	resp, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, nil
}

// Do sends a request and decodes the response
func (c *Client) Do(req *protocol.Request) (*protocol.Response, error) {
	msg, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	raw, err := c.Send(msg)
	if err != nil {
		return nil, err
	}

	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

package daemon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// ErrMessageTooLarge is returned when a request exceeds the configured
// maximum message size. The oversized message is discarded and the
// connection stays usable.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// messageConn reads and writes whole messages
type messageConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// newMessageConn wraps conn for the given network. "unixpacket" sockets keep
// message boundaries themselves; "unix" stream sockets carry a 4-byte
// big-endian length before every message.
func newMessageConn(network string, conn net.Conn, maxSize int) (messageConn, error) {
	switch network {
	case "unixpacket":
		uc, ok := conn.(*net.UnixConn)
		if !ok {
			return nil, fmt.Errorf("unixpacket connection has unexpected type %T", conn)
		}
		return &packetConn{UnixConn: uc, buf: make([]byte, maxSize)}, nil
	case "unix":
		return &streamConn{Conn: conn, maxSize: maxSize}, nil
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
}

// packetConn is a SOCK_SEQPACKET connection: one read returns one message
type packetConn struct {
	*net.UnixConn
	buf []byte
}

func (c *packetConn) ReadMessage() ([]byte, error) {
	n, _, flags, _, err := c.ReadMsgUnix(c.buf, nil)
	if err != nil {
		return nil, err
	}
	if flags&syscall.MSG_TRUNC != 0 {
		return nil, ErrMessageTooLarge
	}
	// A zero-length read is how a seqpacket peer signals shutdown
	if n == 0 {
		return nil, io.EOF
	}

	msg := make([]byte, n)
	copy(msg, c.buf[:n])
	return msg, nil
}

func (c *packetConn) WriteMessage(msg []byte) error {
	_, err := c.Write(msg)
	return err
}

// streamConn frames messages with a length prefix
type streamConn struct {
	net.Conn
	maxSize int
}

func (c *streamConn) ReadMessage() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.Conn, header); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header)
	if int64(size) > int64(c.maxSize) {
		if _, err := io.CopyN(io.Discard, c.Conn, int64(size)); err != nil {
			return nil, err
		}
		return nil, ErrMessageTooLarge
	}

	msg := make([]byte, size)
	if _, err := io.ReadFull(c.Conn, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *streamConn) WriteMessage(msg []byte) error {
	frame := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(frame, uint32(len(msg)))
	copy(frame[4:], msg)

	_, err := c.Write(frame)
	return err
}

// isDisconnect reports whether err means the peer went away
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

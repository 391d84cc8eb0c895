// Package transport implements the length-prefixed message framing shared by
// the control and transfer channels: a big-endian int32 type, a big-endian
// uint32 payload length, then exactly that many payload bytes.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"depthcap/internal/core/domain"
	apperrors "depthcap/pkg/errors"
)

// Channel is one framed message stream. Receive must only be called from a
// single goroutine; Send and SendBatch may be called concurrently and never
// interleave the bytes of different messages.
type Channel struct {
	name string
	rwc  io.ReadWriteCloser

	sendMu sync.Mutex
	header [domain.HeaderSize]byte

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// New wraps an established stream
func New(rwc io.ReadWriteCloser, name string) *Channel {
	return &Channel{name: name, rwc: rwc}
}

// Dial opens a TCP connection to addr and wraps it
func Dial(ctx context.Context, addr string, timeout time.Duration, name string) (*Channel, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: 15 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperrors.NewTransportError(fmt.Sprintf("dial %s channel %s", name, addr), err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return New(conn, name), nil
}

// Name returns the channel name used in errors and logs
func (c *Channel) Name() string {
	return c.name
}

// Send writes one message. The header and payload are fully drained before
// the send lock is released.
func (c *Channel) Send(msgType int32, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendLocked(msgType, payload)
}

// SendBatch writes several messages back to back with no other sender in
// between, e.g. the timestamp/color/depth triple of one uploaded frame.
func (c *Channel) SendBatch(msgs ...domain.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for _, m := range msgs {
		if err := c.sendLocked(m.Type, m.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendLocked(msgType int32, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return apperrors.NewProtocolError(fmt.Sprintf("%s: payload of %d bytes exceeds uint32 length", c.name, len(payload)))
	}

	binary.BigEndian.PutUint32(c.header[0:4], uint32(msgType))
	binary.BigEndian.PutUint32(c.header[4:8], uint32(len(payload)))

	if err := c.writeFull(c.header[:]); err != nil {
		return c.transportError("send header", err).WithContext("type", msgType)
	}
	if err := c.writeFull(payload); err != nil {
		return c.transportError("send payload", err).WithContext("type", msgType)
	}
	return nil
}

// writeFull keeps writing until b is drained. Short writes without an error
// are retried; a write that makes no progress is reported as short.
func (c *Channel) writeFull(b []byte) error {
	for len(b) > 0 {
		n, err := c.rwc.Write(b)
		c.bytesOut.Add(int64(n))
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// Receive reads one message. A stream that ends or fails before the declared
// number of bytes arrives yields a TRANSPORT error wrapping
// domain.ErrChannelClosed; a partial payload is never returned.
func (c *Channel) Receive() (domain.Message, error) {
	var header [domain.HeaderSize]byte
	if err := c.readFull(header[:]); err != nil {
		return domain.Message{}, c.transportError("receive header", err)
	}

	msgType := int32(binary.BigEndian.Uint32(header[0:4]))
	length := binary.BigEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	if err := c.readFull(payload); err != nil {
		return domain.Message{}, c.transportError("receive payload", err).
			WithContext("type", msgType).
			WithContext("length", length)
	}

	return domain.Message{Type: msgType, Payload: payload}, nil
}

func (c *Channel) readFull(b []byte) error {
	n, err := io.ReadFull(c.rwc, b)
	c.bytesIn.Add(int64(n))
	return err
}

func (c *Channel) transportError(op string, err error) *apperrors.AppError {
	cause := err
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) || c.closed.Load() {
		cause = fmt.Errorf("%w: %v", domain.ErrChannelClosed, err)
	}
	return apperrors.NewTransportError(fmt.Sprintf("%s: %s", c.name, op), cause)
}

// Close closes the underlying stream; later calls return the first result
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// Closed reports whether Close has been called
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// Stats returns the number of bytes received and sent so far
func (c *Channel) Stats() (in, out int64) {
	return c.bytesIn.Load(), c.bytesOut.Load()
}

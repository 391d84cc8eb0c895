package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"testing/iotest"

	"depthcap/internal/core/domain"
	apperrors "depthcap/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trickleConn delivers and accepts at most one byte per call
type trickleConn struct {
	r io.Reader
	w *bytes.Buffer
}

func newTrickleConn(buf *bytes.Buffer) *trickleConn {
	return &trickleConn{r: iotest.OneByteReader(buf), w: buf}
}

func (c *trickleConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *trickleConn) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return c.w.Write(p[:1])
}

func (c *trickleConn) Close() error { return nil }

// bufConn is an in-memory ReadWriteCloser over a buffer
type bufConn struct {
	*bytes.Buffer
}

func (bufConn) Close() error { return nil }

func TestChannel_RoundTripOneByteAtATime(t *testing.T) {
	for _, size := range []int{0, 1, 1_000_000} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 7)
		}

		var buf bytes.Buffer
		ch := New(newTrickleConn(&buf), "test")

		require.NoError(t, ch.Send(domain.TransferColor, payload), "size %d", size)
		assert.Equal(t, domain.HeaderSize+size, buf.Len())

		msg, err := ch.Receive()
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, domain.TransferColor, msg.Type)
		assert.Equal(t, size, len(msg.Payload))
		assert.True(t, bytes.Equal(payload, msg.Payload), "size %d payload mismatch", size)
	}
}

func TestChannel_WireLayout(t *testing.T) {
	var buf bytes.Buffer
	ch := New(bufConn{&buf}, "control")

	require.NoError(t, ch.Send(domain.MsgRoleAnnounce, domain.EncodeInt32(int32(domain.RoleMaster))))

	want := []byte{
		0xff, 0xff, 0xff, 0xff, // type -1
		0, 0, 0, 4, // length
		0, 0, 0, 1, // master
	}
	assert.Equal(t, want, buf.Bytes())
}

func TestChannel_NegativeTypesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ch := New(bufConn{&buf}, "control")

	require.NoError(t, ch.Send(domain.MsgFrameNotify, domain.EncodeUint64(123456789)))
	require.NoError(t, ch.Send(domain.MsgText, []byte("hello")))
	require.NoError(t, ch.Send(domain.MsgExposure, domain.EncodeInt32(8330)))

	msg, err := ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, domain.MsgFrameNotify, msg.Type)
	ts, err := domain.DecodeUint64(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), ts)

	msg, err = ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Payload))

	msg, err = ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, domain.MsgExposure, msg.Type)
}

func TestChannel_TruncatedPayloadIsTransportError(t *testing.T) {
	const declared = 1000

	var buf bytes.Buffer
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(domain.TransferDepth))
	binary.BigEndian.PutUint32(header[4:8], declared)
	buf.Write(header[:])
	buf.Write(make([]byte, declared/2))

	ch := New(bufConn{&buf}, "transfer")
	msg, err := ch.Receive()

	require.Error(t, err)
	assert.Nil(t, msg.Payload)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
	assert.True(t, apperrors.IsFatal(err))
}

func TestChannel_TruncatedHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0})
	ch := New(bufConn{buf}, "control")

	_, err := ch.Receive()
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

func TestChannel_EmptyStream(t *testing.T) {
	ch := New(bufConn{&bytes.Buffer{}}, "control")

	_, err := ch.Receive()
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

type stuckWriter struct{ bufConn }

func (stuckWriter) Write(p []byte) (int, error) { return 0, nil }

func TestChannel_ZeroProgressWriteFails(t *testing.T) {
	ch := New(stuckWriter{bufConn{&bytes.Buffer{}}}, "control")

	err := ch.Send(domain.MsgText, []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
}

type failingWriter struct{ bufConn }

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestChannel_WriteErrorIsTransportError(t *testing.T) {
	ch := New(failingWriter{bufConn{&bytes.Buffer{}}}, "transfer")

	err := ch.SendBatch(
		domain.Message{Type: domain.TransferTimestamp, Payload: domain.EncodeUint64(1)},
		domain.Message{Type: domain.TransferColor, Payload: []byte{1}},
	)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransport))
}

func TestChannel_ConcurrentSendersDoNotInterleave(t *testing.T) {
	client, server := net.Pipe()
	sender := New(client, "control")
	receiver := New(server, "control")
	defer sender.Close()
	defer receiver.Close()

	const perSender = 50
	payloadA := bytes.Repeat([]byte{'a'}, 4096)
	payloadB := bytes.Repeat([]byte{'b'}, 3000)

	var wg sync.WaitGroup
	for _, p := range []struct {
		typ     int32
		payload []byte
	}{{domain.MsgText, payloadA}, {domain.MsgFile, payloadB}} {
		wg.Add(1)
		go func(typ int32, payload []byte) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := sender.Send(typ, payload); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}(p.typ, p.payload)
	}

	counts := map[int32]int{}
	for i := 0; i < 2*perSender; i++ {
		msg, err := receiver.Receive()
		require.NoError(t, err)
		switch msg.Type {
		case domain.MsgText:
			assert.Equal(t, payloadA, msg.Payload)
		case domain.MsgFile:
			assert.Equal(t, payloadB, msg.Payload)
		default:
			t.Fatalf("unexpected type %d", msg.Type)
		}
		counts[msg.Type]++
	}
	wg.Wait()

	assert.Equal(t, perSender, counts[domain.MsgText])
	assert.Equal(t, perSender, counts[domain.MsgFile])
}

func TestChannel_CloseUnblocksReceive(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	ch := New(server, "control")

	errc := make(chan error, 1)
	go func() {
		_, err := ch.Receive()
		errc <- err
	}()

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.True(t, ch.Closed())

	err := <-errc
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

func TestChannel_Stats(t *testing.T) {
	var buf bytes.Buffer
	ch := New(bufConn{&buf}, "transfer")

	require.NoError(t, ch.Send(domain.TransferColor, []byte{1, 2, 3}))
	_, err := ch.Receive()
	require.NoError(t, err)

	in, out := ch.Stats()
	assert.Equal(t, int64(11), in)
	assert.Equal(t, int64(11), out)
}

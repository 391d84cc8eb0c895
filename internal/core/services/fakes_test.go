package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	apperrors "depthcap/pkg/errors"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

var testLog = zap.NewNop().Sugar()

type sentMessage struct {
	domain.Message
	At time.Time
}

// fakeChannel is an in-memory ports.MessageChannel. Messages queued with
// deliver are returned by Receive; everything sent is recorded.
type fakeChannel struct {
	mu       sync.Mutex
	sent     []sentMessage
	sendErr  error
	incoming chan domain.Message
	closed   chan struct{}
	once     sync.Once
	notify   chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		incoming: make(chan domain.Message, 256),
		closed:   make(chan struct{}),
		notify:   make(chan struct{}, 1024),
	}
}

func (c *fakeChannel) deliver(msgType int32, payload []byte) {
	c.incoming <- domain.Message{Type: msgType, Payload: payload}
}

func (c *fakeChannel) Send(msgType int32, payload []byte) error {
	return c.SendBatch(domain.Message{Type: msgType, Payload: payload})
}

func (c *fakeChannel) SendBatch(msgs ...domain.Message) error {
	select {
	case <-c.closed:
		return apperrors.NewTransportError("send", domain.ErrChannelClosed)
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	now := time.Now()
	for _, m := range msgs {
		c.sent = append(c.sent, sentMessage{Message: m, At: now})
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeChannel) Receive() (domain.Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.closed:
		return domain.Message{}, apperrors.NewTransportError("receive", domain.ErrChannelClosed)
	}
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) Sent() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeChannel) SentOfType(t int32) []sentMessage {
	var out []sentMessage
	for _, m := range c.Sent() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// fakeCapture hands out images backed by a shared buffer
type fakeCapture struct {
	ts       uint64
	color    domain.Image
	depth    domain.Image
	released *int
}

func (c *fakeCapture) Timestamp() uint64   { return c.ts }
func (c *fakeCapture) Color() domain.Image { return c.color }
func (c *fakeCapture) Depth() domain.Image { return c.depth }
func (c *fakeCapture) Release()            { *c.released++ }

type captureResult struct {
	ts  uint64
	err error
}

// fakeDevice replays scripted capture results, then times out until the
// script is extended or the device is closed.
type fakeDevice struct {
	mu       sync.Mutex
	script   []captureResult
	buf      []byte
	serial   string
	startErr error
	started  bool
	stopped  bool
	closed   bool
	released int
}

func newFakeDevice(serial string, script ...captureResult) *fakeDevice {
	return &fakeDevice{serial: serial, script: script, buf: make([]byte, 16)}
}

func (d *fakeDevice) Serial() (string, error) { return d.serial, nil }

func (d *fakeDevice) Calibration(cfg domain.DeviceConfig) ([]byte, []byte, error) {
	return []byte("blob"), []byte(`{"raw":true}`), nil
}

func (d *fakeDevice) Start(cfg domain.DeviceConfig, controls domain.ColorControls) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return d.startErr
}

func (d *fakeDevice) push(results ...captureResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, results...)
}

func (d *fakeDevice) Capture(timeout time.Duration) (ports.Capture, error) {
	d.mu.Lock()
	if len(d.script) == 0 {
		d.mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil, domain.ErrCaptureTimeout
	}
	next := d.script[0]
	d.script = d.script[1:]
	d.mu.Unlock()

	if next.err != nil {
		return nil, next.err
	}
	// Overwrite the shared buffer like a driver reusing its memory
	for i := range d.buf {
		d.buf[i] = byte(next.ts)
	}
	return &fakeCapture{
		ts:       next.ts,
		color:    domain.Image{Format: domain.PixelFormatBGRA32, Width: 2, Height: 2, Stride: 8, Data: d.buf},
		depth:    domain.Image{Format: domain.PixelFormatDepth16, Width: 2, Height: 2, Stride: 4, Data: d.buf[:8]},
		released: &d.released,
	}, nil
}

func (d *fakeDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) isStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeOpener struct {
	devices map[int]*fakeDevice
	count   int
	opened  []int
}

func (o *fakeOpener) InstalledCount() int { return o.count }

func (o *fakeOpener) Open(index int) (ports.Device, error) {
	o.opened = append(o.opened, index)
	if d, ok := o.devices[index]; ok {
		return d, nil
	}
	return nil, errors.New("device busy")
}

// fakeProcess replays stdout lines then reports EOF, or blocks until killed
// when hang is set. It notes whether Wait ran while a ReadLine was pending.
type fakeProcess struct {
	mu     sync.Mutex
	lines  []string
	hang   bool
	killed chan struct{}
	once   sync.Once

	reading       atomic.Int32
	waited        atomic.Bool
	readingAtWait atomic.Bool
}

func newFakeProcess(lines ...string) *fakeProcess {
	return &fakeProcess{lines: lines, killed: make(chan struct{})}
}

func (p *fakeProcess) ReadLine() (string, error) {
	p.reading.Add(1)
	defer p.reading.Add(-1)

	p.mu.Lock()
	if len(p.lines) > 0 && !p.wasKilled() {
		line := p.lines[0]
		p.lines = p.lines[1:]
		p.mu.Unlock()
		return line, nil
	}
	hang := p.hang
	p.mu.Unlock()

	if hang {
		<-p.killed
	}
	return "", io.EOF
}

func (p *fakeProcess) Wait() (int, error) {
	if p.reading.Load() > 0 {
		p.readingAtWait.Store(true)
	}
	p.waited.Store(true)
	return 0, nil
}

func (p *fakeProcess) Kill() error {
	p.once.Do(func() { close(p.killed) })
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	select {
	case <-p.killed:
		return true
	default:
		return false
	}
}

type fakeRecorder struct {
	proc    *fakeProcess
	dir     string
	argv    []string
	err     error
	onStart func()
}

func (r *fakeRecorder) Start(ctx context.Context, workDir string, argv []string) (ports.RecorderProcess, error) {
	r.dir = workDir
	r.argv = argv
	if r.onStart != nil {
		r.onStart()
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.proc, nil
}

// MockSpoolJournal is a testify mock of ports.SpoolJournal
type MockSpoolJournal struct {
	mock.Mock
}

func (m *MockSpoolJournal) Add(ctx context.Context, serial string, entry domain.SpoolEntry) error {
	args := m.Called(ctx, serial, entry)
	return args.Error(0)
}

func (m *MockSpoolJournal) Remove(ctx context.Context, serial string, entry domain.SpoolEntry) error {
	args := m.Called(ctx, serial, entry)
	return args.Error(0)
}

func (m *MockSpoolJournal) Pending(ctx context.Context, serial string) ([]domain.SpoolEntry, error) {
	args := m.Called(ctx, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SpoolEntry), args.Error(1)
}

func (m *MockSpoolJournal) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// fakeEvents records published events
type fakeEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *fakeEvents) Publish(ev domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEvents) ofType(t string) []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakePacer struct {
	counts []int
}

func (p *fakePacer) SetCameraCount(n int) { p.counts = append(p.counts, n) }

func testImage(ts uint64) domain.Frame {
	return domain.Frame{
		Timestamp: ts,
		Color:     domain.Image{Format: domain.PixelFormatBGRA32, Width: 1, Height: 1, Stride: 4, Data: []byte{1, 2, 3, 255}},
		Depth:     domain.Image{Format: domain.PixelFormatDepth16, Width: 1, Height: 1, Stride: 2, Data: []byte{0x10, 0x02}},
	}
}

package services

import (
	"sync"
	"sync/atomic"

	"depthcap/internal/core/domain"
)

// gate is a one-shot signal
type gate struct {
	once sync.Once
	ch   chan struct{}
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) fire() {
	g.once.Do(func() { close(g.ch) })
}

func (g *gate) fired() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// SessionState is the state shared between the stages of one session. The
// control receiver is its only writer.
type SessionState struct {
	windowStart atomic.Uint64
	windowStop  atomic.Uint64
	cameraCount atomic.Int32
	folder      atomic.Pointer[string]

	start *gate
	stop  *gate
}

func NewSessionState(folder string, cameraCount int) *SessionState {
	s := &SessionState{
		start: newGate(),
		stop:  newGate(),
	}
	s.SetFolder(folder)
	s.SetCameraCount(cameraCount)
	return s
}

func (s *SessionState) SetWindowStart(ts uint64) {
	s.windowStart.Store(ts)
}

func (s *SessionState) SetWindowStop(ts uint64) {
	s.windowStop.Store(ts)
}

// Window returns a snapshot of the recording window
func (s *SessionState) Window() domain.RecordingWindow {
	return domain.RecordingWindow{
		Start: s.windowStart.Load(),
		Stop:  s.windowStop.Load(),
	}
}

// SetCameraCount stores n, clamped to at least 1
func (s *SessionState) SetCameraCount(n int) {
	if n < 1 {
		n = 1
	}
	s.cameraCount.Store(int32(n))
}

func (s *SessionState) CameraCount() int {
	return int(s.cameraCount.Load())
}

func (s *SessionState) SetFolder(folder string) {
	s.folder.Store(&folder)
}

func (s *SessionState) Folder() string {
	if f := s.folder.Load(); f != nil {
		return *f
	}
	return ""
}

// Start opens the start gate; later calls do nothing
func (s *SessionState) Start() {
	s.start.fire()
}

// Stop opens the stop gate; later calls do nothing
func (s *SessionState) Stop() {
	s.stop.fire()
}

// Started is closed once Start has been called
func (s *SessionState) Started() <-chan struct{} {
	return s.start.ch
}

// Stopped is closed once Stop has been called
func (s *SessionState) Stopped() <-chan struct{} {
	return s.stop.ch
}

func (s *SessionState) IsStarted() bool {
	return s.start.fired()
}

func (s *SessionState) IsStopped() bool {
	return s.stop.fired()
}

package ports

import (
	"context"
	"time"

	"depthcap/internal/core/domain"
)

// Capture is one device capture. Its images point into device-owned memory
// that may be reused once Release is called.
type Capture interface {
	Timestamp() uint64
	Color() domain.Image
	Depth() domain.Image
	Release()
}

// Device is an opened depth camera. Only the goroutine that owns it may
// call into it.
type Device interface {
	Serial() (string, error)
	// Calibration returns the opaque calibration blob and the raw
	// calibration bytes for the given configuration.
	Calibration(cfg domain.DeviceConfig) (blob []byte, raw []byte, err error)
	Start(cfg domain.DeviceConfig, controls domain.ColorControls) error
	// Capture waits up to timeout for the next capture. It returns an error
	// matching domain.ErrCaptureTimeout when none arrived in time.
	Capture(timeout time.Duration) (Capture, error)
	Stop()
	Close() error
}

type DeviceOpener interface {
	InstalledCount() int
	Open(index int) (Device, error)
}

type ImageCodec interface {
	Encode(img domain.Image) ([]byte, error)
	Extension() string
}

// RecorderProcess is a running vendor recorder
type RecorderProcess interface {
	// ReadLine returns the next stdout line without its line terminator,
	// or io.EOF once output is exhausted.
	ReadLine() (string, error)
	Wait() (exitCode int, err error)
	// Kill also unblocks a pending ReadLine. Wait must not be called while
	// a ReadLine is still in progress.
	Kill() error
}

// Recorder spawns the vendor recorder. workDir is created when missing.
type Recorder interface {
	Start(ctx context.Context, workDir string, argv []string) (RecorderProcess, error)
}

// Package device provides a synthetic depth camera so the client can run and
// be tested without camera hardware attached.
package device

import (
	"encoding/json"
	"fmt"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	apperrors "depthcap/pkg/errors"
)

const baseSerial = 835513412

// fpsModes maps the device config frame-rate mode to frames per second
var fpsModes = map[int32]int{0: 5, 1: 15, 2: 30}

// SyntheticOpener enumerates Count synthetic cameras
type SyntheticOpener struct {
	Count  int
	Width  int
	Height int
	FPS    int
}

func NewSyntheticOpener(count, width, height, fps int) *SyntheticOpener {
	return &SyntheticOpener{
		Count:  count,
		Width:  width,
		Height: height,
		FPS:    fps,
	}
}

func (o *SyntheticOpener) InstalledCount() int {
	return o.Count
}

func (o *SyntheticOpener) Open(index int) (ports.Device, error) {
	if index < 0 || index >= o.Count {
		return nil, apperrors.NewDeviceError(fmt.Sprintf("open device %d", index), domain.ErrDeviceNotFound).
			WithContext("installed", o.Count)
	}
	return newSyntheticDevice(index, o.Width, o.Height, o.FPS), nil
}

// SyntheticDevice renders a moving gradient into buffers it reuses across
// captures, like a real driver does once a capture is released.
type SyntheticDevice struct {
	index  int
	width  int
	height int
	fps    int

	color []byte
	depth []byte

	started bool
	closed  bool
	start   time.Time
	next    uint64
	frame   int
}

func newSyntheticDevice(index, width, height, fps int) *SyntheticDevice {
	return &SyntheticDevice{
		index:  index,
		width:  width,
		height: height,
		fps:    fps,
		color:  make([]byte, width*height*4),
		depth:  make([]byte, width*height*2),
	}
}

func (d *SyntheticDevice) Serial() (string, error) {
	if d.closed {
		return "", apperrors.NewDeviceError("read serial", fmt.Errorf("device closed"))
	}
	return fmt.Sprintf("%012d", baseSerial+d.index), nil
}

type calibration struct {
	Serial     string    `json:"serial"`
	ColorMode  int32     `json:"color_resolution"`
	DepthMode  int32     `json:"depth_mode"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Intrinsics []float64 `json:"intrinsics"`
}

func (d *SyntheticDevice) Calibration(cfg domain.DeviceConfig) ([]byte, []byte, error) {
	serial, err := d.Serial()
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(calibration{
		Serial:     serial,
		ColorMode:  cfg.ColorResolution,
		DepthMode:  cfg.DepthMode,
		Width:      d.width,
		Height:     d.height,
		Intrinsics: []float64{float64(d.width) / 2, float64(d.height) / 2, float64(d.width), float64(d.height)},
	})
	if err != nil {
		return nil, nil, apperrors.NewDeviceError("build calibration", err)
	}

	blob := make([]byte, 0, 8+len(raw))
	blob = append(blob, domain.EncodeInt32(cfg.ColorResolution)...)
	blob = append(blob, domain.EncodeInt32(cfg.DepthMode)...)
	blob = append(blob, raw...)
	return blob, raw, nil
}

func (d *SyntheticDevice) Start(cfg domain.DeviceConfig, controls domain.ColorControls) error {
	if d.closed {
		return apperrors.NewDeviceError("start cameras", fmt.Errorf("device closed"))
	}
	if fps, ok := fpsModes[cfg.FPS]; ok {
		d.fps = fps
	}
	if d.fps <= 0 {
		return apperrors.NewDeviceError("start cameras", fmt.Errorf("invalid frame rate %d", d.fps))
	}
	d.started = true
	d.start = time.Now()
	d.frame = 0
	return nil
}

// Capture blocks until the next frame is due. It returns a DEVICE_TIMEOUT
// error wrapping domain.ErrCaptureTimeout when the stream is not running or
// the frame is not due within timeout.
func (d *SyntheticDevice) Capture(timeout time.Duration) (ports.Capture, error) {
	if d.closed {
		return nil, apperrors.NewDeviceError("capture", fmt.Errorf("device closed"))
	}
	if !d.started {
		time.Sleep(timeout)
		return nil, captureTimeout(timeout, "stream not started")
	}

	period := time.Second / time.Duration(d.fps)
	offset := time.Duration(d.frame) * period
	wait := time.Until(d.start.Add(offset))
	if wait > timeout {
		time.Sleep(timeout)
		return nil, captureTimeout(timeout, "frame not due")
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	d.render(d.frame)
	d.frame++

	return &syntheticCapture{
		timestamp: uint64(offset/time.Microsecond) + 1,
		color: domain.Image{
			Format: domain.PixelFormatBGRA32,
			Width:  d.width,
			Height: d.height,
			Stride: d.width * 4,
			Data:   d.color,
		},
		depth: domain.Image{
			Format: domain.PixelFormatDepth16,
			Width:  d.width,
			Height: d.height,
			Stride: d.width * 2,
			Data:   d.depth,
		},
	}, nil
}

func (d *SyntheticDevice) render(n int) {
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			c := (y*d.width + x) * 4
			d.color[c] = uint8((x + y + n/3) % 256)
			d.color[c+1] = uint8((y + n/2) % 256)
			d.color[c+2] = uint8((x + n) % 256)
			d.color[c+3] = 0xff

			mm := uint16(500 + (x*7+y*3+n*11)%4000)
			p := (y*d.width + x) * 2
			d.depth[p] = byte(mm)
			d.depth[p+1] = byte(mm >> 8)
		}
	}
}

func (d *SyntheticDevice) Stop() {
	d.started = false
}

func (d *SyntheticDevice) Close() error {
	d.started = false
	d.closed = true
	return nil
}

type syntheticCapture struct {
	timestamp uint64
	color     domain.Image
	depth     domain.Image
}

func (c *syntheticCapture) Timestamp() uint64   { return c.timestamp }
func (c *syntheticCapture) Color() domain.Image { return c.color }
func (c *syntheticCapture) Depth() domain.Image { return c.depth }
func (c *syntheticCapture) Release()            {}

func captureTimeout(timeout time.Duration, reason string) error {
	return apperrors.NewDeviceTimeoutError("capture", domain.ErrCaptureTimeout).
		WithContext("timeout", timeout.String()).
		WithContext("reason", reason)
}

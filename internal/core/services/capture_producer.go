package services

import (
	"context"
	"errors"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	apperrors "depthcap/pkg/errors"
	"depthcap/pkg/queue"

	"go.uber.org/zap"
)

// CaptureProducer owns the device for the lifetime of a session. It pulls
// captures once the start gate opens and pushes deep copies onto the
// captured queue until the stop gate opens.
type CaptureProducer struct {
	device   ports.Device
	captured *queue.Queue[domain.Frame]
	state    *SessionState
	timeout  time.Duration
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewCaptureProducer(
	device ports.Device,
	captured *queue.Queue[domain.Frame],
	state *SessionState,
	timeout time.Duration,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *CaptureProducer {
	return &CaptureProducer{
		device:   device,
		captured: captured,
		state:    state,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run returns nil when stopped and a DEVICE error on a hard capture
// failure. Either way the captured queue is stopped and the device is
// released on return.
func (p *CaptureProducer) Run(ctx context.Context) error {
	defer p.release()

	select {
	case <-p.state.Started():
	case <-p.state.Stopped():
		return nil
	case <-ctx.Done():
		return nil
	}
	p.logger.Info("capture started")

	var frames int
	for {
		if p.state.IsStopped() || ctx.Err() != nil {
			p.logger.Infow("capture stopped", "frames", frames)
			return nil
		}

		capture, err := p.device.Capture(p.timeout)
		if errors.Is(err, domain.ErrCaptureTimeout) {
			p.metrics.CaptureTimeout()
			p.logger.Warnw("timed out waiting for a capture", "timeout", p.timeout)
			continue
		}
		if err != nil {
			if apperrors.IsAppError(err) {
				return err
			}
			return apperrors.NewDeviceError("capture", err)
		}

		frame := domain.Frame{
			Timestamp: capture.Timestamp(),
			Color:     capture.Color().Clone(),
			Depth:     capture.Depth().Clone(),
		}
		capture.Release()

		p.captured.Push(frame)
		frames++
		p.metrics.FrameCaptured()
		p.metrics.SetQueueDepth(queueCaptured, p.captured.Len())
	}
}

func (p *CaptureProducer) release() {
	p.captured.Stop()
	p.device.Stop()
	if err := p.device.Close(); err != nil {
		p.logger.Warnw("failed to close device", "error", err)
	}
}

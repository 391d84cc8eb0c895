package services

import (
	"context"
	"errors"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	"depthcap/pkg/queue"

	"go.uber.org/zap"
)

// NotifyRetainStage reports every captured timestamp to the host as soon as
// possible and keeps the frame for a later drain.
type NotifyRetainStage struct {
	control   ports.MessageChannel
	captured  *queue.Queue[domain.Frame]
	retention *queue.Queue[domain.Frame]
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
}

func NewNotifyRetainStage(
	control ports.MessageChannel,
	captured *queue.Queue[domain.Frame],
	retention *queue.Queue[domain.Frame],
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *NotifyRetainStage {
	return &NotifyRetainStage{
		control:   control,
		captured:  captured,
		retention: retention,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run stops the retention queue when it returns
func (s *NotifyRetainStage) Run(ctx context.Context) error {
	defer s.retention.Stop()

	for {
		frame, err := s.captured.WaitAndPop()
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		s.metrics.SetQueueDepth(queueCaptured, s.captured.Len())

		if err := s.control.Send(domain.MsgFrameNotify, domain.EncodeUint64(frame.Timestamp)); err != nil {
			return err
		}
		s.metrics.FrameNotified()

		s.retention.Push(frame)
		s.metrics.SetQueueDepth(queueRetained, s.retention.Len())
	}
}

package services

import (
	"context"
	"errors"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	"depthcap/pkg/queue"
	"depthcap/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UploadPipeline sends spooled frames over the transfer channel, at most
// one every interval×camera_count so that many cameras sharing a host do
// not saturate its ingress.
type UploadPipeline struct {
	transfer ports.MessageChannel
	spool    *queue.Queue[domain.SpoolEntry]
	store    ports.FrameStore
	journal  ports.SpoolJournal
	serial   string
	interval time.Duration
	limiter  *rate.Limiter
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewUploadPipeline(
	transfer ports.MessageChannel,
	spool *queue.Queue[domain.SpoolEntry],
	store ports.FrameStore,
	journal ports.SpoolJournal,
	serial string,
	interval time.Duration,
	cameraCount int,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *UploadPipeline {
	return &UploadPipeline{
		transfer: transfer,
		spool:    spool,
		store:    store,
		journal:  journal,
		serial:   serial,
		interval: interval,
		limiter:  rate.NewLimiter(pace(interval, cameraCount), 1),
		metrics:  metrics,
		logger:   logger,
	}
}

// SetCameraCount changes the pacing divisor; it takes effect for the next
// upload.
func (u *UploadPipeline) SetCameraCount(n int) {
	u.limiter.SetLimit(pace(u.interval, n))
}

func pace(interval time.Duration, cameraCount int) rate.Limit {
	if cameraCount < 1 {
		cameraCount = 1
	}
	return rate.Every(interval * time.Duration(cameraCount))
}

// Run uploads until the spool queue is stopped and empty or ctx is done.
// A send failure is returned and ends the session.
func (u *UploadPipeline) Run(ctx context.Context) error {
	for {
		entry, err := u.spool.WaitAndPop()
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		u.metrics.SetQueueDepth(queueSpool, u.spool.Len())

		// Waiting after the pop keeps consecutive sends at least one
		// interval apart even when the spool sat empty for a while.
		if err := u.limiter.Wait(ctx); err != nil {
			return nil
		}

		if err := u.upload(ctx, entry); err != nil {
			return err
		}
	}
}

func (u *UploadPipeline) upload(ctx context.Context, entry domain.SpoolEntry) error {
	ctx, span := tracing.TraceUpload(ctx, entry.Timestamp)
	defer span.End()

	color, depth, err := u.store.Read(entry)
	if err != nil {
		u.metrics.UploadSkipped()
		u.metrics.LocalIOError(stageUpload)
		u.logger.Warnw("skipping spooled frame", "timestamp", entry.Timestamp, "dir", entry.Dir, "error", err)
		u.forget(ctx, entry)
		return nil
	}

	err = u.transfer.SendBatch(
		domain.Message{Type: domain.TransferTimestamp, Payload: domain.EncodeUint64(entry.Timestamp)},
		domain.Message{Type: domain.TransferColor, Payload: color},
		domain.Message{Type: domain.TransferDepth, Payload: depth},
	)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	size := len(color) + len(depth)
	u.metrics.FrameUploaded(size)
	tracing.AddSpanAttributes(ctx, tracing.BytesKey.Int(size))

	if err := u.store.Delete(entry); err != nil {
		u.metrics.LocalIOError(stageUpload)
		u.logger.Warnw("failed to delete uploaded frame", "timestamp", entry.Timestamp, "error", err)
	}
	u.forget(ctx, entry)
	return nil
}

func (u *UploadPipeline) forget(ctx context.Context, entry domain.SpoolEntry) {
	if err := u.journal.Remove(ctx, u.serial, entry); err != nil {
		u.logger.Warnw("failed to remove journal entry", "timestamp", entry.Timestamp, "error", err)
	}
}

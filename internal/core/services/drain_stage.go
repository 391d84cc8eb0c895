package services

import (
	"context"
	"errors"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	"depthcap/pkg/queue"
	"depthcap/pkg/tracing"

	"go.uber.org/zap"
)

// DrainRequest flushes retained frames up to UpTo. Window and Folder are
// captured when the request is received so later control messages cannot
// change the outcome of an earlier drain.
type DrainRequest struct {
	UpTo   uint64
	Window domain.RecordingWindow
	Folder string
}

// DrainStage persists the retained frames that fall inside the recording
// window and queues them for upload.
type DrainStage struct {
	requests  *queue.Queue[DrainRequest]
	retention *queue.Queue[domain.Frame]
	spool     *queue.Queue[domain.SpoolEntry]
	store     ports.FrameStore
	journal   ports.SpoolJournal
	serial    string
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
}

func NewDrainStage(
	requests *queue.Queue[DrainRequest],
	retention *queue.Queue[domain.Frame],
	spool *queue.Queue[domain.SpoolEntry],
	store ports.FrameStore,
	journal ports.SpoolJournal,
	serial string,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *DrainStage {
	return &DrainStage{
		requests:  requests,
		retention: retention,
		spool:     spool,
		store:     store,
		journal:   journal,
		serial:    serial,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run executes drain requests in arrival order until the request queue is
// stopped and empty, or the retention queue is exhausted. The spool queue is
// stopped on return.
func (d *DrainStage) Run(ctx context.Context) error {
	defer d.spool.Stop()

	for {
		req, err := d.requests.WaitAndPop()
		if errors.Is(err, queue.ErrClosed) {
			d.discardRemaining()
			return nil
		}

		if err := d.Drain(ctx, req); err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Drain pops every retained frame stamped at or before req.UpTo, persisting
// those inside req.Window. It blocks until a frame newer than req.UpTo is
// retained, and returns queue.ErrClosed once retention is stopped and empty.
func (d *DrainStage) Drain(ctx context.Context, req DrainRequest) error {
	ctx, span := tracing.TraceDrain(ctx, req.UpTo)
	defer span.End()

	dir, err := d.store.Prepare(req.Folder)
	if err != nil {
		d.metrics.LocalIOError(stageDrain)
		d.logger.Warnw("failed to prepare spool folder, frames will be dropped", "folder", req.Folder, "error", err)
		dir = ""
	}

	var kept, discarded int
	defer func() {
		d.logger.Debugw("drain finished",
			"up_to", req.UpTo,
			"window_start", req.Window.Start,
			"window_stop", req.Window.Stop,
			"kept", kept,
			"discarded", discarded,
		)
	}()

	for {
		front, err := d.retention.WaitAndFront()
		if err != nil {
			return err
		}
		if front.Timestamp > req.UpTo {
			return nil
		}

		frame, err := d.retention.WaitAndPop()
		if err != nil {
			return err
		}
		d.metrics.SetQueueDepth(queueRetained, d.retention.Len())

		if !req.Window.Contains(frame.Timestamp) {
			discarded++
			d.metrics.FrameDrained(false)
			continue
		}
		if d.spoolFrame(ctx, dir, frame) {
			kept++
			d.metrics.FrameDrained(true)
		} else {
			discarded++
		}
	}
}

func (d *DrainStage) spoolFrame(ctx context.Context, dir string, frame domain.Frame) bool {
	if dir == "" {
		d.metrics.LocalIOError(stageDrain)
		return false
	}
	if err := d.store.Write(dir, frame); err != nil {
		d.metrics.LocalIOError(stageDrain)
		d.logger.Warnw("failed to spool frame", "timestamp", frame.Timestamp, "error", err)
		return false
	}

	entry := domain.SpoolEntry{Timestamp: frame.Timestamp, Dir: dir}
	if err := d.journal.Add(ctx, d.serial, entry); err != nil {
		d.logger.Warnw("failed to journal spooled frame", "timestamp", frame.Timestamp, "error", err)
	}
	d.spool.Push(entry)
	d.metrics.SetQueueDepth(queueSpool, d.spool.Len())
	return true
}

// discardRemaining drops frames no drain request will ever cover
func (d *DrainStage) discardRemaining() {
	var n int
	for {
		if _, ok := d.retention.TryPop(); !ok {
			break
		}
		n++
		d.metrics.FrameDrained(false)
	}
	if n > 0 {
		d.logger.Infow("discarded retained frames after stop", "count", n)
	}
	d.metrics.SetQueueDepth(queueRetained, 0)
}

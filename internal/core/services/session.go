package services

import (
	"context"
	"sync"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	"depthcap/pkg/logger"
	"depthcap/pkg/queue"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	queueCaptured = "captured"
	queueRetained = "retained"
	queueRequests = "drain_requests"
	queueSpool    = "spool"

	stageDrain   = "drain"
	stageUpload  = "upload"
	stageControl = "control"
)

type SessionConfig struct {
	CaptureTimeout time.Duration
	UploadInterval time.Duration
	CameraCount    int
	Folder         string
	RecoverOrphans bool
}

type SessionDeps struct {
	Control  ports.MessageChannel
	Transfer ports.MessageChannel
	Store    ports.FrameStore
	Journal  ports.SpoolJournal
	Metrics  ports.MetricsRecorder
	Events   ports.EventPublisher
	Logger   *zap.Logger
}

// Session runs the recording pipeline for one connected, validated camera:
// capture, notify-and-retain, drain, upload and the control receiver, each
// on its own goroutine.
type Session struct {
	id       string
	identity domain.CameraIdentity
	device   ports.Device
	recorder ports.RecorderProcess
	cfg      SessionConfig
	deps     SessionDeps

	state     *SessionState
	captured  *queue.Queue[domain.Frame]
	retention *queue.Queue[domain.Frame]
	requests  *queue.Queue[DrainRequest]
	spool     *queue.Queue[domain.SpoolEntry]

	teardownOnce sync.Once
	done         chan struct{}
}

func NewSession(id string, hs *HandshakeResult, cfg SessionConfig, deps SessionDeps) *Session {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Events == nil {
		deps.Events = nopEvents{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Session{
		id:        id,
		identity:  hs.Identity,
		device:    hs.Device,
		recorder:  hs.Recorder,
		cfg:       cfg,
		deps:      deps,
		state:     NewSessionState(cfg.Folder, cfg.CameraCount),
		captured:  queue.New[domain.Frame](),
		retention: queue.New[domain.Frame](),
		requests:  queue.New[DrainRequest](),
		spool:     queue.New[domain.SpoolEntry](),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() *SessionState {
	return s.state
}

// QueueDepths returns the lengths of the captured, retention and spool
// queues.
func (s *Session) QueueDepths() (captured, retained, spooled int) {
	return s.captured.Len(), s.retention.Len(), s.spool.Len()
}

// Run blocks until the session ends. It returns nil after a clean stop:
// the stop gate closed capture, every queue drained in order and the
// channels were closed. The first fatal stage error tears everything down
// and is returned.
func (s *Session) Run(ctx context.Context) error {
	ctx = logger.WithSessionID(ctx, s.id)
	cl := logger.NewContextLogger(s.deps.Logger.With(zap.String("serial", s.identity.Serial)))
	log := cl.Stage(ctx, "session")

	s.deps.Metrics.SetCameraCount(s.state.CameraCount())
	if s.cfg.RecoverOrphans {
		s.recoverOrphans(ctx, log)
	}

	upload := NewUploadPipeline(s.deps.Transfer, s.spool, s.deps.Store, s.deps.Journal, s.identity.Serial,
		s.cfg.UploadInterval, s.state.CameraCount(), s.deps.Metrics, cl.Stage(ctx, stageUpload))
	capture := NewCaptureProducer(s.device, s.captured, s.state, s.cfg.CaptureTimeout,
		s.deps.Metrics, cl.Stage(ctx, "capture"))
	notify := NewNotifyRetainStage(s.deps.Control, s.captured, s.retention,
		s.deps.Metrics, cl.Stage(ctx, "notify"))
	drain := NewDrainStage(s.requests, s.retention, s.spool, s.deps.Store, s.deps.Journal, s.identity.Serial,
		s.deps.Metrics, cl.Stage(ctx, stageDrain))
	receiver := NewControlReceiver(s.deps.Control, s.state, s.requests, s.deps.Store, upload, s.id,
		s.deps.Events, s.deps.Metrics, cl.Stage(ctx, stageControl))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.stage(log, "capture", capture.Run(gctx))
	})
	g.Go(func() error {
		err := notify.Run(gctx)
		// No frame can be retained any more; let the drain stage finish
		// the requests it already has.
		s.requests.Stop()
		return s.stage(log, "notify", err)
	})
	g.Go(func() error {
		return s.stage(log, stageDrain, drain.Run(gctx))
	})
	g.Go(func() error {
		err := upload.Run(gctx)
		s.teardown(log)
		return s.stage(log, stageUpload, err)
	})
	g.Go(func() error {
		return s.stage(log, stageControl, receiver.Run(gctx))
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			s.teardown(log)
		case <-s.done:
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		log.Errorw("session failed", "error", err)
		return err
	}
	log.Info("session finished")
	return nil
}

func (s *Session) stage(log *zap.SugaredLogger, name string, err error) error {
	if err != nil {
		log.Errorw("stage failed", "stage_name", name, "error", err)
		return err
	}
	log.Debugw("stage finished", "stage_name", name)
	return nil
}

// teardown unblocks every stage. It is idempotent and safe to call from
// any goroutine.
func (s *Session) teardown(log *zap.SugaredLogger) {
	s.teardownOnce.Do(func() {
		s.state.Stop()
		s.captured.Stop()
		s.retention.Stop()
		s.requests.Stop()
		s.spool.Stop()

		if err := s.deps.Control.Close(); err != nil {
			log.Debugw("control channel close", "error", err)
		}
		if err := s.deps.Transfer.Close(); err != nil {
			log.Debugw("transfer channel close", "error", err)
		}
		if s.recorder != nil {
			if err := s.recorder.Kill(); err != nil {
				log.Debugw("recorder kill", "error", err)
			}
		}
		close(s.done)
	})
}

// recoverOrphans queues frames a previous session spooled but never
// uploaded. Entries whose files are gone are dropped from the journal.
func (s *Session) recoverOrphans(ctx context.Context, log *zap.SugaredLogger) {
	pending, err := s.deps.Journal.Pending(ctx, s.identity.Serial)
	if err != nil {
		log.Warnw("failed to list orphaned spool entries", "error", err)
		return
	}

	var recovered, stale int
	for _, entry := range pending {
		if s.deps.Store.Exists(entry) {
			s.spool.Push(entry)
			recovered++
			continue
		}
		if err := s.deps.Journal.Remove(ctx, s.identity.Serial, entry); err != nil {
			log.Warnw("failed to remove stale journal entry", "timestamp", entry.Timestamp, "error", err)
		}
		stale++
	}
	if recovered > 0 || stale > 0 {
		log.Infow("recovered orphaned spool entries", "recovered", recovered, "stale", stale)
	}
	s.deps.Metrics.SetQueueDepth(queueSpool, s.spool.Len())
}

package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	apperrors "depthcap/pkg/errors"
	"depthcap/pkg/logger"
	"depthcap/pkg/retry"
	"depthcap/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DialFunc opens one framed channel to the host
type DialFunc func(ctx context.Context, addr string, timeout time.Duration, name string) (ports.MessageChannel, error)

// StoreFactory returns the frame store for a device serial
type StoreFactory func(serial string) ports.FrameStore

type SupervisorConfig struct {
	ControlAddress  string
	TransferAddress string
	DialTimeout     time.Duration
	DialAttempts    int
	Handshake       HandshakeConfig
	Session         SessionConfig
	Reconnect       retry.Config
}

type SupervisorDeps struct {
	Dial     DialFunc
	Opener   ports.DeviceOpener
	Recorder ports.Recorder
	NewStore StoreFactory
	Journal  ports.SpoolJournal
	Metrics  ports.MetricsRecorder
	Events   ports.EventPublisher
	Logger   *zap.Logger
}

// Supervisor runs sessions back to back for as long as its context lives.
// A session that ends cleanly is followed by an immediate reconnect; a
// failed one by a capped exponential backoff.
type Supervisor struct {
	cfg     SupervisorConfig
	deps    SupervisorDeps
	backoff *retry.Backoff
	log     *zap.SugaredLogger

	mu      sync.RWMutex
	status  domain.SessionStatus
	current *Session
}

func NewSupervisor(cfg SupervisorConfig, deps SupervisorDeps) *Supervisor {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Events == nil {
		deps.Events = nopEvents{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg.Reconnect.Enabled = true

	return &Supervisor{
		cfg:     cfg,
		deps:    deps,
		backoff: retry.NewBackoff(cfg.Reconnect),
		log:     deps.Logger.Sugar().With("component", "supervisor"),
		status: domain.SessionStatus{
			Phase:        domain.PhaseDisconnected.String(),
			Role:         cfg.Handshake.Role.String(),
			CameraCount:  cfg.Session.CameraCount,
			PhaseChanged: time.Now(),
		},
	}
}

// Run loops until ctx is cancelled and then returns nil. Session failures
// are logged and retried, never returned.
func (s *Supervisor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		err := s.runOnce(ctx)
		s.setPhase("", domain.PhaseDisconnected)

		if ctx.Err() != nil {
			break
		}
		if err == nil {
			s.deps.Metrics.SessionEnded("idle")
			s.backoff.Reset()
			continue
		}

		outcome := outcomeOf(err)
		s.deps.Metrics.SessionEnded(outcome)
		s.recordFailure(err)

		delay := s.backoff.Next()
		s.log.Errorw("session ended with error, reconnecting",
			"outcome", outcome,
			"error", err,
			"restarts", s.backoff.Failures(),
			"retry_in", delay,
		)
		if err := retry.Sleep(ctx, delay); err != nil {
			break
		}
	}
	s.log.Info("supervisor stopped")
	return nil
}

// Status returns a snapshot for the status endpoint
func (s *Supervisor) Status() domain.SessionStatus {
	s.mu.RLock()
	status := s.status
	current := s.current
	s.mu.RUnlock()

	if current != nil {
		status.Folder = current.State().Folder()
		status.CameraCount = current.State().CameraCount()
		status.CapturedQueue, status.RetainedQueue, status.SpoolQueue = current.QueueDepths()
	}
	return status
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	id := uuid.NewString()
	ctx = logger.WithSessionID(ctx, id)
	ctx, span := tracing.TraceSession(ctx, id)
	defer span.End()

	log := logger.NewContextLogger(s.deps.Logger).Stage(ctx, "supervisor")

	control, err := s.dial(ctx, s.cfg.ControlAddress, "control")
	if err != nil {
		return err
	}
	defer control.Close()

	transfer, err := s.dial(ctx, s.cfg.TransferAddress, "transfer")
	if err != nil {
		return err
	}
	defer transfer.Close()

	// Blocking reads in the handshake do not watch ctx; closing the
	// channels is what unblocks them on shutdown.
	stopClose := context.AfterFunc(ctx, func() {
		_ = control.Close()
		_ = transfer.Close()
	})
	defer stopClose()

	s.setPhase(id, domain.PhaseConnected)
	log.Infow("connected to host", "control", s.cfg.ControlAddress, "transfer", s.cfg.TransferAddress)

	hs := NewHandshake(control, s.deps.Opener, s.deps.Recorder, s.cfg.Handshake,
		func(p domain.SessionPhase) { s.setPhase(id, p) },
		logger.NewContextLogger(s.deps.Logger).Stage(ctx, "handshake"))
	res, err := hs.Run(ctx)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeHandshake) {
			s.deps.Metrics.HandshakeCompleted(false)
		}
		tracing.RecordError(ctx, err)
		return err
	}
	if res.Identity.Role.Synchronized() {
		s.deps.Metrics.HandshakeCompleted(true)
	}
	tracing.AddSpanAttributes(ctx,
		tracing.SerialKey.String(res.Identity.Serial),
		tracing.RoleKey.String(res.Identity.Role.String()),
	)

	sessionCfg := s.cfg.Session
	if sessionCfg.Folder == "" {
		sessionCfg.Folder = strings.ToLower(res.Identity.Role.String())
	}

	session := NewSession(id, res, sessionCfg, SessionDeps{
		Control:  control,
		Transfer: transfer,
		Store:    s.deps.NewStore(res.Identity.Serial),
		Journal:  s.deps.Journal,
		Metrics:  s.deps.Metrics,
		Events:   s.deps.Events,
		Logger:   s.deps.Logger,
	})

	s.mu.Lock()
	s.current = session
	s.status.Serial = res.Identity.Serial
	s.status.Role = res.Identity.Role.String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	s.setPhase(id, domain.PhaseRecording)
	if err := session.Run(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	s.setPhase(id, domain.PhaseIdle)
	return nil
}

func (s *Supervisor) dial(ctx context.Context, addr, name string) (ports.MessageChannel, error) {
	cfg := retry.Config{
		Enabled:      true,
		MaxAttempts:  s.cfg.DialAttempts,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
	ch, err := retry.RetryWithResult(ctx, cfg, func() (ports.MessageChannel, error) {
		return s.deps.Dial(ctx, addr, s.cfg.DialTimeout, name)
	})
	if err != nil && !apperrors.IsAppError(err) {
		err = apperrors.NewTransportError("dial "+name+" channel", err)
	}
	return ch, err
}

func (s *Supervisor) setPhase(id string, phase domain.SessionPhase) {
	now := time.Now()

	s.mu.Lock()
	changed := s.status.Phase != phase.String()
	if id != "" {
		s.status.SessionID = id
	}
	s.status.Phase = phase.String()
	if changed {
		s.status.PhaseChanged = now
	}
	sessionID := s.status.SessionID
	s.mu.Unlock()

	if !changed {
		return
	}
	s.deps.Metrics.SetPhase(phase)
	s.deps.Events.Publish(domain.Event{
		Type:      domain.EventPhaseChanged,
		SessionID: sessionID,
		Phase:     phase,
		PhaseName: phase.String(),
		Time:      now,
	})
	s.log.Infow("session phase", "session_id", sessionID, "phase", phase.String())
}

func (s *Supervisor) recordFailure(err error) {
	s.mu.Lock()
	s.status.Restarts++
	s.status.LastError = err.Error()
	sessionID := s.status.SessionID
	s.mu.Unlock()

	s.deps.Events.Publish(domain.Event{
		Type:      domain.EventSessionFailed,
		SessionID: sessionID,
		Message:   err.Error(),
	})
}

// outcomeOf labels a session error by its AppError code
func outcomeOf(err error) string {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return strings.ToLower(string(appErr.Code))
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "unknown"
}

package services

import (
	"context"
	"strings"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	apperrors "depthcap/pkg/errors"
	"depthcap/pkg/queue"
	"depthcap/pkg/validation"

	"go.uber.org/zap"
)

// Pacer receives camera-count updates
type Pacer interface {
	SetCameraCount(n int)
}

// ControlReceiver is the only reader of the control channel. It applies
// host instructions to the session state and forwards drain requests.
type ControlReceiver struct {
	control   ports.MessageChannel
	state     *SessionState
	requests  *queue.Queue[DrainRequest]
	store     ports.FrameStore
	pacer     Pacer
	sessionID string
	events    ports.EventPublisher
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
}

func NewControlReceiver(
	control ports.MessageChannel,
	state *SessionState,
	requests *queue.Queue[DrainRequest],
	store ports.FrameStore,
	pacer Pacer,
	sessionID string,
	events ports.EventPublisher,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *ControlReceiver {
	return &ControlReceiver{
		control:   control,
		state:     state,
		requests:  requests,
		store:     store,
		pacer:     pacer,
		sessionID: sessionID,
		events:    events,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run reads until the channel fails. The read error is returned unless the
// session is already shutting down.
func (r *ControlReceiver) Run(ctx context.Context) error {
	for {
		msg, err := r.control.Receive()
		if err != nil {
			if r.state.IsStopped() || ctx.Err() != nil {
				r.logger.Debugw("control receiver finished", "reason", err)
				return nil
			}
			return err
		}
		if err := r.Dispatch(msg); err != nil {
			r.logger.Warnw("ignoring control message", "type", msg.Type, "error", err)
		}
	}
}

// Dispatch applies one control message. Errors are malformed or unknown
// messages and never end the session.
func (r *ControlReceiver) Dispatch(msg domain.Message) error {
	switch msg.Type {
	case domain.MsgText:
		r.logger.Infow("host message", "text", string(msg.Payload))
		r.publish(domain.EventHostText, string(msg.Payload))

	case domain.MsgFile:
		r.logger.Infow("host file received", "bytes", len(msg.Payload))

	case domain.MsgGate:
		return r.gate(strings.TrimSpace(string(msg.Payload)))

	case domain.MsgDrain:
		upTo, err := domain.DecodeUint64(msg.Payload)
		if err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeProtocol, "drain request")
		}
		r.requests.Push(DrainRequest{
			UpTo:   upTo,
			Window: r.state.Window(),
			Folder: r.state.Folder(),
		})
		r.metrics.SetQueueDepth(queueRequests, r.requests.Len())

	case domain.MsgWindowStart:
		ts, err := domain.DecodeUint64(msg.Payload)
		if err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeProtocol, "window start")
		}
		r.state.SetWindowStart(ts)
		r.logger.Infow("recording window start set", "timestamp", ts)
		r.publish(domain.EventWindow, "start")

	case domain.MsgWindowStop:
		ts, err := domain.DecodeUint64(msg.Payload)
		if err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeProtocol, "window stop")
		}
		r.state.SetWindowStop(ts)
		r.logger.Infow("recording window stop set", "timestamp", ts)
		r.publish(domain.EventWindow, "stop")

	case domain.MsgSwitchFolder:
		return r.switchFolder(string(msg.Payload))

	case domain.MsgCameraCount:
		n, err := domain.DecodeInt32(msg.Payload)
		if err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeProtocol, "camera count")
		}
		if err := validation.ValidateCameraCount(int(n)); err != nil {
			return apperrors.NewProtocolError(err.Error()).WithContext("count", n)
		}
		r.state.SetCameraCount(int(n))
		r.pacer.SetCameraCount(int(n))
		r.metrics.SetCameraCount(int(n))
		r.logger.Infow("camera count updated", "count", n)

	default:
		return apperrors.NewProtocolError("unknown control message type").WithContext("type", msg.Type)
	}
	return nil
}

// gate opens the start or stop gate. Repeats are ignored so a host resending
// the same command does not publish a second event.
func (r *ControlReceiver) gate(cmd string) error {
	switch cmd {
	case "start":
		if r.state.IsStarted() {
			r.logger.Debug("start gate already open")
			return nil
		}
		r.state.Start()
	case "stop":
		if r.state.IsStopped() {
			r.logger.Debug("stop gate already open")
			return nil
		}
		r.state.Stop()
	default:
		return apperrors.NewProtocolError("unknown gate command").WithContext("command", cmd)
	}
	r.logger.Infow("pipeline gate", "command", cmd)
	r.publish(domain.EventGate, cmd)
	return nil
}

// switchFolder keeps the previous folder when the new one cannot be created
func (r *ControlReceiver) switchFolder(folder string) error {
	folder = strings.TrimSpace(folder)
	if err := validation.ValidateFolderName(folder); err != nil {
		return apperrors.NewProtocolError(err.Error()).WithContext("folder", folder)
	}
	if _, err := r.store.Prepare(folder); err != nil {
		r.metrics.LocalIOError(stageControl)
		return err
	}
	r.state.SetFolder(folder)
	r.logger.Infow("working folder switched", "folder", folder)
	r.publish(domain.EventFolder, folder)
	return nil
}

func (r *ControlReceiver) publish(typ, message string) {
	r.events.Publish(domain.Event{
		Type:      typ,
		SessionID: r.sessionID,
		Message:   message,
	})
}

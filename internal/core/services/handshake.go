package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	apperrors "depthcap/pkg/errors"
	"depthcap/pkg/tracing"
	"depthcap/pkg/validation"

	"go.uber.org/zap"
)

// RecorderSpec is the recorder invocation for one sync role. "{serial}" in
// Command and Checklist is replaced with the device serial.
type RecorderSpec struct {
	Command   string
	Checklist []string
}

type HandshakeConfig struct {
	Role         domain.Role
	DeviceIndex  int
	StartTimeout time.Duration
	Recorders    map[domain.Role]RecorderSpec
}

// HandshakeResult is everything a session needs once the handshake passed.
// Ownership of Device moves to the session.
type HandshakeResult struct {
	Identity domain.CameraIdentity
	Config   domain.DeviceConfig
	Controls domain.ColorControls
	Device   ports.Device
	Recorder ports.RecorderProcess
}

// Handshake walks a freshly connected session from Connected to
// DeviceReady, or SyncValidated for synchronized roles.
type Handshake struct {
	control  ports.MessageChannel
	opener   ports.DeviceOpener
	recorder ports.Recorder
	cfg      HandshakeConfig
	setPhase func(domain.SessionPhase)
	logger   *zap.SugaredLogger
}

func NewHandshake(
	control ports.MessageChannel,
	opener ports.DeviceOpener,
	recorder ports.Recorder,
	cfg HandshakeConfig,
	setPhase func(domain.SessionPhase),
	logger *zap.SugaredLogger,
) *Handshake {
	if setPhase == nil {
		setPhase = func(domain.SessionPhase) {}
	}
	return &Handshake{
		control:  control,
		opener:   opener,
		recorder: recorder,
		cfg:      cfg,
		setPhase: setPhase,
		logger:   logger,
	}
}

// Run performs the handshake. ctx bounds the recorder process, which keeps
// running after Run returns.
func (h *Handshake) Run(ctx context.Context) (*HandshakeResult, error) {
	ctx, span := tracing.TraceHandshake(ctx, h.cfg.Role.String())
	defer span.End()

	res := &HandshakeResult{}
	var (
		command string
		err     error
	)

	res.Config, res.Controls, command, err = h.exchangeIdentity()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	h.setPhase(domain.PhaseIdentityExchanged)

	res.Identity.Role = h.cfg.Role
	if res.Config.SyncRole.Valid() {
		res.Identity.Role = res.Config.SyncRole
	}
	synchronized := res.Identity.Role.Synchronized()

	res.Device, err = h.prepareDevice(&res.Identity, res.Config, res.Controls, !synchronized)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	h.setPhase(domain.PhaseDeviceReady)
	tracing.AddSpanAttributes(ctx, tracing.SerialKey.String(res.Identity.Serial))

	if !synchronized {
		return res, nil
	}

	res.Recorder, err = h.validateSync(ctx, res.Identity, command)
	if err != nil {
		res.Device.Stop()
		_ = res.Device.Close()
		tracing.RecordError(ctx, err)
		return nil, err
	}

	// synchronized cameras stream only once the recorder has come up
	if err := res.Device.Start(res.Config, res.Controls); err != nil {
		err = apperrors.NewDeviceError("start cameras", err).WithContext("serial", res.Identity.Serial)
		_ = res.Recorder.Kill()
		res.Device.Stop()
		_ = res.Device.Close()
		tracing.RecordError(ctx, err)
		return nil, err
	}
	h.setPhase(domain.PhaseSyncValidated)
	return res, nil
}

// exchangeIdentity announces the role and collects the device config and
// color controls, in whatever order the host sends them. A text carrying
// domain.RecorderCommandPrefix sets the recorder command for this session;
// any other text is logged.
func (h *Handshake) exchangeIdentity() (cfg domain.DeviceConfig, controls domain.ColorControls, command string, err error) {
	var haveCfg, haveWB, haveE bool

	if err := h.control.Send(domain.MsgRoleAnnounce, domain.EncodeInt32(int32(h.cfg.Role))); err != nil {
		return cfg, controls, "", err
	}

	for !haveCfg || !haveWB || !haveE {
		msg, err := h.control.Receive()
		if err != nil {
			return cfg, controls, "", err
		}

		switch msg.Type {
		case domain.MsgDeviceConfig:
			if err := cfg.UnmarshalBinary(msg.Payload); err != nil {
				return cfg, controls, "", apperrors.WrapError(err, apperrors.ErrCodeProtocol, "device config")
			}
			haveCfg = true
		case domain.MsgWhiteBalance:
			v, err := domain.DecodeInt32(msg.Payload)
			if err != nil {
				return cfg, controls, "", apperrors.WrapError(err, apperrors.ErrCodeProtocol, "white balance")
			}
			controls.WhiteBalance = v
			haveWB = true
		case domain.MsgExposure:
			v, err := domain.DecodeInt32(msg.Payload)
			if err != nil {
				return cfg, controls, "", apperrors.WrapError(err, apperrors.ErrCodeProtocol, "exposure")
			}
			controls.ExposureUs = v
			haveE = true
		case domain.MsgText:
			text := string(msg.Payload)
			if rest, ok := strings.CutPrefix(text, domain.RecorderCommandPrefix); ok {
				command = strings.TrimSpace(rest)
				h.logger.Infow("recorder command received", "command", command)
				continue
			}
			h.logger.Infow("host message", "text", text)
		default:
			return cfg, controls, "", apperrors.NewProtocolError("unexpected message during handshake").WithContext("type", msg.Type)
		}
	}

	h.logger.Infow("device config received",
		"sync_role", cfg.SyncRole.String(),
		"fps_mode", cfg.FPS,
		"white_balance", controls.WhiteBalance,
		"exposure_us", controls.ExposureUs,
	)
	return cfg, controls, command, nil
}

// prepareDevice opens the first usable device starting at the configured
// index, reads its identity and reports it with the calibration. The device
// is started first when stream is set. A failure is reported to the host
// before it is returned.
func (h *Handshake) prepareDevice(id *domain.CameraIdentity, cfg domain.DeviceConfig, controls domain.ColorControls, stream bool) (ports.Device, error) {
	device, err := h.openDevice()
	if err == nil {
		err = h.identifyDevice(device, id, cfg)
		if err == nil && stream {
			err = device.Start(cfg, controls)
			if err != nil {
				err = apperrors.NewDeviceError("start cameras", err)
			}
		}
		if err != nil {
			device.Stop()
			_ = device.Close()
		}
	}
	if err != nil {
		id.StartUpSuccess = false
		if sendErr := h.control.Send(domain.MsgIdentity, domain.MarshalIdentity(*id)); sendErr != nil {
			h.logger.Warnw("failed to report device failure", "error", sendErr)
		}
		return nil, err
	}

	id.StartUpSuccess = true
	err = h.control.SendBatch(
		domain.Message{Type: domain.MsgIdentity, Payload: domain.MarshalIdentity(*id)},
		domain.Message{Type: domain.MsgCalibration, Payload: id.RawCalibration},
	)
	if err != nil {
		device.Stop()
		_ = device.Close()
		return nil, err
	}

	h.logger.Infow("device ready", "serial", id.Serial, "role", id.Role.String())
	return device, nil
}

func (h *Handshake) openDevice() (ports.Device, error) {
	count := h.opener.InstalledCount()
	if count == 0 {
		return nil, apperrors.NewDeviceError("no devices attached", domain.ErrDeviceNotFound)
	}

	var lastErr error = domain.ErrDeviceNotFound
	for i := h.cfg.DeviceIndex; i < count; i++ {
		device, err := h.opener.Open(i)
		if err == nil {
			h.logger.Infow("device opened", "index", i, "installed", count)
			return device, nil
		}
		h.logger.Debugw("device open failed", "index", i, "error", err)
		lastErr = err
	}
	return nil, apperrors.NewDeviceError(fmt.Sprintf("failed to open any of %d devices from index %d", count, h.cfg.DeviceIndex), lastErr)
}

func (h *Handshake) identifyDevice(device ports.Device, id *domain.CameraIdentity, cfg domain.DeviceConfig) error {
	serial, err := device.Serial()
	if err != nil {
		return apperrors.NewDeviceError("read serial", err)
	}
	// the serial names the spool directory
	if err := validation.ValidateSerial(serial); err != nil {
		return apperrors.NewDeviceError("read serial", err).WithContext("serial", serial)
	}
	id.Serial = serial

	id.Calibration, id.RawCalibration, err = device.Calibration(cfg)
	if err != nil {
		return apperrors.NewDeviceError("read calibration", err)
	}
	return nil
}

// validateSync runs the vendor recorder in a directory named after the
// serial and compares its first output lines against the role's checklist,
// then reports "success" or "fail". A host-sent command replaces the
// configured one.
func (h *Handshake) validateSync(ctx context.Context, id domain.CameraIdentity, command string) (ports.RecorderProcess, error) {
	spec, ok := h.cfg.Recorders[id.Role]
	if command != "" {
		spec.Command = command
	}
	if !ok || strings.TrimSpace(spec.Command) == "" {
		h.sendVerdict(domain.VerdictFail)
		return nil, apperrors.NewHandshakeError("no recorder configured", fmt.Errorf("role %s", id.Role))
	}

	argv := strings.Fields(expandSerial(spec.Command, id.Serial))
	proc, err := h.recorder.Start(ctx, id.Serial, argv)
	if err != nil {
		h.sendVerdict(domain.VerdictFail)
		return nil, err
	}
	h.logger.Infow("recorder started", "command", strings.Join(argv, " "), "dir", id.Serial)

	checklist := make([]string, len(spec.Checklist))
	for i, line := range spec.Checklist {
		checklist[i] = expandSerial(line, id.Serial)
	}

	if err := h.matchChecklist(proc, checklist); err != nil {
		_ = proc.Kill()
		go func() { _, _ = proc.Wait() }()
		h.sendVerdict(domain.VerdictFail)
		return nil, err
	}

	if err := h.control.Send(domain.MsgText, []byte(domain.VerdictSuccess)); err != nil {
		_ = proc.Kill()
		go func() { _, _ = proc.Wait() }()
		return nil, err
	}
	h.logger.Info("sync validated")

	go h.drainRecorder(proc)
	return proc, nil
}

// matchChecklist fails on the first mismatch, on early EOF, or when the
// recorder stays silent for longer than the start timeout. It returns only
// once its reader is done with proc.
func (h *Handshake) matchChecklist(proc ports.RecorderProcess, checklist []string) error {
	result := make(chan error, 1)
	go func() {
		for i, want := range checklist {
			line, err := proc.ReadLine()
			if err == io.EOF {
				result <- apperrors.NewHandshakeError("recorder exited before the checklist completed", domain.ErrRecorderExited).
					WithContext("line", i+1)
				return
			}
			if err != nil {
				result <- apperrors.NewHandshakeError("read recorder output", err)
				return
			}
			h.logger.Infow("recorder", "line", line)
			if line != want {
				result <- apperrors.NewHandshakeError("recorder output does not match", domain.ErrChecklistMismatch).
					WithContext("line", i+1).
					WithContext("expected", want).
					WithContext("got", line)
				return
			}
		}
		result <- nil
	}()

	timer := time.NewTimer(h.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		if err := proc.Kill(); err != nil {
			h.logger.Warnw("failed to kill silent recorder", "error", err)
		}
		<-result
		return apperrors.NewHandshakeError("recorder did not finish starting", fmt.Errorf("timeout after %s", h.cfg.StartTimeout))
	}
}

func (h *Handshake) drainRecorder(proc ports.RecorderProcess) {
	for {
		line, err := proc.ReadLine()
		if err != nil {
			break
		}
		h.logger.Debugw("recorder", "line", line)
	}
	code, err := proc.Wait()
	if err != nil {
		h.logger.Warnw("recorder wait failed", "error", err)
		return
	}
	h.logger.Infow("recorder exited", "exit_code", code)
}

func (h *Handshake) sendVerdict(verdict string) {
	if err := h.control.Send(domain.MsgText, []byte(verdict)); err != nil {
		h.logger.Warnw("failed to report sync verdict", "verdict", verdict, "error", err)
	}
}

func expandSerial(s, serial string) string {
	return strings.ReplaceAll(s, "{serial}", serial)
}

package domain

import (
	"fmt"
	"strings"
)

// Role is the external hardware-sync role of a camera
type Role int32

const (
	RoleStandalone Role = iota
	RoleMaster
	RoleSubordinate
)

func (r Role) String() string {
	switch r {
	case RoleStandalone:
		return "standalone"
	case RoleMaster:
		return "master"
	case RoleSubordinate:
		return "subordinate"
	default:
		return fmt.Sprintf("role(%d)", int32(r))
	}
}

// Synchronized reports whether the role takes part in wired sync and must
// be validated against the recorder checklist.
func (r Role) Synchronized() bool {
	return r == RoleMaster || r == RoleSubordinate
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r >= RoleStandalone && r <= RoleSubordinate
}

// ParseRole parses a role name, case-insensitively
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standalone":
		return RoleStandalone, nil
	case "master":
		return RoleMaster, nil
	case "subordinate":
		return RoleSubordinate, nil
	default:
		return RoleStandalone, fmt.Errorf("unknown role %q", s)
	}
}

// DeviceConfig is the camera configuration pushed by the host. SyncRole is
// the role the host assigns to this client.
type DeviceConfig struct {
	ColorFormat               int32
	ColorResolution           int32
	DepthMode                 int32
	FPS                       int32
	SyncRole                  Role
	DepthDelayUs              int32
	SubordinateDelayUs        uint32
	SynchronizedImagesOnly    bool
	DisableStreamingIndicator bool
}

// ColorControls holds the host-provided sensor controls
type ColorControls struct {
	WhiteBalance int32
	ExposureUs   int32
}

// CameraIdentity is established once per session during the handshake and
// never changes afterwards.
type CameraIdentity struct {
	Role           Role
	Serial         string
	Calibration    []byte
	RawCalibration []byte
	StartUpSuccess bool
}

// SessionPhase is the handshake/session state machine position
type SessionPhase int32

const (
	PhaseDisconnected SessionPhase = iota
	PhaseConnected
	PhaseIdentityExchanged
	PhaseDeviceReady
	PhaseSyncValidated
	PhaseRecording
	PhaseIdle
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnected:
		return "connected"
	case PhaseIdentityExchanged:
		return "identity_exchanged"
	case PhaseDeviceReady:
		return "device_ready"
	case PhaseSyncValidated:
		return "sync_validated"
	case PhaseRecording:
		return "recording"
	case PhaseIdle:
		return "idle"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

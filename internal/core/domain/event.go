package domain

import "time"

// Event is a notable session occurrence published to operators
type Event struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	Phase     SessionPhase `json:"-"`
	PhaseName string       `json:"phase,omitempty"`
	Message   string       `json:"message,omitempty"`
	Time      time.Time    `json:"time"`
}

const (
	EventPhaseChanged  = "phase_changed"
	EventSessionFailed = "session_failed"
	EventGate          = "gate"
	EventWindow        = "window"
	EventFolder        = "folder"
	EventHostText      = "host_text"
)

// SessionStatus is a point-in-time view of the supervisor for operators
type SessionStatus struct {
	SessionID     string    `json:"session_id"`
	Phase         string    `json:"phase"`
	Role          string    `json:"role"`
	Serial        string    `json:"serial,omitempty"`
	Folder        string    `json:"folder,omitempty"`
	CameraCount   int       `json:"camera_count"`
	Restarts      int       `json:"restarts"`
	LastError     string    `json:"last_error,omitempty"`
	PhaseChanged  time.Time `json:"phase_changed"`
	CapturedQueue int       `json:"captured_queue"`
	RetainedQueue int       `json:"retained_queue"`
	SpoolQueue    int       `json:"spool_queue"`
}

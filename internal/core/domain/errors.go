package domain

import "errors"

var (
	ErrChannelClosed     = errors.New("channel closed")
	ErrShortPayload      = errors.New("payload shorter than declared field")
	ErrCaptureTimeout    = errors.New("capture timed out")
	ErrDeviceNotFound    = errors.New("no capture device could be opened")
	ErrChecklistMismatch = errors.New("recorder output does not match checklist")
	ErrRecorderExited    = errors.New("recorder exited before checklist completed")
	ErrSpoolEntryMissing = errors.New("spooled frame missing on disk")
)

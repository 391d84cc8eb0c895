package ports

import "depthcap/internal/core/domain"

type MetricsRecorder interface {
	FrameCaptured()
	CaptureTimeout()
	FrameNotified()
	FrameDrained(kept bool)
	FrameUploaded(bytes int)
	UploadSkipped()
	LocalIOError(stage string)
	HandshakeCompleted(ok bool)
	SessionEnded(outcome string)
	SetPhase(phase domain.SessionPhase)
	SetQueueDepth(queue string, depth int)
	SetCameraCount(n int)
}

type EventPublisher interface {
	Publish(event domain.Event)
}

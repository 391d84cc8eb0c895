package services

import "depthcap/internal/core/domain"

type nopMetrics struct{}

func (nopMetrics) FrameCaptured()                        {}
func (nopMetrics) CaptureTimeout()                       {}
func (nopMetrics) FrameNotified()                        {}
func (nopMetrics) FrameDrained(kept bool)                {}
func (nopMetrics) FrameUploaded(bytes int)               {}
func (nopMetrics) UploadSkipped()                        {}
func (nopMetrics) LocalIOError(stage string)             {}
func (nopMetrics) HandshakeCompleted(ok bool)            {}
func (nopMetrics) SessionEnded(outcome string)           {}
func (nopMetrics) SetPhase(phase domain.SessionPhase)    {}
func (nopMetrics) SetQueueDepth(queue string, depth int) {}
func (nopMetrics) SetCameraCount(n int)                  {}

type nopEvents struct{}

func (nopEvents) Publish(domain.Event) {}

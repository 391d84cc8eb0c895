package domain

// FrameDelay is added to both window bounds before comparison. It absorbs
// the latency between a frame being captured and its timestamp reaching the
// host, in device microseconds.
const FrameDelay uint64 = 100_000

// RecordingWindow is the host-controlled [Start, Stop] interval deciding
// which retained frames are persisted.
type RecordingWindow struct {
	Start uint64
	Stop  uint64
}

// Contains reports whether a frame stamped ts falls strictly inside the
// window once FrameDelay is applied to both bounds.
func (w RecordingWindow) Contains(ts uint64) bool {
	return w.Start+FrameDelay < ts && ts < w.Stop+FrameDelay
}

package monitoring

import (
	"depthcap/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.MetricsRecorder
type PrometheusCollector struct {
	// Counters
	framesCaptured  prometheus.Counter
	captureTimeouts prometheus.Counter
	framesNotified  prometheus.Counter
	framesDrained   *prometheus.CounterVec
	framesUploaded  prometheus.Counter
	uploadedBytes   prometheus.Counter
	uploadsSkipped  prometheus.Counter
	localIOErrors   *prometheus.CounterVec
	handshakes      *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec

	// Gauges
	phase       prometheus.Gauge
	queueDepth  *prometheus.GaugeVec
	cameraCount prometheus.Gauge

	// Histograms
	uploadSize prometheus.Histogram
}

// NewPrometheusCollector registers the collector's metrics on reg. A nil
// reg registers on the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		framesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "depthcap_frames_captured_total",
			Help: "Total number of frames captured from the device",
		}),

		captureTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "depthcap_capture_timeouts_total",
			Help: "Total number of device capture waits that timed out",
		}),

		framesNotified: factory.NewCounter(prometheus.CounterOpts{
			Name: "depthcap_frames_notified_total",
			Help: "Total number of frame timestamps reported to the host",
		}),

		framesDrained: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthcap_frames_drained_total",
			Help: "Total number of retained frames drained, by outcome",
		}, []string{"outcome"}),

		framesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "depthcap_frames_uploaded_total",
			Help: "Total number of spooled frames uploaded to the host",
		}),

		uploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "depthcap_uploaded_bytes_total",
			Help: "Total encoded image bytes uploaded",
		}),

		uploadsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "depthcap_uploads_skipped_total",
			Help: "Total number of spool entries skipped because their files were missing",
		}),

		localIOErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthcap_local_io_errors_total",
			Help: "Total number of non-fatal local I/O errors, by stage",
		}, []string{"stage"}),

		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthcap_handshakes_total",
			Help: "Total number of completed handshakes, by result",
		}, []string{"result"}),

		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "depthcap_sessions_ended_total",
			Help: "Total number of sessions ended, by outcome",
		}, []string{"outcome"}),

		phase: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depthcap_session_phase",
			Help: "Current session phase (0 disconnected .. 6 idle)",
		}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depthcap_queue_depth",
			Help: "Number of items waiting in each pipeline queue",
		}, []string{"queue"}),

		cameraCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "depthcap_camera_count",
			Help: "Upload pacing divisor last received from the host",
		}),

		uploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "depthcap_upload_frame_bytes",
			Help:    "Encoded size of uploaded color+depth pairs",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 8),
		}),
	}
}

func (p *PrometheusCollector) FrameCaptured() {
	p.framesCaptured.Inc()
}

func (p *PrometheusCollector) CaptureTimeout() {
	p.captureTimeouts.Inc()
}

func (p *PrometheusCollector) FrameNotified() {
	p.framesNotified.Inc()
}

func (p *PrometheusCollector) FrameDrained(kept bool) {
	outcome := "discarded"
	if kept {
		outcome = "spooled"
	}
	p.framesDrained.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) FrameUploaded(bytes int) {
	p.framesUploaded.Inc()
	p.uploadedBytes.Add(float64(bytes))
	p.uploadSize.Observe(float64(bytes))
}

func (p *PrometheusCollector) UploadSkipped() {
	p.uploadsSkipped.Inc()
}

func (p *PrometheusCollector) LocalIOError(stage string) {
	p.localIOErrors.WithLabelValues(stage).Inc()
}

func (p *PrometheusCollector) HandshakeCompleted(ok bool) {
	result := "fail"
	if ok {
		result = "success"
	}
	p.handshakes.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) SessionEnded(outcome string) {
	p.sessionsEnded.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) SetPhase(phase domain.SessionPhase) {
	p.phase.Set(float64(phase))
}

func (p *PrometheusCollector) SetQueueDepth(queue string, depth int) {
	p.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (p *PrometheusCollector) SetCameraCount(n int) {
	p.cameraCount.Set(float64(n))
}

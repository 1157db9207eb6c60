package monitoring

import (
	"net/http"

	"aivision/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var connectionStates = []domain.ConnectionState{
	domain.StateDisconnected,
	domain.StateConnecting,
	domain.StateConnected,
	domain.StateReconnecting,
}

type PrometheusCollector struct {
	registry *prometheus.Registry

	// Counters
	framesSentTotal     prometheus.Counter
	frameBytesTotal     prometheus.Counter
	framesDroppedTotal  *prometheus.CounterVec
	resultsStaleTotal   prometheus.Counter
	protocolErrorsTotal *prometheus.CounterVec
	commandsTotal       *prometheus.CounterVec
	reconnectsTotal     prometheus.Counter

	// Histograms
	resultRoundTrip prometheus.Histogram
	inferenceTime   prometheus.Histogram

	// Gauges
	connectionState   *prometheus.GaugeVec
	detectionsOnFrame prometheus.Gauge
	backendFPS        prometheus.Gauge
	sessionDetections prometheus.Gauge
	sessionCaptures   prometheus.Gauge
}

// NewPrometheusCollector registers the client metrics on a private registry so
// several clients can live in one process (and in tests).
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		framesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aivision_frames_sent_total",
			Help: "Total number of frames handed to the socket",
		}),

		frameBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aivision_frame_bytes_total",
			Help: "Total encoded frame payload bytes sent",
		}),

		framesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aivision_frames_dropped_total",
			Help: "Frames dropped before sending, by reason",
		}, []string{"reason"}),

		resultsStaleTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aivision_results_stale_total",
			Help: "Detection results discarded as out of order",
		}),

		protocolErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aivision_protocol_errors_total",
			Help: "Inbound messages that could not be interpreted",
		}, []string{"message_type"}),

		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aivision_commands_total",
			Help: "Control commands by name and outcome",
		}, []string{"command", "outcome"}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aivision_reconnect_attempts_total",
			Help: "Automatic reconnect attempts",
		}),

		resultRoundTrip: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aivision_result_round_trip_seconds",
			Help:    "Time from frame send to its detection result",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),

		inferenceTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aivision_backend_inference_milliseconds",
			Help:    "Inference time reported by the backend",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8),
		}),

		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aivision_connection_state",
			Help: "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),

		detectionsOnFrame: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aivision_detections_current",
			Help: "Detections in the most recent applied result",
		}),

		backendFPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aivision_backend_fps",
			Help: "Frames per second reported by the backend",
		}),

		sessionDetections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aivision_session_detections",
			Help: "Session total detections",
		}),

		sessionCaptures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aivision_session_captured_images",
			Help: "Session captured images",
		}),
	}
}

func (p *PrometheusCollector) RecordFrameSent(bytes int) {
	p.framesSentTotal.Inc()
	p.frameBytesTotal.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordFrameDropped(reason string) {
	p.framesDroppedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordResultApplied(roundTripSeconds float64, inferenceMs float64) {
	if roundTripSeconds > 0 {
		p.resultRoundTrip.Observe(roundTripSeconds)
	}
	p.inferenceTime.Observe(inferenceMs)
}

func (p *PrometheusCollector) RecordResultStale() {
	p.resultsStaleTotal.Inc()
}

func (p *PrometheusCollector) RecordProtocolError(messageType string) {
	p.protocolErrorsTotal.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) RecordCommand(name string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	p.commandsTotal.WithLabelValues(name, outcome).Inc()
}

func (p *PrometheusCollector) RecordConnectionState(state domain.ConnectionState) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		p.connectionState.WithLabelValues(s.String()).Set(value)
	}
}

func (p *PrometheusCollector) RecordReconnectAttempt() {
	p.reconnectsTotal.Inc()
}

// ObserveSnapshot mirrors the rendered view into gauges. It is meant to be
// registered as a state observer.
func (p *PrometheusCollector) ObserveSnapshot(s domain.Snapshot) {
	p.detectionsOnFrame.Set(float64(len(s.Detections)))
	p.backendFPS.Set(s.Metrics.FPS)
	p.sessionDetections.Set(float64(s.Session.TotalDetections))
	p.sessionCaptures.Set(float64(s.Session.CapturedImages))
}

// Handler serves the collector's registry in the Prometheus text format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry exposes the underlying registry for extra collectors.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

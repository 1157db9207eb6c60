package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"

	"aivision/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_Counters(t *testing.T) {
	p := NewPrometheusCollector()

	p.RecordFrameSent(100)
	p.RecordFrameSent(50)
	p.RecordFrameDropped("in_flight")
	p.RecordFrameDropped("in_flight")
	p.RecordFrameDropped("disconnected")
	p.RecordResultStale()
	p.RecordProtocolError("unknown")
	p.RecordCommand(domain.CommandCaptureImage, true)
	p.RecordCommand(domain.CommandCaptureImage, false)
	p.RecordReconnectAttempt()

	assert.Equal(t, 2.0, testutil.ToFloat64(p.framesSentTotal))
	assert.Equal(t, 150.0, testutil.ToFloat64(p.frameBytesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.framesDroppedTotal.WithLabelValues("in_flight")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.framesDroppedTotal.WithLabelValues("disconnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.resultsStaleTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.commandsTotal.WithLabelValues(domain.CommandCaptureImage, "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.reconnectsTotal))
}

func TestPrometheusCollector_ConnectionStateIsExclusive(t *testing.T) {
	p := NewPrometheusCollector()

	p.RecordConnectionState(domain.StateConnecting)
	p.RecordConnectionState(domain.StateConnected)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.connectionState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.connectionState.WithLabelValues("connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.connectionState.WithLabelValues("disconnected")))
}

func TestPrometheusCollector_ObserveSnapshot(t *testing.T) {
	p := NewPrometheusCollector()

	p.ObserveSnapshot(domain.Snapshot{
		Detections: make([]domain.Detection, 3),
		Metrics:    domain.PerformanceMetrics{FPS: 12.5},
		Session:    domain.SessionStatus{TotalDetections: 40, CapturedImages: 2},
	})

	assert.Equal(t, 3.0, testutil.ToFloat64(p.detectionsOnFrame))
	assert.Equal(t, 12.5, testutil.ToFloat64(p.backendFPS))
	assert.Equal(t, 40.0, testutil.ToFloat64(p.sessionDetections))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.sessionCaptures))
}

func TestPrometheusCollector_IndependentRegistries(t *testing.T) {
	a := NewPrometheusCollector()
	b := NewPrometheusCollector()

	a.RecordFrameSent(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.framesSentTotal))
}

func TestPrometheusCollector_Handler(t *testing.T) {
	p := NewPrometheusCollector()
	p.RecordFrameSent(10)
	p.RecordResultApplied(0.05, 20)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "aivision_frames_sent_total 1")
	assert.Contains(t, string(body), "aivision_result_round_trip_seconds_count 1")
}

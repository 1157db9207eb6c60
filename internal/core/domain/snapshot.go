package domain

import (
	"fmt"
	"time"
)

// Snapshot is a read-only copy of everything the view layer renders.
type Snapshot struct {
	Connection   ConnectionState    `json:"connection"`
	Detections   []Detection        `json:"detections"`
	Metrics      PerformanceMetrics `json:"performance_metrics"`
	Session      SessionStatus      `json:"session_status"`
	Config       DetectionConfig    `json:"config"`
	LastSequence uint64             `json:"last_sequence"`
	LastResultAt time.Time          `json:"last_result_at"`
	LastError    string             `json:"last_error,omitempty"`
}

func (s Snapshot) CameraStats() CameraStats {
	stats := CameraStats{
		DetectionCount: len(s.Detections),
		InferenceTime:  fmt.Sprintf("%.0fms", s.Metrics.InferenceTime),
		FPS:            s.Metrics.FPS,
	}
	if len(s.Detections) > 0 {
		var sum float64
		for _, d := range s.Detections {
			sum += d.Confidence
		}
		stats.Confidence = sum / float64(len(s.Detections))
	}
	return stats
}

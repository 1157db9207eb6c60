package domain

// PerformanceMetrics is a single rolling record; every update overwrites it.
type PerformanceMetrics struct {
	InferenceTime   float64 `json:"inference_time"`   // milliseconds
	FPS             float64 `json:"fps"`
	SessionDuration float64 `json:"session_duration"` // seconds
}

// SessionStatus counters never decrease except on an explicit session reset.
type SessionStatus struct {
	TotalDetections uint64 `json:"totalDetections"`
	CapturedImages  uint64 `json:"capturedImages"`
}

// CameraStats is what the camera overlay shows next to the live feed.
type CameraStats struct {
	DetectionCount int     `json:"detection_count"`
	InferenceTime  string  `json:"inference_time"`
	FPS            float64 `json:"fps"`
	Confidence     float64 `json:"confidence"`
}

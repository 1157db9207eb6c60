package domain

import "time"

// Event is anything the state reducer can fold. Inbound events come from the
// codec; local events are issued by the client itself.
type Event interface {
	EventType() string
}

type DetectionResult struct {
	Sequence      uint64
	Detections    []Detection
	InferenceTime float64 // milliseconds
	FPS           float64
}

type SessionUpdate struct {
	TotalDetections uint64
	CapturedImages  uint64
}

type CaptureAck struct{}

type BackendError struct {
	Reason string
}

// UnknownMessage is produced for any inbound shape the codec cannot map.
type UnknownMessage struct {
	Type   string
	Reason string
}

type DetectionsCleared struct{}

type ConfigApplied struct {
	Config DetectionConfig
}

type SessionReset struct{}

type ConnectionChanged struct {
	State ConnectionState
	At    time.Time
}

type Tick struct {
	At time.Time
}

func (DetectionResult) EventType() string   { return "detection_result" }
func (SessionUpdate) EventType() string     { return "session_update" }
func (CaptureAck) EventType() string        { return "capture_ack" }
func (BackendError) EventType() string      { return "error" }
func (UnknownMessage) EventType() string    { return "unknown" }
func (DetectionsCleared) EventType() string { return "detections_cleared" }
func (ConfigApplied) EventType() string     { return "config_applied" }
func (SessionReset) EventType() string      { return "session_reset" }
func (ConnectionChanged) EventType() string { return "connection_changed" }
func (Tick) EventType() string              { return "tick" }

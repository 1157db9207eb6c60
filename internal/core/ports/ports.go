package ports

import (
	"context"

	"aivision/internal/core/domain"
)

// Transport is the slice of the connection manager the throttler and the
// dispatcher depend on. Sends are fire-and-forget: they enqueue and return.
type Transport interface {
	IsConnected() bool
	SendFrame(messageType int, payload []byte) error
	SendCommand(messageType int, payload []byte) error
}

// MessageHandler receives raw inbound messages, one at a time, in receipt order.
type MessageHandler func(messageType int, data []byte)

// StateListener observes connection state transitions synchronously.
type StateListener func(domain.StateChange)

// ConnectionManager owns the socket lifecycle. Connect and Disconnect never
// block on the network.
type ConnectionManager interface {
	Transport
	Connect(address string) error
	Disconnect()
	State() domain.ConnectionState
	Target() string
	SetMessageHandler(h MessageHandler)
	OnStateChange(l StateListener)
}

// MessageCodec turns outbound frames/commands into wire payloads and inbound
// payloads into events.
type MessageCodec interface {
	EncodeFrame(frame domain.Frame) (seq uint64, messageType int, payload []byte, err error)
	EncodeCommand(cmd domain.Command) (messageType int, payload []byte, err error)
	Decode(messageType int, data []byte) domain.Event
}

// FrameSource produces encoded camera frames.
type FrameSource interface {
	Next(ctx context.Context) (domain.Frame, error)
	Close() error
}

// ConfigPublisher pushes a detection config through the REST collaborator.
type ConfigPublisher interface {
	UpdateConfig(ctx context.Context, cfg domain.DetectionConfig) error
}

// StatsRecorder receives the client's operational counters.
type StatsRecorder interface {
	RecordFrameSent(bytes int)
	RecordFrameDropped(reason string)
	RecordResultApplied(roundTripSeconds float64, inferenceMs float64)
	RecordResultStale()
	RecordProtocolError(messageType string)
	RecordCommand(name string, accepted bool)
	RecordConnectionState(state domain.ConnectionState)
	RecordReconnectAttempt()
}

// VisionService is the control surface the status API drives.
type VisionService interface {
	Connect(address string) error
	Disconnect()
	Target() string
	ClearDetections(ctx context.Context) error
	CaptureLatest(ctx context.Context) error
	UpdateConfig(ctx context.Context, cfg domain.DetectionConfig) error
	ResetSession()
	Snapshot() domain.Snapshot
}

package services

import (
	"sync"
	"time"

	"aivision/internal/core/domain"
	"aivision/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of ports.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockTransport) SendFrame(messageType int, payload []byte) error {
	args := m.Called(messageType, payload)
	return args.Error(0)
}

func (m *MockTransport) SendCommand(messageType int, payload []byte) error {
	args := m.Called(messageType, payload)
	return args.Error(0)
}

type sentMessage struct {
	messageType int
	payload     []byte
}

// fakeConnection is an in-memory ports.ConnectionManager. Tests drive state
// transitions and inbound messages by hand.
type fakeConnection struct {
	mu        sync.Mutex
	state     domain.ConnectionState
	target    string
	frames    []sentMessage
	commands  []sentMessage
	frameErr  error
	handler   ports.MessageHandler
	listeners []ports.StateListener
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{}
}

func (f *fakeConnection) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == domain.StateConnected
}

func (f *fakeConnection) SendFrame(messageType int, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != domain.StateConnected {
		return domain.ErrNotConnected
	}
	if f.frameErr != nil {
		return f.frameErr
	}
	f.frames = append(f.frames, sentMessage{messageType, payload})
	return nil
}

func (f *fakeConnection) SendCommand(messageType int, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != domain.StateConnected {
		return domain.ErrNotConnected
	}
	f.commands = append(f.commands, sentMessage{messageType, payload})
	return nil
}

func (f *fakeConnection) Connect(address string) error {
	f.mu.Lock()
	f.target = address
	f.mu.Unlock()
	f.setState(domain.StateConnected)
	return nil
}

func (f *fakeConnection) Disconnect() {
	f.setState(domain.StateDisconnected)
}

func (f *fakeConnection) State() domain.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConnection) Target() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

func (f *fakeConnection) SetMessageHandler(h ports.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeConnection) OnStateChange(l ports.StateListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *fakeConnection) setState(to domain.ConnectionState) {
	f.mu.Lock()
	from := f.state
	f.state = to
	listeners := append([]ports.StateListener(nil), f.listeners...)
	target := f.target
	f.mu.Unlock()

	if from == to {
		return
	}
	for _, l := range listeners {
		l(domain.StateChange{From: from, To: to, Target: target, At: time.Now()})
	}
}

func (f *fakeConnection) deliver(messageType int, data []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(messageType, data)
}

func (f *fakeConnection) sentFrames() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.frames...)
}

func (f *fakeConnection) sentCommands() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.commands...)
}

// recordingStats counts StatsRecorder calls.
type recordingStats struct {
	mu            sync.Mutex
	sent          int
	dropped       map[string]int
	applied       int
	stale         int
	protocolError int
	commands      map[string]int
	rejected      map[string]int
	states        []domain.ConnectionState
}

func newRecordingStats() *recordingStats {
	return &recordingStats{
		dropped:  make(map[string]int),
		commands: make(map[string]int),
		rejected: make(map[string]int),
	}
}

func (r *recordingStats) RecordFrameSent(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
}

func (r *recordingStats) RecordFrameDropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[reason]++
}

func (r *recordingStats) RecordResultApplied(float64, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied++
}

func (r *recordingStats) RecordResultStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale++
}

func (r *recordingStats) RecordProtocolError(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protocolError++
}

func (r *recordingStats) RecordCommand(name string, accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if accepted {
		r.commands[name]++
	} else {
		r.rejected[name]++
	}
}

func (r *recordingStats) RecordConnectionState(state domain.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingStats) RecordReconnectAttempt() {}

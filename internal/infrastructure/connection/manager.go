package connection

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"aivision/internal/core/domain"
	"aivision/internal/core/ports"
	apperrors "aivision/pkg/errors"
	"aivision/pkg/retry"
	"aivision/pkg/tracing"
	"aivision/pkg/utils"
	"aivision/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	ClientID         domain.ClientID
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	MaxMessageBytes  int64
	CommandQueueSize int
	Reconnect        retry.Config
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		PongTimeout:      30 * time.Second,
		MaxMessageBytes:  4 << 20,
		CommandQueueSize: 16,
		Reconnect: retry.Config{
			Enabled:      true,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
	}
}

type outbound struct {
	messageType int
	payload     []byte
}

// session is one live socket with its writer queues.
type session struct {
	id       domain.SessionID
	conn     *websocket.Conn
	frames   chan outbound
	commands chan outbound
	done     chan struct{}

	closeOnce    sync.Once
	writeTimeout time.Duration
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(s.writeTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
}

// Manager owns the websocket to the detection backend. There is at most one
// live socket at a time. Every Connect and Disconnect bumps an epoch; dial
// results and reconnect timers carrying an older epoch are discarded.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	stats  ports.StatsRecorder
	logger *zap.SugaredLogger

	mu             sync.Mutex
	state          domain.ConnectionState
	target         string
	epoch          uint64
	attempt        int
	current        *session
	reconnectTimer *time.Timer
	handler        ports.MessageHandler
	listeners      []ports.StateListener
	pending        []domain.StateChange

	// notifyMu serializes listener delivery so changes arrive in order.
	notifyMu sync.Mutex
	// handlerMu serializes inbound delivery across sockets, so a replaced
	// socket's reader never overlaps its successor's.
	handlerMu sync.Mutex
}

func NewManager(opts Options, stats ports.StatsRecorder, logger *zap.SugaredLogger) *Manager {
	defaults := DefaultOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaults.PongTimeout
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if opts.CommandQueueSize <= 0 {
		opts.CommandQueueSize = defaults.CommandQueueSize
	}

	return &Manager{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		stats:  stats,
		logger: logger,
		state:  domain.StateDisconnected,
	}
}

// SetMessageHandler installs the inbound handler. It is called from the
// reader goroutine, one message at a time.
func (m *Manager) SetMessageHandler(h ports.MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// OnStateChange registers a listener. Listeners run synchronously and must not
// call Connect or Disconnect.
func (m *Manager) OnStateChange(l ports.StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Connect starts an asynchronous connection to address. It is a no-op when
// already connected or connecting to the same address; otherwise any previous
// socket is closed first. Dial failures are not returned: they move the state
// to Disconnected and schedule a reconnect.
func (m *Manager) Connect(address string) error {
	address = strings.TrimSpace(address)
	if err := validation.ValidateBackendURL(address); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	m.mu.Lock()
	if m.target == address && (m.state == domain.StateConnected || m.state == domain.StateConnecting) {
		m.mu.Unlock()
		return nil
	}

	old := m.detachLocked()
	m.epoch++
	epoch := m.epoch
	m.target = address
	m.attempt = 0
	m.setStateLocked(domain.StateConnecting)
	m.mu.Unlock()

	if old != nil {
		old.close()
		m.logger.Infow("closed previous backend connection", "session_id", old.id)
	}
	m.notify()

	go m.dial(epoch, address, 0)
	return nil
}

// Disconnect closes the socket and cancels any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	old := m.detachLocked()
	m.epoch++
	m.target = ""
	m.attempt = 0
	m.setStateLocked(domain.StateDisconnected)
	m.mu.Unlock()

	if old != nil {
		old.close()
		m.logger.Infow("backend connection closed", "session_id", old.id)
	}
	m.notify()
}

func (m *Manager) Close() error {
	m.Disconnect()
	return nil
}

func (m *Manager) IsConnected() bool {
	return m.State() == domain.StateConnected
}

func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Target returns the address the manager is trying to stay connected to.
func (m *Manager) Target() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *Manager) SessionID() domain.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.id
}

// SendFrame enqueues a frame on the single-slot frame lane.
func (m *Manager) SendFrame(messageType int, payload []byte) error {
	s, err := m.live()
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return domain.ErrNotConnected
	default:
	}
	select {
	case s.frames <- outbound{messageType, payload}:
		return nil
	default:
		return domain.ErrSendQueueFull
	}
}

// SendCommand enqueues a command. The writer drains commands before frames.
func (m *Manager) SendCommand(messageType int, payload []byte) error {
	s, err := m.live()
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return domain.ErrNotConnected
	default:
	}
	select {
	case s.commands <- outbound{messageType, payload}:
		return nil
	default:
		return domain.ErrSendQueueFull
	}
}

func (m *Manager) live() (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateConnected || m.current == nil {
		return nil, domain.ErrNotConnected
	}
	return m.current, nil
}

func (m *Manager) dial(epoch uint64, address string, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
	defer cancel()
	ctx, span := tracing.TraceDial(ctx, address, attempt)
	defer span.End()

	header := http.Header{}
	if m.opts.ClientID != "" {
		header.Set("X-Client-ID", string(m.opts.ClientID))
	}

	conn, resp, err := m.dialer.DialContext(ctx, address, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if m.epoch != epoch {
		// Superseded by Connect or Disconnect while dialing.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		connErr := apperrors.NewConnectionError(err, address)
		tracing.RecordError(ctx, connErr)
		m.logger.Warnw("backend dial failed",
			"target", address,
			"attempt", attempt,
			"error", connErr,
		)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.notify()
		return
	}

	s := &session{
		id:           domain.SessionID(utils.GenerateSessionID()),
		conn:         conn,
		frames:       make(chan outbound, 1),
		commands:     make(chan outbound, m.opts.CommandQueueSize),
		done:         make(chan struct{}),
		writeTimeout: m.opts.WriteTimeout,
	}
	m.current = s
	m.attempt = 0
	m.setStateLocked(domain.StateConnected)
	m.mu.Unlock()

	tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(string(s.id)))
	m.logger.Infow("connected to backend", "target", address, "session_id", s.id)

	go m.writeLoop(s)
	go m.readLoop(s)
	m.notify()
}

func (m *Manager) readLoop(s *session) {
	conn := s.conn
	conn.SetReadLimit(m.opts.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(s, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))

		if !m.deliver(s, messageType, data) {
			return
		}
	}
}

// deliver hands one inbound message to the handler. It reports false, and
// drops the message, once s is no longer the live socket.
func (m *Manager) deliver(s *session, messageType int, data []byte) bool {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	m.mu.Lock()
	handler := m.handler
	current := m.current == s
	m.mu.Unlock()

	if !current {
		return false
	}
	if handler != nil {
		handler(messageType, data)
	}
	return true
}

func (m *Manager) writeLoop(s *session) {
	pingTicker := time.NewTicker(m.opts.PingInterval)
	defer pingTicker.Stop()

	write := func(msg outbound) bool {
		s.conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
		if err := s.conn.WriteMessage(msg.messageType, msg.payload); err != nil {
			m.handleDrop(s, err)
			return false
		}
		return true
	}

	for {
		select {
		case msg := <-s.commands:
			if !write(msg) {
				return
			}
			continue
		default:
		}

		select {
		case <-s.done:
			return

		case msg := <-s.commands:
			if !write(msg) {
				return
			}

		case msg := <-s.frames:
			if !write(msg) {
				return
			}

		case <-pingTicker.C:
			deadline := time.Now().Add(m.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.handleDrop(s, err)
				return
			}
		}
	}
}

// handleDrop reacts to a read or write failure on s.
func (m *Manager) handleDrop(s *session, err error) {
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		s.close()
		return
	}
	m.current = nil
	target := m.target

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Warnw("backend connection lost",
			"target", target,
			"session_id", s.id,
			"error", apperrors.NewConnectionError(err, target),
		)
	} else {
		m.logger.Infow("backend connection closed by peer", "target", target, "session_id", s.id)
	}

	m.scheduleReconnectLocked()
	m.mu.Unlock()

	s.close()
	m.notify()
}

// scheduleReconnectLocked moves to Disconnected and, if the policy allows,
// arms a timer for the next attempt and moves to Reconnecting.
func (m *Manager) scheduleReconnectLocked() {
	m.setStateLocked(domain.StateDisconnected)

	cfg := m.opts.Reconnect
	if !cfg.Enabled || m.target == "" {
		return
	}
	if retry.Exhausted(cfg, m.attempt) {
		m.logger.Warnw("giving up on backend reconnect", "target", m.target, "attempts", m.attempt)
		return
	}

	delay := retry.Backoff(cfg, m.attempt)
	m.attempt++
	epoch, target, attempt := m.epoch, m.target, m.attempt

	m.setStateLocked(domain.StateReconnecting)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.reconnect(epoch, target, attempt)
	})
	m.logger.Infow("backend reconnect scheduled", "target", target, "attempt", attempt, "delay", delay)
}

func (m *Manager) reconnect(epoch uint64, target string, attempt int) {
	m.mu.Lock()
	if m.epoch != epoch || m.state != domain.StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.setStateLocked(domain.StateConnecting)
	m.mu.Unlock()
	m.notify()

	if m.stats != nil {
		m.stats.RecordReconnectAttempt()
	}
	m.dial(epoch, target, attempt)
}

// detachLocked cancels the reconnect timer and detaches the live session.
// The caller closes the returned session after releasing the lock.
func (m *Manager) detachLocked() *session {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	s := m.current
	m.current = nil
	return s
}

func (m *Manager) setStateLocked(to domain.ConnectionState) {
	if m.state == to {
		return
	}
	change := domain.StateChange{
		From:   m.state,
		To:     to,
		Target: m.target,
		At:     utils.Now(),
	}
	if m.current != nil {
		change.Session = m.current.id
	}
	m.state = to
	m.pending = append(m.pending, change)
}

// notify delivers queued state changes to listeners in the order they happened.
func (m *Manager) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		listeners := append([]ports.StateListener(nil), m.listeners...)
		m.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, change := range batch {
			m.logger.Debugw("connection state changed", "from", change.From, "to", change.To, "target", change.Target)
			for _, l := range listeners {
				l(change)
			}
		}
	}
}

package services

import (
	"errors"
	"sync"
	"time"

	"aivision/internal/core/domain"
	"aivision/internal/core/ports"
	"aivision/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type SubmitOutcome int

const (
	FrameSent SubmitOutcome = iota
	FrameDroppedDisconnected
	FrameDroppedInFlight
	FrameDroppedRateLimited
	FrameDroppedQueueFull
	FrameDroppedEncodeError
)

func (o SubmitOutcome) String() string {
	switch o {
	case FrameSent:
		return "sent"
	case FrameDroppedDisconnected:
		return "disconnected"
	case FrameDroppedInFlight:
		return "in_flight"
	case FrameDroppedRateLimited:
		return "rate_limited"
	case FrameDroppedQueueFull:
		return "queue_full"
	case FrameDroppedEncodeError:
		return "encode_error"
	default:
		return "unknown"
	}
}

type ThrottlerConfig struct {
	// ResultTimeout bounds how long an unanswered frame blocks the next one.
	ResultTimeout time.Duration
	// MaxSendRate caps frames per second. Zero means no cap.
	MaxSendRate float64
}

func DefaultThrottlerConfig() ThrottlerConfig {
	return ThrottlerConfig{ResultTimeout: 2 * time.Second}
}

// FrameThrottler keeps at most one frame in flight. Frames that cannot be
// sent right now are dropped, never queued.
type FrameThrottler struct {
	transport ports.Transport
	codec     ports.MessageCodec
	stats     ports.StatsRecorder
	logger    *zap.SugaredLogger

	cfg     ThrottlerConfig
	limiter *rate.Limiter
	clock   utils.Clock

	mu          sync.Mutex
	inFlight    bool
	inFlightSeq uint64
	sentAt      time.Time
	timeouts    uint64
}

func NewFrameThrottler(transport ports.Transport, codec ports.MessageCodec, stats ports.StatsRecorder, cfg ThrottlerConfig, logger *zap.SugaredLogger) *FrameThrottler {
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = DefaultThrottlerConfig().ResultTimeout
	}
	if stats == nil {
		stats = nopStats{}
	}

	t := &FrameThrottler{
		transport: transport,
		codec:     codec,
		stats:     stats,
		logger:    logger,
		cfg:       cfg,
		clock:     utils.Now,
	}
	if cfg.MaxSendRate > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.MaxSendRate), 1)
	}
	return t
}

// SetClock replaces the clock used for timeouts and rate limiting.
func (t *FrameThrottler) SetClock(clock utils.Clock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = clock
}

// Submit transmits the frame if the connection is up, no other frame is
// awaiting its result and the rate cap allows it. Otherwise the frame is dropped.
func (t *FrameThrottler) Submit(frame domain.Frame) SubmitOutcome {
	outcome, size := t.submit(frame)
	if outcome == FrameSent {
		t.stats.RecordFrameSent(size)
	} else {
		t.stats.RecordFrameDropped(outcome.String())
	}
	return outcome
}

func (t *FrameThrottler) submit(frame domain.Frame) (SubmitOutcome, int) {
	if !t.transport.IsConnected() {
		return FrameDroppedDisconnected, 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	if t.inFlight {
		if now.Sub(t.sentAt) < t.cfg.ResultTimeout {
			return FrameDroppedInFlight, 0
		}
		t.timeouts++
		t.logger.Debugw("frame result timed out",
			"sequence", t.inFlightSeq,
			"waited", now.Sub(t.sentAt),
		)
		t.inFlight = false
	}

	if t.limiter != nil && !t.limiter.AllowN(now, 1) {
		return FrameDroppedRateLimited, 0
	}

	seq, messageType, payload, err := t.codec.EncodeFrame(frame)
	if err != nil {
		t.logger.Warnw("failed to encode frame", "error", err)
		return FrameDroppedEncodeError, 0
	}

	if err := t.transport.SendFrame(messageType, payload); err != nil {
		if errors.Is(err, domain.ErrSendQueueFull) {
			return FrameDroppedQueueFull, 0
		}
		return FrameDroppedDisconnected, 0
	}

	t.inFlight = true
	t.inFlightSeq = seq
	t.sentAt = now
	return FrameSent, len(payload)
}

// Acknowledge releases the in-flight slot when a result for the pending frame
// (or a later one) arrives. It returns the round trip of the released frame.
func (t *FrameThrottler) Acknowledge(seq uint64) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inFlight || seq < t.inFlightSeq {
		return 0, false
	}
	t.inFlight = false
	return t.clock().Sub(t.sentAt), true
}

// Reset forgets any pending frame. Called when the connection goes away,
// since a result for it can no longer arrive.
func (t *FrameThrottler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight = false
}

func (t *FrameThrottler) InFlight() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlightSeq, t.inFlight
}

func (t *FrameThrottler) Timeouts() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeouts
}

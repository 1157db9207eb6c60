package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"aivision/internal/core/domain"
	"aivision/internal/core/ports"
	apperrors "aivision/pkg/errors"
	"aivision/pkg/validation"

	"go.uber.org/zap"
)

type ClientOptions struct {
	ClientID        domain.ClientID
	CaptureInterval time.Duration
	TickInterval    time.Duration
	Throttle        ThrottlerConfig
	// ForwardConfig also posts config changes to the REST collaborator.
	ForwardConfig bool
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		CaptureInterval: 100 * time.Millisecond,
		TickInterval:    time.Second,
		Throttle:        DefaultThrottlerConfig(),
	}
}

// VisionClient wires the connection manager, codec, throttler, reducer and
// dispatcher together and is what the status API and the command line use.
type VisionClient struct {
	conn       ports.ConnectionManager
	codec      ports.MessageCodec
	publisher  ports.ConfigPublisher
	stats      ports.StatsRecorder
	reducer    *StateReducer
	throttler  *FrameThrottler
	dispatcher *CommandDispatcher

	opts   ClientOptions
	logger *zap.SugaredLogger

	latestMu sync.Mutex
	latest   []byte

	closeOnce sync.Once
}

// NewVisionClient registers itself as the message handler and state listener
// of conn. publisher and stats may be nil.
func NewVisionClient(
	conn ports.ConnectionManager,
	codec ports.MessageCodec,
	publisher ports.ConfigPublisher,
	stats ports.StatsRecorder,
	initial domain.DetectionConfig,
	opts ClientOptions,
	logger *zap.SugaredLogger,
) *VisionClient {
	if stats == nil {
		stats = nopStats{}
	}
	defaults := DefaultClientOptions()
	if opts.CaptureInterval <= 0 {
		opts.CaptureInterval = defaults.CaptureInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaults.TickInterval
	}

	c := &VisionClient{
		conn:       conn,
		codec:      codec,
		publisher:  publisher,
		stats:      stats,
		reducer:    NewStateReducer(initial, logger),
		throttler:  NewFrameThrottler(conn, codec, stats, opts.Throttle, logger),
		dispatcher: NewCommandDispatcher(conn, codec, stats, opts.ClientID, logger),
		opts:       opts,
		logger:     logger,
	}

	conn.SetMessageHandler(c.handleMessage)
	conn.OnStateChange(c.handleStateChange)
	return c
}

// Connect starts connecting to address. Only an invalid address is reported;
// connection failures surface through State.
func (c *VisionClient) Connect(address string) error {
	return c.conn.Connect(address)
}

func (c *VisionClient) Disconnect() {
	c.conn.Disconnect()
}

func (c *VisionClient) IsConnected() bool {
	return c.conn.IsConnected()
}

func (c *VisionClient) State() domain.ConnectionState {
	return c.conn.State()
}

func (c *VisionClient) Target() string {
	return c.conn.Target()
}

// SubmitFrame offers one captured frame to the throttler.
func (c *VisionClient) SubmitFrame(frame domain.Frame) SubmitOutcome {
	if len(frame.Data) > 0 {
		c.latestMu.Lock()
		c.latest = frame.Data
		c.latestMu.Unlock()
	}
	return c.throttler.Submit(frame)
}

// ClearDetections empties the detection set immediately and asks the backend
// to do the same. The local clear stands even when the command is rejected.
func (c *VisionClient) ClearDetections(ctx context.Context) error {
	c.reducer.Apply(domain.DetectionsCleared{})
	return c.dispatcher.Send(ctx, domain.ClearDetectionsCommand{})
}

// CaptureImage asks the backend to store image. The captured counter moves
// when the backend acknowledges.
func (c *VisionClient) CaptureImage(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return apperrors.NewInvalidInputError("capture image is empty")
	}
	return c.dispatcher.Send(ctx, domain.CaptureImageCommand{Image: image})
}

// CaptureLatest captures the most recently submitted frame.
func (c *VisionClient) CaptureLatest(ctx context.Context) error {
	c.latestMu.Lock()
	image := c.latest
	c.latestMu.Unlock()

	if image == nil {
		return apperrors.NewInvalidInputError("no frame captured yet")
	}
	return c.CaptureImage(ctx, image)
}

// UpdateConfig validates cfg, applies it locally without waiting for the
// backend, then pushes it over the socket (when connected) and to the REST
// collaborator (when forwarding is on). Local application is never rolled back.
func (c *VisionClient) UpdateConfig(ctx context.Context, cfg domain.DetectionConfig) error {
	if err := validation.ValidateDetectionConfig(cfg); err != nil {
		return apperrors.WrapError(fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err),
			apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	}

	cfg = cfg.Clone()
	c.reducer.Apply(domain.ConfigApplied{Config: cfg})
	c.logger.Infow("detection config applied",
		"confidence_threshold", cfg.ConfidenceThreshold,
		"iou_threshold", cfg.IoUThreshold,
		"enabled_classes", cfg.EnabledClasses,
	)

	var errs []error
	if c.conn.IsConnected() {
		if err := c.dispatcher.Send(ctx, domain.ConfigUpdateCommand{Config: cfg}); err != nil {
			errs = append(errs, err)
		}
	}
	if c.opts.ForwardConfig && c.publisher != nil {
		if err := c.publisher.UpdateConfig(ctx, cfg); err != nil {
			c.logger.Warnw("failed to forward config", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResetSession zeroes the session counters and clears detections.
func (c *VisionClient) ResetSession() {
	c.reducer.Apply(domain.SessionReset{})
	c.logger.Infow("session reset")
}

func (c *VisionClient) Snapshot() domain.Snapshot {
	return c.reducer.Snapshot()
}

func (c *VisionClient) Subscribe(fn StateObserver) func() {
	return c.reducer.Subscribe(fn)
}

// Run drives the capture cadence and the session-duration tick until ctx is
// done or the source runs out. source may be nil, in which case only the tick
// runs.
func (c *VisionClient) Run(ctx context.Context, source ports.FrameSource) error {
	tick := time.NewTicker(c.opts.TickInterval)
	defer tick.Stop()

	var capture <-chan time.Time
	if source != nil {
		captureTicker := time.NewTicker(c.opts.CaptureInterval)
		defer captureTicker.Stop()
		capture = captureTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-tick.C:
			c.reducer.Apply(domain.Tick{At: now})

		case <-capture:
			frame, err := source.Next(ctx)
			if err != nil {
				if errors.Is(err, domain.ErrSourceExhausted) {
					c.logger.Infow("frame source exhausted")
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Warnw("failed to read frame", "error", err)
				continue
			}
			if outcome := c.SubmitFrame(frame); outcome != FrameSent {
				c.logger.Debugw("frame dropped", "reason", outcome.String())
			}
		}
	}
}

// Close tears down the connection. It is safe to call more than once.
func (c *VisionClient) Close() {
	c.closeOnce.Do(func() {
		c.conn.Disconnect()
	})
}

func (c *VisionClient) handleMessage(messageType int, data []byte) {
	ev := c.codec.Decode(messageType, data)

	switch e := ev.(type) {
	case domain.UnknownMessage:
		c.stats.RecordProtocolError(e.Type)
		c.logger.Warnw("discarding inbound message",
			"type", e.Type,
			"reason", e.Reason,
			"error", apperrors.NewProtocolError(domain.ErrMalformedMessage, e.Type),
		)

	case domain.DetectionResult:
		rtt, acked := c.throttler.Acknowledge(e.Sequence)
		if !c.reducer.Apply(e) {
			c.stats.RecordResultStale()
			return
		}
		var rttSeconds float64
		if acked {
			rttSeconds = rtt.Seconds()
		}
		c.stats.RecordResultApplied(rttSeconds, e.InferenceTime)

	case domain.BackendError:
		c.logger.Warnw("backend reported error", "reason", e.Reason)
		c.reducer.Apply(e)

	default:
		c.reducer.Apply(ev)
	}
}

func (c *VisionClient) handleStateChange(change domain.StateChange) {
	c.stats.RecordConnectionState(change.To)
	c.reducer.Apply(domain.ConnectionChanged{State: change.To, At: change.At})

	if change.To != domain.StateConnected {
		c.throttler.Reset()
		return
	}

	// Bring a fresh socket up to date with the locally applied config.
	cfg := c.reducer.Config()
	if err := c.dispatcher.Send(context.Background(), domain.ConfigUpdateCommand{Config: cfg}); err != nil {
		c.logger.Warnw("failed to push config after connect", "error", err)
	}
}

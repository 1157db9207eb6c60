package services

import (
	"sync"
	"time"

	"aivision/internal/core/domain"
	"aivision/pkg/utils"

	"go.uber.org/zap"
)

// StateObserver receives a snapshot after every applied event. Observers run
// synchronously on the applying goroutine and must not call Apply.
type StateObserver func(domain.Snapshot)

// StateReducer is the only writer of detections, performance metrics and
// session status. Every change goes through Apply.
type StateReducer struct {
	// applyMu serializes Apply together with observer notification so
	// observers see snapshots in apply order.
	applyMu sync.Mutex
	mu      sync.RWMutex

	connection   domain.ConnectionState
	detections   []domain.Detection
	metrics      domain.PerformanceMetrics
	session      domain.SessionStatus
	config       domain.DetectionConfig
	lastSeq      uint64
	lastResultAt time.Time
	lastError    string
	connectedAt  time.Time

	// remoteLast is the latest backend session_update; remoteBase is its value
	// at the last local reset. Remote counters are merged relative to the base.
	remoteLast domain.SessionStatus
	remoteBase domain.SessionStatus

	observers      map[int]StateObserver
	nextObserverID int

	clock  utils.Clock
	logger *zap.SugaredLogger
}

func NewStateReducer(cfg domain.DetectionConfig, logger *zap.SugaredLogger) *StateReducer {
	return &StateReducer{
		detections: []domain.Detection{},
		config:     cfg.Clone(),
		observers:  make(map[int]StateObserver),
		clock:      utils.Now,
		logger:     logger,
	}
}

// SetClock replaces the wall clock used for session duration.
func (r *StateReducer) SetClock(clock utils.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

// Subscribe registers an observer and returns a function that removes it.
func (r *StateReducer) Subscribe(fn StateObserver) func() {
	r.mu.Lock()
	id := r.nextObserverID
	r.nextObserverID++
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Apply folds one event into state. It returns false when the event was
// discarded (stale results, unknown messages, ticks while disconnected).
func (r *StateReducer) Apply(ev domain.Event) bool {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	now := r.clock()
	applied := r.applyLocked(ev, now)
	if !applied {
		r.mu.Unlock()
		return false
	}
	r.refreshDurationLocked(now)
	snap := r.snapshotLocked()
	observers := make([]StateObserver, 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	return true
}

func (r *StateReducer) applyLocked(ev domain.Event, now time.Time) bool {
	switch e := ev.(type) {
	case domain.DetectionResult:
		if e.Sequence <= r.lastSeq {
			r.logger.Debugw("discarding stale detection result",
				"sequence", e.Sequence,
				"last_sequence", r.lastSeq,
			)
			return false
		}
		r.lastSeq = e.Sequence

		filtered := make([]domain.Detection, 0, len(e.Detections))
		for _, d := range e.Detections {
			if r.config.Allows(d) {
				filtered = append(filtered, d)
			}
		}
		r.detections = filtered
		r.metrics.InferenceTime = e.InferenceTime
		r.metrics.FPS = e.FPS
		r.session.TotalDetections += uint64(len(filtered))
		r.lastResultAt = now

	case domain.SessionUpdate:
		r.remoteLast = domain.SessionStatus{TotalDetections: e.TotalDetections, CapturedImages: e.CapturedImages}
		if total := sinceBase(e.TotalDetections, &r.remoteBase.TotalDetections); total > r.session.TotalDetections {
			r.session.TotalDetections = total
		}
		if captured := sinceBase(e.CapturedImages, &r.remoteBase.CapturedImages); captured > r.session.CapturedImages {
			r.session.CapturedImages = captured
		}

	case domain.CaptureAck:
		r.session.CapturedImages++

	case domain.BackendError:
		r.lastError = e.Reason

	case domain.DetectionsCleared:
		r.detections = []domain.Detection{}

	case domain.ConfigApplied:
		r.config = e.Config.Clone()

	case domain.SessionReset:
		r.session = domain.SessionStatus{}
		r.remoteBase = r.remoteLast
		r.detections = []domain.Detection{}
		r.lastError = ""

	case domain.ConnectionChanged:
		at := e.At
		if at.IsZero() {
			at = now
		}
		if e.State == domain.StateConnected {
			if r.connection != domain.StateConnected {
				r.connectedAt = at
				r.metrics.SessionDuration = 0
			}
		} else if !r.connectedAt.IsZero() {
			r.refreshDurationLocked(at)
			r.connectedAt = time.Time{}
		}
		r.connection = e.State

	case domain.Tick:
		return !r.connectedAt.IsZero()

	default:
		return false
	}
	return true
}

// sinceBase returns remote minus *base. A remote value below the base means
// the backend started counting again, so the base is dropped.
func sinceBase(remote uint64, base *uint64) uint64 {
	if remote < *base {
		*base = 0
	}
	return remote - *base
}

func (r *StateReducer) refreshDurationLocked(now time.Time) {
	if r.connectedAt.IsZero() {
		return
	}
	if d := now.Sub(r.connectedAt).Seconds(); d > 0 {
		r.metrics.SessionDuration = d
	}
}

// Snapshot returns a copy of the current state.
func (r *StateReducer) Snapshot() domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *StateReducer) snapshotLocked() domain.Snapshot {
	detections := make([]domain.Detection, len(r.detections))
	copy(detections, r.detections)

	return domain.Snapshot{
		Connection:   r.connection,
		Detections:   detections,
		Metrics:      r.metrics,
		Session:      r.session,
		Config:       r.config.Clone(),
		LastSequence: r.lastSeq,
		LastResultAt: r.lastResultAt,
		LastError:    r.lastError,
	}
}

// Config returns the locally applied detection config.
func (r *StateReducer) Config() domain.DetectionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Clone()
}

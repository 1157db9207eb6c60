package services

import (
	"sync"
	"testing"
	"time"

	"aivision/internal/core/domain"
	"aivision/internal/infrastructure/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testFrame = domain.Frame{Data: []byte{0xff, 0xd8, 0xff, 0xe0}}

type throttlerFixture struct {
	conn  *fakeConnection
	stats *recordingStats
	th    *FrameThrottler
	now   time.Time
}

func newThrottlerFixture(t *testing.T, cfg ThrottlerConfig) *throttlerFixture {
	f := &throttlerFixture{
		conn:  newFakeConnection(),
		stats: newRecordingStats(),
		now:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.th = NewFrameThrottler(f.conn, codec.New(codec.DefaultOptions()), f.stats, cfg, zaptest.NewLogger(t).Sugar())
	f.th.SetClock(func() time.Time { return f.now })
	return f
}

func TestFrameThrottler_DropsWhileDisconnected(t *testing.T) {
	f := newThrottlerFixture(t, DefaultThrottlerConfig())

	assert.Equal(t, FrameDroppedDisconnected, f.th.Submit(testFrame))
	assert.Empty(t, f.conn.sentFrames())
	assert.Equal(t, 1, f.stats.dropped["disconnected"])
}

func TestFrameThrottler_AtMostOneInFlight(t *testing.T) {
	f := newThrottlerFixture(t, ThrottlerConfig{ResultTimeout: 2 * time.Second})
	require.NoError(t, f.conn.Connect("ws://backend"))

	assert.Equal(t, FrameSent, f.th.Submit(testFrame))
	seq, inFlight := f.th.InFlight()
	require.True(t, inFlight)

	f.now = f.now.Add(500 * time.Millisecond)
	assert.Equal(t, FrameDroppedInFlight, f.th.Submit(testFrame))
	assert.Equal(t, FrameDroppedInFlight, f.th.Submit(testFrame))
	assert.Len(t, f.conn.sentFrames(), 1)

	rtt, ok := f.th.Acknowledge(seq)
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, rtt)

	assert.Equal(t, FrameSent, f.th.Submit(testFrame))
	assert.Len(t, f.conn.sentFrames(), 2)
	assert.Equal(t, 2, f.stats.sent)
	assert.Equal(t, 2, f.stats.dropped["in_flight"])
}

func TestFrameThrottler_ResultTimeoutReleasesSlot(t *testing.T) {
	f := newThrottlerFixture(t, ThrottlerConfig{ResultTimeout: time.Second})
	require.NoError(t, f.conn.Connect("ws://backend"))

	require.Equal(t, FrameSent, f.th.Submit(testFrame))
	firstSeq, _ := f.th.InFlight()

	f.now = f.now.Add(999 * time.Millisecond)
	assert.Equal(t, FrameDroppedInFlight, f.th.Submit(testFrame))

	f.now = f.now.Add(time.Millisecond)
	assert.Equal(t, FrameSent, f.th.Submit(testFrame))
	assert.Equal(t, uint64(1), f.th.Timeouts())

	// A late result for the timed-out frame must not release the new one.
	_, ok := f.th.Acknowledge(firstSeq)
	assert.False(t, ok)
	_, inFlight := f.th.InFlight()
	assert.True(t, inFlight)
}

func TestFrameThrottler_MaxSendRate(t *testing.T) {
	f := newThrottlerFixture(t, ThrottlerConfig{ResultTimeout: time.Second, MaxSendRate: 2})
	require.NoError(t, f.conn.Connect("ws://backend"))

	require.Equal(t, FrameSent, f.th.Submit(testFrame))
	seq, _ := f.th.InFlight()
	_, ok := f.th.Acknowledge(seq)
	require.True(t, ok)

	f.now = f.now.Add(100 * time.Millisecond)
	assert.Equal(t, FrameDroppedRateLimited, f.th.Submit(testFrame))

	f.now = f.now.Add(400 * time.Millisecond)
	assert.Equal(t, FrameSent, f.th.Submit(testFrame))
}

func TestFrameThrottler_QueueFullRollsBack(t *testing.T) {
	f := newThrottlerFixture(t, DefaultThrottlerConfig())
	require.NoError(t, f.conn.Connect("ws://backend"))
	f.conn.frameErr = domain.ErrSendQueueFull

	assert.Equal(t, FrameDroppedQueueFull, f.th.Submit(testFrame))
	_, inFlight := f.th.InFlight()
	assert.False(t, inFlight)

	f.conn.frameErr = nil
	assert.Equal(t, FrameSent, f.th.Submit(testFrame))
}

func TestFrameThrottler_EncodeErrorDropsFrame(t *testing.T) {
	f := newThrottlerFixture(t, DefaultThrottlerConfig())
	require.NoError(t, f.conn.Connect("ws://backend"))

	assert.Equal(t, FrameDroppedEncodeError, f.th.Submit(domain.Frame{}))
	assert.Empty(t, f.conn.sentFrames())
}

func TestFrameThrottler_ResetOnDisconnect(t *testing.T) {
	f := newThrottlerFixture(t, DefaultThrottlerConfig())
	require.NoError(t, f.conn.Connect("ws://backend"))
	require.Equal(t, FrameSent, f.th.Submit(testFrame))

	f.th.Reset()
	_, inFlight := f.th.InFlight()
	assert.False(t, inFlight)
	assert.Equal(t, FrameSent, f.th.Submit(testFrame))
}

func TestFrameThrottler_ConcurrentSubmitSendsOne(t *testing.T) {
	f := newThrottlerFixture(t, ThrottlerConfig{ResultTimeout: time.Hour})
	require.NoError(t, f.conn.Connect("ws://backend"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.th.Submit(testFrame)
		}()
	}
	wg.Wait()

	assert.Len(t, f.conn.sentFrames(), 1)
}

func TestFrameThrottler_WithMockTransport(t *testing.T) {
	transport := new(MockTransport)
	transport.On("IsConnected").Return(false)

	th := NewFrameThrottler(transport, codec.New(codec.DefaultOptions()), nil, DefaultThrottlerConfig(), zaptest.NewLogger(t).Sugar())
	assert.Equal(t, FrameDroppedDisconnected, th.Submit(testFrame))

	transport.AssertNotCalled(t, "SendFrame", mock.Anything, mock.Anything)
}

func TestSubmitOutcome_String(t *testing.T) {
	assert.Equal(t, "sent", FrameSent.String())
	assert.Equal(t, "rate_limited", FrameDroppedRateLimited.String())
	assert.Equal(t, "unknown", SubmitOutcome(99).String())
}

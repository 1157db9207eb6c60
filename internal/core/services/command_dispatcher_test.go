package services

import (
	"context"
	"errors"
	"testing"

	"aivision/internal/core/domain"
	"aivision/internal/infrastructure/codec"
	apperrors "aivision/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCommandDispatcher_RejectsWhenDisconnected(t *testing.T) {
	transport := new(MockTransport)
	transport.On("IsConnected").Return(false)
	stats := newRecordingStats()

	d := NewCommandDispatcher(transport, codec.New(codec.DefaultOptions()), stats, "client_test", zaptest.NewLogger(t).Sugar())

	for _, cmd := range []domain.Command{
		domain.ClearDetectionsCommand{},
		domain.CaptureImageCommand{Image: []byte("img")},
		domain.ConfigUpdateCommand{Config: domain.DefaultDetectionConfig()},
	} {
		err := d.Send(context.Background(), cmd)
		require.Error(t, err, cmd.Name())
		assert.True(t, errors.Is(err, domain.ErrNotConnected))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCommandRejected))
		assert.Equal(t, 1, stats.rejected[cmd.Name()])
	}

	transport.AssertNotCalled(t, "SendCommand", mock.Anything, mock.Anything)
	transport.AssertNotCalled(t, "SendFrame", mock.Anything, mock.Anything)
}

func TestCommandDispatcher_SendsWhenConnected(t *testing.T) {
	transport := new(MockTransport)
	transport.On("IsConnected").Return(true)
	transport.On("SendCommand", websocket.TextMessage, mock.MatchedBy(func(p []byte) bool {
		return string(p) == `{"type":"clear_detections"}`
	})).Return(nil).Once()

	d := NewCommandDispatcher(transport, codec.New(codec.DefaultOptions()), nil, "client_test", zaptest.NewLogger(t).Sugar())

	require.NoError(t, d.Send(context.Background(), domain.ClearDetectionsCommand{}))
	transport.AssertExpectations(t)
}

func TestCommandDispatcher_TransportFailure(t *testing.T) {
	transport := new(MockTransport)
	transport.On("IsConnected").Return(true)
	transport.On("SendCommand", mock.Anything, mock.Anything).Return(domain.ErrSendQueueFull)

	d := NewCommandDispatcher(transport, codec.New(codec.DefaultOptions()), nil, "client_test", zaptest.NewLogger(t).Sugar())

	err := d.Send(context.Background(), domain.CaptureImageCommand{Image: []byte("img")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSendQueueFull))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCommandRejected))
}

func TestCommandDispatcher_EncodeFailureWritesNothing(t *testing.T) {
	transport := new(MockTransport)
	transport.On("IsConnected").Return(true)

	d := NewCommandDispatcher(transport, codec.New(codec.DefaultOptions()), nil, "client_test", zaptest.NewLogger(t).Sugar())

	err := d.Send(context.Background(), domain.CaptureImageCommand{})
	require.Error(t, err)
	transport.AssertNotCalled(t, "SendCommand", mock.Anything, mock.Anything)
}

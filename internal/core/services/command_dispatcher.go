package services

import (
	"context"

	"aivision/internal/core/domain"
	"aivision/internal/core/ports"
	apperrors "aivision/pkg/errors"
	"aivision/pkg/tracing"

	"go.uber.org/zap"
)

// CommandDispatcher sends one-shot commands on the command lane of the
// transport. Commands bypass the frame throttler and are never queued or
// retried while disconnected.
type CommandDispatcher struct {
	transport ports.Transport
	codec     ports.MessageCodec
	stats     ports.StatsRecorder
	clientID  domain.ClientID
	logger    *zap.SugaredLogger
}

func NewCommandDispatcher(transport ports.Transport, codec ports.MessageCodec, stats ports.StatsRecorder, clientID domain.ClientID, logger *zap.SugaredLogger) *CommandDispatcher {
	if stats == nil {
		stats = nopStats{}
	}
	return &CommandDispatcher{
		transport: transport,
		codec:     codec,
		stats:     stats,
		clientID:  clientID,
		logger:    logger,
	}
}

// Send hands cmd to the transport. When disconnected it fails with a
// COMMAND_REJECTED error wrapping domain.ErrNotConnected and nothing is written.
func (d *CommandDispatcher) Send(ctx context.Context, cmd domain.Command) error {
	ctx, span := tracing.TraceCommand(ctx, cmd.Name(), string(d.clientID))
	defer span.End()

	err := d.send(cmd)
	d.stats.RecordCommand(cmd.Name(), err == nil)
	if err != nil {
		tracing.RecordError(ctx, err)
		d.logger.Infow("command rejected", "command", cmd.Name(), "error", err)
		return err
	}

	d.logger.Debugw("command sent", "command", cmd.Name())
	return nil
}

func (d *CommandDispatcher) send(cmd domain.Command) error {
	if !d.transport.IsConnected() {
		return apperrors.NewCommandRejectedError(domain.ErrNotConnected, cmd.Name())
	}

	messageType, payload, err := d.codec.EncodeCommand(cmd)
	if err != nil {
		return apperrors.NewCommandRejectedError(err, cmd.Name())
	}

	if err := d.transport.SendCommand(messageType, payload); err != nil {
		return apperrors.NewCommandRejectedError(err, cmd.Name())
	}
	return nil
}

package domain

import "errors"

var (
	ErrNotConnected     = errors.New("not connected")
	ErrSendQueueFull    = errors.New("send queue full")
	ErrStaleResult      = errors.New("stale detection result")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrMalformedMessage = errors.New("malformed message")
	ErrInvalidConfig    = errors.New("invalid detection config")
	ErrSourceExhausted  = errors.New("frame source exhausted")
)

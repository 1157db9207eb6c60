package domain

import "time"

// Frame is an encoded image (JPEG) produced by a capture source. It is not
// retained after the send call returns.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

//go:build !gocv

package capture

import (
	"errors"

	"aivision/internal/core/ports"
)

var ErrWebcamUnavailable = errors.New("webcam capture requires building with -tags gocv")

func NewWebcamSource(deviceID, quality int) (ports.FrameSource, error) {
	return nil, ErrWebcamUnavailable
}

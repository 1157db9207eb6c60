package capture

import (
	"fmt"

	"aivision/internal/core/ports"
	"aivision/pkg/config"
)

// New builds the frame source selected in cfg. It returns nil, nil for
// source "none".
func New(cfg *config.Config) (ports.FrameSource, error) {
	switch cfg.Capture.Source {
	case "none", "":
		return nil, nil
	case "directory":
		src, err := NewDirectorySource(cfg.Capture.Directory, cfg.Capture.Loop)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "webcam":
		src, err := NewWebcamSource(cfg.Capture.DeviceID, cfg.Capture.JPEGQuality)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Capture.Source)
	}
}

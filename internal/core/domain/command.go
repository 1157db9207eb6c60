package domain

// Command is a one-shot message sent outside the frame stream.
type Command interface {
	Name() string
}

const (
	CommandClearDetections = "clear_detections"
	CommandCaptureImage    = "capture_image"
	CommandConfigUpdate    = "config_update"
)

type ClearDetectionsCommand struct{}

type CaptureImageCommand struct {
	Image []byte
}

type ConfigUpdateCommand struct {
	Config DetectionConfig
}

func (ClearDetectionsCommand) Name() string { return CommandClearDetections }
func (CaptureImageCommand) Name() string    { return CommandCaptureImage }
func (ConfigUpdateCommand) Name() string    { return CommandConfigUpdate }

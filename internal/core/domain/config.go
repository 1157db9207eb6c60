package domain

// DetectionConfig is owned by the page and pushed to the backend. Local
// application is optimistic and never rolled back.
type DetectionConfig struct {
	ConfidenceThreshold float64      `json:"confidence_threshold" yaml:"confidence_threshold"`
	IoUThreshold        float64      `json:"iou_threshold" yaml:"iou_threshold"`
	EnabledClasses      []WasteClass `json:"enabled_classes" yaml:"enabled_classes"`
}

func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		ConfidenceThreshold: 0.5,
		IoUThreshold:        0.45,
		EnabledClasses:      append([]WasteClass(nil), KnownClasses...),
	}
}

// Allows reports whether a detection passes the client-side filter.
// The IoU threshold is applied by the backend only.
func (c DetectionConfig) Allows(d Detection) bool {
	if d.Confidence < c.ConfidenceThreshold {
		return false
	}
	for _, class := range c.EnabledClasses {
		if class == d.Label {
			return true
		}
	}
	return false
}

func (c DetectionConfig) Clone() DetectionConfig {
	c.EnabledClasses = append([]WasteClass(nil), c.EnabledClasses...)
	return c
}

package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"aivision/internal/core/domain"
)

var (
	// ClassIDRegex validates class identifier format
	ClassIDRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

	// ExportFormats lists the formats the export endpoint accepts
	ExportFormats = map[string]bool{
		"json":   true,
		"csv":    true,
		"images": true,
	}
)

// ValidateBackendURL validates a websocket backend address
func ValidateBackendURL(urlStr string) error {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return fmt.Errorf("backend URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme %q (must be ws or wss)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateHTTPURL validates a REST base URL
func ValidateHTTPURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateThreshold validates a [0,1] threshold
func ValidateThreshold(value float64, fieldName string) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", fieldName, value)
	}
	return nil
}

// ValidateClasses checks that every class is well formed, known, and listed once
func ValidateClasses(classes []domain.WasteClass) error {
	seen := make(map[domain.WasteClass]bool, len(classes))
	for _, class := range classes {
		if !ClassIDRegex.MatchString(string(class)) {
			return fmt.Errorf("invalid class identifier %q", class)
		}
		if !class.Known() {
			return fmt.Errorf("unknown class %q", class)
		}
		if seen[class] {
			return fmt.Errorf("duplicate class %q", class)
		}
		seen[class] = true
	}
	return nil
}

// ValidateDetectionConfig validates all fields of a detection config
func ValidateDetectionConfig(cfg domain.DetectionConfig) error {
	if err := ValidateThreshold(cfg.ConfidenceThreshold, "confidence_threshold"); err != nil {
		return err
	}
	if err := ValidateThreshold(cfg.IoUThreshold, "iou_threshold"); err != nil {
		return err
	}
	return ValidateClasses(cfg.EnabledClasses)
}

// ValidateExportFormat validates an export format
func ValidateExportFormat(format string) error {
	if !ExportFormats[format] {
		return fmt.Errorf("invalid export format %q (must be json, csv, or images)", format)
	}
	return nil
}

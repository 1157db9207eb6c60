package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"aivision/internal/core/domain"
	"aivision/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Backend struct {
		Address          string        `yaml:"address"`
		AutoConnect      bool          `yaml:"auto_connect"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		MaxMessageBytes  int64         `yaml:"max_message_bytes"`
		CommandQueueSize int           `yaml:"command_queue_size"`

		Reconnect struct {
			Enabled      bool          `yaml:"enabled"`
			MaxAttempts  int           `yaml:"max_attempts"` // 0 = retry forever
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
			Jitter       bool          `yaml:"jitter"`
		} `yaml:"reconnect"`
	} `yaml:"backend"`

	Stream struct {
		CaptureInterval time.Duration `yaml:"capture_interval"`
		ResultTimeout   time.Duration `yaml:"result_timeout"`
		MaxSendRate     float64       `yaml:"max_send_rate"` // frames per second, 0 = unlimited
		Encoding        string        `yaml:"encoding"`      // json | binary
		ImageDataURL    bool          `yaml:"image_data_url"`
		TickInterval    time.Duration `yaml:"tick_interval"`
	} `yaml:"stream"`

	Detection domain.DetectionConfig `yaml:"detection"`

	Capture struct {
		Source      string `yaml:"source"` // directory | webcam | none
		Directory   string `yaml:"directory"`
		DeviceID    int    `yaml:"device_id"`
		JPEGQuality int    `yaml:"jpeg_quality"`
		Loop        bool   `yaml:"loop"`
	} `yaml:"capture"`

	API struct {
		BaseURL       string        `yaml:"base_url"`
		Timeout       time.Duration `yaml:"timeout"`
		ForwardConfig bool          `yaml:"forward_config"`
	} `yaml:"api"`

	Status struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

		RateLimiting struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limiting"`
	} `yaml:"status"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Backend
	if c.Backend.HandshakeTimeout <= 0 {
		return fmt.Errorf("backend.handshake_timeout must be > 0")
	}
	if c.Backend.WriteTimeout <= 0 {
		return fmt.Errorf("backend.write_timeout must be > 0")
	}
	if c.Backend.PingInterval <= 0 {
		return fmt.Errorf("backend.ping_interval must be > 0")
	}
	if c.Backend.PongTimeout <= c.Backend.PingInterval {
		return fmt.Errorf("backend.pong_timeout must be > backend.ping_interval")
	}
	if c.Backend.MaxMessageBytes < 0 {
		return fmt.Errorf("backend.max_message_bytes must be >= 0")
	}
	if c.Backend.CommandQueueSize <= 0 {
		return fmt.Errorf("backend.command_queue_size must be > 0")
	}
	if c.Backend.AutoConnect && c.Backend.Address == "" {
		return fmt.Errorf("backend.address must not be empty when backend.auto_connect=true")
	}
	if c.Backend.Reconnect.Enabled {
		if c.Backend.Reconnect.MaxAttempts < 0 {
			return fmt.Errorf("backend.reconnect.max_attempts must be >= 0")
		}
		if c.Backend.Reconnect.InitialDelay <= 0 {
			return fmt.Errorf("backend.reconnect.initial_delay must be > 0")
		}
		if c.Backend.Reconnect.MaxDelay < c.Backend.Reconnect.InitialDelay {
			return fmt.Errorf("backend.reconnect.max_delay must be >= initial_delay")
		}
		if c.Backend.Reconnect.Multiplier < 1 {
			return fmt.Errorf("backend.reconnect.multiplier must be >= 1")
		}
	}

	// Stream
	if c.Stream.CaptureInterval <= 0 {
		return fmt.Errorf("stream.capture_interval must be > 0")
	}
	if c.Stream.ResultTimeout <= 0 {
		return fmt.Errorf("stream.result_timeout must be > 0")
	}
	if c.Stream.MaxSendRate < 0 {
		return fmt.Errorf("stream.max_send_rate must be >= 0")
	}
	if c.Stream.Encoding != "json" && c.Stream.Encoding != "binary" {
		return fmt.Errorf("stream.encoding must be json or binary")
	}
	if c.Stream.TickInterval <= 0 {
		return fmt.Errorf("stream.tick_interval must be > 0")
	}

	// Detection
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("detection.confidence_threshold must be within [0,1]")
	}
	if c.Detection.IoUThreshold < 0 || c.Detection.IoUThreshold > 1 {
		return fmt.Errorf("detection.iou_threshold must be within [0,1]")
	}

	// Capture
	switch c.Capture.Source {
	case "none", "webcam":
	case "directory":
		if c.Capture.Directory == "" {
			return fmt.Errorf("capture.directory must not be empty when capture.source=directory")
		}
	default:
		return fmt.Errorf("capture.source must be one of directory, webcam, none")
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality must be within [1,100]")
	}

	// API
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.API.ForwardConfig && c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty when api.forward_config=true")
	}
	if c.API.BaseURL != "" {
		if err := validation.ValidateHTTPURL(c.API.BaseURL); err != nil {
			return fmt.Errorf("api.base_url: %w", err)
		}
	}

	// Status
	if c.Status.Enabled {
		if c.Status.Address == "" {
			return fmt.Errorf("status.address must not be empty when status.enabled=true")
		}
		if c.Status.ShutdownTimeout <= 0 {
			return fmt.Errorf("status.shutdown_timeout must be > 0")
		}
		if c.Status.RateLimiting.Enabled {
			if c.Status.RateLimiting.RequestsPerSecond <= 0 {
				return fmt.Errorf("status.rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
			}
			if c.Status.RateLimiting.Burst <= 0 {
				return fmt.Errorf("status.rate_limiting.burst must be > 0 when rate limiting is enabled")
			}
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0,1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Backend.Address = "ws://localhost:8000"
	cfg.Backend.AutoConnect = true
	cfg.Backend.HandshakeTimeout = 10 * time.Second
	cfg.Backend.WriteTimeout = 5 * time.Second
	cfg.Backend.PingInterval = 15 * time.Second
	cfg.Backend.PongTimeout = 30 * time.Second
	cfg.Backend.MaxMessageBytes = 4 * 1024 * 1024
	cfg.Backend.CommandQueueSize = 16

	cfg.Backend.Reconnect.Enabled = true
	cfg.Backend.Reconnect.MaxAttempts = 0
	cfg.Backend.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Backend.Reconnect.MaxDelay = 30 * time.Second
	cfg.Backend.Reconnect.Multiplier = 2.0
	cfg.Backend.Reconnect.Jitter = true

	cfg.Stream.CaptureInterval = 100 * time.Millisecond
	cfg.Stream.ResultTimeout = 2 * time.Second
	cfg.Stream.MaxSendRate = 0
	cfg.Stream.Encoding = "json"
	cfg.Stream.ImageDataURL = true
	cfg.Stream.TickInterval = time.Second

	cfg.Detection = domain.DefaultDetectionConfig()

	cfg.Capture.Source = "none"
	cfg.Capture.JPEGQuality = 80
	cfg.Capture.Loop = true

	cfg.API.Timeout = 30 * time.Second

	cfg.Status.Enabled = true
	cfg.Status.Address = "127.0.0.1:8090"
	cfg.Status.ReadTimeout = 10 * time.Second
	cfg.Status.WriteTimeout = 10 * time.Second
	cfg.Status.ShutdownTimeout = 5 * time.Second
	cfg.Status.RateLimiting.Enabled = false
	cfg.Status.RateLimiting.RequestsPerSecond = 20
	cfg.Status.RateLimiting.Burst = 40

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 50
	cfg.Logging.MaxBackups = 3

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("AIVISION_BACKEND_ADDRESS"); addr != "" {
		c.Backend.Address = addr
	}
	if base := os.Getenv("AIVISION_API_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}
	if addr := os.Getenv("AIVISION_STATUS_ADDRESS"); addr != "" {
		c.Status.Address = addr
	}
	if level := os.Getenv("AIVISION_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("AIVISION_CAPTURE_DIR"); dir != "" {
		c.Capture.Source = "directory"
		c.Capture.Directory = dir
	}
	if interval := os.Getenv("AIVISION_CAPTURE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Stream.CaptureInterval = d
		}
	}
	if rate := os.Getenv("AIVISION_MAX_SEND_RATE"); rate != "" {
		if v, err := strconv.ParseFloat(rate, 64); err == nil {
			c.Stream.MaxSendRate = v
		}
	}
}

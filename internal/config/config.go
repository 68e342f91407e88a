package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log,omitempty"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Detector DetectorConfig `yaml:"detector"`
	Streams  []StreamConfig `yaml:"streams"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"` // required for the realtime event channel
}

// DatabaseConfig contains persistence configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig contains snapshot storage configuration
type StorageConfig struct {
	ImagesDir     string        `yaml:"images_dir"`
	RetentionDays int           `yaml:"retention_days"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
}

// PipelineConfig contains per-stream processing configuration
type PipelineConfig struct {
	TargetFPS          int           `yaml:"target_fps"`
	FrameSkip          int           `yaml:"frame_skip"`
	MaxFrameWidth      int           `yaml:"max_frame_width"`
	DetectionQueueSize int           `yaml:"detection_queue_size"`
	SaveQueueSize      int           `yaml:"save_queue_size"`
	AlertCooldown      time.Duration `yaml:"alert_cooldown"`
	DisplayFPS         int           `yaml:"display_fps"`
	ReadRetryDelay     time.Duration `yaml:"read_retry_delay"`
}

// DetectorConfig selects and configures the detector capability
type DetectorConfig struct {
	Kind                string        `yaml:"kind"` // "face" (pigo) or "remote"
	CascadePath         string        `yaml:"cascade_path"`
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	EnabledClasses      []string      `yaml:"enabled_classes"`
}

// StreamConfig describes one video source
type StreamConfig struct {
	ID                  int64   `yaml:"id"`
	Name                string  `yaml:"name"`
	URL                 string  `yaml:"url"` // rtsp:// URL or V4L2 device path
	Enabled             bool    `yaml:"enabled"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty"` // overrides detector default
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/facewatch/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 5000
	}

	if c.Database.Path == "" {
		c.Database.Path = filepath.Join("data", "facewatch.db")
	}

	if c.Storage.ImagesDir == "" {
		c.Storage.ImagesDir = filepath.Join("data", "images")
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}
	if c.Storage.SweepInterval == 0 {
		c.Storage.SweepInterval = time.Hour
	}
	if c.Storage.JPEGQuality == 0 {
		c.Storage.JPEGQuality = 85
	}

	if c.Pipeline.TargetFPS == 0 {
		c.Pipeline.TargetFPS = 15
	}
	if c.Pipeline.FrameSkip == 0 {
		c.Pipeline.FrameSkip = 2
	}
	if c.Pipeline.MaxFrameWidth == 0 {
		c.Pipeline.MaxFrameWidth = 640
	}
	if c.Pipeline.DetectionQueueSize == 0 {
		c.Pipeline.DetectionQueueSize = 5
	}
	if c.Pipeline.SaveQueueSize == 0 {
		c.Pipeline.SaveQueueSize = 10
	}
	if c.Pipeline.AlertCooldown == 0 {
		c.Pipeline.AlertCooldown = 30 * time.Second
	}
	if c.Pipeline.DisplayFPS == 0 {
		c.Pipeline.DisplayFPS = 30
	}
	if c.Pipeline.ReadRetryDelay == 0 {
		c.Pipeline.ReadRetryDelay = 100 * time.Millisecond
	}

	if c.Detector.Kind == "" {
		c.Detector.Kind = "face"
	}
	if c.Detector.CascadePath == "" {
		c.Detector.CascadePath = filepath.Join("models", "facefinder")
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 30 * time.Second
	}
	if c.Detector.ConfidenceThreshold == 0 {
		c.Detector.ConfidenceThreshold = 0.8
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Pipeline.FrameSkip < 1 {
		return fmt.Errorf("pipeline.frame_skip must be >= 1, got %d", c.Pipeline.FrameSkip)
	}
	if c.Pipeline.TargetFPS < 1 {
		return fmt.Errorf("pipeline.target_fps must be >= 1, got %d", c.Pipeline.TargetFPS)
	}
	if c.Detector.Kind != "face" && c.Detector.Kind != "remote" {
		return fmt.Errorf("detector.kind must be \"face\" or \"remote\", got %q", c.Detector.Kind)
	}
	if c.Detector.Kind == "remote" && c.Detector.ServiceURL == "" {
		return fmt.Errorf("detector.service_url is required for the remote detector")
	}

	seen := make(map[int64]bool, len(c.Streams))
	for _, s := range c.Streams {
		if s.ID <= 0 {
			return fmt.Errorf("stream %q: id must be a positive integer", s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate stream id %d", s.ID)
		}
		seen[s.ID] = true
		if s.URL == "" {
			return fmt.Errorf("stream %d: url is required", s.ID)
		}
	}

	return nil
}

// Threshold returns the effective confidence threshold for a stream.
func (c *Config) Threshold(s StreamConfig) float64 {
	if s.ConfidenceThreshold > 0 {
		return s.ConfidenceThreshold
	}
	return c.Detector.ConfidenceThreshold
}

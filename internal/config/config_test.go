package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
web:
  enabled: true
streams:
  - id: 1
    name: front
    url: rtsp://cam/stream
    enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Web.Port != 5000 {
		t.Errorf("Expected default port 5000, got %d", cfg.Web.Port)
	}
	if cfg.Pipeline.TargetFPS != 15 {
		t.Errorf("Expected default target FPS 15, got %d", cfg.Pipeline.TargetFPS)
	}
	if cfg.Pipeline.FrameSkip != 2 {
		t.Errorf("Expected default frame skip 2, got %d", cfg.Pipeline.FrameSkip)
	}
	if cfg.Pipeline.AlertCooldown != 30*time.Second {
		t.Errorf("Expected default cooldown 30s, got %v", cfg.Pipeline.AlertCooldown)
	}
	if cfg.Detector.Kind != "face" {
		t.Errorf("Expected default detector face, got %q", cfg.Detector.Kind)
	}
	if cfg.Storage.JPEGQuality != 85 {
		t.Errorf("Expected default JPEG quality 85, got %d", cfg.Storage.JPEGQuality)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Loading a missing file should fail")
	}
}

func TestLoad_InvalidDetectorKind(t *testing.T) {
	path := writeConfig(t, `
detector:
  kind: hologram
`)
	if _, err := Load(path); err == nil {
		t.Error("Unknown detector kind should be rejected")
	}
}

func TestLoad_RemoteDetectorNeedsURL(t *testing.T) {
	path := writeConfig(t, `
detector:
  kind: remote
`)
	if _, err := Load(path); err == nil {
		t.Error("Remote detector without service_url should be rejected")
	}
}

func TestLoad_DuplicateStreamIDs(t *testing.T) {
	path := writeConfig(t, `
streams:
  - id: 1
    name: a
    url: rtsp://a
  - id: 1
    name: b
    url: rtsp://b
`)
	if _, err := Load(path); err == nil {
		t.Error("Duplicate stream IDs should be rejected")
	}
}

func TestLoad_StreamRequiresURL(t *testing.T) {
	path := writeConfig(t, `
streams:
  - id: 1
    name: a
`)
	if _, err := Load(path); err == nil {
		t.Error("A stream without a URL should be rejected")
	}
}

func TestThreshold_PerStreamOverride(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if got := cfg.Threshold(StreamConfig{ID: 1}); got != 0.8 {
		t.Errorf("Expected the detector default 0.8, got %v", got)
	}
	if got := cfg.Threshold(StreamConfig{ID: 1, ConfidenceThreshold: 0.95}); got != 0.95 {
		t.Errorf("Expected the stream override 0.95, got %v", got)
	}
}

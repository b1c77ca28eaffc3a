package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid: %v", err)
	}

	if cfg.Server.MaxMessageSize != 65536 {
		t.Errorf("Expected 64 KiB max message, got %d", cfg.Server.MaxMessageSize)
	}
	if cfg.Server.MaxFramePixels != 4096*4096 {
		t.Errorf("Expected 4096x4096 frame limit, got %d", cfg.Server.MaxFramePixels)
	}
	if cfg.Quality.MinBlurVariance != 100 || cfg.Liveness.BlinkThreshold != 0.3 {
		t.Errorf("Unexpected default thresholds: %+v %+v", cfg.Quality, cfg.Liveness)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad network", func(c *Config) { c.Server.Network = "tcp" }, "network"},
		{"empty socket", func(c *Config) { c.Server.SocketPath = "" }, "socket path"},
		{"zero message size", func(c *Config) { c.Server.MaxMessageSize = 0 }, "max message size"},
		{"zero frame pixels", func(c *Config) { c.Server.MaxFramePixels = 0 }, "max frame pixels"},
		{"coverage inverted", func(c *Config) { c.Quality.MinCoverage = 0.9 }, "coverage"},
		{"tiny history", func(c *Config) { c.Liveness.HistorySize = 1 }, "history size"},
		{"threshold out of range", func(c *Config) { c.Recognition.SimilarityThreshold = 1.5 }, "recognition.similarity threshold"},
		{"brightness inverted", func(c *Config) { c.Quality.MaxBrightness = 10 }, "max brightness"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"storage without path", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.DatabasePath = ""
		}, "database path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error mentioning %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "faceservice.yaml")

	cfg := DefaultConfig()
	cfg.Server.SocketPath = "/tmp/custom.sock"
	cfg.Liveness.HistorySize = 4
	cfg.Quality.MinFaceSize = 112

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Server.SocketPath != "/tmp/custom.sock" {
		t.Errorf("Expected socket path to round-trip, got %s", loaded.Server.SocketPath)
	}
	if loaded.Liveness.HistorySize != 4 {
		t.Errorf("Expected history size 4, got %d", loaded.Liveness.HistorySize)
	}
	if loaded.Quality.MinFaceSize != 112 {
		t.Errorf("Expected min face size 112, got %d", loaded.Quality.MinFaceSize)
	}
	// Untouched values keep their defaults
	if loaded.Recognition.EmbeddingSize != 512 {
		t.Errorf("Expected default embedding size, got %d", loaded.Recognition.EmbeddingSize)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got %v", err)
	}
	if cfg.Server.Network != "unixpacket" {
		t.Errorf("Expected default network, got %s", cfg.Server.Network)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed yaml")
	}
}

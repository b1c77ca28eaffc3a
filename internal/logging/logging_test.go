package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrCodeEU/faceservice/internal/config"
	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.LoggingConfig
		verbose  bool
		expected logrus.Level
		wantErr  bool
	}{
		{"info", config.LoggingConfig{Level: "info"}, false, logrus.InfoLevel, false},
		{"verbose overrides", config.LoggingConfig{Level: "warn"}, true, logrus.DebugLevel, false},
		{"bad level", config.LoggingConfig{Level: "loud"}, false, 0, true},
		{"bad format", config.LoggingConfig{Level: "info", Format: "xml"}, false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, closer, err := New(tt.cfg, tt.verbose)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer closer.Close()

			if logger.GetLevel() != tt.expected {
				t.Errorf("Expected level %v, got %v", tt.expected, logger.GetLevel())
			}
		})
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "faceservice.log")

	logger, closer, err := New(config.LoggingConfig{Level: "info", Format: "json", File: path}, false)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.WithField("session_id", "abc").Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("Failed to close log file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"session_id":"abc"`) || !strings.Contains(line, `"msg":"hello"`) {
		t.Errorf("Unexpected log line: %s", line)
	}
}

// Package config provides configuration management for the face service
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// IPC server settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Inference service settings
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference"`

	// Recognition settings
	Recognition RecognitionConfig `mapstructure:"recognition" yaml:"recognition"`

	// Enrollment quality settings
	Quality QualityConfig `mapstructure:"quality" yaml:"quality"`

	// Liveness settings
	Liveness LivenessConfig `mapstructure:"liveness" yaml:"liveness"`

	// Storage settings
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds IPC endpoint configuration
type ServerConfig struct {
	Network        string `mapstructure:"network" yaml:"network" validate:"oneof=unixpacket unix"`   // "unixpacket" (message sockets) or "unix" (length-prefixed stream)
	SocketPath     string `mapstructure:"socket_path" yaml:"socket_path" validate:"required"`        // Named endpoint path
	MaxMessageSize int    `mapstructure:"max_message_size" yaml:"max_message_size" validate:"gt=0"`  // Max request size in bytes
	RetryBackoffMs int    `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms" validate:"gte=0"` // Wait after a transport error
	GracePeriodMs  int    `mapstructure:"grace_period_ms" yaml:"grace_period_ms" validate:"gte=0"`   // In-flight connection grace on stop
	StopTimeoutMs  int    `mapstructure:"stop_timeout_ms" yaml:"stop_timeout_ms" validate:"gt=0"`    // Max wait for the serve loop on stop
	MaxFramePixels int    `mapstructure:"max_frame_pixels" yaml:"max_frame_pixels" validate:"gt=0"`  // Max width*height of a decoded frame
}

// InferenceConfig holds inference service configuration
type InferenceConfig struct {
	Address string `mapstructure:"address" yaml:"address" validate:"required"` // gRPC service address (e.g., localhost:50051)
	Timeout int    `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`    // Request timeout in seconds, 0 = none
}

// RecognitionConfig holds face recognition configuration
type RecognitionConfig struct {
	EmbeddingSize       int     `mapstructure:"embedding_size" yaml:"embedding_size" validate:"gt=0"`                     // Embedding vector size
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold" validate:"gte=-1,lte=1"` // Default cosine similarity threshold
}

// QualityConfig holds the enrollment frame acceptance criteria
type QualityConfig struct {
	MinBlurVariance float64 `mapstructure:"min_blur_variance" yaml:"min_blur_variance" validate:"gt=0"`             // Laplacian variance floor
	MinFaceSize     int     `mapstructure:"min_face_size" yaml:"min_face_size" validate:"gt=0"`                     // Min face width/height in pixels
	MinCoverage     float64 `mapstructure:"min_coverage" yaml:"min_coverage" validate:"gte=0,lte=1"`                // Min face area / frame area
	MaxCoverage     float64 `mapstructure:"max_coverage" yaml:"max_coverage" validate:"gtefield=MinCoverage,lte=1"` // Max face area / frame area
	IdealCoverage   float64 `mapstructure:"ideal_coverage" yaml:"ideal_coverage" validate:"gte=0,lte=1"`            // Coverage scoring midpoint
	CoverageSpread  float64 `mapstructure:"coverage_spread" yaml:"coverage_spread" validate:"gt=0"`                 // Distance from ideal that scores 0
	MinBrightness   float64 `mapstructure:"min_brightness" yaml:"min_brightness" validate:"gte=0"`                  // Mean gray floor
	MaxBrightness   float64 `mapstructure:"max_brightness" yaml:"max_brightness" validate:"gtefield=MinBrightness"` // Mean gray ceiling
	MinUniformity   float64 `mapstructure:"min_uniformity" yaml:"min_uniformity" validate:"gte=0,lte=1"`            // Uniformity must exceed this
}

// LivenessConfig holds liveness and anti-spoofing configuration
type LivenessConfig struct {
	BlinkThreshold      float64 `mapstructure:"blink_threshold" yaml:"blink_threshold" validate:"gt=0"`            // EAR below this counts as closed
	HistorySize         int     `mapstructure:"history_size" yaml:"history_size" validate:"min=2"`                 // Samples kept per history
	MovementThreshold   float64 `mapstructure:"movement_threshold" yaml:"movement_threshold" validate:"gte=0"`     // Degrees of eye-line rotation
	TextureThreshold    float64 `mapstructure:"texture_threshold" yaml:"texture_threshold" validate:"gte=0"`       // Laplacian variance floor
	SaturationThreshold float64 `mapstructure:"saturation_threshold" yaml:"saturation_threshold" validate:"gte=0"` // Mean HSV saturation floor
}

// StorageConfig holds data storage configuration
type StorageConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`                                                 // Persist enrollment captures
	DatabasePath string `mapstructure:"database_path" yaml:"database_path" validate:"required_if=Enabled true"` // SQLite database path
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"` // Log level: debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`                           // "text" or "json"
	File   string `mapstructure:"file" yaml:"file"`                                                                    // Log file path (empty = stderr)
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Network:        "unixpacket",
			SocketPath:     "/run/faceservice/faceservice.sock",
			MaxMessageSize: 64 * 1024,
			RetryBackoffMs: 1000,
			GracePeriodMs:  2000,
			StopTimeoutMs:  5000,
			MaxFramePixels: 4096 * 4096,
		},
		Inference: InferenceConfig{
			Address: "localhost:50051",
			Timeout: 10,
		},
		Recognition: RecognitionConfig{
			EmbeddingSize:       512,
			SimilarityThreshold: 0.6,
		},
		Quality: QualityConfig{
			MinBlurVariance: 100.0,
			MinFaceSize:     224,
			MinCoverage:     0.5,
			MaxCoverage:     0.8,
			IdealCoverage:   0.65,
			CoverageSpread:  0.15,
			MinBrightness:   50,
			MaxBrightness:   200,
			MinUniformity:   0.5,
		},
		Liveness: LivenessConfig{
			BlinkThreshold:      0.3,
			HistorySize:         10,
			MovementThreshold:   5.0,
			TextureThreshold:    50,
			SaturationThreshold: 30,
		},
		Storage: StorageConfig{
			Enabled:      false,
			DatabasePath: "/var/lib/faceservice/faceservice.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search for config in standard locations
		v.SetConfigName("faceservice")
		v.AddConfigPath("/etc/faceservice/")
		v.AddConfigPath("$HOME/.faceservice")
		v.AddConfigPath(".")
	}

	// Environment variable prefix
	v.SetEnvPrefix("FACESERVICE")
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is OK, use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}

	return nil
}

// YAML renders the configuration
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("error encoding config: %w", err)
	}
	return data, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

var validate = newValidator()

// newValidator reports fields by their yaml names, e.g. "server.socket_path"
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func fieldError(fe validator.FieldError) error {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	name := strings.ReplaceAll(ns, "_", " ")

	if fe.Param() != "" {
		return fmt.Errorf("invalid %s: must satisfy %s=%s (got %v)", name, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("invalid %s: must satisfy %s (got %v)", name, fe.Tag(), fe.Value())
}

// RetryBackoff returns the accept retry backoff
func (s ServerConfig) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffMs) * time.Millisecond
}

// GracePeriod returns the in-flight grace period on stop
func (s ServerConfig) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodMs) * time.Millisecond
}

// StopTimeout returns the bounded wait for the serve loop on stop
func (s ServerConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutMs) * time.Millisecond
}

// RequestTimeout returns the inference call timeout
func (i InferenceConfig) RequestTimeout() time.Duration {
	return time.Duration(i.Timeout) * time.Second
}

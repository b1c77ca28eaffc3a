// Package daemon provides the IPC server and the background daemon for the face service
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrCodeEU/faceservice/internal/config"
	"github.com/MrCodeEU/faceservice/internal/dispatch"
	"github.com/MrCodeEU/faceservice/internal/embedding"
	"github.com/MrCodeEU/faceservice/pkg/models"
	"github.com/sirupsen/logrus"
)

// Run connects to the inference service, opens the enrollment store when
// enabled and serves clients until ctx is cancelled
func Run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, version string) error {
	logger.Info("Starting face service daemon...")

	client, err := models.NewInferenceClient(cfg.Inference.Address, cfg.Inference.RequestTimeout(), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to inference service: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Errorf("Failed to close inference client: %v", err)
		}
	}()

	var store dispatch.EnrollmentStore
	if cfg.Storage.Enabled {
		s, err := embedding.NewStore(cfg.Storage.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open enrollment store: %w", err)
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Errorf("Failed to close store: %v", err)
			}
		}()
		store = s
		logger.Infof("Enrollment storage at %s", cfg.Storage.DatabasePath)
	}

	dispatcher := dispatch.New(cfg, client, client, store, logger)
	dispatcher.SetVersion(version)

	return Serve(ctx, cfg.Server, dispatcher, logger)
}

// Serve runs the IPC server for dispatcher until ctx is cancelled
func Serve(ctx context.Context, cfg config.ServerConfig, dispatcher *dispatch.Dispatcher, logger *logrus.Logger) error {
	server := NewServer(cfg, func() Session { return dispatcher.NewSession() }, logger)
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Daemon shutting down...")

	return server.Stop()
}

// SetupSignalHandling returns a context cancelled on SIGINT or SIGTERM.
// SIGHUP reloads the configuration file and applies the new log level.
func SetupSignalHandling(logger *logrus.Logger, configPath string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGINT, syscall.SIGTERM:
					logger.Info("Received shutdown signal")
					cancel()
				case syscall.SIGHUP:
					logger.Info("Received reload signal (SIGHUP)")
					reloadLogLevel(logger, configPath)
				}
			}
		}
	}()

	return ctx, cancel
}

// reloadLogLevel re-reads the configuration. Only the log level can change
// at runtime; everything else needs a restart.
func reloadLogLevel(logger *logrus.Logger, configPath string) {
	newCfg, err := config.Load(configPath)
	if err != nil {
		logger.Errorf("Failed to reload config: %v", err)
		return
	}
	if err := newCfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration on reload: %v", err)
		return
	}

	level, err := logrus.ParseLevel(newCfg.Logging.Level)
	if err != nil {
		logger.Errorf("Invalid log level on reload: %v", err)
		return
	}
	logger.SetLevel(level)
	logger.Infof("Configuration reloaded, log level %s", level)
}

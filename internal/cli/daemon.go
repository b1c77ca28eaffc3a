package cli

import (
	"github.com/MrCodeEU/faceservice/internal/daemon"
	"github.com/MrCodeEU/faceservice/internal/logging"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the face service and accept clients on the IPC socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	logger.Infof("faceservice %s", Version)
	logger.Debugf("Configuration: socket=%s network=%s inference=%s storage=%t",
		cfg.Server.SocketPath, cfg.Server.Network, cfg.Inference.Address, cfg.Storage.Enabled)

	ctx, cancel := daemon.SetupSignalHandling(logger, configPath)
	defer cancel()

	if err := daemon.Run(ctx, cfg, logger, Version); err != nil {
		logger.Errorf("Daemon error: %v", err)
		return err
	}

	logger.Info("Daemon stopped")
	return nil
}

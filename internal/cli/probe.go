package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrCodeEU/faceservice/internal/daemon"
	"github.com/MrCodeEU/faceservice/internal/protocol"
	"github.com/spf13/cobra"
)

var probeOpts struct {
	imagePath string
	params    []string
	timeout   time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe <command>",
	Short: "Send one command to a running daemon and print the response",
	Long: `Send one command to a running daemon and print the JSON response.

Examples:
  faceservice probe ping
  faceservice probe detect --image face.jpg
  faceservice probe enroll_capture --image face.jpg --param subject='"alice"'
  faceservice probe compare --image face.jpg --param identify=true
  faceservice probe check_liveness --image face.jpg --param method='"both"'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(args[0])
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeOpts.imagePath, "image", "i", "", "Image file sent as frame_data")
	probeCmd.Flags().StringArrayVarP(&probeOpts.params, "param", "p", nil, "Parameter as key=value; value is JSON, or a plain string")
	probeCmd.Flags().DurationVar(&probeOpts.timeout, "timeout", 30*time.Second, "Response timeout")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(command string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req := &protocol.Request{Command: command}

	if probeOpts.imagePath != "" {
		data, err := os.ReadFile(probeOpts.imagePath)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		req.FrameData = base64.StdEncoding.EncodeToString(data)
	}

	if len(probeOpts.params) > 0 {
		req.Parameters, err = parseParams(probeOpts.params)
		if err != nil {
			return err
		}
	}

	client, err := daemon.Dial(cfg.Server.Network, cfg.Server.SocketPath, probeOpts.timeout)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	fmt.Println(string(out))

	if !resp.Success {
		return fmt.Errorf("%s failed: %s", command, resp.Error)
	}
	return nil
}

// parseParams turns key=value pairs into request parameters. Values that
// are not valid JSON are sent as strings.
func parseParams(pairs []string) (protocol.Params, error) {
	params := make(protocol.Params, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}

		raw := json.RawMessage(value)
		if !json.Valid(raw) {
			quoted, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("invalid parameter %q: %w", pair, err)
			}
			raw = quoted
		}
		params[key] = raw
	}
	return params, nil
}

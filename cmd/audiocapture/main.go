package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/audiocapture/internal/config"
	"github.com/breeze-rmm/audiocapture/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("cli")

var rootCmd = &cobra.Command{
	Use:   "audiocapture",
	Short: "Per-process audio capture",
	Long: `audiocapture streams the audio rendered by one process as raw PCM
(signed 16-bit little-endian, 48000 Hz, stereo) on stdout. When per-process
loopback is unavailable it falls back to capturing the whole default output
device. Diagnostics go to stderr or the configured log file.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "audiocapture v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is audiocapture.yaml in the config directory)")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration and points logging at the
// configured destination. The returned closer flushes the log file.
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, nil, fmt.Errorf("invalid config: %w", result.Fatals[0])
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		w, err := logging.OpenRotating(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			return nil, nil, err
		}
		out, closer = w, w
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	return cfg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

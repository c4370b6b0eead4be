package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/config"
	"github.com/ppiankov/rtcwatch/internal/observability"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "rtcwatch",
	Short: "Observe how scripts use WebRTC and other fingerprinting APIs",
	Long: "Runs untrusted scripts in an embedded JavaScript runtime with selected API members\n" +
		"intercepted. Every access is counted, attributed to the calling script URL and\n" +
		"reported until a per-member threshold, after which the original member is restored.\n" +
		"Script behavior is never altered.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config YAML (default: ~/.rtcwatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable diagnostic logging to stderr")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	return observability.NewLogger(cfg.Logger())
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	rtcmcp "github.com/ppiankov/rtcwatch/internal/mcp"
	"github.com/ppiankov/rtcwatch/internal/page"
)

var (
	mcpProfile   string
	mcpThreshold int
	mcpLog       string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpProfile, "profile", "", "Default target profile (overrides config)")
	mcpCmd.Flags().IntVar(&mcpThreshold, "threshold", 0, "Default reports per member (overrides config)")
	mcpCmd.Flags().StringVar(&mcpLog, "log", "", "Append every record to this hash-chained report log")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs rtcwatch as an MCP (Model Context Protocol) server over stdio.\nExposes tools: rtcwatch_run, rtcwatch_targets.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mcpProfile != "" {
		cfg.Profile = mcpProfile
	}
	if mcpThreshold > 0 {
		cfg.Threshold = mcpThreshold
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries the protocol; diagnostics stay on stderr.
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	srv, err := rtcmcp.New(rtcmcp.Config{
		ProfileName:  cfg.Profile,
		Targets:      cfg.Targets,
		Threshold:    cfg.Threshold,
		ReportErrors: cfg.ErrorPolicy(),
		Timeout:      page.DefaultTimeout,
		LogPath:      mcpLog,
		Logger:       log,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintln(os.Stderr, "rtcwatch MCP server running on stdio")
	if cfg.Profile != "" {
		fmt.Fprintf(os.Stderr, "Profile: %s\n", cfg.Profile)
	}
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rtcwatch/internal/server"
)

var (
	collectGRPCAddr    string
	collectHTTPAddr    string
	collectDB          string
	collectLog         string
	collectMaxWatchers int
)

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().StringVar(&collectGRPCAddr, "grpc", ":7070", "gRPC listen address")
	collectCmd.Flags().StringVar(&collectHTTPAddr, "http", "", "HTTP listen address for /ingest, /watch, /metrics (disabled when empty)")
	collectCmd.Flags().StringVar(&collectDB, "db", defaultDBPath(), "SQLite database path")
	collectCmd.Flags().StringVar(&collectLog, "log", "", "Also append records to this hash-chained report log")
	collectCmd.Flags().IntVar(&collectMaxWatchers, "max-watchers", 64, "Maximum live /watch clients")
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Start the report collector",
	Long: "Runs a central collector. Pages send records over gRPC (sink type grpc) or\n" +
		"websocket (sink type stream, to /ingest). Records are stored in SQLite and\n" +
		"broadcast to /watch clients. Query them with 'rtcwatch reports --remote'.",
	RunE: runCollect,
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	srv, err := server.New(server.Config{
		GRPCAddr:    collectGRPCAddr,
		HTTPAddr:    collectHTTPAddr,
		DBPath:      collectDB,
		LogPath:     collectLog,
		MaxWatchers: collectMaxWatchers,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}
	defer srv.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintf(os.Stderr, "rtcwatch collector listening on %s (gRPC)\n", collectGRPCAddr)
	if collectHTTPAddr != "" {
		fmt.Fprintf(os.Stderr, "HTTP: %s (/ingest, /watch, /metrics, /healthz)\n", collectHTTPAddr)
	}
	fmt.Fprintf(os.Stderr, "Database: %s\n", collectDB)
	if collectLog != "" {
		fmt.Fprintf(os.Stderr, "Report log: %s\n", collectLog)
	}
	fmt.Fprintln(os.Stderr)

	err = srv.Serve(ctx)
	fmt.Fprintln(os.Stderr, "\nCollector stopped.")
	return err
}

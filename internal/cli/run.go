package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rtcwatch/internal/config"
	"github.com/ppiankov/rtcwatch/internal/daemon"
	"github.com/ppiankov/rtcwatch/internal/metrics"
	"github.com/ppiankov/rtcwatch/internal/output"
	"github.com/ppiankov/rtcwatch/internal/page"
)

var (
	runURL          string
	runBaseURL      string
	runPageID       string
	runProfile      string
	runThreshold    int
	runReportErrors string
	runTimeout      time.Duration
	runSink         string
	runSinkPath     string
	runSinkURL      string
	runSinkAddr     string
	runSummary      bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runURL, "url", "", "URL to load a single script under (default: <base-url>/<file name>)")
	runCmd.Flags().StringVar(&runBaseURL, "base-url", daemon.DefaultBaseURL, "Base URL for scripts loaded from files")
	runCmd.Flags().StringVar(&runPageID, "page-id", "", "Page identifier stamped on every record")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "Target profile (overrides config)")
	runCmd.Flags().IntVar(&runThreshold, "threshold", 0, "Reports per member before revert (overrides config)")
	runCmd.Flags().StringVar(&runReportErrors, "report-errors", "", "Sink failure policy: throw or log (overrides config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", page.DefaultTimeout, "Per-script time limit")
	runCmd.Flags().StringVar(&runSink, "sink", "", "Sink type: stdout, file, log, sqlite, webhook, stream, grpc, discard (overrides config)")
	runCmd.Flags().StringVar(&runSinkPath, "sink-path", "", "Path for file, log and sqlite sinks")
	runCmd.Flags().StringVar(&runSinkURL, "sink-url", "", "URL for webhook and stream sinks")
	runCmd.Flags().StringVar(&runSinkAddr, "sink-addr", "", "Collector address for the grpc sink")
	runCmd.Flags().BoolVar(&runSummary, "summary", false, "Print a JSON page summary to stderr")
}

var runCmd = &cobra.Command{
	Use:   "run <script.js>... | -",
	Short: "Run scripts in one observed page",
	Long: "Loads each script, in order, into a single page with the configured members\n" +
		"intercepted, and delivers every report record to the sink. \"-\" reads one script\n" +
		"from stdin. A script that throws is reported and the rest still run.",
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	scripts, err := readScripts(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	targets, err := cfg.ResolveTargets()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	m := metrics.NewCollector("")
	out, err := output.Open(ctx, cfg.Sink, cmd.OutOrStdout(), m)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer out.Close()

	res, err := page.Run(ctx, page.Options{
		ID:           runPageID,
		Targets:      targets,
		Threshold:    cfg.Threshold,
		Sink:         out,
		ReportErrors: cfg.ErrorPolicy(),
		Logger:       log,
		Timeout:      runTimeout,
		OnRevert:     m.RecordRevert,
	}, scripts)
	if err != nil {
		return err
	}

	for _, s := range res.Skipped {
		fmt.Fprintf(os.Stderr, "warning: %s not present, not intercepted\n", s)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "script %s: %s\n", e.URL, e.Error)
	}
	if runSummary {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
	}
	if len(res.Errors) == len(scripts) {
		return fmt.Errorf("no script completed")
	}
	return nil
}

func applyRunFlags(cfg *config.Config) {
	if runProfile != "" {
		cfg.Profile = runProfile
	}
	if runThreshold > 0 {
		cfg.Threshold = runThreshold
	}
	if runReportErrors != "" {
		cfg.ReportErrors = runReportErrors
	}
	if runSink != "" {
		cfg.Sink.Type = runSink
	}
	if runSinkPath != "" {
		cfg.Sink.Path = runSinkPath
	}
	if runSinkURL != "" {
		cfg.Sink.URL = runSinkURL
	}
	if runSinkAddr != "" {
		cfg.Sink.Addr = runSinkAddr
	}
	if cfg.Sink.Type == config.SinkStdout && cfg.Sink.Path != "" {
		cfg.Sink.Type = config.SinkFile
	}
}

// readScripts loads script files in order. --url names a single script;
// otherwise each file is loaded under base-url + "/" + its file name.
func readScripts(args []string, stdin io.Reader) ([]page.Script, error) {
	if runURL != "" && len(args) > 1 {
		return nil, fmt.Errorf("--url names a single script, got %d", len(args))
	}

	scripts := make([]page.Script, 0, len(args))
	for _, arg := range args {
		var (
			data []byte
			err  error
			name = filepath.Base(arg)
		)
		if arg == "-" {
			data, err = io.ReadAll(stdin)
			name = "stdin.js"
		} else {
			data, err = os.ReadFile(arg)
		}
		if err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}

		url := runURL
		if url == "" {
			url = strings.TrimRight(runBaseURL, "/") + "/" + name
		}
		scripts = append(scripts, page.Script{URL: url, Source: string(data)})
	}
	return scripts, nil
}

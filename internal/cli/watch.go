package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rtcwatch/internal/config"
	"github.com/ppiankov/rtcwatch/internal/daemon"
	"github.com/ppiankov/rtcwatch/internal/metrics"
	"github.com/ppiankov/rtcwatch/internal/output"
	"github.com/ppiankov/rtcwatch/internal/page"
)

var (
	watchOutbox       string
	watchState        string
	watchBaseURL      string
	watchWorkers      int
	watchPoll         bool
	watchPollInterval time.Duration
	watchTimeout      time.Duration
	watchMetricsAddr  string
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchOutbox, "outbox", "", "Result directory (default: <inbox>/../outbox)")
	watchCmd.Flags().StringVar(&watchState, "state", "", "State directory (default: <inbox>/../state)")
	watchCmd.Flags().StringVar(&watchBaseURL, "base-url", daemon.DefaultBaseURL, "Base URL for bare .js inbox files")
	watchCmd.Flags().IntVar(&watchWorkers, "workers", 4, "Pages run concurrently")
	watchCmd.Flags().BoolVar(&watchPoll, "poll", false, "Poll the inbox instead of using filesystem notifications")
	watchCmd.Flags().DurationVar(&watchPollInterval, "poll-interval", 5*time.Second, "Polling interval with --poll")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", page.DefaultTimeout, "Per-script time limit")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

var watchCmd = &cobra.Command{
	Use:   "watch [inbox]",
	Short: "Run every script dropped into an inbox directory",
	Long: "Watches the inbox for .js scripts and .json page jobs. Each file runs in a\n" +
		"fresh page; its records go to the configured sink and a summary is written to\n" +
		"the outbox. Files already present at startup are processed first. Changes to\n" +
		"the config file's targets and threshold apply to jobs started afterwards.\n" +
		"Without an inbox argument, ~/.rtcwatch/inbox is watched.",
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	targets, err := cfg.ResolveTargets()
	if err != nil {
		return err
	}

	dirs := daemon.DefaultDirConfig()
	if len(args) == 1 {
		dirs = daemon.DirsUnder(filepath.Dir(filepath.Clean(args[0])))
		dirs.Inbox = args[0]
	}
	if watchOutbox != "" {
		dirs.Outbox = watchOutbox
	}
	if watchState != "" {
		dirs.State = watchState
	}

	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	m := metrics.NewCollector("")
	cfg.Sink.Metrics = cfg.Sink.Metrics || watchMetricsAddr != ""
	out, err := output.Open(ctx, cfg.Sink, cmd.OutOrStdout(), m)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer out.Close()

	if watchMetricsAddr != "" {
		srv := &http.Server{Addr: watchMetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer srv.Close()
	}

	d, err := daemon.New(daemon.Config{
		Dirs: dirs,
		Page: page.Options{
			Targets:      targets,
			Threshold:    cfg.Threshold,
			Sink:         out,
			ReportErrors: cfg.ErrorPolicy(),
			Logger:       log,
			Timeout:      watchTimeout,
			OnRevert:     m.RecordRevert,
		},
		BaseURL:      watchBaseURL,
		ConfigPath:   resolvedConfigPath(),
		Metrics:      m,
		Logger:       log,
		Workers:      watchWorkers,
		PollMode:     watchPoll,
		PollInterval: watchPollInterval,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "rtcwatch watching %s (profile %s, threshold %d)\n", dirs.Inbox, cfg.Profile, cfg.Threshold)
	fmt.Fprintf(os.Stderr, "Results: %s\n", dirs.Outbox)
	if watchMetricsAddr != "" {
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", watchMetricsAddr)
	}
	fmt.Fprintln(os.Stderr)

	return d.Run(ctx)
}

// resolvedConfigPath returns the config file in effect, or "" when none
// exists.
func resolvedConfigPath() string {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/config"
	"github.com/ppiankov/rtcwatch/internal/metrics"
	"github.com/ppiankov/rtcwatch/internal/page"
)

const orphanReason = "interrupted: job was processing when daemon stopped"

// Config holds full daemon configuration.
type Config struct {
	Dirs         DirConfig
	Page         page.Options
	BaseURL      string
	ConfigPath   string // watched for target/threshold changes when set
	Metrics      *metrics.Collector
	Logger       *zap.Logger
	Workers      int
	PollMode     bool
	PollInterval time.Duration
}

// Daemon runs one page per job file dropped into the inbox.
type Daemon struct {
	cfg       Config
	processor *Processor
	log       *zap.Logger
}

func New(cfg Config) (*Daemon, error) {
	if err := cfg.Dirs.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Daemon{
		cfg: cfg,
		processor: NewProcessor(ProcessorConfig{
			Dirs:    cfg.Dirs,
			Page:    cfg.Page,
			BaseURL: cfg.BaseURL,
			Metrics: cfg.Metrics,
			Logger:  cfg.Logger,
		}),
		log: cfg.Logger.Named("daemon"),
	}, nil
}

// Run blocks until ctx is cancelled. Jobs already in the inbox run first,
// after anything left in state/processing has been failed out.
func (d *Daemon) Run(ctx context.Context) error {
	if err := EnsureDirs(d.cfg.Dirs); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	pid, err := lockPID(filepath.Join(d.cfg.Dirs.State, "daemon.pid"))
	if err != nil {
		return err
	}
	defer pid.release()

	if err := d.failOrphans(); err != nil {
		return fmt.Errorf("recover orphans: %w", err)
	}

	handle := d.handler(ctx)
	if err := ScanExisting(d.cfg.Dirs.Inbox, handle); err != nil {
		return fmt.Errorf("scan existing: %w", err)
	}
	d.startReloader(ctx)

	d.log.Info("watching inbox", zap.String("inbox", d.cfg.Dirs.Inbox), zap.Bool("poll", d.cfg.PollMode))
	if d.cfg.PollMode {
		return NewPollWatcher(d.cfg.Dirs.Inbox, handle, d.cfg.PollInterval).Run(ctx)
	}
	return NewInboxWatcher(d.cfg.Dirs.Inbox, handle, d.cfg.Workers, d.log).Run(ctx)
}

func (d *Daemon) handler(ctx context.Context) func(string) {
	return func(path string) {
		if err := d.processor.Process(ctx, path); err != nil {
			d.log.Error("process job", zap.String("file", filepath.Base(path)), zap.Error(err))
		}
	}
}

func (d *Daemon) startReloader(ctx context.Context) {
	path := d.cfg.ConfigPath
	if path == "" {
		return
	}
	r, err := NewReloader(path, func() error { return d.Reload(path) }, d.log)
	if err != nil {
		d.log.Warn("config hot-reload disabled", zap.Error(err))
		return
	}
	go func() { _ = r.Run(ctx) }()
}

// Reload applies the config file's targets, threshold and error policy to
// jobs started afterwards. The sink is not reopened.
func (d *Daemon) Reload(path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	targets, err := cfg.ResolveTargets()
	if err != nil {
		return err
	}
	opts := d.processor.PageOptions()
	opts.Targets = targets
	opts.Threshold = cfg.Threshold
	opts.ReportErrors = cfg.ErrorPolicy()
	d.processor.SetPageOptions(opts)
	return nil
}

// failOrphans writes a failed result for every job left in
// state/processing. They are never re-run: a script that took the daemon
// down would do it again.
func (d *Daemon) failOrphans() error {
	dir := d.cfg.Dirs.ProcessingDir()
	paths, err := listJobs(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, src := range paths {
		name := filepath.Base(src)
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if err := d.processor.writeFailedResult(id, orphanReason); err != nil {
			d.log.Error("recover orphan", zap.String("job", id), zap.Error(err))
		}
		if err := moveFile(src, filepath.Join(d.cfg.Dirs.DoneDir(), name)); err != nil {
			_ = os.Remove(src)
		}
	}
	return nil
}

// pidFile guards a state directory against a second daemon.
type pidFile struct{ path string }

// lockPID creates path exclusively. An existing file whose process is gone
// is treated as stale and replaced once.
func lockPID(path string) (*pidFile, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write pid file: %w", werr)
			}
			return &pidFile{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create pid file: %w", err)
		}
		if pid, alive := holder(path); alive {
			return nil, fmt.Errorf("another daemon is running (PID %d)", pid)
		}
		_ = os.Remove(path)
	}
	return nil, fmt.Errorf("pid file %s keeps reappearing", path)
}

// holder reports the pid recorded in path and whether it is still running.
func holder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, proc.Signal(syscall.Signal(0)) == nil
}

func (p *pidFile) release() { _ = os.Remove(p.path) }

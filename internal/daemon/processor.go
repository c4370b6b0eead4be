package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/metrics"
	"github.com/ppiankov/rtcwatch/internal/page"
)

// ProcessorConfig holds runtime configuration for job processing.
type ProcessorConfig struct {
	Dirs    DirConfig
	Page    page.Options // template; ID and Ledger are set per job
	BaseURL string
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Processor runs inbox jobs in fresh pages.
type Processor struct {
	cfg  ProcessorConfig
	page atomic.Pointer[page.Options]
	log  *zap.Logger
}

// NewProcessor creates a processor with the given configuration.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	p := &Processor{cfg: cfg, log: cfg.Logger.Named("daemon")}
	p.SetPageOptions(cfg.Page)
	return p
}

// SetPageOptions swaps the page template used by jobs that start after the
// call. Running jobs keep the options they started with.
func (p *Processor) SetPageOptions(opts page.Options) {
	opts.ID = ""
	opts.Ledger = nil
	p.page.Store(&opts)
}

// PageOptions returns the current page template.
func (p *Processor) PageOptions() page.Options {
	return *p.page.Load()
}

// Process handles a single inbox file through its full lifecycle:
// read → validate → move to processing → run page → write result to outbox.
func (p *Processor) Process(ctx context.Context, jobPath string) error {
	// Reject symlinks before reading so an inbox entry cannot point the
	// daemon at arbitrary files.
	fi, err := os.Lstat(jobPath)
	if err != nil {
		return fmt.Errorf("stat job file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("rejected symlink: %s", filepath.Base(jobPath))
	}

	data, err := os.ReadFile(jobPath)
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}

	job, err := p.parse(jobPath, data)
	if err != nil {
		_ = moveFile(jobPath, filepath.Join(p.cfg.Dirs.DoneDir(), filepath.Base(jobPath)))
		return p.writeFailedResult(jobID(jobPath), err.Error())
	}

	ext := filepath.Ext(jobPath)
	processingPath := filepath.Join(p.cfg.Dirs.ProcessingDir(), job.ID+ext)
	if err := moveFile(jobPath, processingPath); err != nil {
		return fmt.Errorf("move to processing: %w", err)
	}

	result := p.execute(ctx, job)
	if err := p.writeResult(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	if err := moveFile(processingPath, filepath.Join(p.cfg.Dirs.DoneDir(), job.ID+ext)); err != nil {
		_ = os.Remove(processingPath)
	}
	return nil
}

func (p *Processor) parse(path string, data []byte) (*Job, error) {
	var job *Job
	if strings.HasSuffix(path, ".json") {
		job = &Job{}
		if err := json.Unmarshal(data, job); err != nil {
			return nil, fmt.Errorf("invalid JSON: %v", err)
		}
	} else {
		job = JobFromScript(path, data, p.cfg.BaseURL)
	}
	if err := ValidateJob(job); err != nil {
		return nil, fmt.Errorf("validation failed: %v", err)
	}
	return job, nil
}

// execute runs the job's scripts in a fresh page.
func (p *Processor) execute(ctx context.Context, job *Job) *Result {
	opts := p.PageOptions()
	opts.ID = job.ID
	if job.Threshold > 0 {
		opts.Threshold = job.Threshold
	}

	result := &Result{ID: job.ID}
	res, err := page.Run(ctx, opts, job.Scripts)
	result.CompletedAt = time.Now().UTC()
	if err != nil {
		result.Status = ResultFailed
		result.Error = err.Error()
		return result
	}

	result.Page = res
	result.Status = ResultDone
	if len(res.Errors) > 0 {
		result.Status = ResultErrors
	}
	p.record(job, res)

	p.log.Info("page finished",
		zap.String("job", job.ID),
		zap.Int("scripts", len(job.Scripts)),
		zap.Int64("delivered", res.Delivered),
		zap.Int("errors", len(res.Errors)))
	return result
}

func (p *Processor) record(job *Job, res *page.Result) {
	m := p.cfg.Metrics
	if m == nil {
		return
	}
	for _, e := range res.Errors {
		m.RecordScript(errors.New(e.Error))
	}
	for i := len(res.Errors); i < len(job.Scripts); i++ {
		m.RecordScript(nil)
	}
	m.RecordSkipped(len(res.Skipped))
}

// writeResult writes a result to the outbox directory atomically.
func (p *Processor) writeResult(r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	filename := r.ID + ".json"
	tmpPath := filepath.Join(p.cfg.Dirs.Outbox, filename+".tmp")
	finalPath := filepath.Join(p.cfg.Dirs.Outbox, filename)

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	return os.Rename(tmpPath, finalPath)
}

// writeFailedResult writes a minimal failed result when the job can't be parsed.
func (p *Processor) writeFailedResult(id string, errMsg string) error {
	if id == "" {
		id = fmt.Sprintf("unknown-%d", time.Now().UnixNano())
	}
	return p.writeResult(&Result{
		ID:          id,
		Status:      ResultFailed,
		Error:       errMsg,
		CompletedAt: time.Now().UTC(),
	})
}

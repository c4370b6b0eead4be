// Package output builds the report sink selected by configuration.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ppiankov/rtcwatch/internal/client"
	"github.com/ppiankov/rtcwatch/internal/config"
	"github.com/ppiankov/rtcwatch/internal/metrics"
	"github.com/ppiankov/rtcwatch/internal/report"
	"github.com/ppiankov/rtcwatch/internal/reportlog"
	"github.com/ppiankov/rtcwatch/internal/store"
	"github.com/ppiankov/rtcwatch/internal/stream"
	"github.com/ppiankov/rtcwatch/internal/webhook"
)

// Output is an opened sink plus whatever must be released with it.
type Output struct {
	report.Sink
	closers []io.Closer
}

// Close releases files and connections held by the sink.
func (o *Output) Close() error {
	var first error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	o.closers = nil
	return first
}

// Open builds the sink described by cfg. stdout receives JSON lines for
// the stdout sink. When cfg.Metrics is set and m is non-nil, deliveries
// are counted in m.
func Open(ctx context.Context, cfg config.SinkConfig, stdout io.Writer, m *metrics.Collector) (*Output, error) {
	out := &Output{}

	switch cfg.Type {
	case "", config.SinkStdout:
		if stdout == nil {
			stdout = os.Stdout
		}
		out.Sink = report.NewJSONSink(stdout)

	case config.SinkFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sink file: path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
			return nil, fmt.Errorf("sink file: %w", err)
		}
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("sink file: %w", err)
		}
		out.Sink = report.NewJSONSink(f)
		out.closers = append(out.closers, f)

	case config.SinkLog:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sink log: path is required")
		}
		l, err := reportlog.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		out.Sink = l
		out.closers = append(out.closers, l)

	case config.SinkSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sink sqlite: path is required")
		}
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		out.Sink = st
		out.closers = append(out.closers, st)

	case config.SinkWebhook:
		wh, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Format:  cfg.Format,
			Members: cfg.Members,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		out.Sink = wh

	case config.SinkStream:
		if cfg.URL == "" {
			return nil, fmt.Errorf("sink stream: url is required")
		}
		dialCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		s, err := stream.Dial(dialCtx, cfg.URL, cfg.Headers)
		if err != nil {
			return nil, err
		}
		out.Sink = s
		out.closers = append(out.closers, s)

	case config.SinkGRPC:
		if cfg.Addr == "" {
			return nil, fmt.Errorf("sink grpc: addr is required")
		}
		c, err := client.New(cfg.Addr)
		if err != nil {
			return nil, err
		}
		out.Sink = c.WithTimeout(cfg.Timeout)
		out.closers = append(out.closers, c)

	case config.SinkDiscard:
		out.Sink = report.Discard{}

	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}

	if cfg.Metrics && m != nil {
		out.Sink = m.Sink(out.Sink)
	}
	return out, nil
}

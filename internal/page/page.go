// Package page runs untrusted scripts in an observed runtime. A page is one
// goja runtime with the host surface installed, one access ledger, and one
// interception engine reporting into a sink.
package page

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/intercept"
	"github.com/ppiankov/rtcwatch/internal/ledger"
	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
	"github.com/ppiankov/rtcwatch/internal/webrtc"
)

// DefaultTimeout bounds one Load, including its timers.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned when a script is interrupted by the load timeout
// or by context cancellation.
var ErrTimeout = errors.New("page: script interrupted")

// Options configures a Page. Zero values select defaults.
type Options struct {
	ID           string
	Targets      []model.InterceptTarget
	Threshold    int
	Ledger       ledger.Ledger
	Sink         report.Sink
	ReportErrors intercept.ErrorPolicy
	Surface      webrtc.Options
	Logger       *zap.Logger
	Timeout      time.Duration
	OnRevert     func(key string, side model.AccessType, count int)
}

// Page is a single observed document.
type Page struct {
	id       string
	vm       *goja.Runtime
	engine   *intercept.Engine
	ledger   ledger.Ledger
	reporter *report.Reporter
	install  intercept.InstallReport
	timers   *timerQueue
	timeout  time.Duration
	log      *zap.Logger
}

// New creates a page, installs the host surface and intercepts every target.
// Targets that cannot be installed are skipped; see InstallReport.
func New(ctx context.Context, opts Options) (*Page, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewMemory()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger.Named("page")
	if opts.ID != "" {
		log = log.With(zap.String("page", opts.ID))
	}

	vm := goja.New()
	p := &Page{
		id:      opts.ID,
		vm:      vm,
		ledger:  opts.Ledger,
		timers:  newTimerQueue(),
		timeout: opts.Timeout,
		log:     log,
	}
	if err := p.installGlobals(); err != nil {
		return nil, err
	}
	if err := webrtc.Install(vm, opts.Surface); err != nil {
		return nil, err
	}

	p.reporter = report.NewReporter(ctx, opts.Sink, opts.ID)
	p.engine = intercept.New(vm, intercept.Options{
		Threshold:    opts.Threshold,
		Ledger:       opts.Ledger,
		Reporter:     p.reporter,
		Logger:       log,
		ReportErrors: opts.ReportErrors,
		OnRevert:     opts.OnRevert,
	})
	p.install = p.engine.Install(opts.Targets)

	log.Debug("page ready",
		zap.Int("installed", len(p.install.Installed)),
		zap.Int("skipped", len(p.install.Skipped)))
	return p, nil
}

// ID returns the page identifier stamped on every record.
func (p *Page) ID() string { return p.id }

// Runtime exposes the page's runtime.
func (p *Page) Runtime() *goja.Runtime { return p.vm }

// Engine exposes the page's interception engine.
func (p *Page) Engine() *intercept.Engine { return p.engine }

// Ledger exposes the page's access counts.
func (p *Page) Ledger() ledger.Ledger { return p.ledger }

// InstallReport returns which targets were installed and which were skipped.
func (p *Page) InstallReport() intercept.InstallReport { return p.install }

// Delivered returns the number of records delivered to the sink.
func (p *Page) Delivered() int64 { return p.reporter.Delivered() }

// Load compiles src under url and runs it, then runs every timer it
// scheduled. The url becomes the script's source name, which is what call
// sites are attributed to.
func (p *Page) Load(ctx context.Context, url, src string) error {
	prog, err := goja.Compile(url, src, false)
	if err != nil {
		return fmt.Errorf("compile %s: %w", url, err)
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	p.vm.ClearInterrupt()
	go func() {
		defer close(stopped)
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			p.log.Warn("script timeout", zap.String("url", url), zap.Duration("timeout", p.timeout))
			p.vm.Interrupt(fmt.Sprintf("execution timeout exceeded (%v)", p.timeout))
		case <-ctx.Done():
			p.vm.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()

	_, err = p.vm.RunProgram(prog)
	var thrown *goja.Exception
	if err == nil || errors.As(err, &thrown) {
		// Timers scheduled before an uncaught throw still belong to this
		// script.
		if derr := p.timers.drain(p.log); err == nil || isInterrupt(derr) {
			err = derr
		}
	}

	close(done)
	<-stopped

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			p.timers.reset()
			return fmt.Errorf("%w: %s: %v", ErrTimeout, url, interrupted.Value())
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return fmt.Errorf("script %s: %s", url, exc.Error())
		}
		return fmt.Errorf("script %s: %w", url, err)
	}
	return nil
}

func isInterrupt(err error) bool {
	var interrupted *goja.InterruptedError
	return errors.As(err, &interrupted)
}

func (p *Page) installGlobals() error {
	global := p.vm.GlobalObject()
	for _, name := range []string{"window", "self", "globalThis"} {
		if err := global.Set(name, global); err != nil {
			return fmt.Errorf("define %s: %w", name, err)
		}
	}

	console := p.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		if err := console.Set(level, func(call goja.FunctionCall) goja.Value {
			p.console(level, call.Arguments)
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	if err := global.Set("console", console); err != nil {
		return fmt.Errorf("define console: %w", err)
	}

	if err := global.Set("setTimeout", p.setTimeout); err != nil {
		return fmt.Errorf("define setTimeout: %w", err)
	}
	if err := global.Set("clearTimeout", p.clearTimeout); err != nil {
		return fmt.Errorf("define clearTimeout: %w", err)
	}
	return nil
}

func (p *Page) console(level string, args []goja.Value) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	p.log.Debug("console", zap.String("level", level), zap.String("msg", strings.Join(parts, " ")))
}

func (p *Page) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(p.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := call.Argument(1).ToInteger()
	var extra []goja.Value
	if len(call.Arguments) > 2 {
		extra = append(extra, call.Arguments[2:]...)
	}
	return p.vm.ToValue(p.timers.add(fn, delay, extra))
}

func (p *Page) clearTimeout(call goja.FunctionCall) goja.Value {
	p.timers.cancel(call.Argument(0).ToInteger())
	return goja.Undefined()
}

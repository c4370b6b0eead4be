// Package intercept installs observing wrappers over prototype members of a
// JavaScript runtime. A wrapper always runs the original member first, then
// counts the access, reports it while the key is under its threshold, and
// restores the original member once the threshold is reached.
package intercept

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/callsite"
	"github.com/ppiankov/rtcwatch/internal/ledger"
	"github.com/ppiankov/rtcwatch/internal/model"
)

// DefaultThreshold is the number of accesses per key that are reported.
const DefaultThreshold = 100

// ErrMemberNotFound is returned when a target's owner, prototype, or member
// does not exist in the runtime, or has the wrong shape for its kind.
var ErrMemberNotFound = errors.New("intercept: member not found")

// ErrorPolicy decides what a wrapper does when the reporter fails.
type ErrorPolicy string

const (
	// ReportErrorsThrow raises the reporter error into the calling script.
	ReportErrorsThrow ErrorPolicy = "throw"
	// ReportErrorsLog logs the error and lets the access complete normally.
	ReportErrorsLog ErrorPolicy = "log"
)

// ParseErrorPolicy validates a policy name; empty selects ReportErrorsThrow.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(s) {
	case "", ReportErrorsThrow:
		return ReportErrorsThrow, nil
	case ReportErrorsLog:
		return ReportErrorsLog, nil
	}
	return "", fmt.Errorf("unknown report error policy %q", s)
}

// Reporter receives one record per reported access.
type Reporter interface {
	Report(d model.CallDetails) error
}

// Resolver names the script responsible for the current access.
type Resolver interface {
	Resolve() string
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Threshold    int
	Ledger       ledger.Ledger
	Resolver     Resolver
	Reporter     Reporter
	Logger       *zap.Logger
	ReportErrors ErrorPolicy

	// OnRevert is called once per reverted side, after the original member
	// has been restored.
	OnRevert func(key string, side model.AccessType, count int)
}

// Engine installs interceptors into one runtime.
type Engine struct {
	vm          *goja.Runtime
	ledger      ledger.Ledger
	resolver    Resolver
	reporter    Reporter
	threshold   int
	log         *zap.Logger
	errorPolicy ErrorPolicy
	onRevert    func(key string, side model.AccessType, count int)
	exp         exporter

	mu       sync.Mutex
	reverted map[string][]model.AccessType
}

// New creates an Engine bound to vm.
func New(vm *goja.Runtime, opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewMemory()
	}
	if opts.Resolver == nil {
		opts.Resolver = callsite.New(vm)
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReportErrors == "" {
		opts.ReportErrors = ReportErrorsThrow
	}
	return &Engine{
		vm:          vm,
		ledger:      opts.Ledger,
		resolver:    opts.Resolver,
		reporter:    opts.Reporter,
		threshold:   opts.Threshold,
		log:         opts.Logger.Named("intercept"),
		errorPolicy: opts.ReportErrors,
		onRevert:    opts.OnRevert,
		exp:         newExporter(vm),
		reverted:    make(map[string][]model.AccessType),
	}
}

// Threshold returns the engine-wide default threshold.
func (e *Engine) Threshold() int {
	return e.threshold
}

// SkippedTarget is a target that could not be installed.
type SkippedTarget struct {
	Target model.InterceptTarget
	Err    error
}

// InstallReport summarizes one pass over a target list.
type InstallReport struct {
	Installed []model.InterceptTarget
	Skipped   []SkippedTarget
}

// Install processes targets in order. Failures are logged and skipped; a
// later entry for the same key re-installs over the current member state.
func (e *Engine) Install(targets []model.InterceptTarget) InstallReport {
	var rep InstallReport
	for _, t := range targets {
		if err := e.InstallTarget(t); err != nil {
			e.log.Warn("interceptor not installed",
				zap.String("key", t.Key()),
				zap.String("kind", string(t.Kind)),
				zap.Error(err))
			rep.Skipped = append(rep.Skipped, SkippedTarget{Target: t, Err: err})
			continue
		}
		rep.Installed = append(rep.Installed, t)
	}
	e.log.Debug("interceptors installed",
		zap.Int("installed", len(rep.Installed)),
		zap.Int("skipped", len(rep.Skipped)))
	return rep
}

// InstallTarget installs one target according to its kind.
func (e *Engine) InstallTarget(t model.InterceptTarget) error {
	if err := t.Validate(); err != nil {
		return err
	}
	kind, _ := model.ParseKind(string(t.Kind))
	threshold := t.Threshold
	if threshold <= 0 {
		threshold = e.threshold
	}
	if kind == model.KindCall {
		return e.installFunction(t.Owner, t.Member, threshold)
	}
	return e.installProperty(t.Owner, t.Member, kind, threshold)
}

// InstallFunction wraps a callable prototype member with the default threshold.
func (e *Engine) InstallFunction(owner, member string) error {
	return e.InstallTarget(model.InterceptTarget{Owner: owner, Member: member, Kind: model.KindCall})
}

// InstallProperty wraps whichever of a prototype accessor's getter and setter
// exist, with the default threshold.
func (e *Engine) InstallProperty(owner, member string) error {
	return e.InstallTarget(model.InterceptTarget{Owner: owner, Member: member, Kind: model.KindProperty})
}

// Reverted returns the keys that have reverted at least one side, with the
// sides in revert order.
func (e *Engine) Reverted() map[string][]model.AccessType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]model.AccessType, len(e.reverted))
	for k, v := range e.reverted {
		out[k] = append([]model.AccessType(nil), v...)
	}
	return out
}

// RevertedKeys returns the reverted keys sorted.
func (e *Engine) RevertedKeys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.reverted))
	for k := range e.reverted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// prototype returns the prototype object of the global constructor owner.
func (e *Engine) prototype(owner string) (*goja.Object, error) {
	ctor := e.vm.GlobalObject().Get(owner)
	ctorObj, ok := ctor.(*goja.Object)
	if !ok || ctorObj == nil {
		return nil, fmt.Errorf("%w: no global constructor %s", ErrMemberNotFound, owner)
	}
	proto, ok := ctorObj.Get("prototype").(*goja.Object)
	if !ok || proto == nil {
		return nil, fmt.Errorf("%w: %s has no prototype", ErrMemberNotFound, owner)
	}
	return proto, nil
}

// side is one intercepted direction of a key. After it reverts, wrappers a
// script still holds references to pass straight through to the original.
type side struct {
	key       string
	access    model.AccessType
	threshold int
	restore   func() error
	reverted  bool
}

// record is the shared tail of every wrapper: revert at the threshold,
// report below or at it.
func (e *Engine) record(s *side, build func() model.CallDetails) {
	if s.reverted {
		return
	}
	count := e.ledger.Increment(s.key)
	if count >= s.threshold {
		s.reverted = true
		e.revert(s.key, s.access, count, s.restore)
	}
	if count > s.threshold {
		return
	}
	e.log.Debug("intercepted access",
		zap.String("key", s.key),
		zap.String("access", string(s.access)),
		zap.Int("count", count))
	d := build()
	d.Source = e.resolver.Resolve()
	if err := e.reporter.Report(d); err != nil {
		e.reportFailed(err)
	}
}

func (e *Engine) revert(key string, access model.AccessType, count int, restore func() error) {
	if err := restore(); err != nil {
		e.log.Error("revert failed", zap.String("key", key), zap.String("access", string(access)), zap.Error(err))
		return
	}
	e.mu.Lock()
	e.reverted[key] = append(e.reverted[key], access)
	e.mu.Unlock()
	e.log.Debug("reached max number of accesses, original restored",
		zap.String("key", key),
		zap.String("access", string(access)),
		zap.Int("count", count))
	if e.onRevert != nil {
		e.onRevert(key, access, count)
	}
}

func (e *Engine) reportFailed(err error) {
	if e.errorPolicy == ReportErrorsLog {
		e.log.Error("report failed", zap.Error(err))
		return
	}
	panic(e.vm.NewGoError(err))
}

// rethrow re-raises an error returned by an original member so the calling
// script observes the same thrown value.
func (e *Engine) rethrow(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		e.vm.Interrupt(interrupted.Value())
		return
	}
	panic(e.vm.NewGoError(err))
}

type nopReporter struct{}

func (nopReporter) Report(model.CallDetails) error { return nil }

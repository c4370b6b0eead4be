// Package callsite attributes intercepted accesses to the script that made them.
package callsite

import (
	"fmt"
	"regexp"

	"github.com/dop251/goja"
)

// UnknownSource is returned when no script frame carries a URL.
const UnknownSource = "UNKNOWN_SOURCE"

// stackLine matches "scheme://host/path:line:col", optionally parenthesized.
var stackLine = regexp.MustCompile(`(\()?([a-zA-Z][a-zA-Z0-9+.\-]*://[^)]+):[0-9]+:[0-9]+(\))?`)

// Resolver captures the runtime's call stack at the point of an intercepted
// access and extracts the calling script's URL.
type Resolver struct {
	vm *goja.Runtime
}

// New creates a Resolver bound to a runtime.
func New(vm *goja.Runtime) *Resolver {
	return &Resolver{vm: vm}
}

// Resolve returns the origin and path of the innermost script frame below the
// engine's own frames, or UnknownSource. It never panics.
//
// Interceptor wrappers are Go functions, so they show up as native frames on
// top of the stack; the resolver itself adds none. Every leading native frame
// is discarded and the first script frame is inspected.
func (r *Resolver) Resolve() (source string) {
	defer func() {
		if recover() != nil {
			source = UnknownSource
		}
	}()
	if r == nil || r.vm == nil {
		return UnknownSource
	}
	return FromFrames(r.vm.CaptureCallStack(0, nil))
}

// FromFrames applies the resolution rule to an already captured stack.
func FromFrames(frames []goja.StackFrame) string {
	i := 0
	for i < len(frames) && isNative(&frames[i]) {
		i++
	}
	if i >= len(frames) {
		return UnknownSource
	}
	return Parse(FormatFrame(&frames[i]))
}

// FormatFrame renders a frame as "src:line:col".
func FormatFrame(f *goja.StackFrame) string {
	pos := f.Position()
	return fmt.Sprintf("%s:%d:%d", f.SrcName(), pos.Line, pos.Column)
}

// Parse extracts the URL (without line and column) from one stack line.
func Parse(line string) string {
	m := stackLine.FindStringSubmatch(line)
	if m == nil {
		return UnknownSource
	}
	return m[2]
}

func isNative(f *goja.StackFrame) bool {
	return f.SrcName() == "<native>"
}

package intercept

import (
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/dop251/goja"
)

// maxExportDepth bounds how deep nested objects are copied into a record.
const maxExportDepth = 8

// Placeholders for values that cannot be copied without running script code.
const (
	getterMark     = "[Getter]"
	setterMark     = "[Setter]"
	proxyMark      = "[Proxy]"
	unreadableMark = "[Unreadable]"
)

var proxyType = reflect.TypeOf(goja.Proxy{})

// descriptorFields are the properties goja writes into a descriptor object.
// Writing them consults Object.prototype, so a script that defines any of
// them there could observe or disturb the read.
var descriptorFields = []string{"value", "writable", "get", "set", "enumerable", "configurable"}

// exporter copies runtime values into plain Go data without observable side
// effects: only own data properties are read, through builtins captured
// before any script ran. Accessors are never invoked, proxies are never
// enumerated and no conversion method (toString, valueOf) is called.
type exporter struct {
	vm          *goja.Runtime
	objectProto *goja.Object
	describe    goja.Callable
	hasOwn      goja.Callable

	// clean is set per export when descriptor reads are side-effect free.
	clean bool
}

func newExporter(vm *goja.Runtime) exporter {
	x := exporter{vm: vm}
	ctor, ok := vm.GlobalObject().Get("Object").(*goja.Object)
	if !ok {
		return x
	}
	x.describe, _ = goja.AssertFunction(ctor.Get("getOwnPropertyDescriptor"))
	if proto, ok := ctor.Get("prototype").(*goja.Object); ok {
		x.objectProto = proto
		x.hasOwn, _ = goja.AssertFunction(proto.Get("hasOwnProperty"))
	}
	return x
}

func (x exporter) descriptorsClean() bool {
	if x.describe == nil || x.hasOwn == nil {
		return false
	}
	for _, f := range descriptorFields {
		has, err := x.hasOwn(x.objectProto, x.vm.ToValue(f))
		if err != nil || has.ToBoolean() {
			return false
		}
	}
	return true
}

// args converts call arguments into a positional list. The result is never
// nil so that a call without arguments still reports [].
func (x exporter) args(args []goja.Value) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		out = append(out, x.value(a))
	}
	return out
}

// value converts v. Functions become "[Function: name]", promises report
// their state at the time of the access, and cycles become "[Circular]".
func (x exporter) value(v goja.Value) (out any) {
	defer func() {
		if recover() != nil {
			out = unreadableMark
		}
	}()
	x.clean = x.descriptorsClean()
	return x.walk(v, 0, make(map[*goja.Object]bool))
}

func (x exporter) walk(v goja.Value, depth int, seen map[*goja.Object]bool) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return exportPrimitive(v)
	}
	if isProxy(obj) {
		return proxyMark
	}

	if _, isFn := goja.AssertFunction(obj); isFn {
		name, _ := x.ownString(obj, "name")
		if name == "" {
			name = "anonymous"
		}
		return "[Function: " + name + "]"
	}
	switch obj.ClassName() {
	case "Promise":
		if p, isPromise := obj.Export().(*goja.Promise); isPromise {
			return map[string]any{"promise": promiseState(p)}
		}
	case "Date":
		if t, isTime := obj.Export().(time.Time); isTime {
			return t.UTC().Format(time.RFC3339Nano)
		}
		return "Invalid Date"
	case "RegExp":
		return "[RegExp]"
	case "Error":
		return x.errorText(obj)
	}

	if seen[obj] {
		return "[Circular]"
	}
	if depth >= maxExportDepth {
		return "[Object]"
	}
	seen[obj] = true
	defer delete(seen, obj)

	if obj.ClassName() == "Array" {
		length, kind := x.own(obj, "length")
		if kind != slotData {
			return unreadableMark
		}
		n := int(length.ToInteger())
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, x.slot(obj, strconv.Itoa(i), depth, seen))
		}
		return out
	}

	out := make(map[string]any)
	for _, k := range obj.Keys() {
		out[k] = x.slot(obj, k, depth, seen)
	}
	return out
}

func (x exporter) slot(obj *goja.Object, name string, depth int, seen map[*goja.Object]bool) any {
	v, kind := x.own(obj, name)
	switch kind {
	case slotData:
		return x.walk(v, depth+1, seen)
	case slotGetter:
		return getterMark
	case slotSetter:
		return setterMark
	case slotMissing:
		return nil
	}
	return unreadableMark
}

type slotKind int

const (
	slotMissing slotKind = iota
	slotData
	slotGetter
	slotSetter
	slotOpaque
)

// own reads obj's own property name without triggering accessors.
func (x exporter) own(obj *goja.Object, name string) (goja.Value, slotKind) {
	if !x.clean || isProxy(obj) {
		return nil, slotOpaque
	}
	dv, err := x.describe(goja.Undefined(), obj, x.vm.ToValue(name))
	if err != nil {
		return nil, slotOpaque
	}
	desc, ok := dv.(*goja.Object)
	if !ok {
		return nil, slotMissing
	}
	// A fresh descriptor; cutting its prototype keeps the reads below own.
	if desc.SetPrototype(nil) != nil {
		return nil, slotOpaque
	}
	if g := desc.Get("get"); g != nil {
		if !goja.IsUndefined(g) {
			return nil, slotGetter
		}
		return nil, slotSetter
	}
	return desc.Get("value"), slotData
}

// inherited looks name up along the prototype chain, stopping at the first
// accessor or proxy.
func (x exporter) inherited(obj *goja.Object, name string) (goja.Value, bool) {
	for o, hops := obj, 0; o != nil && hops < 32; hops++ {
		if isProxy(o) {
			return nil, false
		}
		v, kind := x.own(o, name)
		switch kind {
		case slotData:
			return v, true
		case slotMissing:
			o = o.Prototype()
		default:
			return nil, false
		}
	}
	return nil, false
}

func (x exporter) ownString(obj *goja.Object, name string) (string, bool) {
	v, kind := x.own(obj, name)
	if kind != slotData {
		return "", false
	}
	s, ok := v.Export().(string)
	return s, ok
}

func (x exporter) errorText(obj *goja.Object) string {
	name := "Error"
	if v, ok := x.inherited(obj, "name"); ok {
		if s, isStr := v.Export().(string); isStr && s != "" {
			name = s
		}
	}
	msg, _ := x.ownString(obj, "message")
	if msg == "" {
		return name
	}
	return name + ": " + msg
}

func isProxy(obj *goja.Object) bool {
	return obj.ExportType() == proxyType
}

func exportPrimitive(v goja.Value) any {
	switch x := v.Export().(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return v.String()
		}
		return x
	case int64, string, bool:
		return x
	default:
		return v.String()
	}
}

func promiseState(p *goja.Promise) string {
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return "fulfilled"
	case goja.PromiseStateRejected:
		return "rejected"
	default:
		return "pending"
	}
}

package intercept

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/model"
)

// accessorPair is the getter/setter captured from a prototype at install time.
// Either side may be nil.
type accessorPair struct {
	getVal goja.Value
	get    goja.Callable
	setVal goja.Value
	set    goja.Callable
}

// ownDescriptor returns the own property descriptor of member on obj, or nil
// when obj has no own property of that name.
func (e *Engine) ownDescriptor(obj *goja.Object, member string) (*goja.Object, error) {
	gopd, ok := goja.AssertFunction(e.vm.Get("Object").ToObject(e.vm).Get("getOwnPropertyDescriptor"))
	if !ok {
		return nil, fmt.Errorf("%w: Object.getOwnPropertyDescriptor unavailable", ErrMemberNotFound)
	}
	descVal, err := gopd(goja.Undefined(), obj, e.vm.ToValue(member))
	if err != nil {
		return nil, err
	}
	desc, ok := descVal.(*goja.Object)
	if !ok {
		return nil, nil
	}
	return desc, nil
}

func (e *Engine) ownAccessor(proto *goja.Object, owner, member string) (accessorPair, error) {
	var pair accessorPair
	desc, err := e.ownDescriptor(proto, member)
	if err != nil {
		return pair, fmt.Errorf("read descriptor of %s.%s: %w", owner, member, err)
	}
	if desc == nil {
		return pair, fmt.Errorf("%w: %s.%s is not defined on the prototype", ErrMemberNotFound, owner, member)
	}
	if g, ok := goja.AssertFunction(desc.Get("get")); ok {
		pair.getVal, pair.get = desc.Get("get"), g
	}
	if s, ok := goja.AssertFunction(desc.Get("set")); ok {
		pair.setVal, pair.set = desc.Get("set"), s
	}
	return pair, nil
}

func (e *Engine) installProperty(owner, member string, kind model.Kind, threshold int) error {
	proto, err := e.prototype(owner)
	if err != nil {
		return err
	}
	pair, err := e.ownAccessor(proto, owner, member)
	if err != nil {
		return err
	}

	wantGet := kind == model.KindGet || kind == model.KindProperty
	wantSet := kind == model.KindSet || kind == model.KindProperty
	switch {
	case kind == model.KindGet && pair.get == nil:
		return fmt.Errorf("%w: %s.%s has no getter", ErrMemberNotFound, owner, member)
	case kind == model.KindSet && pair.set == nil:
		return fmt.Errorf("%w: %s.%s has no setter", ErrMemberNotFound, owner, member)
	case pair.get == nil && pair.set == nil:
		return fmt.Errorf("%w: %s.%s is not an accessor property", ErrMemberNotFound, owner, member)
	}

	key := model.AccessKey(owner, member)
	var getter, setter goja.Value

	if wantGet && pair.get != nil {
		st := &side{key: key, access: model.AccessGet, threshold: threshold, restore: func() error {
			return proto.DefineAccessorProperty(member, pair.getVal, nil, goja.FLAG_NOT_SET, goja.FLAG_NOT_SET)
		}}
		getter = e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			v, err := pair.get(call.This)
			if err != nil {
				e.rethrow(err)
				return goja.Undefined()
			}
			e.record(st, func() model.CallDetails {
				return model.CallDetails{
					Description: key,
					AccessType:  model.AccessGet,
					Args:        "",
					RetVal:      e.exp.value(v),
				}
			})
			return v
		})
	}

	if wantSet && pair.set != nil {
		st := &side{key: key, access: model.AccessSet, threshold: threshold, restore: func() error {
			return proto.DefineAccessorProperty(member, nil, pair.setVal, goja.FLAG_NOT_SET, goja.FLAG_NOT_SET)
		}}
		setter = e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			value := call.Argument(0)
			if _, err := pair.set(call.This, value); err != nil {
				e.rethrow(err)
				return goja.Undefined()
			}
			e.record(st, func() model.CallDetails {
				return model.CallDetails{
					Description: key,
					AccessType:  model.AccessSet,
					Args:        e.exp.value(value),
				}
			})
			return goja.Undefined()
		})
	}

	if err := proto.DefineAccessorProperty(member, getter, setter, goja.FLAG_NOT_SET, goja.FLAG_NOT_SET); err != nil {
		return fmt.Errorf("install %s: %w", key, err)
	}
	e.log.Debug("property interceptor installed",
		zap.String("key", key),
		zap.Bool("get", getter != nil),
		zap.Bool("set", setter != nil))
	return nil
}

package intercept

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/model"
)

func (e *Engine) installFunction(owner, member string, threshold int) error {
	proto, err := e.prototype(owner)
	if err != nil {
		return err
	}
	origVal := proto.Get(member)
	orig, ok := goja.AssertFunction(origVal)
	if !ok {
		return fmt.Errorf("%w: %s.%s is not callable", ErrMemberNotFound, owner, member)
	}

	// An inherited member becomes an own, writable, configurable property of
	// this prototype so that the revert can overwrite it again.
	own, err := e.ownDescriptor(proto, member)
	if err != nil {
		return fmt.Errorf("read descriptor of %s.%s: %w", owner, member, err)
	}
	writable, configurable := goja.FLAG_NOT_SET, goja.FLAG_NOT_SET
	if own == nil {
		writable, configurable = goja.FLAG_TRUE, goja.FLAG_TRUE
	}

	key := model.AccessKey(owner, member)
	st := &side{key: key, access: model.AccessCall, threshold: threshold, restore: func() error {
		return proto.DefineDataProperty(member, origVal, goja.FLAG_NOT_SET, goja.FLAG_NOT_SET, goja.FLAG_NOT_SET)
	}}

	wrapper := func(call goja.FunctionCall) goja.Value {
		args := append([]goja.Value(nil), call.Arguments...)
		ret, err := orig(call.This, args...)
		if err != nil {
			e.rethrow(err)
			return goja.Undefined()
		}
		e.record(st, func() model.CallDetails {
			return model.CallDetails{
				Description: key,
				AccessType:  model.AccessCall,
				Args:        e.exp.args(args),
				RetVal:      e.exp.value(ret),
			}
		})
		return ret
	}

	if err := proto.DefineDataProperty(member, e.vm.ToValue(wrapper), writable, configurable, goja.FLAG_NOT_SET); err != nil {
		return fmt.Errorf("install %s: %w", key, err)
	}
	e.log.Debug("function interceptor installed", zap.String("key", key))
	return nil
}

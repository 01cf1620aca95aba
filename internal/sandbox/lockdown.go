package sandbox

import (
	"errors"
	"fmt"
	"math"

	"github.com/dop251/goja"
)

// removedGlobals are deleted from every runtime before caller code runs.
var removedGlobals = []string{"eval", "Function"}

const lockdownScript = `(function () {
	"use strict";
	var blocked = function () {
		throw new TypeError("Code generation from strings is disabled");
	};
	var protos = [
		Function.prototype,
		Object.getPrototypeOf(async function () {}),
		Object.getPrototypeOf(function* () {})
	];
	for (var i = 0; i < protos.length; i++) {
		try {
			Object.defineProperty(protos[i], "constructor", {
				value: blocked, writable: false, enumerable: false, configurable: false
			});
		} catch (e) {}
	}
})();`

// lockdown removes code generation. Shared prototypes stay writable: freezing
// them would make plain assignments such as obj.toString = 1 fail silently,
// and every runtime is discarded after one invocation anyway.
func (env *environment) lockdown() error {
	if _, err := env.vm.RunScript("lockdown.js", lockdownScript); err != nil {
		return fmt.Errorf("lockdown: %w", err)
	}

	global := env.vm.GlobalObject()
	for _, name := range removedGlobals {
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// sizeFunc projects how many bytes a builtin call will allocate.
type sizeFunc func(call goja.FunctionCall) int64

// guardStrings wraps string builtins whose output size is known up front so
// that an oversized allocation is refused before it happens.
func (env *environment) guardStrings(budget Budget) error {
	proto := env.vm.Get("String").ToObject(env.vm).Get("prototype").ToObject(env.vm)

	guards := map[string]sizeFunc{
		"repeat": func(call goja.FunctionCall) int64 {
			return saturatingMul(int64(len(call.This.String())), call.Argument(0).ToInteger())
		},
		"padStart": func(call goja.FunctionCall) int64 { return call.Argument(0).ToInteger() },
		"padEnd":   func(call goja.FunctionCall) int64 { return call.Argument(0).ToInteger() },
	}

	for name, size := range guards {
		original, ok := goja.AssertFunction(proto.Get(name))
		if !ok {
			continue
		}
		if err := proto.Set(name, env.guarded(original, size, budget)); err != nil {
			return fmt.Errorf("guard String.prototype.%s: %w", name, err)
		}
	}
	return nil
}

func (env *environment) guarded(original goja.Callable, size sizeFunc, budget Budget) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if n := size(call); n > 0 {
			if err := budget.Reserve(n); err != nil {
				// The governor has already interrupted the runtime.
				return goja.Undefined()
			}
		}
		v, err := original(call.This, call.Arguments...)
		if err != nil {
			rethrow(err)
			return goja.Undefined()
		}
		return v
	}
}

// rethrow re-raises a JS exception from inside a native function. Interrupts
// need no help: the runtime raises them again on its next instruction.
func rethrow(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
}

func saturatingMul(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

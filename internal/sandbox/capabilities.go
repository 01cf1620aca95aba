package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/scriptbox/internal/network"
	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
)

// FetchFunc performs one mediated request on behalf of caller code.
type FetchFunc func(rawURL, method string) network.Response

// Capabilities is everything the host exposes to one invocation. It is
// built per invocation and never shared.
type Capabilities struct {
	Fetch   FetchFunc
	Console *Console
	Input   json.RawMessage
}

// environment is one goja runtime plus the builtins captured from it before
// caller code could replace them.
type environment struct {
	vm        *goja.Runtime
	json      goja.Value
	stringify goja.Callable
	parse     goja.Callable
}

func newEnvironment(maxCallStack int) (*environment, error) {
	vm := goja.New()
	if maxCallStack > 0 {
		vm.SetMaxCallStackSize(maxCallStack)
	}

	jsonObj := vm.Get("JSON")
	if jsonObj == nil || goja.IsUndefined(jsonObj) {
		return nil, fmt.Errorf("runtime has no JSON object")
	}
	obj := jsonObj.ToObject(vm)
	stringify, ok := goja.AssertFunction(obj.Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("runtime has no JSON.stringify")
	}
	parse, ok := goja.AssertFunction(obj.Get("parse"))
	if !ok {
		return nil, fmt.Errorf("runtime has no JSON.parse")
	}

	return &environment{vm: vm, json: jsonObj, stringify: stringify, parse: parse}, nil
}

// install binds the capabilities as runtime globals and returns the bound
// input value.
func (env *environment) install(caps Capabilities) (goja.Value, error) {
	console := env.vm.NewObject()
	for _, level := range consoleLevels {
		if err := console.Set(level, env.consoleFunc(caps.Console, level)); err != nil {
			return nil, fmt.Errorf("install console.%s: %w", level, err)
		}
	}
	if err := env.vm.Set("console", console); err != nil {
		return nil, fmt.Errorf("install console: %w", err)
	}

	if err := env.vm.Set("fetch", env.fetchFunc(caps.Fetch)); err != nil {
		return nil, fmt.Errorf("install fetch: %w", err)
	}

	if len(caps.Input) == 0 {
		return goja.Undefined(), nil
	}
	input, err := env.parse(env.json, env.vm.ToValue(string(caps.Input)))
	if err != nil {
		return nil, fmt.Errorf("bind input: %w", err)
	}
	return input, nil
}

func (env *environment) consoleFunc(console *Console, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = env.format(arg)
		}
		// A refused line has already terminated the run.
		_ = console.Append(level, args)
		return goja.Undefined()
	}
}

// format stringifies one console argument. It never panics and never throws
// into caller code.
func (env *environment) format(v goja.Value) (s string) {
	defer func() {
		if recover() != nil {
			s = "[object]"
		}
	}()

	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFunc := goja.AssertFunction(v); isFunc {
		if name, _ := stringProp(obj, "name"); name != "" {
			return "[Function: " + name + "]"
		}
		return "[Function (anonymous)]"
	}
	if obj.ClassName() == "Error" {
		return env.describeError(obj)
	}

	if text, err := env.stringify(env.json, v); err == nil && !goja.IsUndefined(text) {
		return text.String()
	}
	return "[object " + obj.ClassName() + "]"
}

func (env *environment) fetchFunc(fetch FetchFunc) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var rawURL string
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			rawURL = arg.String()
		}
		return env.response(fetch(rawURL, env.method(call.Argument(1))))
	}
}

// method accepts fetch(url, "GET") and fetch(url, { method: "GET" }).
func (env *environment) method(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "GET"
	}
	if obj, ok := v.(*goja.Object); ok {
		m := obj.Get("method")
		if m == nil || goja.IsUndefined(m) || goja.IsNull(m) {
			return "GET"
		}
		return m.String()
	}
	return v.String()
}

func (env *environment) response(resp network.Response) goja.Value {
	obj := env.vm.NewObject()
	_ = obj.Set("ok", resp.OK)
	_ = obj.Set("status", resp.Status)
	_ = obj.Set("statusText", resp.StatusText)
	_ = obj.Set("url", resp.URL)
	_ = obj.Set("text", resp.Text)
	_ = obj.Set("json", env.parseJSON(resp.Text))

	headers := env.vm.NewObject()
	for name, value := range resp.Headers {
		_ = headers.Set(name, value)
	}
	_ = obj.Set("headers", headers)

	if resp.Error != "" {
		_ = obj.Set("error", resp.Error)
	} else {
		_ = obj.Set("error", goja.Null())
	}
	return obj
}

func (env *environment) parseJSON(text string) goja.Value {
	if strings.TrimSpace(text) == "" {
		return goja.Null()
	}
	v, err := env.parse(env.json, env.vm.ToValue(text))
	if err != nil {
		return goja.Null()
	}
	return v
}

// export converts a settled JS value to plain Go data through the
// runtime's own JSON.stringify. undefined, functions and symbols become nil.
func (env *environment) export(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}

	text, err := env.stringify(env.json, v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(text) {
		return nil, nil
	}

	var out any
	if err := sonic.UnmarshalString(text.String(), &out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

// describe renders a thrown value. The value's own error_reason, when it is
// a string, is kept as the reason.
func (env *environment) describe(v goja.Value) (t *Thrown) {
	t = &Thrown{Description: "Uncaught exception"}
	defer func() {
		if recover() != nil {
			t.Description = "Uncaught exception"
		}
	}()

	if v == nil || goja.IsUndefined(v) {
		t.Description = "Uncaught undefined"
		return t
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		t.Description = "Uncaught " + v.String()
		return t
	}

	if reason, ok := stringProp(obj, errorReasonKey); ok {
		t.ErrorReason = reason
	}
	if obj.ClassName() == "Error" {
		t.Description = env.describeError(obj)
		return t
	}
	if text, err := env.stringify(env.json, v); err == nil && !goja.IsUndefined(text) {
		t.Description = "Uncaught " + text.String()
		return t
	}
	t.Description = "Uncaught " + v.String()
	return t
}

// describeError prefers the stack, which starts with "Name: message".
func (env *environment) describeError(obj *goja.Object) string {
	if stack, ok := stringProp(obj, "stack"); ok && stack != "" {
		return strings.TrimRight(stack, "\n")
	}
	name, _ := stringProp(obj, "name")
	msg, _ := stringProp(obj, "message")
	switch {
	case name != "" && msg != "":
		return name + ": " + msg
	case msg != "":
		return msg
	case name != "":
		return name
	}
	return "Error"
}

func stringProp(obj *goja.Object, key string) (string, bool) {
	v := obj.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", false
	}
	s, ok := v.Export().(string)
	return s, ok
}

package module

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
)

// Result is the outcome of dispatching one module event
type Result struct {
	OK      bool   // listener ran without an uncaught exception
	Handled bool   // a listener was registered for the module
	Value   []byte // JSON encoding of the listener's return value
	Err     error  // host-side failure, nil when the script itself failed or succeeded
}

// Registry tracks the module listeners scripts register through the
// `moduleManager` global. It is only touched from the page loop.
type Registry struct {
	mu        sync.RWMutex
	ec        *engine.ExecutionContext
	listeners map[string]goja.Callable
}

// Install creates a registry and binds `moduleManager` on the context
func Install(ec *engine.ExecutionContext) (*Registry, error) {
	rt := ec.Context()
	if rt == nil {
		return nil, engine.ErrInvalidContext
	}

	r := &Registry{
		ec:        ec,
		listeners: make(map[string]goja.Callable),
	}

	manager := rt.NewObject()
	if err := manager.Set("addModuleListener", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0)
		if goja.IsUndefined(name) || goja.IsNull(name) {
			panic(rt.NewTypeError("addModuleListener: module name is required"))
		}
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(rt.NewTypeError("addModuleListener: listener must be a function"))
		}
		r.add(name.String(), fn)
		return goja.Undefined()
	}); err != nil {
		return nil, err
	}
	if err := manager.Set("removeModuleListener", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(r.remove(call.Argument(0).String()))
	}); err != nil {
		return nil, err
	}
	if err := manager.Set("hasModuleListener", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(r.Has(call.Argument(0).String()))
	}); err != nil {
		return nil, err
	}

	if err := rt.Set("moduleManager", manager); err != nil {
		return nil, fmt.Errorf("failed to install moduleManager: %w", err)
	}
	return r, nil
}

func (r *Registry) add(name string, fn goja.Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[name] = fn
}

func (r *Registry) remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.listeners[name]
	delete(r.listeners, name)
	return ok
}

// Has reports whether a listener is registered for name
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.listeners[name]
	return ok
}

// Names returns the registered module names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.listeners))
	for name := range r.listeners {
		names = append(names, name)
	}
	return names
}

// Dispatch delivers an event to the listener for moduleName. The listener is
// called as listener({type, detail}, extra) where detail and extra are the
// decoded JSON payloads. A module with no listener succeeds with a null
// value. Payload and encoding failures are reported through the context's
// exception handler.
func (r *Registry) Dispatch(moduleName, eventType string, event, extra []byte) Result {
	rt := r.ec.Context()
	if rt == nil {
		return Result{Err: engine.ErrInvalidContext}
	}

	r.mu.RLock()
	listener, ok := r.listeners[moduleName]
	r.mu.RUnlock()
	if !ok {
		r.ec.Logger().Debug("module event without listener",
			zap.String("module", moduleName),
			zap.String("type", eventType))
		return Result{OK: true, Value: []byte("null")}
	}

	detail, err := decode(event)
	if err != nil {
		r.ec.ReportError(fmt.Sprintf("invalid event payload for module %s: %v", moduleName, err))
		return Result{Err: err}
	}
	extraVal, err := decode(extra)
	if err != nil {
		r.ec.ReportError(fmt.Sprintf("invalid extra payload for module %s: %v", moduleName, err))
		return Result{Err: err}
	}

	evt := rt.NewObject()
	_ = evt.Set("type", eventType)
	_ = evt.Set("detail", detail)

	val, ok := r.ec.Invoke(listener, goja.Undefined(), evt, rt.ToValue(extraVal))
	if !ok {
		return Result{Handled: true}
	}

	out, err := encode(val)
	if err != nil {
		r.ec.ReportError(fmt.Sprintf("module %s returned an unencodable value: %v", moduleName, err))
		return Result{Handled: true, Err: err}
	}
	return Result{OK: true, Handled: true, Value: out}
}

func decode(payload []byte) (interface{}, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := sonic.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return v, nil
}

func encode(val goja.Value) ([]byte, error) {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return []byte("null"), nil
	}
	exported := val.Export()
	if err := encodable(exported, make(map[uintptr]bool)); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	out, err := sonic.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return out, nil
}

// encodable rejects exported values that have no JSON form. path holds the
// containers on the current branch, so shared references pass and cycles do
// not.
func encodable(v interface{}, path map[uintptr]bool) error {
	switch x := v.(type) {
	case nil:
		return nil
	case *goja.Promise:
		return ErrUnencodable{Type: "Promise"}
	case map[string]interface{}:
		ptr := reflect.ValueOf(x).Pointer()
		if path[ptr] {
			return ErrUnencodable{Type: "cyclic object"}
		}
		path[ptr] = true
		defer delete(path, ptr)
		for _, item := range x {
			if err := encodable(item, path); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		if len(x) == 0 {
			return nil
		}
		ptr := reflect.ValueOf(x).Pointer()
		if path[ptr] {
			return ErrUnencodable{Type: "cyclic array"}
		}
		path[ptr] = true
		defer delete(path, ptr)
		for _, item := range x {
			if err := encodable(item, path); err != nil {
				return err
			}
		}
		return nil
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Func:
		return ErrUnencodable{Type: "function"}
	case reflect.Chan, reflect.UnsafePointer:
		return ErrUnencodable{Type: reflect.TypeOf(v).String()}
	}
	return nil
}

// ErrUnencodable is returned for listener results with no JSON form
type ErrUnencodable struct {
	Type string
}

func (e ErrUnencodable) Error() string {
	return "unsupported value: " + e.Type
}

package runtime

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/motorwasm/motor/engine"
	"github.com/motorwasm/motor/errors"
	"github.com/motorwasm/motor/wasm"
)

// Host is the interface for struct-based host modules. All exported
// methods except Namespace are registered as host functions under the
// namespace, with names converted from PascalCase to snake_case
// (ReadLine -> read_line).
type Host interface {
	// Namespace returns the import module name (e.g. "env").
	Namespace() string
}

// HostRegistry holds host functions before they are bound to a store.
type HostRegistry struct {
	funcs map[string]map[string]registeredFunc
	mu    sync.RWMutex
}

type registeredFunc struct {
	fn  engine.HostFunc
	typ wasm.FuncType
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]registeredFunc),
	}
}

// RegisterFunc derives the WebAssembly signature of fn through reflection
// and registers it under namespace/name. fn's parameters and results must
// be int32, uint32, int64, uint64, float32, or float64; it may lead with
// context.Context and *engine.Caller and end with an error result.
func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseLink, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseLink, "function name cannot be empty")
	}
	ft, hf, err := wrapHostFunc(fn)
	if err != nil {
		return err
	}
	r.put(namespace, name, registeredFunc{typ: ft, fn: hf})
	return nil
}

// Register registers a host function with an explicit type, bypassing
// reflection. The function receives raw values and is responsible for its
// own argument handling.
func (r *HostRegistry) Register(namespace, name string, ft wasm.FuncType, fn engine.HostFunc) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseLink, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseLink, "function name cannot be empty")
	}
	r.put(namespace, name, registeredFunc{typ: ft, fn: fn})
	return nil
}

// RegisterHost registers all exported methods of h under its namespace.
func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseLink, "namespace cannot be empty")
	}
	rv := reflect.ValueOf(h)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		if err := r.RegisterFunc(ns, toSnakeCase(method.Name), rv.Method(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (r *HostRegistry) put(namespace, name string, rf registeredFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs[namespace] == nil {
		r.funcs[namespace] = make(map[string]registeredFunc)
	}
	r.funcs[namespace][name] = rf
}

// bind allocates every registered function in the store and records the
// externs in imports. Names already present in imports are left alone.
func (r *HostRegistry) bind(store *engine.Store, imports engine.Imports) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for namespace, funcs := range r.funcs {
		for name, rf := range funcs {
			if _, ok := imports.Lookup(namespace, name); ok {
				continue
			}
			imports.Add(namespace, name, store.AllocateHostFunc(rf.typ, namespace+"."+name, rf.fn))
		}
	}
}

var (
	ctxType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	callerType = reflect.TypeOf((*engine.Caller)(nil))
	errType    = reflect.TypeOf((*error)(nil)).Elem()
)

func valTypeOf(t reflect.Type) (wasm.ValType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return wasm.ValI32, true
	case reflect.Int64, reflect.Uint64:
		return wasm.ValI64, true
	case reflect.Float32:
		return wasm.ValF32, true
	case reflect.Float64:
		return wasm.ValF64, true
	}
	return 0, false
}

// wrapHostFunc turns a plain Go function into an engine.HostFunc plus its
// derived WebAssembly type.
func wrapHostFunc(fn any) (wasm.FuncType, engine.HostFunc, error) {
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	if rt.Kind() != reflect.Func {
		return wasm.FuncType{}, nil, errors.New(errors.PhaseLink, errors.KindTypeMismatch).
			Detail("handler must be a function, got %s", rt).
			Build()
	}

	numIn := rt.NumIn()
	in := 0
	wantsCtx := in < numIn && rt.In(in) == ctxType
	if wantsCtx {
		in++
	}
	wantsCaller := in < numIn && rt.In(in) == callerType
	if wantsCaller {
		in++
	}

	var ft wasm.FuncType
	firstVal := in
	for ; in < numIn; in++ {
		vt, ok := valTypeOf(rt.In(in))
		if !ok {
			return wasm.FuncType{}, nil, errors.New(errors.PhaseLink, errors.KindTypeMismatch).
				Detail("unsupported parameter type %s", rt.In(in)).
				Build()
		}
		ft.Params = append(ft.Params, vt)
	}

	numOut := rt.NumOut()
	returnsErr := numOut > 0 && rt.Out(numOut-1) == errType
	lastVal := numOut
	if returnsErr {
		lastVal--
	}
	for i := 0; i < lastVal; i++ {
		vt, ok := valTypeOf(rt.Out(i))
		if !ok {
			return wasm.FuncType{}, nil, errors.New(errors.PhaseLink, errors.KindTypeMismatch).
				Detail("unsupported result type %s", rt.Out(i)).
				Build()
		}
		ft.Results = append(ft.Results, vt)
	}
	if len(ft.Results) > 1 {
		return wasm.FuncType{}, nil, errors.Unsupported(errors.PhaseLink, "multiple host results")
	}

	hf := func(ctx context.Context, caller *engine.Caller, args []engine.Value) ([]engine.Value, error) {
		callArgs := make([]reflect.Value, 0, numIn)
		if wantsCtx {
			callArgs = append(callArgs, reflect.ValueOf(ctx))
		}
		if wantsCaller {
			callArgs = append(callArgs, reflect.ValueOf(caller))
		}
		for i, arg := range args {
			callArgs = append(callArgs, toReflectValue(rt.In(firstVal+i), arg))
		}

		out := rv.Call(callArgs)
		if returnsErr {
			if errVal := out[len(out)-1]; !errVal.IsNil() {
				return nil, errVal.Interface().(error)
			}
			out = out[:len(out)-1]
		}
		results := make([]engine.Value, len(out))
		for i, o := range out {
			results[i] = fromReflectValue(o)
		}
		return results, nil
	}
	return ft, hf, nil
}

func toReflectValue(t reflect.Type, v engine.Value) reflect.Value {
	switch t.Kind() {
	case reflect.Int32:
		return reflect.ValueOf(v.I32())
	case reflect.Uint32:
		return reflect.ValueOf(v.U32())
	case reflect.Int64:
		return reflect.ValueOf(v.I64())
	case reflect.Uint64:
		return reflect.ValueOf(v.U64())
	case reflect.Float32:
		return reflect.ValueOf(v.F32())
	default:
		return reflect.ValueOf(v.F64())
	}
}

func fromReflectValue(v reflect.Value) engine.Value {
	switch v.Kind() {
	case reflect.Int32:
		return engine.I32Value(int32(v.Int()))
	case reflect.Uint32:
		return engine.I32Value(int32(uint32(v.Uint())))
	case reflect.Int64:
		return engine.I64Value(v.Int())
	case reflect.Uint64:
		return engine.I64Value(int64(v.Uint()))
	case reflect.Float32:
		return engine.F32Value(float32(v.Float()))
	default:
		return engine.F64Value(v.Float())
	}
}

// toSnakeCase converts PascalCase to snake_case, keeping acronyms
// together: ReadHTTPBody -> read_http_body.
func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if unicode.IsUpper(r) {
			end := i + 1
			for end < len(runes) && unicode.IsUpper(runes[end]) {
				end++
			}
			if end > i+1 && end < len(runes) && unicode.IsLower(runes[end]) {
				end--
			}
			if i > 0 {
				b.WriteByte('_')
			}
			for j := i; j < end; j++ {
				b.WriteRune(unicode.ToLower(runes[j]))
			}
			i = end - 1
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

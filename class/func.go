package class

import (
	"context"
	"fmt"
	"reflect"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/params"
	"github.com/deepnoodle-ai/scriptbind/stack"
	lua "github.com/yuin/gopher-lua"
)

var (
	errorInterface   = reflect.TypeFor[error]()
	contextInterface = reflect.TypeFor[context.Context]()
)

// goFunc wraps an arbitrary Go function for use as a script function.
type goFunc struct {
	fn         reflect.Value
	fnType     reflect.Type
	name       string
	numIn      int // input count, excluding a leading context
	isVariadic bool
	hasContext bool
	hasError   bool
}

// Func wraps the Go function fn as a script function named name.
//
// Arguments are extracted with the params protocol, so every parameter type
// params.Check supports is accepted; a method receives its instance as the
// first parameter. A leading context.Context parameter receives the VM's
// context. A trailing error result is raised when non-nil, and the other
// results are returned to the script in order. Panics other than script
// errors are raised as call errors.
func Func(name string, fn any) lua.LGFunction {
	g := newGoFunc(name, reflect.ValueOf(fn))
	return params.Named(name, g.call)
}

func newGoFunc(name string, fn reflect.Value) *goFunc {
	fnType := fn.Type()
	if fnType.Kind() != reflect.Func {
		panic(fmt.Sprintf("class.Func: expected func, got %s", fnType.Kind()))
	}
	g := &goFunc{
		fn:         fn,
		fnType:     fnType,
		name:       name,
		isVariadic: fnType.IsVariadic(),
	}
	if fnType.NumIn() > 0 && fnType.In(0).Implements(contextInterface) {
		g.hasContext = true
		g.numIn = fnType.NumIn() - 1
	} else {
		g.numIn = fnType.NumIn()
	}
	if fnType.NumOut() > 0 && fnType.Out(fnType.NumOut()-1).Implements(errorInterface) {
		g.hasError = true
	}
	return g
}

func (g *goFunc) call(L *lua.LState) int {
	min, max := g.numIn, g.numIn
	if g.isVariadic {
		min, max = g.numIn-1, -1
	}
	e := params.NewRange(L, g.name, min, max)
	if !e.Process() {
		return params.Raise(L, e.Err())
	}
	guard := stack.Preserve(L)
	args, err := g.buildCallArgs(L)
	if err != nil {
		return params.Raise(L, err)
	}
	guard.Restore()
	results, err := g.invoke(args)
	if err != nil {
		return params.Raise(L, err)
	}
	n, err := g.pushResults(L, results)
	if err != nil {
		return params.Raise(L, err)
	}
	return n
}

func (g *goFunc) buildCallArgs(L *lua.LState) ([]reflect.Value, error) {
	var callArgs []reflect.Value
	start := 0
	if g.hasContext {
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		callArgs = append(callArgs, reflect.ValueOf(ctx))
		start = 1
	}

	fixed := g.numIn
	if g.isVariadic {
		fixed--
	}
	for i := 0; i < fixed; i++ {
		v, err := params.Arg(L, g.name, i+1, g.fnType.In(start+i))
		if err != nil {
			return nil, err
		}
		callArgs = append(callArgs, v)
	}
	if !g.isVariadic {
		return callArgs, nil
	}

	variadicType := g.fnType.In(g.fnType.NumIn() - 1)
	rest := reflect.MakeSlice(variadicType, 0, L.GetTop()-fixed)
	for i := fixed + 1; i <= L.GetTop(); i++ {
		v, err := params.Arg(L, g.name, i, variadicType.Elem())
		if err != nil {
			return nil, err
		}
		rest = reflect.Append(rest, v)
	}
	return append(callArgs, rest), nil
}

func (g *goFunc) invoke(args []reflect.Value) (results []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			// Script errors raised by nested calls keep unwinding.
			if _, ok := r.(*lua.ApiError); ok {
				panic(r)
			}
			err = errz.New(errz.CallFailed, "panic in %s: %v", g.name, r)
		}
	}()
	if g.isVariadic {
		return g.fn.CallSlice(args), nil
	}
	return g.fn.Call(args), nil
}

func (g *goFunc) pushResults(L *lua.LState, results []reflect.Value) (int, error) {
	if g.hasError {
		last := results[len(results)-1]
		if failed(last) {
			return 0, errz.Wrap(errz.CallFailed, last.Interface().(error), "%s()", g.name)
		}
		results = results[:len(results)-1]
	}
	for i, rv := range results {
		if err := params.PushValue(L, rv); err != nil {
			return 0, errz.Wrap(errz.CallFailed, err, "%s(): return value %d", g.name, i+1)
		}
	}
	return len(results), nil
}

// failed reports whether the trailing error result v holds an error. Error
// types that cannot be nil always do.
func failed(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return !v.IsNil()
	default:
		return true
	}
}

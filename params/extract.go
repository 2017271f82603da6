// Package params implements the parameter extraction protocol of bound
// native functions: arity validation, typed extraction of each argument from
// the VM stack, and the reverse conversion of native results.
//
// A bound function validates and unpacks its arguments before doing any
// work:
//
//	func pointAdd(L *lua.LState) int {
//		args, err := params.Extract2[*Point, *Point](L, "Point.add")
//		if err != nil {
//			return params.Raise(L, err)
//		}
//		...
//	}
//
// Arity counts every stack slot, including an implicit self. Extraction
// stops at the first failing parameter.
package params

import (
	"fmt"
	"reflect"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/internal/vmstate"
	"github.com/deepnoodle-ai/scriptbind/userdata"
	lua "github.com/yuin/gopher-lua"
)

// Skip is a placeholder parameter type that accepts any value. It lines up
// positional arguments the native function does not need, such as self.
type Skip struct{}

// Extractor validates and extracts the arguments of one bound call.
type Extractor struct {
	L   *lua.LState
	fn  string
	min int
	max int
	err error
}

// New returns an extractor for a function taking exactly n arguments. An
// empty fn names the innermost function bound with Named.
func New(L *lua.LState, fn string, n int) *Extractor {
	return NewRange(L, fn, n, n)
}

// NewRange returns an extractor for a function taking between min and max
// arguments. A negative max means no upper bound.
func NewRange(L *lua.LState, fn string, min, max int) *Extractor {
	if fn == "" {
		fn = FuncName(L)
	}
	return &Extractor{L: L, fn: fn, min: min, max: max}
}

// Process checks the argument count. On a mismatch it records an
// errz.ArgCount error and returns false.
func (e *Extractor) Process() bool {
	if e.err != nil {
		return false
	}
	n := e.L.GetTop()
	if n < e.min || (e.max >= 0 && n > e.max) {
		e.err = errz.NewArgsRangeError(e.fn, e.min, e.max, n)
		return false
	}
	return true
}

// Err returns the first error recorded by Process, Get or Opt.
func (e *Extractor) Err() error {
	return e.err
}

// Func returns the function name used in error messages.
func (e *Extractor) Func() string {
	return e.fn
}

// NArgs returns the number of arguments on the stack.
func (e *Extractor) NArgs() int {
	return e.L.GetTop()
}

// Get extracts the argument at 1-based stack index idx as a T. Once any
// extraction has failed, Get returns the zero value without looking at the
// stack.
func Get[T any](e *Extractor, idx int) T {
	var zero T
	if e.err != nil {
		return zero
	}
	typ := reflect.TypeFor[T]()
	lv := e.L.Get(idx)
	v, err := Check(lv, typ)
	if err != nil {
		e.err = paramError(e.fn, idx, typ, lv, err)
		return zero
	}
	return v.Interface().(T)
}

// Arg is the reflective form of Get. It extracts the argument at idx of the
// function fn as a typ.
func Arg(L *lua.LState, fn string, idx int, typ reflect.Type) (reflect.Value, error) {
	lv := L.Get(idx)
	v, err := Check(lv, typ)
	if err != nil {
		return reflect.Value{}, paramError(fn, idx, typ, lv, err)
	}
	return v, nil
}

// Opt is like Get but returns def when the argument is absent or nil.
func Opt[T any](e *Extractor, idx int, def T) T {
	if e.err != nil {
		return def
	}
	if idx > e.L.GetTop() || e.L.Get(idx) == lua.LNil {
		return def
	}
	return Get[T](e, idx)
}

// Raise surfaces err as a script error. It does not return normally; the
// int result lets bound functions write `return params.Raise(L, err)`.
func Raise(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

func paramError(fn string, idx int, typ reflect.Type, lv lua.LValue, err error) error {
	if e, ok := err.(*errz.Error); ok && e.Kind != errz.ArgType {
		return &errz.Error{
			Kind:    e.Kind,
			Func:    fn,
			Index:   idx,
			Message: fmt.Sprintf("%s() parameter %d: %s", fn, idx, e.Message),
		}
	}
	return errz.NewArgTypeError(fn, idx, Expected(typ), userdata.Describe(lv))
}

type frames struct {
	names []string
}

func framesOf(L *lua.LState) *frames {
	return vmstate.Load(L, "params.frames", func() *frames { return &frames{} })
}

// Named wraps fn so that, while it runs, FuncName reports name. Extractors
// created with an empty function name use it in their errors.
func Named(name string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		f := framesOf(L)
		f.names = append(f.names, name)
		defer func() { f.names = f.names[:len(f.names)-1] }()
		return fn(L)
	}
}

// FuncName returns the name of the innermost running function wrapped with
// Named, or "?".
func FuncName(L *lua.LState) string {
	f := framesOf(L)
	if len(f.names) == 0 {
		return "?"
	}
	return f.names[len(f.names)-1]
}

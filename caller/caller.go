// Package caller implements calls from native code into script functions.
//
// A Caller is bound to an environment, the global namespace or a script
// object, and drives one call at a time:
//
//	c := caller.New(L)
//	if c.SetupFunc("transform") {
//		c.PushInt(42)
//		if c.CallRaw() {
//			n, ok := caller.Int(c)
//			...
//		}
//	}
//	c.Finish()
//
// Every failure on the way is recoverable: SetupFunc and CallRaw report it
// as false and Err describes it. Finish unwinds the stack to its depth
// before SetupFunc; a Caller must be finished before it prepares another
// call.
package caller

import (
	"reflect"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/internal/assert"
	"github.com/deepnoodle-ai/scriptbind/internal/vmstate"
	"github.com/deepnoodle-ai/scriptbind/params"
	"github.com/deepnoodle-ai/scriptbind/stack"
	"github.com/deepnoodle-ai/scriptbind/userdata"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Caller is a call handle on a script environment.
type Caller struct {
	L    *lua.LState
	env  lua.LValue
	self lua.LValue

	guard    *stack.Guard
	name     string
	prepared bool
	called   bool
	ok       bool
	err      error
	log      *zerolog.Logger
}

// New returns a Caller for functions of the global namespace.
func New(L *lua.LState) *Caller {
	return &Caller{L: L, env: L.G.Global, log: vmstate.Logger(L)}
}

// NewMethod returns a Caller for methods of obj. The object is passed as the
// first argument of every call.
func NewMethod(L *lua.LState, obj lua.LValue) *Caller {
	return &Caller{L: L, env: obj, self: obj, log: vmstate.Logger(L)}
}

// lookup reads a field of a value, going through its metatable.
func lookup(L *lua.LState) int {
	L.Push(L.GetField(L.Get(1), L.CheckString(2)))
	return 1
}

func lookupFunc(L *lua.LState) *lua.LFunction {
	return *vmstate.Load(L, "caller.lookup", func() **lua.LFunction {
		fn := L.NewFunction(lookup)
		return &fn
	})
}

// SetupFunc looks up the callable name in the environment and prepares a
// call to it. It returns false, leaving the stack as it was, when the name
// is absent or not callable. Preparing a call while another one is not
// finished is a programming error.
func (c *Caller) SetupFunc(name string) bool {
	assert.That(!c.prepared, errz.Internal,
		"caller: SetupFunc(%q) while a call to %q is not finished", name, c.name)

	c.guard = stack.PreserveNoCheck(c.L)
	c.name = name
	c.called, c.ok, c.err = false, false, nil

	// The environment may resolve names through a raising __index.
	c.L.Push(lookupFunc(c.L))
	c.L.Push(c.env)
	c.L.Push(lua.LString(name))
	if err := c.L.PCall(2, 1, nil); err != nil {
		return c.setupFailed(errz.Wrap(errz.CallFailed, err, "looking up %s", name))
	}
	fn := c.L.Get(-1)
	if !callable(c.L, fn) {
		return c.setupFailed(errz.New(errz.CallFailed, "%s is not callable (%s)", name, userdata.Describe(fn)))
	}
	if c.self != nil {
		c.L.Push(c.self)
	}
	c.prepared = true
	return true
}

func (c *Caller) setupFailed(err error) bool {
	c.err = err
	c.guard.Restore()
	c.guard = nil
	c.log.Debug().Err(err).Str("func", c.name).Msg("call setup failed")
	return false
}

func callable(L *lua.LState, v lua.LValue) bool {
	if _, ok := v.(*lua.LFunction); ok {
		return true
	}
	if v == lua.LNil {
		return false
	}
	_, ok := L.GetMetaField(v, "__call").(*lua.LFunction)
	return ok
}

func (c *Caller) mustBePrepared(op string) {
	assert.That(c.prepared && !c.called, errz.Internal, "caller: %s without a prepared call", op)
}

// PushInt pushes an integer argument.
func (c *Caller) PushInt(n int64) {
	c.mustBePrepared("PushInt")
	c.L.Push(lua.LNumber(n))
}

// PushFloat pushes a number argument.
func (c *Caller) PushFloat(f float64) {
	c.mustBePrepared("PushFloat")
	c.L.Push(lua.LNumber(f))
}

// PushBool pushes a boolean argument.
func (c *Caller) PushBool(b bool) {
	c.mustBePrepared("PushBool")
	c.L.Push(lua.LBool(b))
}

// PushString pushes a string argument.
func (c *Caller) PushString(s string) {
	c.mustBePrepared("PushString")
	c.L.Push(lua.LString(s))
}

// PushValue pushes a script value as is.
func (c *Caller) PushValue(v lua.LValue) {
	c.mustBePrepared("PushValue")
	c.L.Push(v)
}

// PushObject pushes a pointer to a registered type as a non-owned instance.
// A nil pointer is pushed as nil.
func (c *Caller) PushObject(ptr any) error {
	c.mustBePrepared("PushObject")
	v := reflect.ValueOf(ptr)
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		c.L.Push(lua.LNil)
		return nil
	}
	if v.Kind() != reflect.Pointer {
		return errz.New(errz.UnknownType, "caller: PushObject needs a pointer (%s given)", v.Type())
	}
	ud, err := userdata.NewRefValue(c.L, v, nil)
	if err != nil {
		return err
	}
	c.L.Push(ud)
	return nil
}

// Push pushes any value params.Push supports. On failure nothing is pushed.
func (c *Caller) Push(v any) error {
	c.mustBePrepared("Push")
	return params.Push(c.L, v)
}

// CallRaw calls the prepared function with the arguments pushed since
// SetupFunc. It returns false when the script raised an error; the error is
// then available from Err and nothing is left on the stack.
func (c *Caller) CallRaw() bool {
	c.mustBePrepared("CallRaw")
	c.called = true
	nargs := c.L.GetTop() - c.guard.Depth() - 1
	if err := c.L.PCall(nargs, 1, nil); err != nil {
		c.err = errz.Wrap(errz.CallFailed, err, "calling %s", c.name)
		c.log.Warn().Err(err).Str("func", c.name).Int("nargs", nargs).Msg("script call failed")
		return false
	}
	c.ok = true
	return true
}

// Err returns the error of the last failed SetupFunc or CallRaw.
func (c *Caller) Err() error {
	return c.err
}

// Finish unwinds the stack to its depth before SetupFunc. It may be called
// at any point and more than once.
func (c *Caller) Finish() {
	if c.guard != nil {
		c.guard.Restore()
		c.guard = nil
	}
	c.prepared, c.called, c.ok = false, false, false
}

// result returns the value returned by a successful CallRaw.
func (c *Caller) result() (lua.LValue, bool) {
	if !c.ok {
		return lua.LNil, false
	}
	return c.L.Get(c.guard.Depth() + 1), true
}

// CallByName calls the named function with args and discards its result.
// The stack is left at its depth before the call.
func (c *Caller) CallByName(name string, args ...any) bool {
	defer c.Finish()
	return c.call(name, args)
}

func (c *Caller) call(name string, args []any) bool {
	if !c.SetupFunc(name) {
		return false
	}
	for i, arg := range args {
		if err := c.Push(arg); err != nil {
			c.err = errz.Wrap(errz.CallFailed, err, "%s: argument %d", name, i+1)
			return false
		}
	}
	return c.CallRaw()
}

// Call calls the named function with args and extracts its result as a T.
// The stack is left at its depth before the call.
func Call[T any](c *Caller, name string, args ...any) (T, error) {
	defer c.Finish()
	var zero T
	if !c.call(name, args) {
		return zero, c.err
	}
	lv, _ := c.result()
	v, err := params.Check(lv, reflect.TypeFor[T]())
	if err != nil {
		return zero, resultError(name, reflect.TypeFor[T](), lv, err)
	}
	return v.Interface().(T), nil
}

func resultError(name string, typ reflect.Type, lv lua.LValue, err error) error {
	if errz.IsKind(err, errz.ArgType) {
		return errz.New(errz.ArgType, "result of %s: expected %s (%s given)",
			name, params.Expected(typ), userdata.Describe(lv))
	}
	return errz.Wrap(errz.CallFailed, err, "result of %s", name)
}

// Package scriptbind embeds a script VM together with the native type
// bindings of this module.
//
// A Runtime owns one VM. Native types are registered once per process with
// the typeinfo package and declared per VM with the class package, usually
// through a module passed to WithModule:
//
//	rt, err := scriptbind.New(scriptbind.WithModule(geom.Bind))
//	if err != nil {
//		return err
//	}
//	defer rt.Close()
//	v, err := rt.Eval(`return Point(3, 4):len()`)
//
// A Runtime and the VM it owns must only be used from one goroutine at a
// time.
package scriptbind

import (
	"context"
	"maps"
	"reflect"
	"slices"

	"github.com/deepnoodle-ai/scriptbind/caller"
	"github.com/deepnoodle-ai/scriptbind/class"
	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/internal/vmstate"
	"github.com/deepnoodle-ai/scriptbind/params"
	"github.com/deepnoodle-ai/scriptbind/stack"
	"github.com/deepnoodle-ai/scriptbind/userdata"
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Runtime is a script VM with native bindings.
type Runtime struct {
	id     uuid.UUID
	L      *lua.LState
	log    zerolog.Logger
	closed bool
}

// New creates a runtime configured by opts. Globals are set and modules
// bound before New returns; the first failure closes the VM and is returned.
func New(opts ...Option) (*Runtime, error) {
	cfg := collectOptions(opts...)
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  cfg.skipStdlib,
		CallStackSize: cfg.callStackSize,
		RegistrySize:  cfg.registrySize,
	})
	if cfg.ctx != nil {
		L.SetContext(cfg.ctx)
	}
	r := &Runtime{
		id:  id,
		L:   L,
		log: cfg.logger.With().Str("runtime_id", id.String()).Logger(),
	}
	vmstate.SetLogger(L, r.log)

	for _, bind := range cfg.modules {
		if err := bind(L); err != nil {
			L.Close()
			return nil, err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(cfg.globals)) {
		if err := r.SetGlobal(name, cfg.globals[name]); err != nil {
			L.Close()
			return nil, err
		}
	}
	r.log.Info().
		Int("classes", len(class.Classes(L))).
		Int("globals", len(cfg.globals)).
		Msg("runtime started")
	return r, nil
}

// ID returns the unique identifier of the runtime, included in its logs.
func (r *Runtime) ID() string {
	return r.id.String()
}

// State returns the VM of the runtime.
func (r *Runtime) State() *lua.LState {
	return r.L
}

// Logger returns the logger of the runtime.
func (r *Runtime) Logger() *zerolog.Logger {
	return &r.log
}

// DoString runs a script.
func (r *Runtime) DoString(src string) error {
	g := stack.PreserveNoCheck(r.L)
	defer g.Restore()
	return r.L.DoString(src)
}

// DoFile runs a script file.
func (r *Runtime) DoFile(path string) error {
	g := stack.PreserveNoCheck(r.L)
	defer g.Restore()
	return r.L.DoFile(path)
}

// Eval runs a script and returns its first result converted with
// params.ToGo, or nil when it returns nothing.
func (r *Runtime) Eval(src string) (any, error) {
	lv, err := r.EvalValue(src)
	if err != nil {
		return nil, err
	}
	return params.ToGo(lv), nil
}

// EvalValue runs a script and returns its first result as a script value.
func (r *Runtime) EvalValue(src string) (lua.LValue, error) {
	g := stack.PreserveNoCheck(r.L)
	defer g.Restore()
	if err := r.L.DoString(src); err != nil {
		return lua.LNil, err
	}
	if r.L.GetTop() == g.Depth() {
		return lua.LNil, nil
	}
	return r.L.Get(g.Depth() + 1), nil
}

// SetGlobal sets the global variable name. Go functions are bound with
// class.Func and lua.LGFunction values as they are; other values are
// converted with params.ToLua.
func (r *Runtime) SetGlobal(name string, value any) error {
	var lv lua.LValue
	switch v := value.(type) {
	case lua.LGFunction:
		lv = r.L.NewFunction(params.Named(name, v))
	case func(*lua.LState) int:
		lv = r.L.NewFunction(params.Named(name, v))
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Func {
			lv = r.L.NewFunction(class.Func(name, value))
			break
		}
		var err error
		if lv, err = params.ToLua(r.L, rv); err != nil {
			return errz.Wrap(errz.Registration, err, "global %s", name)
		}
	}
	r.L.SetGlobal(name, lv)
	return nil
}

// Func binds the Go function fn as the global function name. See class.Func.
func (r *Runtime) Func(name string, fn any) {
	r.L.SetGlobal(name, r.L.NewFunction(class.Func(name, fn)))
}

// Caller returns a Caller for global script functions.
func (r *Runtime) Caller() *caller.Caller {
	return caller.New(r.L)
}

// Call calls the global script function name and extracts its result as a T.
func Call[T any](r *Runtime, name string, args ...any) (T, error) {
	return caller.Call[T](r.Caller(), name, args...)
}

// Validate reports inconsistencies of the classes declared in the runtime.
func (r *Runtime) Validate() error {
	return class.Validate(r.L)
}

// Context returns the context of the VM.
func (r *Runtime) Context() context.Context {
	if ctx := r.L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Close releases every inline instance still alive, running each release
// hook exactly once, and closes the VM. Release failures are aggregated.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var result *multierror.Error
	live := userdata.Live(r.L)
	if err := userdata.Collect(r.L); err != nil {
		result = multierror.Append(result, err)
	}
	r.L.Close()
	r.log.Info().Int("released", live).Msg("runtime closed")
	return result.ErrorOrNil()
}

package userdata

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/internal/assert"
	"github.com/deepnoodle-ai/scriptbind/internal/vmstate"
	"github.com/deepnoodle-ai/scriptbind/typeinfo"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Destroyer is implemented by native types that need cleanup when an inline
// instance is released.
type Destroyer interface {
	Destroy()
}

// destructors maps a registered struct type to its release function.
var destructors sync.Map // reflect.Type -> func(reflect.Value)

// SetDestructor installs the release function run for inline instances of
// T. It takes precedence over a Destroy method on *T.
func SetDestructor[T any](fn func(*T)) {
	destructors.Store(reflect.TypeFor[T](), func(p reflect.Value) {
		fn(p.Interface().(*T))
	})
}

type state struct {
	metatables map[typeinfo.Tag]*lua.LTable
	heap       *heap
}

func stateOf(L *lua.LState) *state {
	return vmstate.Load(L, "userdata", func() *state {
		return &state{
			metatables: map[typeinfo.Tag]*lua.LTable{},
			heap: &heap{
				live: map[*Instance]struct{}{},
				log:  vmstate.Logger(L),
			},
		}
	})
}

// heap tracks the live inline instances of one VM. Release hooks may run on
// the garbage collector's cleanup goroutine, hence the lock.
type heap struct {
	mu   sync.Mutex
	live map[*Instance]struct{}
	log  *zerolog.Logger
}

func (h *heap) add(inst *Instance) {
	h.mu.Lock()
	h.live[inst] = struct{}{}
	h.mu.Unlock()
}

func (h *heap) remove(inst *Instance) {
	h.mu.Lock()
	delete(h.live, inst)
	h.mu.Unlock()
}

func (h *heap) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// collected is the cleanup attached to inline userdata.
func (h *heap) collected(inst *Instance) {
	if err := h.release(inst); err != nil {
		h.log.Error().Err(err).Str("class", inst.info.Name).Msg("release hook failed")
	}
}

// release runs the native destructor of an inline instance. Only the first
// call for a given instance has an effect.
func (h *heap) release(inst *Instance) (err error) {
	if inst.mode != Inline {
		assert.Fail(errz.Internal, "release hook invoked on %s instance", inst)
	}
	if !inst.released.CompareAndSwap(false, true) {
		return nil
	}
	inst.life.End()
	h.remove(inst)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("destructor of %s panicked: %v", inst.info.Name, r)
		}
	}()
	if fn, ok := destructors.Load(inst.info.Type); ok {
		fn.(func(reflect.Value))(inst.ptr)
	} else if d, ok := inst.ptr.Interface().(Destroyer); ok {
		d.Destroy()
	}
	return nil
}

// Release runs the release hook of the inline instance carried by lv
// immediately. Later collection of lv is then a no-op.
func Release(L *lua.LState, lv lua.LValue) error {
	inst, ok := InstanceOf(lv)
	if !ok {
		return errz.New(errz.UnknownType, "cannot release %s", lv.Type())
	}
	if inst.mode != Inline {
		return errz.New(errz.UnknownType, "cannot release %s", inst)
	}
	return stateOf(L).heap.release(inst)
}

// Collect releases every live inline instance of the VM, as the VM does when
// it shuts down. Destructor failures are aggregated.
func Collect(L *lua.LState) error {
	h := stateOf(L).heap
	h.mu.Lock()
	live := make([]*Instance, 0, len(h.live))
	for inst := range h.live {
		live = append(live, inst)
	}
	h.mu.Unlock()

	var result *multierror.Error
	for _, inst := range live {
		if err := h.release(inst); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Live returns the number of inline instances not yet released.
func Live(L *lua.LState) int {
	return stateOf(L).heap.len()
}

// RegisterMetatable records the instance metatable of a class in the VM.
// Instances of a type can only be created once its class is declared.
func RegisterMetatable(L *lua.LState, info *typeinfo.Info, mt *lua.LTable) {
	stateOf(L).metatables[info.Tag] = mt
}

// Metatable returns the instance metatable of info's class in the VM.
func Metatable(L *lua.LState, info *typeinfo.Info) (*lua.LTable, bool) {
	mt, ok := stateOf(L).metatables[info.Tag]
	return mt, ok
}

func newUserData(L *lua.LState, info *typeinfo.Info) (*lua.LUserData, *Instance, error) {
	mt, ok := Metatable(L, info)
	if !ok {
		return nil, nil, errz.New(errz.Registration, "class %s is not declared in this VM", info.Name)
	}
	inst := &Instance{info: info}
	ud := L.NewUserData()
	ud.Value = inst
	ud.Metatable = mt
	return ud, inst, nil
}

// NewUnset creates an instance of info's class with no payload. Its
// constructor is expected to initialise it with Setup.
func NewUnset(L *lua.LState, info *typeinfo.Info) (*lua.LUserData, error) {
	ud, _, err := newUserData(L, info)
	return ud, err
}

// Setup is SetupUserPointer: it initialises the uninitialised instance at
// stack index idx as a T in the given mode.
//
// With Inline, storage for a T is allocated (copied from ref when ref is not
// nil), owned by the instance and released through the release hook. With
// NonOwnedPointer, ref becomes the referent and must not be nil.
//
// A value at idx that is not an instance of T's class exactly fails with
// errz.UnknownType.
func Setup[T any](L *lua.LState, idx int, mode Mode, ref *T) (*T, error) {
	info, ok := typeinfo.Of[T]()
	if !ok {
		return nil, errz.New(errz.UnknownType, "%s is not a registered type", reflect.TypeFor[T]())
	}
	lv := L.Get(idx)
	ud, _ := lv.(*lua.LUserData)
	inst, ok := InstanceOf(lv)
	if !ok || inst.info != info {
		return nil, errz.New(errz.UnknownType,
			"expected %s instance at stack index %d (%s given)", info.Name, idx, Describe(lv))
	}
	if inst.mode != Unset {
		return nil, errz.New(errz.Registration, "%s is already initialised", inst)
	}
	switch mode {
	case Inline:
		p := new(T)
		if ref != nil {
			*p = *ref
		}
		setInline(L, ud, inst, reflect.ValueOf(p))
		return p, nil
	case NonOwnedPointer:
		if ref == nil {
			return nil, errz.New(errz.NullPointer, "cannot wrap a nil *%s", info.Name)
		}
		inst.mode = NonOwnedPointer
		inst.ptr = reflect.ValueOf(ref)
		return ref, nil
	default:
		return nil, errz.New(errz.Registration, "cannot set up %s instance in %s mode", info.Name, mode)
	}
}

func setInline(L *lua.LState, ud *lua.LUserData, inst *Instance, ptr reflect.Value) {
	inst.mode = Inline
	inst.ptr = ptr
	inst.life = NewLifetime()
	h := stateOf(L).heap
	h.add(inst)
	runtime.AddCleanup(ud, h.collected, inst)
}

// NewInline creates an inline instance holding a copy of v.
func NewInline[T any](L *lua.LState, v T) (*lua.LUserData, error) {
	return NewInlineValue(L, reflect.ValueOf(&v).Elem())
}

// NewInlineValue creates an inline instance holding a copy of v, a value of
// a registered struct type.
func NewInlineValue(L *lua.LState, v reflect.Value) (*lua.LUserData, error) {
	info, ok := typeinfo.OfType(v.Type())
	if !ok {
		return nil, errz.New(errz.UnknownType, "%s is not a registered type", v.Type())
	}
	ud, inst, err := newUserData(L, info)
	if err != nil {
		return nil, err
	}
	p := reflect.New(info.Type)
	p.Elem().Set(v)
	setInline(L, ud, inst, p)
	return ud, nil
}

// NewRef wraps p as a non-owned instance. life may be nil when the owner
// guarantees p outlives every script handle.
func NewRef[T any](L *lua.LState, p *T, life *Lifetime) (*lua.LUserData, error) {
	return NewRefValue(L, reflect.ValueOf(p), life)
}

// NewRefValue is the reflective form of NewRef; p must be a pointer to a
// registered struct type.
func NewRefValue(L *lua.LState, p reflect.Value, life *Lifetime) (*lua.LUserData, error) {
	if p.Kind() != reflect.Pointer {
		return nil, errz.New(errz.UnknownType, "cannot wrap %s: not a pointer", p.Type())
	}
	info, ok := typeinfo.OfType(p.Type().Elem())
	if !ok {
		return nil, errz.New(errz.UnknownType, "%s is not a registered type", p.Type().Elem())
	}
	if p.IsNil() {
		return nil, errz.New(errz.NullPointer, "cannot wrap a nil *%s", info.Name)
	}
	ud, inst, err := newUserData(L, info)
	if err != nil {
		return nil, err
	}
	inst.mode = NonOwnedPointer
	inst.ptr = p
	inst.life = life
	return ud, nil
}

// PushInline pushes a new inline instance holding a copy of v.
func PushInline[T any](L *lua.LState, v T) error {
	ud, err := NewInline(L, v)
	if err != nil {
		return err
	}
	L.Push(ud)
	return nil
}

// PushRef pushes p as a non-owned instance.
func PushRef[T any](L *lua.LState, p *T, life *Lifetime) error {
	ud, err := NewRef(L, p, life)
	if err != nil {
		return err
	}
	L.Push(ud)
	return nil
}

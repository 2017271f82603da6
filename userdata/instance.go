// Package userdata implements the typed storage behind every script-visible
// native instance.
//
// A script instance is a *lua.LUserData whose Value is an *Instance. The
// instance carries the type tag of its class and an allocation mode:
//
//   - Inline instances own their native value. The VM decides its lifetime:
//     the release hook runs the native destructor exactly once, when the
//     userdata is garbage collected or when the VM is collected with Collect.
//   - NonOwnedPointer instances reference native memory owned elsewhere. The
//     native owner must outlive every script handle; an optional Lifetime
//     lets the owner revoke all handles so that later access reports an
//     error instead of touching a dead object.
package userdata

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/typeinfo"
	lua "github.com/yuin/gopher-lua"
)

// Mode is the allocation mode of an instance.
type Mode uint8

const (
	// Unset marks an instance whose constructor has not run yet.
	Unset Mode = iota
	// Inline instances own their native value.
	Inline
	// NonOwnedPointer instances reference externally owned native memory.
	NonOwnedPointer
)

func (m Mode) String() string {
	switch m {
	case Unset:
		return "unset"
	case Inline:
		return "inline"
	case NonOwnedPointer:
		return "non-owned pointer"
	default:
		return fmt.Sprintf("mode(%d)", m)
	}
}

// Lifetime is a liveness token held by the native owner of objects exposed
// as non-owned pointers. Ending it invalidates every script handle created
// with it. A nil *Lifetime is always alive.
type Lifetime struct {
	ended atomic.Bool
}

// NewLifetime returns a live token.
func NewLifetime() *Lifetime {
	return &Lifetime{}
}

// End marks the owner as gone.
func (l *Lifetime) End() {
	l.ended.Store(true)
}

// Alive reports whether End has not been called.
func (l *Lifetime) Alive() bool {
	return l == nil || !l.ended.Load()
}

// Instance is the payload of a script-visible native object.
type Instance struct {
	info     *typeinfo.Info
	mode     Mode
	ptr      reflect.Value // pointer to info.Type
	life     *Lifetime
	released atomic.Bool
}

// Info returns the registration of the instance's class.
func (i *Instance) Info() *typeinfo.Info {
	return i.info
}

// Mode returns the allocation mode.
func (i *Instance) Mode() Mode {
	return i.mode
}

// Lifetime returns the liveness token of the instance. An inline instance's
// token ends when it is released, so references into its value expire with
// it. Non-owned instances return the token they were created with, or nil.
func (i *Instance) Lifetime() *Lifetime {
	return i.life
}

// Pointer returns the pointer to the native value. It fails for instances
// that were never initialised, have been released, or whose owner ended
// their lifetime.
func (i *Instance) Pointer() (reflect.Value, error) {
	switch i.mode {
	case Inline:
		if i.released.Load() {
			return reflect.Value{}, errz.New(errz.Expired, "%s instance has been released", i.info.Name)
		}
	case NonOwnedPointer:
		if !i.life.Alive() {
			return reflect.Value{}, errz.New(errz.Expired, "%s instance refers to an object that no longer exists", i.info.Name)
		}
	default:
		return reflect.Value{}, errz.New(errz.NullPointer, "%s instance is not initialised", i.info.Name)
	}
	return i.ptr, nil
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s(%s)", i.info.Name, i.mode)
}

// InstanceOf returns the instance carried by lv, if any.
func InstanceOf(lv lua.LValue) (*Instance, bool) {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	inst, ok := ud.Value.(*Instance)
	return inst, ok
}

// Describe names the script type of lv for error messages: the class name
// for native instances, the VM type name otherwise.
func Describe(lv lua.LValue) string {
	if inst, ok := InstanceOf(lv); ok {
		return inst.info.Name
	}
	return lv.Type().String()
}

// To extracts a *T from the value at stack index idx. See FromValue.
func To[T any](L *lua.LState, idx int) (*T, error) {
	return FromValue[T](L.Get(idx))
}

// FromValue performs the checked downcast of a script value to *T. It
// succeeds only when lv is an instance whose class is T or derives from T;
// the returned pointer then refers to the T part of the native value.
func FromValue[T any](lv lua.LValue) (*T, error) {
	v, err := FromValueType(lv, reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return v.Interface().(*T), nil
}

// FromValueType is the reflective form of FromValue. typ is the registered
// struct type; the result is a pointer to it.
func FromValueType(lv lua.LValue, typ reflect.Type) (reflect.Value, error) {
	target, ok := typeinfo.OfType(typ)
	if !ok {
		return reflect.Value{}, errz.New(errz.UnknownType, "%s is not a registered type", typ)
	}
	inst, ok := InstanceOf(lv)
	if !ok {
		return reflect.Value{}, errz.New(errz.UnknownType,
			"expected %s instance (%s given)", target.Name, lv.Type())
	}
	if !inst.info.IsA(target) {
		return reflect.Value{}, errz.New(errz.UnknownType,
			"expected %s instance (%s given)", target.Name, inst.info.Name)
	}
	ptr, err := inst.Pointer()
	if err != nil {
		return reflect.Value{}, err
	}
	up, _ := inst.info.Upcast(ptr, target)
	return up, nil
}

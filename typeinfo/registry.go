// Package typeinfo maps native Go types to the unique runtime tags that
// identify them at the VM boundary.
//
// Every struct type exposed to scripts is registered exactly once, normally
// from an init() function:
//
//	func init() {
//		typeinfo.MustRegister[Shape]("Shape")
//		typeinfo.MustRegister[Point]("Point", typeinfo.WithBase[Shape]())
//	}
//
// The registry is process-wide and append-only. Types must be registered
// before any instance of them is created or referenced by another type's
// bindings.
package typeinfo

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/deepnoodle-ai/scriptbind/errz"
)

// Tag is the process-wide unique identifier of a registered type. The zero
// Tag is never assigned.
type Tag uint32

// Info describes a registered type.
type Info struct {
	Tag  Tag
	Name string
	// Type is the registered struct type (not a pointer to it).
	Type reflect.Type
	// Base is the declared base type, or nil.
	Base *Info

	// baseField is the index path of the embedded Base field within Type.
	baseField []int
}

func (i *Info) String() string {
	return i.Name
}

// IsA reports whether i is other or declares other as an ancestor. Only the
// explicit base links are followed.
func (i *Info) IsA(other *Info) bool {
	for cur := i; cur != nil; cur = cur.Base {
		if cur == other {
			return true
		}
	}
	return false
}

// Chain returns i followed by each of its ancestors, nearest first.
func (i *Info) Chain() []*Info {
	var chain []*Info
	for cur := i; cur != nil; cur = cur.Base {
		chain = append(chain, cur)
	}
	return chain
}

// Upcast converts ptr, a pointer to i's type, into a pointer to target's type
// by following the embedded base fields. It fails when target is not an
// ancestor of i.
func (i *Info) Upcast(ptr reflect.Value, target *Info) (reflect.Value, bool) {
	v := ptr
	for cur := i; cur != nil; cur = cur.Base {
		if cur == target {
			return v, true
		}
		if cur.Base == nil {
			break
		}
		v = v.Elem().FieldByIndex(cur.baseField).Addr()
	}
	return reflect.Value{}, false
}

// Option configures a registration.
type Option func(*options)

type options struct {
	base reflect.Type
}

// WithBase declares B as the base class of the type being registered. B must
// already be registered and must be embedded in the derived struct.
func WithBase[B any]() Option {
	return func(o *options) {
		o.base = reflect.TypeFor[B]()
	}
}

var (
	mu      sync.RWMutex
	lastTag atomic.Uint32
	byType  = map[reflect.Type]*Info{}
	byTag   = map[Tag]*Info{}
	byName  = map[string]*Info{}
)

// Register binds struct type T to a fresh tag under the given display name.
// Registering the same type again with the same name and base returns the
// existing Info; any other re-registration is an error.
func Register[T any](name string, opts ...Option) (*Info, error) {
	return RegisterType(reflect.TypeFor[T](), name, opts...)
}

// MustRegister is like Register but panics on error.
func MustRegister[T any](name string, opts ...Option) *Info {
	info, err := Register[T](name, opts...)
	if err != nil {
		panic(err)
	}
	return info
}

// RegisterType is the reflective form of Register.
func RegisterType(typ reflect.Type, name string, opts ...Option) (*Info, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if typ.Kind() != reflect.Struct {
		return nil, errz.New(errz.Registration, "cannot register %s: not a struct type", typ)
	}
	if name == "" {
		return nil, errz.New(errz.Registration, "cannot register %s: empty name", typ)
	}

	mu.Lock()
	defer mu.Unlock()

	var base *Info
	var baseField []int
	if o.base != nil {
		var ok bool
		if base, ok = byType[o.base]; !ok {
			return nil, errz.New(errz.Registration,
				"cannot register %s: base type %s is not registered", name, o.base)
		}
		if baseField, ok = embeddedField(typ, o.base); !ok {
			return nil, errz.New(errz.Registration,
				"cannot register %s: %s does not embed base type %s", name, typ, o.base)
		}
	}

	if existing, ok := byType[typ]; ok {
		if existing.Name != name || existing.Base != base {
			return nil, errz.New(errz.Registration,
				"type %s is already registered as %s", typ, describe(existing))
		}
		return existing, nil
	}
	if existing, ok := byName[name]; ok {
		return nil, errz.New(errz.Registration,
			"name %q is already used by type %s", name, existing.Type)
	}

	info := &Info{
		Tag:       Tag(lastTag.Add(1)),
		Name:      name,
		Type:      typ,
		Base:      base,
		baseField: baseField,
	}
	byType[typ] = info
	byTag[info.Tag] = info
	byName[name] = info
	return info, nil
}

// Of returns the registration of T.
func Of[T any]() (*Info, bool) {
	return OfType(reflect.TypeFor[T]())
}

// OfType returns the registration of the given struct type.
func OfType(typ reflect.Type) (*Info, bool) {
	mu.RLock()
	defer mu.RUnlock()
	info, ok := byType[typ]
	return info, ok
}

// ByTag returns the registration with the given tag.
func ByTag(tag Tag) (*Info, bool) {
	mu.RLock()
	defer mu.RUnlock()
	info, ok := byTag[tag]
	return info, ok
}

// ByName returns the registration with the given display name.
func ByName(name string) (*Info, bool) {
	mu.RLock()
	defer mu.RUnlock()
	info, ok := byName[name]
	return info, ok
}

// All returns every registration in tag order.
func All() []*Info {
	mu.RLock()
	infos := make([]*Info, 0, len(byTag))
	for _, info := range byTag {
		infos = append(infos, info)
	}
	mu.RUnlock()
	sort.Slice(infos, func(a, b int) bool { return infos[a].Tag < infos[b].Tag })
	return infos
}

// NameOf returns the display name of typ for use in error messages: the
// registered name for registered structs and pointers to them, the Go type
// otherwise.
func NameOf(typ reflect.Type) string {
	t := typ
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if info, ok := OfType(t); ok {
		return info.Name
	}
	return typ.String()
}

func embeddedField(typ, base reflect.Type) ([]int, bool) {
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.Anonymous && f.Type == base {
			return f.Index, true
		}
	}
	return nil, false
}

func describe(info *Info) string {
	if info.Base == nil {
		return fmt.Sprintf("%q", info.Name)
	}
	return fmt.Sprintf("%q (base %q)", info.Name, info.Base.Name)
}

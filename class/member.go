package class

import (
	"reflect"
	"sort"
	"strings"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/internal/vmstate"
	"github.com/deepnoodle-ai/scriptbind/params"
	"github.com/deepnoodle-ai/scriptbind/typeinfo"
	"github.com/deepnoodle-ai/scriptbind/userdata"
	lua "github.com/yuin/gopher-lua"
)

// Member describes a named property of a class, read through the instance
// metatable's __index and written through __newindex.
type Member struct {
	Name  string
	owner reflect.Type
	typ   reflect.Type
	get   func(L *lua.LState, self reflect.Value, life *userdata.Lifetime) (lua.LValue, error)
	set   func(self reflect.Value, lv lua.LValue) error
}

// ReadOnly reports whether the member rejects writes.
func (m *Member) ReadOnly() bool {
	return m.set == nil
}

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

type float interface {
	~float32 | ~float64
}

// Bool describes a boolean member whose storage is returned by field.
func Bool[T any](name string, field func(*T) *bool) Member {
	return value(name, field)
}

// Int describes a signed integer member.
func Int[T any, V integer](name string, field func(*T) *V) Member {
	return value(name, field)
}

// Uint describes an unsigned integer member.
func Uint[T any, V unsigned](name string, field func(*T) *V) Member {
	return value(name, field)
}

// Float describes a floating point member.
func Float[T any, V float](name string, field func(*T) *V) Member {
	return value(name, field)
}

// String describes a string member.
func String[T any](name string, field func(*T) *string) Member {
	return value(name, field)
}

// Object describes a member holding a value of the registered type V. Reads
// return a handle referring to the member's storage inside the instance, so
// writes through the handle modify the instance. Assigning an instance of V
// copies its value in.
func Object[T, V any](name string, field func(*T) *V) Member {
	if _, ok := typeinfo.Of[V](); !ok {
		panic(errz.New(errz.Registration, "member %s: %s is not a registered type", name, reflect.TypeFor[V]()))
	}
	return value(name, field)
}

// ReadOnly returns m without its setter.
func ReadOnly(m Member) Member {
	m.set = nil
	return m
}

func value[T, V any](name string, field func(*T) *V) Member {
	return Member{
		Name:  name,
		owner: reflect.TypeFor[T](),
		typ:   reflect.TypeFor[V](),
		get: func(L *lua.LState, self reflect.Value, life *userdata.Lifetime) (lua.LValue, error) {
			return load(L, reflect.ValueOf(field(self.Interface().(*T))), life)
		},
		set: func(self reflect.Value, lv lua.LValue) error {
			v, err := params.Check(lv, reflect.TypeFor[V]())
			if err != nil {
				return err
			}
			*field(self.Interface().(*T)) = v.Interface().(V)
			return nil
		},
	}
}

// load reads the member stored at ptr. Members of registered types are
// returned as references into their owner.
func load(L *lua.LState, ptr reflect.Value, life *userdata.Lifetime) (lua.LValue, error) {
	if _, ok := typeinfo.OfType(ptr.Type().Elem()); ok {
		return userdata.NewRefValue(L, ptr, life)
	}
	return params.ToLua(L, ptr.Elem())
}

// Fields describes the exported fields of T as members. A field is named by
// its `script` struct tag or by its Go name; the tag "-" skips it. Embedded
// structs are skipped, their fields belonging to the base class.
func Fields[T any]() []Member {
	typ := reflect.TypeFor[T]()
	var members []Member
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("script"); ok {
			if tag == "-" {
				continue
			}
			if tag, _, _ = strings.Cut(tag, ","); tag != "" {
				name = tag
			}
		}
		members = append(members, fieldMember(typ, name, f))
	}
	return members
}

func fieldMember(owner reflect.Type, name string, f reflect.StructField) Member {
	return Member{
		Name:  name,
		owner: owner,
		typ:   f.Type,
		get: func(L *lua.LState, self reflect.Value, life *userdata.Lifetime) (lua.LValue, error) {
			return load(L, self.Elem().FieldByIndex(f.Index).Addr(), life)
		},
		set: func(self reflect.Value, lv lua.LValue) error {
			v, err := params.Check(lv, f.Type)
			if err != nil {
				return err
			}
			self.Elem().FieldByIndex(f.Index).Set(v)
			return nil
		},
	}
}

// BindMembers installs members on the class declared for T in the VM. Every
// member must describe T. Binding a name twice on the same class panics; a
// name already bound on a base class is shadowed.
func BindMembers[T any](L *lua.LState, members ...Member) {
	info, ok := typeinfo.Of[T]()
	if !ok {
		panic(errz.New(errz.Registration, "cannot bind members: %s is not a registered type", reflect.TypeFor[T]()))
	}
	d, ok := Lookup(L, info.Tag)
	if !ok {
		panic(errz.New(errz.Registration, "cannot bind members: class %s is not declared", info.Name))
	}
	for i := range members {
		m := members[i]
		if m.owner != info.Type {
			panic(errz.New(errz.Registration,
				"cannot bind member %s.%s: it describes %s", info.Name, m.Name, m.owner))
		}
		if _, exists := d.members[m.Name]; exists {
			panic(errz.New(errz.Registration, "member %s.%s is already bound", info.Name, m.Name))
		}
		d.members[m.Name] = &m
		vmstate.Logger(L).Debug().
			Str("class", info.Name).
			Str("member", m.Name).
			Bool("read_only", m.ReadOnly()).
			Msg("bound member")
	}
	d.reg.gen++
}

// MemberNames returns the sorted names of every member reachable on
// instances of the class, including inherited ones.
func (d *Decl) MemberNames() []string {
	flat := d.dispatch()
	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dispatch returns the flattened member table of the class. It is rebuilt
// only after classes or members were added to the VM.
func (d *Decl) dispatch() map[string]*Member {
	if d.flat != nil && d.flatGen == d.reg.gen {
		return d.flat
	}
	chain := d.chain()
	flat := map[string]*Member{}
	for i := len(chain) - 1; i >= 0; i-- {
		for name, m := range chain[i].members {
			flat[name] = m
		}
	}
	d.flat, d.flatGen = flat, d.reg.gen
	return flat
}

// receiver returns the instance's pointer converted to the member's owner
// type.
func (m *Member) receiver(inst *userdata.Instance) (reflect.Value, error) {
	p, err := inst.Pointer()
	if err != nil {
		return reflect.Value{}, err
	}
	owner, _ := typeinfo.OfType(m.owner)
	up, ok := inst.Info().Upcast(p, owner)
	if !ok {
		return reflect.Value{}, errz.New(errz.Internal, "%s is not a %s", inst.Info().Name, owner.Name)
	}
	return up, nil
}

func (m *Member) load(L *lua.LState, inst *userdata.Instance) (lua.LValue, error) {
	self, err := m.receiver(inst)
	if err != nil {
		return nil, err
	}
	return m.get(L, self, inst.Lifetime())
}

func (m *Member) store(inst *userdata.Instance, lv lua.LValue) error {
	class := inst.Info().Name
	if m.set == nil {
		return errz.New(errz.ReadOnly, "%s.%s is read-only", class, m.Name)
	}
	self, err := m.receiver(inst)
	if err != nil {
		return err
	}
	err = m.set(self, lv)
	if e, ok := err.(*errz.Error); ok && e.Kind == errz.ArgType {
		e = errz.New(errz.ArgType, "%s.%s: expected %s (%s given)",
			class, m.Name, params.Expected(m.typ), userdata.Describe(lv))
		e.Func = class + "." + m.Name
		return e
	}
	return err
}

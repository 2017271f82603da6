// Package class binds registered native types to script classes.
//
// A declared class consists of a global class table holding its methods and
// static functions, and an instance metatable shared by every instance of
// the type. Calling the class table constructs an instance:
//
//	c := class.Declare[Point](L, "Point", "Shape")
//	c.Constructor(newPoint)
//	c.BindMethod("add", pointAdd)
//	c.Members(class.Fields[Point]()...)
//
//	-- script
//	local p = Point(1, 2)
//	p.x = 5
//	print(p:add(Point(1, 1)).x)
//
// Property access on an instance first looks for a method anywhere in the
// class hierarchy, then for a bound member, derived classes shadowing their
// bases. Anything else is an "index not found" error.
package class

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/internal/vmstate"
	"github.com/deepnoodle-ai/scriptbind/params"
	"github.com/deepnoodle-ai/scriptbind/stack"
	"github.com/deepnoodle-ai/scriptbind/typeinfo"
	"github.com/deepnoodle-ai/scriptbind/userdata"
	"github.com/hashicorp/go-multierror"
	lua "github.com/yuin/gopher-lua"
)

// registry holds the classes declared in one VM.
type registry struct {
	byTag map[typeinfo.Tag]*Decl
	// gen changes whenever a class or member is added, invalidating the
	// flattened dispatch tables.
	gen uint64
}

func registryOf(L *lua.LState) *registry {
	return vmstate.Load(L, "class", func() *registry {
		return &registry{byTag: map[typeinfo.Tag]*Decl{}}
	})
}

// Decl is the declaration of a class in one VM.
type Decl struct {
	L       *lua.LState
	reg     *registry
	info    *typeinfo.Info
	table   *lua.LTable
	meta    *lua.LTable
	ctor    lua.LGFunction
	statics map[string]bool
	members map[string]*Member

	flat    map[string]*Member
	flatGen uint64

	initZero func(L *lua.LState) error
	clone    func(self reflect.Value) reflect.Value
	compare  func(a, b reflect.Value) int
	str      func(self reflect.Value) string
}

// Class is the typed handle on a declaration returned by Declare.
type Class[T any] struct {
	*Decl
}

// Declare creates the script class className for the registered type T.
// baseName names the declared base class and is empty when T has none. Both
// names must agree with the type registry; a mismatch is a programming error
// and panics.
//
// Declaring the same type again returns the existing class.
func Declare[T any](L *lua.LState, className, baseName string) *Class[T] {
	info, ok := typeinfo.Of[T]()
	if !ok {
		panic(errz.New(errz.Registration,
			"cannot declare class %s: %s is not a registered type", className, reflect.TypeFor[T]()))
	}
	if info.Name != className {
		panic(errz.New(errz.Registration,
			"cannot declare class %s: %s is registered as %s", className, info.Type, info.Name))
	}
	switch {
	case baseName == "" && info.Base != nil:
		panic(errz.New(errz.Registration,
			"cannot declare class %s without its base class %s", className, info.Base.Name))
	case baseName != "" && (info.Base == nil || info.Base.Name != baseName):
		panic(errz.New(errz.Registration,
			"cannot declare class %s with base %s: registered base is %s", className, baseName, info.Base))
	}

	reg := registryOf(L)
	if d, ok := reg.byTag[info.Tag]; ok {
		return &Class[T]{Decl: d}
	}

	d := &Decl{
		L:       L,
		reg:     reg,
		info:    info,
		table:   L.NewTable(),
		meta:    L.NewTable(),
		statics: map[string]bool{},
		members: map[string]*Member{},
		initZero: func(L *lua.LState) error {
			_, err := userdata.Setup[T](L, 1, userdata.Inline, nil)
			return err
		},
		clone: func(self reflect.Value) reflect.Value {
			return self.Elem()
		},
	}
	if _, ok := reflect.New(info.Type).Interface().(fmt.Stringer); ok {
		d.str = func(self reflect.Value) string {
			return self.Interface().(fmt.Stringer).String()
		}
	}

	classMeta := L.NewTable()
	classMeta.RawSetString("__call", L.NewFunction(d.construct))
	classMeta.RawSetString("__index", L.NewFunction(d.classIndex))
	L.SetMetatable(d.table, classMeta)
	d.table.RawSetString("clone", L.NewFunction(params.Named(className+".clone", d.cloneMethod)))

	d.meta.RawSetString("__name", lua.LString(className))
	d.meta.RawSetString("__index", L.NewFunction(d.index))
	d.meta.RawSetString("__newindex", L.NewFunction(d.newIndex))
	d.meta.RawSetString("__tostring", L.NewFunction(d.tostring))
	d.meta.RawSetString("__eq", L.NewFunction(d.equal))
	d.meta.RawSetString("__lt", L.NewFunction(d.less))
	d.meta.RawSetString("__le", L.NewFunction(d.lessEqual))
	userdata.RegisterMetatable(L, info, d.meta)

	L.SetGlobal(className, d.table)
	reg.byTag[info.Tag] = d
	reg.gen++

	vmstate.Logger(L).Debug().
		Str("class", className).
		Uint32("tag", uint32(info.Tag)).
		Str("base", baseName).
		Msg("declared class")
	return &Class[T]{Decl: d}
}

// Name returns the script name of the class.
func (d *Decl) Name() string {
	return d.info.Name
}

// Info returns the type registration of the class.
func (d *Decl) Info() *typeinfo.Info {
	return d.info
}

// Table returns the global class table.
func (d *Decl) Table() *lua.LTable {
	return d.table
}

// Base returns the declared base class, or nil when the type has no base or
// the base class is not declared in this VM.
func (d *Decl) Base() *Decl {
	if d.info.Base == nil {
		return nil
	}
	return d.reg.byTag[d.info.Base.Tag]
}

// chain returns the declared classes of the hierarchy, nearest first.
func (d *Decl) chain() []*Decl {
	var chain []*Decl
	for info := d.info; info != nil; info = info.Base {
		if c, ok := d.reg.byTag[info.Tag]; ok {
			chain = append(chain, c)
		}
	}
	return chain
}

// Constructor sets the function run when the class table is called. It finds
// a fresh, uninitialised instance at stack index 1, followed by the call
// arguments, and must initialise it with userdata.Setup. Arity and argument
// errors it reports are attributed to the class name.
//
// Without a constructor, calling the class takes no arguments and creates an
// instance holding the zero value.
func (d *Decl) Constructor(fn lua.LGFunction) {
	d.ctor = params.Named(d.info.Name, fn)
}

// BindMethod binds fn as the method name, called with the instance as its
// first argument. The optional debug name, by default "Class.name", names
// the function in the errors it raises.
func (d *Decl) BindMethod(name string, fn lua.LGFunction, debugName ...string) {
	d.bind(name, fn, false, debugName)
}

// BindStaticMethod binds fn as a function of the class table that takes no
// instance.
func (d *Decl) BindStaticMethod(name string, fn lua.LGFunction, debugName ...string) {
	d.bind(name, fn, true, debugName)
}

// BindFunc binds the Go function fn as the method name. See Func.
func (d *Decl) BindFunc(name string, fn any) {
	d.table.RawSetString(name, d.L.NewFunction(Func(d.info.Name+"."+name, fn)))
	d.statics[name] = false
}

func (d *Decl) bind(name string, fn lua.LGFunction, static bool, debugName []string) {
	dn := d.info.Name + "." + name
	if len(debugName) > 0 && debugName[0] != "" {
		dn = debugName[0]
	}
	d.table.RawSetString(name, d.L.NewFunction(params.Named(dn, fn)))
	d.statics[name] = static
	vmstate.Logger(d.L).Debug().
		Str("class", d.info.Name).
		Str("method", name).
		Bool("static", static).
		Msg("bound method")
}

// MethodNames returns the sorted names of the methods and static functions
// bound on this class itself.
func (d *Decl) MethodNames() []string {
	names := []string{"clone"}
	for name := range d.statics {
		if name != "clone" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Comparer sets the ordering of instances used by the ==, < and <=
// operators. Both operands must be instances of T or of a class derived
// from it.
func (c *Class[T]) Comparer(fn func(a, b *T) int) {
	c.compare = func(a, b reflect.Value) int {
		return fn(a.Interface().(*T), b.Interface().(*T))
	}
}

// Cloner sets the function producing the value held by the copy returned by
// the clone method. The default copies the value.
func (c *Class[T]) Cloner(fn func(*T) T) {
	c.clone = func(self reflect.Value) reflect.Value {
		v := fn(self.Interface().(*T))
		return reflect.ValueOf(&v).Elem()
	}
}

// Stringer sets the script string form of instances.
func (c *Class[T]) Stringer(fn func(*T) string) {
	c.str = func(self reflect.Value) string {
		return fn(self.Interface().(*T))
	}
}

// Destructor sets the release function of inline T instances. Destructors
// are per type, not per VM.
func (c *Class[T]) Destructor(fn func(*T)) {
	userdata.SetDestructor(fn)
}

// Members binds member descriptors of T. See BindMembers.
func (c *Class[T]) Members(members ...Member) {
	BindMembers[T](c.L, members...)
}

// construct implements the call of the class table.
func (d *Decl) construct(L *lua.LState) int {
	ud, err := userdata.NewUnset(L, d.info)
	if err != nil {
		return params.Raise(L, err)
	}
	L.Replace(1, ud)
	if d.ctor == nil {
		e := params.New(L, d.info.Name, 1)
		if !e.Process() {
			return params.Raise(L, e.Err())
		}
		if err := d.initZero(L); err != nil {
			return params.Raise(L, err)
		}
	} else {
		// The constructor initialises the instance in place and leaves the
		// stack as it found it.
		g := stack.Preserve(L)
		d.ctor(L)
		g.Restore()
	}
	if inst, _ := userdata.InstanceOf(ud); inst.Mode() == userdata.Unset {
		return params.Raise(L, errz.New(errz.Registration,
			"constructor of %s did not initialise the instance", d.info.Name))
	}
	L.Push(ud)
	return 1
}

// classIndex resolves names missing from a class table in its base classes.
func (d *Decl) classIndex(L *lua.LState) int {
	name := L.CheckString(2)
	for _, c := range d.chain()[1:] {
		if v := c.table.RawGetString(name); v != lua.LNil {
			L.Push(v)
			return 1
		}
	}
	L.Push(lua.LNil)
	return 1
}

func (d *Decl) method(name string) lua.LValue {
	for _, c := range d.chain() {
		if v := c.table.RawGetString(name); v != lua.LNil {
			return v
		}
	}
	return lua.LNil
}

// self returns the instance at stack index 1 and its class.
func (d *Decl) self(L *lua.LState) (*userdata.Instance, *Decl) {
	inst, ok := userdata.InstanceOf(L.Get(1))
	if !ok {
		params.Raise(L, errz.New(errz.UnknownType,
			"expected %s instance (%s given)", d.info.Name, userdata.Describe(L.Get(1))))
	}
	if c, ok := d.reg.byTag[inst.Info().Tag]; ok {
		return inst, c
	}
	return inst, d
}

func (d *Decl) index(L *lua.LState) int {
	inst, c := d.self(L)
	key := L.Get(2)
	name, ok := key.(lua.LString)
	if !ok {
		return params.Raise(L, errz.NewIndexNotFound(c.info.Name, key.String()))
	}
	if v := c.method(string(name)); v != lua.LNil {
		L.Push(v)
		return 1
	}
	m, ok := c.dispatch()[string(name)]
	if !ok {
		return params.Raise(L, errz.NewIndexNotFound(c.info.Name, string(name)))
	}
	v, err := m.load(L, inst)
	if err != nil {
		return params.Raise(L, err)
	}
	L.Push(v)
	return 1
}

func (d *Decl) newIndex(L *lua.LState) int {
	inst, c := d.self(L)
	key := L.Get(2)
	name, ok := key.(lua.LString)
	if !ok {
		return params.Raise(L, errz.NewIndexNotFound(c.info.Name, key.String()))
	}
	m, ok := c.dispatch()[string(name)]
	if !ok {
		return params.Raise(L, errz.NewIndexNotFound(c.info.Name, string(name)))
	}
	if err := m.store(inst, L.Get(3)); err != nil {
		return params.Raise(L, err)
	}
	return 0
}

func (d *Decl) tostring(L *lua.LState) int {
	inst, c := d.self(L)
	p, err := inst.Pointer()
	if err != nil || c.str == nil {
		L.Push(lua.LString(inst.String()))
		return 1
	}
	L.Push(lua.LString(c.str(p)))
	return 1
}

// operands extracts both operands of a comparison as pointers to the type of
// the class defining the comparer.
func (d *Decl) operands(L *lua.LState) (cmp *Decl, a, b reflect.Value, err error) {
	_, c := d.self(L)
	for _, cur := range c.chain() {
		if cur.compare != nil {
			cmp = cur
			break
		}
	}
	if cmp == nil {
		return nil, a, b, nil
	}
	if a, err = userdata.FromValueType(L.Get(1), cmp.info.Type); err != nil {
		return nil, a, b, err
	}
	if b, err = userdata.FromValueType(L.Get(2), cmp.info.Type); err != nil {
		return nil, a, b, err
	}
	return cmp, a, b, nil
}

func (d *Decl) equal(L *lua.LState) int {
	ia, okA := userdata.InstanceOf(L.Get(1))
	ib, okB := userdata.InstanceOf(L.Get(2))
	if !okA || !okB {
		L.Push(lua.LFalse)
		return 1
	}
	cmp, a, b, err := d.operands(L)
	switch {
	case err != nil:
		L.Push(lua.LFalse)
	case cmp != nil:
		L.Push(lua.LBool(cmp.compare(a, b) == 0))
	default:
		// Handles referring to the same native object are equal.
		pa, errA := ia.Pointer()
		pb, errB := ib.Pointer()
		L.Push(lua.LBool(errA == nil && errB == nil && pa.Type() == pb.Type() && pa.Pointer() == pb.Pointer()))
	}
	return 1
}

func (d *Decl) order(L *lua.LState, ok func(int) bool) int {
	cmp, a, b, err := d.operands(L)
	if err != nil {
		return params.Raise(L, err)
	}
	if cmp == nil {
		_, c := d.self(L)
		return params.Raise(L, errz.New(errz.ArgType, "%s instances are not ordered", c.info.Name))
	}
	L.Push(lua.LBool(ok(cmp.compare(a, b))))
	return 1
}

func (d *Decl) less(L *lua.LState) int {
	return d.order(L, func(n int) bool { return n < 0 })
}

func (d *Decl) lessEqual(L *lua.LState) int {
	return d.order(L, func(n int) bool { return n <= 0 })
}

// cloneMethod implements obj:clone(), an inline copy of obj with the class
// of obj.
func (d *Decl) cloneMethod(L *lua.LState) int {
	e := params.New(L, "", 1)
	if !e.Process() {
		return params.Raise(L, e.Err())
	}
	inst, c := d.self(L)
	p, err := inst.Pointer()
	if err != nil {
		return params.Raise(L, err)
	}
	ud, err := userdata.NewInlineValue(L, c.clone(p))
	if err != nil {
		return params.Raise(L, err)
	}
	L.Push(ud)
	return 1
}

// Lookup returns the class declared for tag in the VM.
func Lookup(L *lua.LState, tag typeinfo.Tag) (*Decl, bool) {
	d, ok := registryOf(L).byTag[tag]
	return d, ok
}

// Classes returns the classes declared in the VM in tag order.
func Classes(L *lua.LState) []*Decl {
	reg := registryOf(L)
	out := make([]*Decl, 0, len(reg.byTag))
	for _, d := range reg.byTag {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].info.Tag < out[j].info.Tag })
	return out
}

// Validate reports every declared class whose registered base class is not
// declared in the VM.
func Validate(L *lua.LState) error {
	var result *multierror.Error
	for _, d := range Classes(L) {
		for info := d.info.Base; info != nil; info = info.Base {
			if _, ok := Lookup(L, info.Tag); !ok {
				result = multierror.Append(result, errz.New(errz.Registration,
					"class %s: base class %s is not declared", d.info.Name, info.Name))
			}
		}
	}
	return result.ErrorOrNil()
}

package class

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/internal/assert"
	"github.com/deepnoodle-ai/scriptbind/params"
	"github.com/deepnoodle-ai/scriptbind/typeinfo"
	"github.com/deepnoodle-ai/scriptbind/userdata"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

type shape struct {
	Name string `script:"name"`
}

type point struct {
	shape
	X      float64 `script:"x"`
	Y      float64 `script:"y"`
	hidden int
	Skip   bool `script:"-"`
}

type rect struct {
	shape
	Min point
	Max point
}

type loner struct {
	N     int
	Label string
}

func (l *loner) String() string {
	return fmt.Sprintf("loner<%d>", l.N)
}

type codeError struct {
	code int
}

func (e codeError) Error() string {
	return fmt.Sprintf("code %d", e.code)
}

type orphan struct {
	shape
}

func init() {
	typeinfo.MustRegister[shape]("Shape")
	typeinfo.MustRegister[point]("Point", typeinfo.WithBase[shape]())
	typeinfo.MustRegister[rect]("Rect", typeinfo.WithBase[shape]())
	typeinfo.MustRegister[loner]("Loner")
	typeinfo.MustRegister[orphan]("Orphan", typeinfo.WithBase[shape]())
}

func newPoint(L *lua.LState) int {
	e := params.NewRange(L, "", 1, 3)
	if !e.Process() {
		return params.Raise(L, e.Err())
	}
	x := params.Opt(e, 2, 0.0)
	y := params.Opt(e, 3, 0.0)
	if err := e.Err(); err != nil {
		return params.Raise(L, err)
	}
	if _, err := userdata.Setup(L, 1, userdata.Inline, &point{shape: shape{Name: "point"}, X: x, Y: y}); err != nil {
		return params.Raise(L, err)
	}
	return 1
}

func pointAdd(L *lua.LState) int {
	args, err := params.Extract2[*point, *point](L, "")
	if err != nil {
		return params.Raise(L, err)
	}
	p, q := args.P0, args.P1
	if err := userdata.PushInline(L, point{shape: p.shape, X: p.X + q.X, Y: p.Y + q.Y}); err != nil {
		return params.Raise(L, err)
	}
	return 1
}

func newState(t *testing.T) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(func() {
		require.NoError(t, userdata.Collect(L))
		L.Close()
	})

	s := Declare[shape](L, "Shape", "")
	s.Members(Fields[shape]()...)
	s.BindStaticMethod("kind", func(L *lua.LState) int {
		L.Push(lua.LString("shape"))
		return 1
	})

	p := Declare[point](L, "Point", "Shape")
	p.Constructor(newPoint)
	p.Members(Fields[point]()...)
	p.BindMethod("add", pointAdd)
	p.BindMethod("fail", func(L *lua.LState) int {
		return params.Raise(L, errz.New(errz.ArgType, "%s() always fails", params.FuncName(L)))
	}, "geometry.fail")
	p.Comparer(func(a, b *point) int {
		switch {
		case a.X < b.X:
			return -1
		case a.X > b.X:
			return 1
		}
		return 0
	})

	r := Declare[rect](L, "Rect", "Shape")
	r.Members(
		Object("min", func(r *rect) *point { return &r.Min }),
		ReadOnly(Object("max", func(r *rect) *point { return &r.Max })),
		String("name", func(r *rect) *string { return &r.Name }),
	)
	r.BindFunc("area", func(r *rect) float64 {
		return (r.Max.X - r.Min.X) * (r.Max.Y - r.Min.Y)
	})
	r.BindFunc("scale", func(r *rect, f float64) error {
		if f <= 0 {
			return errors.New("scale factor must be positive")
		}
		r.Max.X *= f
		r.Max.Y *= f
		return nil
	})

	l := Declare[loner](L, "Loner", "")
	l.Members(
		Int("n", func(l *loner) *int { return &l.N }),
		ReadOnly(String("label", func(l *loner) *string { return &l.Label })),
	)
	return L
}

// eval runs src and returns its first result.
func eval(t *testing.T, L *lua.LState, src string) lua.LValue {
	t.Helper()
	top := L.GetTop()
	require.NoError(t, L.DoString(src))
	require.Greater(t, L.GetTop(), top, "script returned nothing")
	v := L.Get(top + 1)
	L.SetTop(top)
	return v
}

func TestMemberRoundTrip(t *testing.T) {
	L := newState(t)
	require.Equal(t, lua.LNumber(5), eval(t, L, `local p = Point(1, 2); p.x = 5; return p.x`))
	require.Equal(t, lua.LNumber(2), eval(t, L, `local p = Point(1, 2); return p.y`))
}

func TestMemberFallsThroughToBase(t *testing.T) {
	L := newState(t)
	require.Equal(t, lua.LString("point"), eval(t, L, `return Point(1, 2).name`))
	require.Equal(t, lua.LString("renamed"), eval(t, L, `local p = Point(); p.name = "renamed"; return p.name`))
}

func TestUnknownMember(t *testing.T) {
	L := newState(t)

	err := L.DoString(`return Point(1, 2).z`)
	require.Error(t, err)
	require.Contains(t, err.Error(), `index not found: Point has no member "z"`)

	err = L.DoString(`local p = Point(); p.hidden = 1`)
	require.Error(t, err)
	require.Contains(t, err.Error(), `Point has no member "hidden"`)

	err = L.DoString(`local p = Point(); p.Skip = true`)
	require.Error(t, err)
	require.Contains(t, err.Error(), `Point has no member "Skip"`)
}

func TestMemberErrors(t *testing.T) {
	L := newState(t)

	err := L.DoString(`local p = Point(); p.x = "five"`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "type error: Point.x: expected number (string given)")

	err = L.DoString(`local l = Loner(); l.label = "x"`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read-only error: Loner.label is read-only")

	require.Equal(t, lua.LNumber(3), eval(t, L, `local l = Loner(); l.n = 3.7; return l.n`))
}

func TestMethods(t *testing.T) {
	L := newState(t)

	require.Equal(t, lua.LNumber(4), eval(t, L, `return Point(1, 2):add(Point(3, 4)).x`))
	require.Equal(t, lua.LString("shape"), eval(t, L, `return Point.kind()`))
	require.Equal(t, lua.LString("shape"), eval(t, L, `return Point(1, 2).kind()`))

	err := L.DoString(`Point(1, 2):add(5)`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Point.add() parameter 2: expected Point (number given)")

	err = L.DoString(`Point(1, 2):add(Loner())`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Point.add() parameter 2: expected Point (Loner given)")

	err = L.DoString(`Point(1, 2):fail()`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "geometry.fail() always fails")
}

func TestConstructor(t *testing.T) {
	L := newState(t)

	err := L.DoString(`Point(1, 2, 3)`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Point() takes between 1 and 3 arguments (4 given)")

	err = L.DoString(`Point("a")`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Point() parameter 2: expected number (string given)")

	// Without a constructor the class takes no arguments.
	require.Equal(t, lua.LNumber(0), eval(t, L, `return Loner().n`))
	err = L.DoString(`Loner(1)`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Loner() takes exactly 1 argument (2 given)")

	ud := eval(t, L, `return Point(7)`)
	p, err := userdata.FromValue[point](ud)
	require.NoError(t, err)
	require.Equal(t, 7.0, p.X)
	inst, _ := userdata.InstanceOf(ud)
	require.Equal(t, userdata.Inline, inst.Mode())
}

func TestConstructorMustInitialise(t *testing.T) {
	L := newState(t)
	Declare[shape](L, "Shape", "").Constructor(func(L *lua.LState) int { return 0 })

	err := L.DoString(`Shape()`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "constructor of Shape did not initialise the instance")
}

func TestComparer(t *testing.T) {
	L := newState(t)

	require.Equal(t, lua.LTrue, eval(t, L, `return Point(1, 2) == Point(1, 9)`))
	require.Equal(t, lua.LFalse, eval(t, L, `return Point(1, 2) == Point(2, 2)`))
	require.Equal(t, lua.LTrue, eval(t, L, `return Point(1) < Point(2)`))
	require.Equal(t, lua.LTrue, eval(t, L, `return Point(2) <= Point(2)`))
	require.Equal(t, lua.LFalse, eval(t, L, `return Point(3) < Point(2)`))

	// Without a comparer only handles to the same object are equal.
	require.Equal(t, lua.LFalse, eval(t, L, `return Loner() == Loner()`))
	require.Equal(t, lua.LTrue, eval(t, L, `local r = Rect(); return r.min == r.min`))

	err := L.DoString(`return Loner() < Loner()`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Loner instances are not ordered")
}

func TestClone(t *testing.T) {
	L := newState(t)

	v := eval(t, L, `
		local p = Point(1, 2)
		local q = p:clone()
		q.x = 10
		return p.x + q.x`)
	require.Equal(t, lua.LNumber(11), v)

	ud := eval(t, L, `return Point(3, 4):clone()`)
	inst, ok := userdata.InstanceOf(ud)
	require.True(t, ok)
	require.Equal(t, "Point", inst.Info().Name)
	require.Equal(t, userdata.Inline, inst.Mode())
}

func TestCloner(t *testing.T) {
	L := newState(t)
	l := Declare[loner](L, "Loner", "")
	l.Cloner(func(src *loner) loner {
		return loner{N: src.N + 1}
	})
	require.Equal(t, lua.LNumber(2), eval(t, L, `local a = Loner(); a.n = 1; return a:clone().n`))
}

func TestToString(t *testing.T) {
	L := newState(t)

	require.Equal(t, lua.LString("loner<0>"), eval(t, L, `return tostring(Loner())`))
	require.Equal(t, lua.LString("Point(inline)"), eval(t, L, `return tostring(Point())`))

	Declare[point](L, "Point", "Shape").Stringer(func(p *point) string {
		return fmt.Sprintf("(%g, %g)", p.X, p.Y)
	})
	require.Equal(t, lua.LString("(1, 2)"), eval(t, L, `return tostring(Point(1, 2))`))
}

func TestObjectMembers(t *testing.T) {
	L := newState(t)

	v := eval(t, L, `
		local r = Rect()
		r.min.x = 1
		r.min.y = 1
		local m = r.max
		m.x = 4
		m.y = 5
		return r:area()`)
	require.Equal(t, lua.LNumber(12), v)

	v = eval(t, L, `
		local r = Rect()
		r.min = Point(1, 1)
		local m = r.max
		m.x = 3
		m.y = 3
		return r:area()`)
	require.Equal(t, lua.LNumber(4), v)

	err := L.DoString(`local r = Rect(); r.max = Point(1, 1)`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Rect.max is read-only")

	err = L.DoString(`local r = Rect(); r.min = Loner()`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Rect.min: expected Point (Loner given)")
}

func TestObjectMemberExpiresWithOwner(t *testing.T) {
	L := newState(t)
	require.NoError(t, L.DoString(`r = Rect(); child = r.min; child.x = 7`))
	require.NoError(t, userdata.Release(L, L.GetGlobal("r")))

	err := L.DoString(`child.x = 5`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Point instance refers to an object that no longer exists")

	err = L.DoString(`return child.x`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no longer exists")

	err = L.DoString(`return r.min`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Rect instance has been released")
}

func TestConstructorStackImbalance(t *testing.T) {
	if !assert.Enabled {
		t.Skip("assertions are compiled out")
	}
	L := newState(t)
	Declare[loner](L, "Loner", "").Constructor(func(L *lua.LState) int {
		if _, err := userdata.Setup[loner](L, 1, userdata.Inline, nil); err != nil {
			return params.Raise(L, err)
		}
		L.Push(lua.LTrue)
		return 1
	})

	err := L.DoString(`Loner()`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "stack imbalance: stack depth 2 on exit, expected 1")
}

func TestBindFunc(t *testing.T) {
	L := newState(t)

	require.Equal(t, lua.LNumber(16), eval(t, L, `
		local r = Rect()
		local m = r.max
		m.x = 2
		m.y = 2
		r:scale(2)
		return r:area()`))

	err := L.DoString(`Rect():scale(0)`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "call error: Rect.scale(): scale factor must be positive")

	err = L.DoString(`Rect():scale()`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Rect.scale() takes exactly 2 arguments (1 given)")

	err = L.DoString(`Rect.area(Point())`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Rect.area() parameter 1: expected Rect (Point given)")
}

func TestFunc(t *testing.T) {
	L := newState(t)

	L.SetGlobal("join", L.NewFunction(Func("join", func(sep string, parts ...string) string {
		return strings.Join(parts, sep)
	})))
	L.SetGlobal("divmod", L.NewFunction(Func("divmod", func(a, b int) (int, int) {
		return a / b, a % b
	})))
	L.SetGlobal("boom", L.NewFunction(Func("boom", func() { panic("kaboom") })))

	require.Equal(t, lua.LString("a-b-c"), eval(t, L, `return join("-", "a", "b", "c")`))
	require.Equal(t, lua.LString(""), eval(t, L, `return join("-")`))
	require.Equal(t, lua.LNumber(4), eval(t, L, `local q, r = divmod(7, 2); return q + r`))

	err := L.DoString(`join()`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "join() takes at least 1 argument (0 given)")

	err = L.DoString(`join("-", "a", 2)`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "join() parameter 3: expected string (number given)")

	err = L.DoString(`boom()`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic in boom: kaboom")

	L.SetGlobal("check", L.NewFunction(Func("check", func(n int) (int, codeError) {
		return n, codeError{code: n}
	})))
	err = L.DoString(`check(3)`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "call error: check(): code 3")

	require.Panics(t, func() { Func("bad", 42) })
}

func TestShadowing(t *testing.T) {
	L := newState(t)
	require.Equal(t, lua.LString("point"), eval(t, L, `return Point().name`))

	// A member bound later on the derived class shadows the base member,
	// even after the dispatch table was built.
	BindMembers[point](L, ReadOnly(String("name", func(p *point) *string {
		s := "shadowed"
		return &s
	})))
	require.Equal(t, lua.LString("shadowed"), eval(t, L, `return Point().name`))
	require.Equal(t, lua.LString("base"), eval(t, L, `local s = Shape(); s.name = "base"; return s.name`))

	require.Panics(t, func() {
		BindMembers[point](L, Float("x", func(p *point) *float64 { return &p.X }))
	})
	require.Panics(t, func() {
		BindMembers[point](L, Int("n", func(l *loner) *int { return &l.N }))
	})
}

func TestDeclareMismatch(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	require.Panics(t, func() { Declare[point](L, "Pointy", "Shape") })
	require.Panics(t, func() { Declare[point](L, "Point", "") })
	require.Panics(t, func() { Declare[point](L, "Point", "Rect") })
	require.Panics(t, func() { Declare[shape](L, "Shape", "Object") })
	require.Panics(t, func() { Declare[struct{ A int }](L, "Anon", "") })
}

func TestValidate(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	Declare[orphan](L, "Orphan", "Shape")
	err := Validate(L)
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.Registration))
	require.Contains(t, err.Error(), "class Orphan: base class Shape is not declared")

	Declare[shape](L, "Shape", "")
	require.NoError(t, Validate(L))
}

func TestIntrospection(t *testing.T) {
	L := newState(t)

	names := make([]string, 0)
	for _, d := range Classes(L) {
		names = append(names, d.Name())
	}
	require.Equal(t, []string{"Shape", "Point", "Rect", "Loner"}, names)

	info, _ := typeinfo.Of[point]()
	d, ok := Lookup(L, info.Tag)
	require.True(t, ok)
	require.Equal(t, "Shape", d.Base().Name())
	require.Equal(t, []string{"name", "x", "y"}, d.MemberNames())
	require.Equal(t, []string{"add", "clone", "fail"}, d.MethodNames())
	require.Same(t, L.GetGlobal("Point"), d.Table())
}

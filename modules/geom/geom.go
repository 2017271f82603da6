// Package geom binds a small integer geometry library to scripts: Shape,
// Point and Rect, with Point and Rect derived from Shape.
//
//	local r = Rect(Point(0, 0), Point(4, 3))
//	r.max.x = 8
//	print(r:area(), r:contains(Point.origin()))
package geom

import (
	"cmp"
	"fmt"
	"math"

	"github.com/deepnoodle-ai/scriptbind/class"
	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/params"
	"github.com/deepnoodle-ai/scriptbind/typeinfo"
	"github.com/deepnoodle-ai/scriptbind/userdata"
	lua "github.com/yuin/gopher-lua"
)

// Shape is the base of every geometry type.
type Shape struct {
	Name string `script:"name"`
}

// Point is a position on the integer grid.
type Point struct {
	Shape
	X int `script:"x"`
	Y int `script:"y"`
}

// Len returns the distance of p from the origin.
func (p *Point) Len() float64 {
	return math.Hypot(float64(p.X), float64(p.Y))
}

func (p *Point) String() string {
	return fmt.Sprintf("Point(%d, %d)", p.X, p.Y)
}

// Rect is an axis-aligned rectangle. Min is inclusive, Max exclusive.
type Rect struct {
	Shape
	Min Point
	Max Point
}

// Area returns the area of r, or 0 when r is empty.
func (r *Rect) Area() int {
	w, h := r.Max.X-r.Min.X, r.Max.Y-r.Min.Y
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Contains reports whether p lies within r.
func (r *Rect) Contains(p *Point) bool {
	return r.Min.X <= p.X && p.X < r.Max.X && r.Min.Y <= p.Y && p.Y < r.Max.Y
}

func (r *Rect) String() string {
	return fmt.Sprintf("Rect(%d, %d, %d, %d)", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
}

func init() {
	typeinfo.MustRegister[Shape]("Shape")
	typeinfo.MustRegister[Point]("Point", typeinfo.WithBase[Shape]())
	typeinfo.MustRegister[Rect]("Rect", typeinfo.WithBase[Shape]())
}

// Bind declares the geometry classes in the VM.
func Bind(L *lua.LState) error {
	shape := class.Declare[Shape](L, "Shape", "")
	shape.Members(class.Fields[Shape]()...)
	shape.BindMethod("describe", describe)

	point := class.Declare[Point](L, "Point", "Shape")
	point.Constructor(newPoint)
	point.Members(class.Fields[Point]()...)
	point.BindMethod("add", pointAdd)
	point.BindFunc("len", (*Point).Len)
	point.BindStaticMethod("origin", origin)
	point.Comparer(comparePoints)

	rect := class.Declare[Rect](L, "Rect", "Shape")
	rect.Constructor(newRect)
	rect.Members(
		class.Object("min", func(r *Rect) *Point { return &r.Min }),
		class.Object("max", func(r *Rect) *Point { return &r.Max }),
	)
	rect.BindFunc("area", (*Rect).Area)
	rect.BindFunc("contains", (*Rect).Contains)

	return class.Validate(L)
}

// describe implements shape:describe().
func describe(L *lua.LState) int {
	args, err := params.Extract1[*Shape](L, "")
	if err != nil {
		return params.Raise(L, err)
	}
	name := args.P0.Name
	if name == "" {
		name = "unnamed"
	}
	L.Push(lua.LString(fmt.Sprintf("%s %s", userdata.Describe(L.Get(1)), name)))
	return 1
}

// newPoint implements Point([x [, y]]).
func newPoint(L *lua.LState) int {
	e := params.NewRange(L, "", 1, 3)
	if !e.Process() {
		return params.Raise(L, e.Err())
	}
	p := Point{Shape: Shape{Name: "point"}}
	p.X = params.Opt(e, 2, 0)
	p.Y = params.Opt(e, 3, 0)
	if err := e.Err(); err != nil {
		return params.Raise(L, err)
	}
	if _, err := userdata.Setup(L, 1, userdata.Inline, &p); err != nil {
		return params.Raise(L, err)
	}
	return 1
}

// pointAdd implements p:add(q).
func pointAdd(L *lua.LState) int {
	args, err := params.Extract2[*Point, *Point](L, "")
	if err != nil {
		return params.Raise(L, err)
	}
	p, q := args.P0, args.P1
	sum := Point{Shape: p.Shape, X: p.X + q.X, Y: p.Y + q.Y}
	if err := userdata.PushInline(L, sum); err != nil {
		return params.Raise(L, err)
	}
	return 1
}

// origin implements Point.origin().
func origin(L *lua.LState) int {
	e := params.New(L, "", 0)
	if !e.Process() {
		return params.Raise(L, e.Err())
	}
	if err := userdata.PushInline(L, Point{Shape: Shape{Name: "origin"}}); err != nil {
		return params.Raise(L, err)
	}
	return 1
}

func comparePoints(a, b *Point) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	return cmp.Compare(a.Y, b.Y)
}

// newRect implements Rect([min, max]).
func newRect(L *lua.LState) int {
	e := params.NewRange(L, "", 1, 3)
	if !e.Process() {
		return params.Raise(L, e.Err())
	}
	r := Rect{Shape: Shape{Name: "rect"}}
	if e.NArgs() == 2 {
		return params.Raise(L, errz.New(errz.ArgCount, "Rect() takes no points or two (1 given)"))
	}
	if e.NArgs() == 3 {
		r.Min = params.Get[Point](e, 2)
		r.Max = params.Get[Point](e, 3)
		if err := e.Err(); err != nil {
			return params.Raise(L, err)
		}
	}
	if _, err := userdata.Setup(L, 1, userdata.Inline, &r); err != nil {
		return params.Raise(L, err)
	}
	return 1
}

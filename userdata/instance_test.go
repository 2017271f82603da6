package userdata

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/typeinfo"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

var destroyed atomic.Int64

type resource struct {
	ID int
}

func (r *resource) Destroy() {
	destroyed.Add(1)
}

type special struct {
	resource
	Extra string
}

type unrelated struct {
	N int
}

type undeclared struct{}

var customDestroyed atomic.Int64

type custom struct{}

var ballastDestroyed atomic.Int64

type ballast struct {
	buf [8]int64
}

func (p *ballast) Destroy() {
	ballastDestroyed.Add(1)
}

func (c *custom) Destroy() {
	panic("Destroy must not run when a destructor is registered")
}

func init() {
	typeinfo.MustRegister[resource]("Resource")
	typeinfo.MustRegister[special]("Special", typeinfo.WithBase[resource]())
	typeinfo.MustRegister[unrelated]("Unrelated")
	typeinfo.MustRegister[undeclared]("Undeclared")
	typeinfo.MustRegister[custom]("Custom")
	typeinfo.MustRegister[ballast]("Ballast")
	SetDestructor(func(c *custom) { customDestroyed.Add(1) })
}

func newState(t *testing.T) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(func() {
		// Release leftovers now so late GC cleanups cannot skew the counters
		// of the following tests.
		require.NoError(t, Collect(L))
		L.Close()
	})
	for _, info := range []*typeinfo.Info{
		mustInfo[resource](t), mustInfo[special](t), mustInfo[unrelated](t),
		mustInfo[custom](t), mustInfo[ballast](t),
	} {
		RegisterMetatable(L, info, L.NewTable())
	}
	return L
}

func mustInfo[T any](t *testing.T) *typeinfo.Info {
	info, ok := typeinfo.Of[T]()
	require.True(t, ok)
	return info
}

func TestInlineReleaseExactlyOnce(t *testing.T) {
	L := newState(t)
	before := destroyed.Load()

	ud, err := NewInline(L, resource{ID: 7})
	require.NoError(t, err)
	inst, ok := InstanceOf(ud)
	require.True(t, ok)
	require.Equal(t, Inline, inst.Mode())
	require.Equal(t, 1, Live(L))

	require.NoError(t, Release(L, ud))
	require.Equal(t, before+1, destroyed.Load())
	require.NoError(t, Release(L, ud))
	require.NoError(t, Collect(L))
	require.Equal(t, before+1, destroyed.Load())
	require.Equal(t, 0, Live(L))

	_, err = FromValue[resource](ud)
	require.True(t, errz.IsKind(err, errz.Expired))
}

func TestCollectReleasesInlineOnly(t *testing.T) {
	L := newState(t)
	before := destroyed.Load()

	_, err := NewInline(L, resource{ID: 1})
	require.NoError(t, err)
	_, err = NewInline(L, special{Extra: "x"})
	require.NoError(t, err)
	owned := &resource{ID: 3}
	ref, err := NewRef(L, owned, nil)
	require.NoError(t, err)

	require.NoError(t, Collect(L))
	require.Equal(t, before+2, destroyed.Load())
	require.NoError(t, Collect(L))
	require.Equal(t, before+2, destroyed.Load())

	// The non-owned referent is untouched and still reachable.
	got, err := FromValue[resource](ref)
	require.NoError(t, err)
	require.Same(t, owned, got)

	err = Release(L, ref)
	require.True(t, errz.IsKind(err, errz.UnknownType))
}

func TestReleaseOnGarbageCollection(t *testing.T) {
	L := newState(t)
	before := ballastDestroyed.Load()

	func() {
		_, err := NewInline(L, ballast{})
		require.NoError(t, err)
	}()
	require.Equal(t, 1, Live(L))

	require.Eventually(t, func() bool {
		runtime.GC()
		return ballastDestroyed.Load() == before+1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, Live(L))

	require.NoError(t, Collect(L))
	require.Equal(t, before+1, ballastDestroyed.Load())
}

func TestRegisteredDestructorWins(t *testing.T) {
	L := newState(t)
	before := customDestroyed.Load()

	ud, err := NewInline(L, custom{})
	require.NoError(t, err)
	require.NoError(t, Release(L, ud))
	require.Equal(t, before+1, customDestroyed.Load())
}

func TestNullPointerRejected(t *testing.T) {
	L := newState(t)

	ud, err := NewRef[resource](L, nil, nil)
	require.Nil(t, ud)
	require.True(t, errz.IsKind(err, errz.NullPointer))

	top := L.GetTop()
	err = PushRef[resource](L, nil, nil)
	require.True(t, errz.IsKind(err, errz.NullPointer))
	require.Equal(t, top, L.GetTop())
}

func TestDowncast(t *testing.T) {
	L := newState(t)

	sp := &special{resource: resource{ID: 5}, Extra: "e"}
	ud, err := NewRef(L, sp, nil)
	require.NoError(t, err)

	// Derived to base.
	base, err := FromValue[resource](ud)
	require.NoError(t, err)
	require.Same(t, &sp.resource, base)

	// Exact type.
	same, err := FromValue[special](ud)
	require.NoError(t, err)
	require.Same(t, sp, same)

	// Wrong types never yield a pointer.
	u, err := FromValue[unrelated](ud)
	require.Nil(t, u)
	require.True(t, errz.IsKind(err, errz.UnknownType))
	require.Contains(t, err.Error(), "expected Unrelated instance (Special given)")

	plain, err := NewInline(L, resource{})
	require.NoError(t, err)
	s, err := FromValue[special](plain)
	require.Nil(t, s)
	require.True(t, errz.IsKind(err, errz.UnknownType))

	for _, lv := range []lua.LValue{lua.LNil, lua.LNumber(1), lua.LString("s"), L.NewTable(), L.NewUserData()} {
		r, err := FromValue[resource](lv)
		require.Nil(t, r)
		require.True(t, errz.IsKind(err, errz.UnknownType), "value %v", lv)
	}
}

func TestTo(t *testing.T) {
	L := newState(t)
	require.NoError(t, PushInline(L, resource{ID: 2}))
	r, err := To[resource](L, -1)
	require.NoError(t, err)
	require.Equal(t, 2, r.ID)
}

func TestLifetime(t *testing.T) {
	L := newState(t)

	life := NewLifetime()
	r := &resource{ID: 1}
	ud, err := NewRef(L, r, life)
	require.NoError(t, err)

	_, err = FromValue[resource](ud)
	require.NoError(t, err)

	life.End()
	got, err := FromValue[resource](ud)
	require.Nil(t, got)
	require.True(t, errz.IsKind(err, errz.Expired))

	var none *Lifetime
	require.True(t, none.Alive())
}

func TestInlineLifetimeEndsOnRelease(t *testing.T) {
	L := newState(t)

	ud, err := NewInline(L, resource{ID: 3})
	require.NoError(t, err)
	inst, _ := InstanceOf(ud)
	life := inst.Lifetime()
	require.NotNil(t, life)
	require.True(t, life.Alive())

	// References into the value share the owner's lifetime.
	owner, err := FromValue[resource](ud)
	require.NoError(t, err)
	ref, err := NewRef(L, owner, life)
	require.NoError(t, err)

	require.NoError(t, Release(L, ud))
	require.False(t, life.Alive())
	_, err = FromValue[resource](ref)
	require.True(t, errz.IsKind(err, errz.Expired))
}

func TestSetup(t *testing.T) {
	L := newState(t)

	ud, err := NewUnset(L, mustInfo[resource](t))
	require.NoError(t, err)
	L.Push(ud)

	_, err = FromValue[resource](ud)
	require.True(t, errz.IsKind(err, errz.NullPointer))

	p, err := Setup[resource](L, 1, Inline, &resource{ID: 4})
	require.NoError(t, err)
	require.Equal(t, 4, p.ID)
	p.ID = 8

	got, err := To[resource](L, 1)
	require.NoError(t, err)
	require.Same(t, p, got)

	_, err = Setup[resource](L, 1, Inline, nil)
	require.True(t, errz.IsKind(err, errz.Registration))

	_, err = Setup[special](L, 1, Inline, nil)
	require.True(t, errz.IsKind(err, errz.UnknownType))
}

func TestSetupNonOwned(t *testing.T) {
	L := newState(t)

	ud, err := NewUnset(L, mustInfo[unrelated](t))
	require.NoError(t, err)
	L.Push(ud)

	_, err = Setup[unrelated](L, 1, NonOwnedPointer, nil)
	require.True(t, errz.IsKind(err, errz.NullPointer))

	u := &unrelated{N: 3}
	got, err := Setup(L, 1, NonOwnedPointer, u)
	require.NoError(t, err)
	require.Same(t, u, got)

	inst, _ := InstanceOf(ud)
	require.Equal(t, NonOwnedPointer, inst.Mode())
	require.Equal(t, 0, Live(L))
}

func TestUndeclaredClass(t *testing.T) {
	L := newState(t)
	_, err := NewInline(L, undeclared{})
	require.True(t, errz.IsKind(err, errz.Registration))
}

func TestDescribe(t *testing.T) {
	L := newState(t)
	ud, err := NewInline(L, special{})
	require.NoError(t, err)
	require.Equal(t, "Special", Describe(ud))
	require.Equal(t, "number", Describe(lua.LNumber(1)))
}

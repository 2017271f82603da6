package stack

import (
	"testing"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestPreserveBalanced(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	L.Push(lua.LNumber(1))
	func() {
		g := Preserve(L)
		defer g.Restore()
		require.Equal(t, 1, g.Depth())
		L.Push(lua.LString("tmp"))
		L.Pop(1)
	}()
	require.Equal(t, 1, L.GetTop())
}

func TestPreserveImbalancePanics(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	g := Preserve(L)
	L.Push(lua.LTrue)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*errz.Error)
		require.True(t, ok)
		require.Equal(t, errz.StackImbalance, err.Kind)
		require.True(t, err.IsFatal())
	}()
	g.Restore()
}

func TestPreserveNoCheckRestores(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	func() {
		g := PreserveNoCheck(L)
		defer g.Restore()
		L.Push(lua.LNumber(1))
		L.Push(lua.LNumber(2))
	}()
	require.Equal(t, 0, L.GetTop())
}

func TestRestoreOnPanic(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	require.Panics(t, func() {
		g := PreserveNoCheck(L)
		defer g.Restore()
		L.Push(lua.LNumber(1))
		panic("boom")
	})
	require.Equal(t, 0, L.GetTop())
}

func TestRestoreIdempotent(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	g := Preserve(L)
	g.Restore()
	L.Push(lua.LNumber(1))
	require.NotPanics(t, g.Restore)
	require.Equal(t, 1, L.GetTop())
}

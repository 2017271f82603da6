// Package stack provides the stack-discipline guard used at every
// native-call boundary.
package stack

import (
	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/internal/assert"
	lua "github.com/yuin/gopher-lua"
)

// Guard records a VM stack depth and restores it when the scope ends:
//
//	g := stack.Preserve(L)
//	defer g.Restore()
type Guard struct {
	L        *lua.LState
	top      int
	check    bool
	restored bool
}

// Preserve records the current stack depth. Restore asserts that the depth
// is unchanged before restoring it.
func Preserve(L *lua.LState) *Guard {
	return &Guard{L: L, top: L.GetTop(), check: true}
}

// PreserveNoCheck records the current stack depth without the balance
// assertion, for scopes that intentionally leave values on the stack.
func PreserveNoCheck(L *lua.LState) *Guard {
	return &Guard{L: L, top: L.GetTop()}
}

// Depth returns the recorded stack depth.
func (g *Guard) Depth() int {
	return g.top
}

// Restore resets the stack to the recorded depth. It is safe to call more
// than once; only the first call has an effect.
func (g *Guard) Restore() {
	if g.restored {
		return
	}
	g.restored = true
	if g.check {
		got := g.L.GetTop()
		assert.That(got == g.top, errz.StackImbalance,
			"stack depth %d on exit, expected %d", got, g.top)
	}
	g.L.SetTop(g.top)
}

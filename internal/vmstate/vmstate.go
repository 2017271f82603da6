// Package vmstate keeps per-VM binding state inside the VM's own registry
// table, so that state lives and dies with the *lua.LState it belongs to.
package vmstate

import (
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

const (
	keyPrefix = "scriptbind."
	loggerKey = "logger"
)

// Load returns the value stored under key in L's registry, creating it with
// init on first use. All VM operations run on the VM's owning goroutine, so
// no locking is needed here.
func Load[T any](L *lua.LState, key string, init func() *T) *T {
	reg := L.G.Registry
	if ud, ok := reg.RawGetString(keyPrefix + key).(*lua.LUserData); ok {
		if v, ok := ud.Value.(*T); ok {
			return v
		}
	}
	v := init()
	ud := L.NewUserData()
	ud.Value = v
	reg.RawSetString(keyPrefix+key, ud)
	return v
}

// SetLogger attaches a logger to the VM.
func SetLogger(L *lua.LState, log zerolog.Logger) {
	*Load(L, loggerKey, newNop) = log
}

// Logger returns the VM's logger. A VM without one gets a no-op logger.
func Logger(L *lua.LState) *zerolog.Logger {
	return Load(L, loggerKey, newNop)
}

func newNop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

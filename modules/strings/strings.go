// Package strings binds Go string functions to scripts as the global table
// strings.
//
//	strings.join(strings.fields("  a b  c "), ",")  -- "a,b,c"
package strings

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/deepnoodle-ai/scriptbind/class"
	lua "github.com/yuin/gopher-lua"
)

// Repeat returns count copies of s.
func Repeat(s string, count int) (string, error) {
	if count < 0 {
		return "", fmt.Errorf("negative repeat count")
	}
	return strings.Repeat(s, count), nil
}

// Split slices s into all substrings separated by sep.
func Split(s, sep string) []string {
	return strings.Split(s, sep)
}

// Functions returns the Go functions of the module by script name.
func Functions() map[string]any {
	return map[string]any{
		"contains":    strings.Contains,
		"has_prefix":  strings.HasPrefix,
		"has_suffix":  strings.HasSuffix,
		"count":       strings.Count,
		"compare":     strings.Compare,
		"repeat":      Repeat,
		"join":        strings.Join,
		"split":       Split,
		"fields":      strings.Fields,
		"index":       strings.Index,
		"last_index":  strings.LastIndex,
		"replace_all": strings.ReplaceAll,
		"to_lower":    strings.ToLower,
		"to_upper":    strings.ToUpper,
		"trim":        strings.Trim,
		"trim_prefix": strings.TrimPrefix,
		"trim_suffix": strings.TrimSuffix,
		"trim_space":  strings.TrimSpace,
	}
}

// Bind sets the global table strings in the VM.
func Bind(L *lua.LState) error {
	fns := Functions()
	mod := L.CreateTable(0, len(fns))
	for _, name := range slices.Sorted(maps.Keys(fns)) {
		mod.RawSetString(name, L.NewFunction(class.Func("strings."+name, fns[name])))
	}
	L.SetGlobal("strings", mod)
	return nil
}

// Package assert holds the debug-only checks of the binding layer. Failed
// checks indicate unbalanced or misused bindings and panic with a fatal
// *errz.Error; they are compiled out with the scriptbind_release build tag.
package assert

import "github.com/deepnoodle-ai/scriptbind/errz"

// That panics with an error of the given kind when cond is false.
func That(cond bool, kind errz.Kind, format string, args ...any) {
	if Enabled && !cond {
		panic(errz.New(kind, format, args...))
	}
}

// Fail panics unconditionally, in every build. Used for checks whose failure
// would otherwise corrupt native state.
func Fail(kind errz.Kind, format string, args ...any) {
	panic(errz.New(kind, format, args...))
}

//go:build !scriptbind_release

package assert

// Enabled reports whether debug checks are compiled in.
const Enabled = true

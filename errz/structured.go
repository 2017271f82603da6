package errz

import (
	"errors"
	"fmt"
	"strings"
)

// Kind represents the category of a binding error.
type Kind int

const (
	// ArgCount indicates a bound function was called with the wrong number
	// of arguments.
	ArgCount Kind = iota + 1
	// ArgType indicates an argument or member value had the wrong type.
	ArgType
	// UnknownType indicates a failed checked downcast: the script value is
	// not an instance of the expected native type.
	UnknownType
	// NullPointer indicates an attempt to wrap a nil native pointer.
	NullPointer
	// Expired indicates access to a non-owned instance whose native owner
	// has ended its lifetime.
	Expired
	// IndexNotFound indicates a property or method name that no class in the
	// hierarchy defines.
	IndexNotFound
	// ReadOnly indicates a write to a member without a setter.
	ReadOnly
	// CallFailed indicates a native-to-script call that could not complete.
	CallFailed
	// StackImbalance indicates a binding pushed or popped unbalanced values.
	StackImbalance
	// Registration indicates an inconsistent type or class registration.
	Registration
	// Internal indicates a violated invariant of the binding layer itself.
	Internal
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case ArgCount:
		return "args error"
	case ArgType:
		return "type error"
	case UnknownType:
		return "type error"
	case NullPointer:
		return "null pointer error"
	case Expired:
		return "expired object error"
	case IndexNotFound:
		return "index not found"
	case ReadOnly:
		return "read-only error"
	case CallFailed:
		return "call error"
	case StackImbalance:
		return "stack imbalance"
	case Registration:
		return "registration error"
	case Internal:
		return "internal error"
	default:
		return "error"
	}
}

// Error is the structured error produced by the binding layer. Recoverable
// kinds are surfaced to scripts as script errors; StackImbalance and
// Internal are raised only through panics.
type Error struct {
	Kind    Kind
	Func    string // bound function or member the error concerns
	Index   int    // 1-based parameter index, 0 when not applicable
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the error represents a programming error that is
// never recovered at runtime.
func (e *Error) IsFatal() bool {
	return e.Kind == StackImbalance || e.Kind == Internal
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewArgsError reports a call with the wrong number of arguments.
func NewArgsError(fn string, takes, given int) *Error {
	msg := fmt.Sprintf("%s() takes exactly %d %s (%d given)",
		fn, takes, pluralize("argument", takes != 1), given)
	return &Error{Kind: ArgCount, Func: fn, Message: msg}
}

// NewArgsRangeError reports a call whose argument count falls outside
// [takesMin, takesMax]. A negative takesMax means no upper bound.
func NewArgsRangeError(fn string, takesMin, takesMax, given int) *Error {
	var msg string
	switch {
	case takesMax < 0:
		msg = fmt.Sprintf("%s() takes at least %d %s (%d given)",
			fn, takesMin, pluralize("argument", takesMin != 1), given)
	case takesMin == takesMax:
		return NewArgsError(fn, takesMin, given)
	case takesMax-takesMin == 1:
		msg = fmt.Sprintf("%s() takes %d or %d arguments (%d given)",
			fn, takesMin, takesMax, given)
	default:
		msg = fmt.Sprintf("%s() takes between %d and %d arguments (%d given)",
			fn, takesMin, takesMax, given)
	}
	return &Error{Kind: ArgCount, Func: fn, Message: msg}
}

// NewArgTypeError reports a parameter that failed extraction.
func NewArgTypeError(fn string, index int, expected, given string) *Error {
	return &Error{
		Kind:    ArgType,
		Func:    fn,
		Index:   index,
		Message: fmt.Sprintf("%s() parameter %d: expected %s (%s given)", fn, index, expected, given),
	}
}

// NewIndexNotFound reports a member name absent from an entire class
// hierarchy.
func NewIndexNotFound(class, name string) *Error {
	return &Error{
		Kind:    IndexNotFound,
		Func:    class,
		Message: fmt.Sprintf("%s has no member %q", class, name),
	}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == k {
			return true
		}
		err = e.Cause
	}
	return false
}

func pluralize(s string, do bool) string {
	if do {
		return s + "s"
	}
	return s
}

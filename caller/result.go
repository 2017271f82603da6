package caller

import (
	"reflect"

	"github.com/deepnoodle-ai/scriptbind/params"
	"github.com/deepnoodle-ai/scriptbind/userdata"
)

// Result extracts the result of the last successful CallRaw as a T. It
// reports false when there is no result or it has another type; values are
// never coerced, so a string result is not an integer.
func Result[T any](c *Caller) (T, bool) {
	var zero T
	lv, ok := c.result()
	if !ok {
		return zero, false
	}
	v, err := params.Check(lv, reflect.TypeFor[T]())
	if err != nil {
		c.log.Debug().
			Str("func", c.name).
			Str("expected", params.Expected(reflect.TypeFor[T]())).
			Str("given", userdata.Describe(lv)).
			Msg("unexpected result type")
		return zero, false
	}
	return v.Interface().(T), true
}

// Int extracts an integer result.
func Int(c *Caller) (int64, bool) {
	return Result[int64](c)
}

// Float extracts a number result.
func Float(c *Caller) (float64, bool) {
	return Result[float64](c)
}

// Bool extracts a boolean result.
func Bool(c *Caller) (bool, bool) {
	return Result[bool](c)
}

// String extracts a string result.
func String(c *Caller) (string, bool) {
	return Result[string](c)
}

// Object extracts an instance result as a pointer to T, following the
// checked downcast rules of userdata.FromValue.
func Object[T any](c *Caller) (*T, bool) {
	lv, ok := c.result()
	if !ok {
		return nil, false
	}
	p, err := userdata.FromValue[T](lv)
	if err != nil {
		return nil, false
	}
	return p, true
}

package params

import (
	"reflect"

	"github.com/deepnoodle-ai/scriptbind/errz"
	"github.com/deepnoodle-ai/scriptbind/typeinfo"
	"github.com/deepnoodle-ai/scriptbind/userdata"
	lua "github.com/yuin/gopher-lua"
)

var (
	skipType     = reflect.TypeFor[Skip]()
	lvalueType   = reflect.TypeFor[lua.LValue]()
	tableType    = reflect.TypeFor[*lua.LTable]()
	functionType = reflect.TypeFor[*lua.LFunction]()
	udType       = reflect.TypeFor[*lua.LUserData]()
	errorType    = reflect.TypeFor[error]()
)

// errMismatch marks a value of the wrong script type. It is replaced by a
// full errz.ArgType error naming the parameter.
var errMismatch = errz.New(errz.ArgType, "type mismatch")

// Check converts the script value lv to a Go value of type typ. It is the
// reflective extraction shared by Get, the class binder and the caller.
//
// Conversion is strict: numbers never come from strings and booleans only
// from booleans. Integer narrowing is not range checked.
func Check(lv lua.LValue, typ reflect.Type) (reflect.Value, error) {
	if lv == nil {
		lv = lua.LNil
	}
	switch typ {
	case skipType:
		return reflect.ValueOf(Skip{}), nil
	case lvalueType:
		v := reflect.New(lvalueType).Elem()
		v.Set(reflect.ValueOf(lv))
		return v, nil
	case tableType, functionType, udType:
		if reflect.TypeOf(lv) != typ {
			return reflect.Value{}, errMismatch
		}
		return reflect.ValueOf(lv), nil
	}

	out := reflect.New(typ).Elem()
	switch typ.Kind() {
	case reflect.Bool:
		b, ok := lv.(lua.LBool)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		out.SetBool(bool(b))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := lv.(lua.LNumber)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		out.SetInt(int64(n))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := lv.(lua.LNumber)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		out.SetUint(uint64(int64(n)))
	case reflect.Float32, reflect.Float64:
		n, ok := lv.(lua.LNumber)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		out.SetFloat(float64(n))
	case reflect.String:
		s, ok := lv.(lua.LString)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		out.SetString(string(s))
	case reflect.Pointer:
		if _, ok := typeinfo.OfType(typ.Elem()); !ok {
			return reflect.Value{}, unsupported(typ)
		}
		p, err := userdata.FromValueType(lv, typ.Elem())
		if err != nil {
			return reflect.Value{}, downcastError(err)
		}
		return p, nil
	case reflect.Struct:
		if _, ok := typeinfo.OfType(typ); !ok {
			return reflect.Value{}, unsupported(typ)
		}
		p, err := userdata.FromValueType(lv, typ)
		if err != nil {
			return reflect.Value{}, downcastError(err)
		}
		out.Set(p.Elem())
	case reflect.Slice:
		tbl, ok := lv.(*lua.LTable)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		n := tbl.Len()
		out = reflect.MakeSlice(typ, n, n)
		for i := 0; i < n; i++ {
			item, err := Check(tbl.RawGetInt(i+1), typ.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(item)
		}
	case reflect.Map:
		tbl, ok := lv.(*lua.LTable)
		if !ok {
			return reflect.Value{}, errMismatch
		}
		out = reflect.MakeMap(typ)
		var err error
		tbl.ForEach(func(k, v lua.LValue) {
			if err != nil {
				return
			}
			var key, val reflect.Value
			if key, err = Check(k, typ.Key()); err != nil {
				return
			}
			if val, err = Check(v, typ.Elem()); err != nil {
				return
			}
			out.SetMapIndex(key, val)
		})
		if err != nil {
			return reflect.Value{}, err
		}
	case reflect.Interface:
		g := ToGo(lv)
		if g == nil {
			return out, nil
		}
		gv := reflect.ValueOf(g)
		if !gv.Type().Implements(typ) {
			return reflect.Value{}, errMismatch
		}
		out.Set(gv)
	default:
		return reflect.Value{}, unsupported(typ)
	}
	return out, nil
}

func unsupported(typ reflect.Type) error {
	return errz.New(errz.UnknownType, "unsupported parameter type %s", typ)
}

// downcastError keeps lifetime and initialisation failures of an instance and
// folds everything else into a plain type mismatch.
func downcastError(err error) error {
	if errz.IsKind(err, errz.UnknownType) {
		return errMismatch
	}
	return err
}

// Expected returns the script-level name of typ used in type errors.
func Expected(typ reflect.Type) string {
	switch typ {
	case skipType, lvalueType:
		return "any"
	case tableType:
		return "table"
	case functionType:
		return "function"
	case udType:
		return "userdata"
	}
	switch typ.Kind() {
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Pointer:
		if info, ok := typeinfo.OfType(typ.Elem()); ok {
			return info.Name
		}
	case reflect.Struct:
		if info, ok := typeinfo.OfType(typ); ok {
			return info.Name
		}
	case reflect.Slice, reflect.Map:
		return "table"
	case reflect.Interface:
		return "any"
	}
	return typ.String()
}

// ToGo converts a script value to its natural Go representation: nil, bool,
// float64, string, a pointer to the native value of an instance, or the
// script value itself for tables, functions and foreign userdata.
func ToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LUserData:
		if inst, ok := userdata.InstanceOf(v); ok {
			if p, err := inst.Pointer(); err == nil {
				return p.Interface()
			}
		}
		return v
	default:
		return lv
	}
}

// Push pushes the script representation of v. See ToLua.
func Push(L *lua.LState, v any) error {
	return PushValue(L, reflect.ValueOf(v))
}

// PushValue is the reflective form of Push.
func PushValue(L *lua.LState, v reflect.Value) error {
	lv, err := ToLua(L, v)
	if err != nil {
		return err
	}
	L.Push(lv)
	return nil
}

// ToLua converts a Go value to a script value. Pointers to registered types
// become non-owned instances and registered struct values become inline
// copies. Slices and maps become tables. A non-nil error value is returned
// as the error so that bound functions raise it.
func ToLua(L *lua.LState, v reflect.Value) (lua.LValue, error) {
	if !v.IsValid() {
		return lua.LNil, nil
	}
	if v.Type().Implements(lvalueType) {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			return lua.LNil, nil
		}
		return v.Interface().(lua.LValue), nil
	}
	if v.Type().Implements(errorType) {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			return lua.LNil, nil
		}
		return nil, errz.Wrap(errz.CallFailed, v.Interface().(error), "native function failed")
	}
	switch v.Kind() {
	case reflect.Bool:
		return lua.LBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(v.Float()), nil
	case reflect.String:
		return lua.LString(v.String()), nil
	case reflect.Interface:
		if v.IsNil() {
			return lua.LNil, nil
		}
		return ToLua(L, v.Elem())
	case reflect.Pointer:
		if v.IsNil() {
			return lua.LNil, nil
		}
		if _, ok := typeinfo.OfType(v.Type().Elem()); ok {
			return userdata.NewRefValue(L, v, nil)
		}
		return ToLua(L, v.Elem())
	case reflect.Struct:
		if _, ok := typeinfo.OfType(v.Type()); ok {
			return userdata.NewInlineValue(L, v)
		}
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return lua.LNil, nil
		}
		tbl := L.CreateTable(v.Len(), 0)
		for i := 0; i < v.Len(); i++ {
			item, err := ToLua(L, v.Index(i))
			if err != nil {
				return nil, err
			}
			tbl.RawSetInt(i+1, item)
		}
		return tbl, nil
	case reflect.Map:
		if v.IsNil() {
			return lua.LNil, nil
		}
		tbl := L.CreateTable(0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key, err := ToLua(L, iter.Key())
			if err != nil {
				return nil, err
			}
			val, err := ToLua(L, iter.Value())
			if err != nil {
				return nil, err
			}
			tbl.RawSet(key, val)
		}
		return tbl, nil
	}
	return nil, errz.New(errz.UnknownType, "cannot convert %s to a script value", v.Type())
}

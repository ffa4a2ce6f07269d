package types

import (
	"fmt"
	"math"
	"reflect"
)

// Value is a type-erased socket value: a SocketType tag plus its payload.
// The zero Value is invalid and means "no value".
type Value struct {
	typ  SocketType
	data any
}

// List builds a sequence value from its elements.
func List(elems ...Value) Value {
	return Value{typ: Any, data: append([]Value(nil), elems...)}
}

// Type returns the socket type tag of v.
func (v Value) Type() SocketType { return v.typ }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.typ.IsValid() }

// Interface returns the raw payload.
func (v Value) Interface() any { return v.data }

// Elems returns the elements of a sequence value.
func (v Value) Elems() ([]Value, bool) {
	elems, ok := v.data.([]Value)
	return elems, ok
}

func (v Value) String() string {
	if !v.IsValid() {
		return "<none>"
	}
	return fmt.Sprintf("%s(%v)", v.typ, v.data)
}

// Get extracts the payload of v as T.
func Get[T any](v Value) (T, bool) {
	t, ok := v.data.(T)
	return t, ok
}

// Float returns numeric payloads widened to float64.
func (v Value) Float() (float64, bool) {
	if v.data == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v.data)
	switch {
	case rv.CanFloat():
		return rv.Float(), true
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	}
	return 0, false
}

// Clamp limits a numeric value to [min, max]. Non-numeric values are
// returned unchanged; nil bounds are open.
func (v Value) Clamp(min, max *float64) Value {
	f, ok := v.Float()
	if !ok {
		return v
	}
	c := f
	if min != nil {
		c = math.Max(c, *min)
	}
	if max != nil {
		c = math.Min(c, *max)
	}
	if c == f {
		return v
	}
	rv := reflect.ValueOf(v.data)
	out := reflect.New(rv.Type()).Elem()
	switch {
	case rv.CanFloat():
		out.SetFloat(c)
	case rv.CanInt():
		out.SetInt(int64(math.Round(c)))
	case rv.CanUint():
		out.SetUint(uint64(math.Round(c)))
	}
	return Value{typ: v.typ, data: out.Interface()}
}

// Equal reports whether two values carry the same type and comparable
// payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	ve, vok := v.Elems()
	oe, ook := o.Elems()
	if vok || ook {
		if !vok || !ook || len(ve) != len(oe) {
			return false
		}
		for i := range ve {
			if !ve[i].Equal(oe[i]) {
				return false
			}
		}
		return true
	}
	if v.data == nil || o.data == nil {
		return v.data == nil && o.data == nil
	}
	if !reflect.TypeOf(v.data).Comparable() || !reflect.TypeOf(o.data).Comparable() {
		return reflect.DeepEqual(v.data, o.data)
	}
	return v.data == o.data
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

package tracking

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

// ValueKind tags the representation held by a Value.
type ValueKind uint8

const (
	KindFloat ValueKind = iota + 1
	KindInt
	KindString
	KindBool
	// KindBytes is only produced for artifacts.
	KindBytes
)

func (k ValueKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("ValueKind(%d)", uint8(k))
	}
}

// Value is a normalized record value. Only the field matching Kind is set.
type Value struct {
	Kind  ValueKind `cbor:"k" json:"kind"`
	Float float64   `cbor:"f,omitempty" json:"float,omitempty"`
	Int   int64     `cbor:"i,omitempty" json:"int,omitempty"`
	Str   string    `cbor:"s,omitempty" json:"str,omitempty"`
	Bool  bool      `cbor:"b,omitempty" json:"bool,omitempty"`
	Bytes []byte    `cbor:"d,omitempty" json:"bytes,omitempty"`
}

func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }
func String(v string) Value { return Value{Kind: KindString, Str: v} }
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }
func Bytes(v []byte) Value { return Value{Kind: KindBytes, Bytes: v} }

// Any returns the held value as a plain Go value.
func (v Value) Any() any {
	switch v.Kind {
	case KindFloat:
		return v.Float
	case KindInt:
		return v.Int
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindBytes:
		return v.Bytes
	default:
		return nil
	}
}

// Numeric returns the value as float64 for float, int and bool kinds
// (bool maps to 0 or 1).
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// String renders the value for display and for sinks that only take strings.
func (v Value) String() string {
	switch v.Kind {
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindString:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.Bytes))
	default:
		return "<invalid>"
	}
}

// Normalize converts a parameter value into a Value. Accepted inputs are
// strings, booleans and every integer or floating point type, including
// named types built on them. Anything else is a SerializationError.
func Normalize(path string, v any) (Value, error) {
	switch x := v.(type) {
	case float64:
		return Float(x), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case nil:
		return Value{}, errors.NewSerializationError(path, "nil value", v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, errors.NewSerializationError(path, "unsigned value overflows int64", v)
		}
		return Int(int64(u)), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	default:
		return Value{}, errors.NewSerializationError(path, "unsupported value type", v)
	}
}

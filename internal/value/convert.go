package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"
)

// FromGo converts a decoded Go value into a Value.
//
// Accepted inputs are what encoding/json (with or without UseNumber) and
// gopkg.in/yaml.v3 produce: nil, bool, string, json.Number, the built-in
// numeric kinds, []any, map[string]any and map[any]any with string keys.
// A Value is accepted as-is after Validate.
//
// Functions, channels, NaN, infinities and reference cycles are rejected
// before anything is returned, so callers never observe a partial result.
func FromGo(v any) (Value, error) {
	return fromGo(v, map[uintptr]bool{})
}

func fromGo(v any, path map[uintptr]bool) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		if err := validate(val, path); err != nil {
			return nil, err
		}
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		if err := checkedText(val); err != nil {
			return nil, err
		}
		return String(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", val, err)
		}
		return checkedNumber(f)
	case float64:
		return checkedNumber(val)
	case float32:
		return checkedNumber(float64(val))
	case int:
		return Number(val), nil
	case int8:
		return Number(val), nil
	case int16:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case uint:
		return Number(val), nil
	case uint8:
		return Number(val), nil
	case uint16:
		return Number(val), nil
	case uint32:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case []any:
		ptr, err := enter(val, path)
		if err != nil {
			return nil, err
		}
		defer leave(ptr, path)

		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := fromGo(elem, path)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		ptr, err := enter(val, path)
		if err != nil {
			return nil, err
		}
		defer leave(ptr, path)

		obj := make(Object, len(val))
		for k, elem := range val {
			if err := checkedText(k); err != nil {
				return nil, fmt.Errorf("object key: %w", err)
			}
			conv, err := fromGo(elem, path)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	case map[any]any:
		ptr, err := enter(val, path)
		if err != nil {
			return nil, err
		}
		defer leave(ptr, path)

		obj := make(Object, len(val))
		for k, elem := range val {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("object key %v: keys must be strings, got %T", k, k)
			}
			if err := checkedText(key); err != nil {
				return nil, fmt.Errorf("object key: %w", err)
			}
			conv, err := fromGo(elem, path)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", key, err)
			}
			obj[key] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func checkedNumber(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number %v is not representable in JSON", f)
	}
	return Number(f), nil
}

// checkedText rejects strings that are not valid UTF-8. encoding/json would
// rewrite them to U+FFFD, so the bytes stored locally would differ from the
// bytes every peer decodes.
func checkedText(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("string %q is not valid UTF-8", s)
	}
	return nil
}

// enter records a container on the current descent path. Empty slices have
// no backing array and cannot take part in a cycle.
func enter(container any, path map[uintptr]bool) (uintptr, error) {
	rv := reflect.ValueOf(container)
	if rv.Kind() == reflect.Slice && rv.Len() == 0 {
		return 0, nil
	}
	ptr := rv.Pointer()
	if ptr == 0 {
		return 0, nil
	}
	if path[ptr] {
		return 0, fmt.Errorf("cyclic structure")
	}
	path[ptr] = true
	return ptr, nil
}

func leave(ptr uintptr, path map[uintptr]bool) {
	if ptr != 0 {
		delete(path, ptr)
	}
}

// Validate checks that v is a finite tree of well-formed values: no nil
// elements, no NaN or infinite numbers, no invalid UTF-8 in strings or
// keys, and no Array or Object that contains itself.
func Validate(v Value) error {
	return validate(v, map[uintptr]bool{})
}

func validate(v Value, path map[uintptr]bool) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("nil value")
	case Null, Bool:
		return nil
	case String:
		return checkedText(string(val))
	case Number:
		_, err := checkedNumber(float64(val))
		return err
	case Array:
		ptr, err := enter(val, path)
		if err != nil {
			return err
		}
		defer leave(ptr, path)
		for i, elem := range val {
			if err := validate(elem, path); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		return nil
	case Object:
		ptr, err := enter(val, path)
		if err != nil {
			return err
		}
		defer leave(ptr, path)
		for k, elem := range val {
			if err := checkedText(k); err != nil {
				return fmt.Errorf("object key: %w", err)
			}
			if err := validate(elem, path); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown value type: %T", v)
	}
}

// Equal reports whether a and b are deep-equal JSON values.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv := b.(Object)
		if len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, ok := bv[k]
			if !ok || !Equal(elem, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Copy returns a deep copy of v. Scalars are immutable and returned as-is.
func Copy(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Copy(elem)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, elem := range val {
			out[k] = Copy(elem)
		}
		return out
	default:
		return v
	}
}

// Compare orders values: null < boolean < number < string < array < object,
// then by value within scalar kinds. All arrays compare equal to each other,
// as do all objects; only scalars are meant to be compared by content.
func Compare(a, b Value) int {
	if a.Kind() != b.Kind() {
		if a.Kind() < b.Kind() {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		default:
			return 1
		}
	case Number:
		bv := b.(Number)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case String:
		return strings.Compare(string(av), string(b.(String)))
	default:
		return 0
	}
}

// EmptyLike returns the empty placeholder of a container kind ([] or {}),
// or v itself for scalars.
func EmptyLike(v Value) Value {
	switch v.Kind() {
	case KindArray:
		return Array{}
	case KindObject:
		return Object{}
	default:
		return v
	}
}

// IsEmptyContainer reports whether v is [] or {}.
func IsEmptyContainer(v Value) bool {
	switch val := v.(type) {
	case Array:
		return len(val) == 0
	case Object:
		return len(val) == 0
	default:
		return false
	}
}

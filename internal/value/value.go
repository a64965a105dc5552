package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// Kind discriminates the six JSON value types.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the lower-case JSON name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a sealed interface over the JSON value types.
// Only Null, Bool, Number, String, Array and Object implement it.
type Value interface {
	Kind() Kind
	jsonValue() // Sealed
}

// Null is the JSON null literal.
type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) jsonValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Bool is a JSON boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) jsonValue() {}

// Number is a JSON number. NaN and infinities are not representable in JSON
// and are rejected by Validate.
type Number float64

func (Number) Kind() Kind { return KindNumber }
func (Number) jsonValue() {}

// MarshalJSON implements json.Marshaler for Number.
func (n Number) MarshalJSON() ([]byte, error) {
	return appendNumber(nil, float64(n))
}

// String is a JSON string.
type String string

func (String) Kind() Kind { return KindString }
func (String) jsonValue() {}

// MarshalJSON implements json.Marshaler for String.
func (s String) MarshalJSON() ([]byte, error) {
	return appendString(nil, string(s)), nil
}

// Array is an ordered sequence of values. A nil Array is the empty array.
type Array []Value

func (Array) Kind() Kind { return KindArray }
func (Array) jsonValue() {}

// MarshalJSON implements json.Marshaler for Array.
func (a Array) MarshalJSON() ([]byte, error) {
	return Marshal(a)
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (a *Array) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	arr, ok := v.(Array)
	if !ok {
		return fmt.Errorf("expected array, got %s", v.Kind())
	}
	*a = arr
	return nil
}

// Object maps string keys to values. Use SortedKeys for deterministic
// iteration.
type Object map[string]Value

func (Object) Kind() Kind { return KindObject }
func (Object) jsonValue() {}

// MarshalJSON implements json.Marshaler for Object with RFC 8785 key order.
func (o Object) MarshalJSON() ([]byte, error) {
	return Marshal(o)
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	obj, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected object, got %s", v.Kind())
	}
	*o = obj
	return nil
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's native string ordering compares UTF-8 bytes, which differs for
// characters outside the BMP.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// IsScalar reports whether v is null, a boolean, a number or a string.
func IsScalar(v Value) bool {
	if v == nil {
		return false
	}
	switch v.Kind() {
	case KindNull, KindBool, KindNumber, KindString:
		return true
	}
	return false
}

// Parse decodes a single JSON document into a Value.
// Numbers are decoded through json.Number so integers beyond 2^53 are not
// silently rounded before conversion. Trailing data is an error.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse json: unexpected data after top-level value")
	}
	return FromGo(raw)
}

// MustParse is like Parse but panics on error.
// Use only in tests or with literal input.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

// Marshal encodes v as JSON with RFC 8785 key ordering and without HTML
// escaping. Strings are written as given (no normalisation).
func Marshal(v Value) ([]byte, error) {
	return appendValue(nil, v, false)
}

func appendValue(buf []byte, v Value, canonical bool) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("nil value")
	case Null:
		return append(buf, "null"...), nil
	case Bool:
		if val {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case Number:
		return appendNumber(buf, float64(val))
	case String:
		if canonical {
			return appendString(buf, normalize(string(val))), nil
		}
		return appendString(buf, string(val)), nil
	case Array:
		buf = append(buf, '[')
		for i, elem := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendValue(buf, elem, canonical)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		return append(buf, ']'), nil
	case Object:
		buf = append(buf, '{')
		for i, k := range sortedKeysFor(val, canonical) {
			if i > 0 {
				buf = append(buf, ',')
			}
			key := k
			if canonical {
				key = normalize(k)
			}
			buf = appendString(buf, key)
			buf = append(buf, ':')
			var err error
			buf, err = appendValue(buf, val[k], canonical)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// appendNumber writes f in the shortest round-trip form. Integral values
// below 1e21 are written without exponent, as ECMAScript does.
func appendNumber(buf []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number %v is not representable in JSON", f)
	}
	if f == 0 {
		return append(buf, '0'), nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.AppendFloat(buf, f, 'f', -1, 64), nil
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64), nil
}

// appendString writes s as a JSON string literal. Only the quote, the
// backslash and control characters are escaped (RFC 8785 section 3.2.2.2).
func appendString(buf []byte, s string) []byte {
	const hex = "0123456789abcdef"
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"':
				buf = append(buf, '\\', '"')
			case c == '\\':
				buf = append(buf, '\\', '\\')
			case c == '\b':
				buf = append(buf, '\\', 'b')
			case c == '\f':
				buf = append(buf, '\\', 'f')
			case c == '\n':
				buf = append(buf, '\\', 'n')
			case c == '\r':
				buf = append(buf, '\\', 'r')
			case c == '\t':
				buf = append(buf, '\\', 't')
			case c < 0x20:
				buf = append(buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
			default:
				buf = append(buf, c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf = append(buf, "\ufffd"...)
		} else {
			buf = append(buf, s[i:i+size]...)
		}
		i += size
	}
	return append(buf, '"')
}

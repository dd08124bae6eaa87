package sqlrest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrPlaceholderOutOfRange is returned when a $n placeholder has no
	// matching parameter.
	ErrPlaceholderOutOfRange = errors.New("placeholder index out of range")

	// ErrUnencodable is returned for values that cannot be written as a SQL
	// literal.
	ErrUnencodable = errors.New("value cannot be rendered as a SQL literal")
)

// RenderLiteral replaces every $n placeholder in text with the SQL literal for
// params[n-1]. Placeholders inside string literals, quoted identifiers,
// dollar-quoted bodies and comments are left alone. Text without
// placeholders is returned unchanged.
func RenderLiteral(text string, params []any) (string, error) {
	var (
		b        strings.Builder
		last     int
		rendered bool
	)
	b.Grow(len(text))
	for _, s := range scan(text) {
		if s.kind != spanParam {
			continue
		}
		rendered = true
		v, err := param(params, s.index)
		if err != nil {
			return "", err
		}
		lit, err := Literal(v)
		if err != nil {
			return "", fmt.Errorf("$%d: %w", s.index, err)
		}
		b.WriteString(text[last:s.start])
		b.WriteString(lit)
		last = s.end
	}
	if !rendered {
		return text, nil
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

// param returns the value bound to the 1-based placeholder index.
func param(params []any, index int) (any, error) {
	if index < 1 || index > len(params) {
		return nil, fmt.Errorf("%w: $%d with %d parameter(s)", ErrPlaceholderOutOfRange, index, len(params))
	}
	return params[index-1], nil
}

// Literal encodes a single Go value as PostgreSQL literal text.
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(x)
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return integer(int64(x)), nil
	case int8:
		return integer(int64(x)), nil
	case int16:
		return integer(int64(x)), nil
	case int32:
		return integer(int64(x)), nil
	case int64:
		return integer(x), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return float(float64(x), 32), nil
	case float64:
		return float(x, 64), nil
	case json.Number:
		if _, err := x.Float64(); err != nil {
			return "", fmt.Errorf("%w: invalid number %q", ErrUnencodable, x.String())
		}
		return signed(x.String()), nil
	case time.Time:
		s, err := quote(x.Format(time.RFC3339Nano))
		return s + "::timestamptz", err
	case json.RawMessage:
		if !json.Valid(x) {
			return "", fmt.Errorf("%w: invalid JSON", ErrUnencodable)
		}
		s, err := quote(string(x))
		return s + "::jsonb", err
	case []byte:
		return `'\x` + hex.EncodeToString(x) + `'::bytea`, nil
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "NULL", nil
		}
		return quote(x.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "NULL", nil
		}
		return Literal(rv.Elem().Interface())
	case reflect.String:
		return quote(rv.String())
	case reflect.Bool:
		return Literal(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return integer(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return float(rv.Float(), 64), nil
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return "NULL", nil
		}
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return "", fmt.Errorf("%w: %T", ErrUnencodable, v)
	}

	doc, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	s, err := quote(string(doc))
	return s + "::jsonb", err
}

// quote wraps s in single quotes, doubling embedded quotes.
func quote(s string) (string, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return "", fmt.Errorf("%w: string contains NUL byte", ErrUnencodable)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'", nil
}

func float(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "'NaN'::float8"
	case math.IsInf(f, 1):
		return "'Infinity'::float8"
	case math.IsInf(f, -1):
		return "'-Infinity'::float8"
	}
	return signed(strconv.FormatFloat(f, 'g', -1, bits))
}

func integer(n int64) string {
	return signed(strconv.FormatInt(n, 10))
}

// signed parenthesizes negative numbers so that a minus sign in front of the
// placeholder cannot combine with them into a -- comment.
func signed(num string) string {
	if strings.HasPrefix(num, "-") {
		return "(" + num + ")"
	}
	return num
}

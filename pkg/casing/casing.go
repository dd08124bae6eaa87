// Package casing rewrites the keys of decoded JSON documents between
// camelCase (API) and snake_case (stored documents).
package casing

import "github.com/iancoleman/strcase"

// CamelKeys returns a copy of v with every object key in lowerCamelCase.
// Arrays are walked; other values are returned as is.
func CamelKeys(v any) any {
	return convert(v, strcase.ToLowerCamel)
}

// SnakeKeys returns a copy of v with every object key in snake_case.
func SnakeKeys(v any) any {
	return convert(v, strcase.ToSnake)
}

// CamelMap is CamelKeys for a single object.
func CamelMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return convert(m, strcase.ToLowerCamel).(map[string]any)
}

// SnakeMap is SnakeKeys for a single object.
func SnakeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return convert(m, strcase.ToSnake).(map[string]any)
}

func convert(v any, key func(string) string) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[key(k)] = convert(val, key)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = convert(val, key)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(x))
		for i, val := range x {
			out[i] = convert(val, key).(map[string]any)
		}
		return out
	}
	return v
}

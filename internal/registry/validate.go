package registry

import (
	"math"
	"reflect"

	"toolstream/internal/toolerr"
)

// Validate checks args against the descriptor's parameter schema. Arguments
// not named by the schema are left alone.
func Validate(d Descriptor, args map[string]any) error {
	for _, p := range d.Params {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return toolerr.InvalidArgument(p.Name, "required parameter missing")
			}
			continue
		}
		if !compatible(p.Type, v) {
			return toolerr.InvalidArgument(p.Name, "expected %s, got %s", p.Type, describe(v))
		}
	}
	return nil
}

// ApplyDefaults returns a copy of args with declared defaults filled in for
// absent parameters. Map and slice defaults are copied so handlers cannot
// mutate the descriptor through them.
func ApplyDefaults(d Descriptor, args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+len(d.Params))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range d.Params {
		if p.Default == nil {
			continue
		}
		if v, ok := out[p.Name]; !ok || v == nil {
			out[p.Name] = cloneValue(p.Default)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	}
	return v
}

func compatible(t ParamType, v any) bool {
	rv := reflect.ValueOf(v)
	switch t {
	case TypeString:
		return rv.Kind() == reflect.String
	case TypeBoolean:
		return rv.Kind() == reflect.Bool
	case TypeNumber:
		return isNumeric(rv)
	case TypeInteger:
		if isInt(rv) {
			return true
		}
		if rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64 {
			f := rv.Float()
			return !math.IsInf(f, 0) && f == math.Trunc(f)
		}
		return false
	case TypeObject:
		return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
	case TypeArray:
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	}
	return false
}

func isInt(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumeric(rv reflect.Value) bool {
	return isInt(rv) || rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64
}

func describe(v any) string {
	rv := reflect.ValueOf(v)
	switch {
	case rv.Kind() == reflect.String:
		return "string"
	case rv.Kind() == reflect.Bool:
		return "boolean"
	case isNumeric(rv):
		return "number"
	case rv.Kind() == reflect.Map:
		return "object"
	case rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array:
		return "array"
	}
	return rv.Kind().String()
}

// Package jsonsafe converts arbitrary tool results into values that always
// encode as JSON: maps with string keys, slices, strings, finite numbers,
// booleans and nil.
package jsonsafe

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// PlainValuer is implemented by values that know their own plain form.
type PlainValuer interface {
	ToPlainValue() any
}

const maxDepth = 64

// Convert returns a JSON-encodable copy of v. Values that cannot be encoded
// (channels, functions, NaN, cyclic data past maxDepth) become their string form.
func Convert(v any) any {
	return convert(v, 0)
}

func convert(v any, depth int) any {
	if depth > maxDepth {
		return fmt.Sprint(v)
	}
	if v == nil {
		return nil
	}
	if pv, ok := v.(PlainValuer); ok {
		return convert(pv.ToPlainValue(), depth+1)
	}

	switch t := v.(type) {
	case string, bool:
		return t
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return string(t)
		}
		return decoded
	case json.Number:
		if _, err := t.Float64(); err != nil {
			return string(t)
		}
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	case error:
		return t.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return convert(rv.Elem().Interface(), depth+1)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()

	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key())] = convert(iter.Value().Interface(), depth+1)
		}
		return out

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = convert(rv.Index(i).Interface(), depth+1)
		}
		return out

	case reflect.Struct:
		return convertStruct(rv, depth)
	}

	return fmt.Sprint(v)
}

// convertStruct walks exported fields by their JSON names, converting each
// value on its own. Types with their own JSON encoding keep it.
func convertStruct(rv reflect.Value, depth int) any {
	if m, ok := rv.Interface().(json.Marshaler); ok {
		raw, err := m.MarshalJSON()
		if err != nil {
			return fmt.Sprint(rv.Interface())
		}
		return convert(json.RawMessage(raw), depth+1)
	}
	out := make(map[string]any, rv.NumField())
	addFields(out, rv, depth, false)
	return out
}

// addFields copies fields into out. Promoted fields from embedded structs
// never replace a name already set.
func addFields(out map[string]any, rv reflect.Value, depth int, promoted bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if f.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				addFields(out, inner, depth, true)
				continue
			}
		}
		if !f.IsExported() || !fv.CanInterface() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(","+opts+",", ",omitempty,") && isEmpty(fv) {
			continue
		}
		if _, taken := out[name]; taken && promoted {
			continue
		}
		out[name] = convert(fv.Interface(), depth+1)
	}
}

// isEmpty matches encoding/json's omitempty rule.
func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if b, err := tm.MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(k.Interface())
}

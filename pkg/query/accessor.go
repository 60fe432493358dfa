package query

import (
	"reflect"
	"strings"
)

// FieldAccessor resolves a named field on a record. It returns the field
// value and whether the field exists at all; a nil value with ok=true means
// the field is present but null. Supplying a typed accessor per entity keeps
// the evaluator free of runtime type inspection.
type FieldAccessor[T any] func(record T, field string) (value interface{}, ok bool)

// MapAccessor returns an accessor over map records keyed by field name.
func MapAccessor() FieldAccessor[map[string]interface{}] {
	return func(record map[string]interface{}, field string) (interface{}, bool) {
		v, ok := record[field]
		return v, ok
	}
}

// StructAccessor returns a reflection-based accessor reading exported struct
// fields, honoring `json` tags when present. It is a convenience for tests
// and prototypes; production entities should supply a hand-written accessor
// for performance and control.
func StructAccessor[T any]() FieldAccessor[T] {
	var zero T
	t := reflect.TypeOf(zero)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	index := map[string][]int{}
	if t != nil && t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := strings.ToLower(f.Name)
			if tag := f.Tag.Get("json"); tag != "" {
				if c := strings.Split(tag, ",")[0]; c != "" && c != "-" {
					name = c
				}
			}
			index[name] = f.Index
		}
	}

	return func(record T, field string) (interface{}, bool) {
		idx, ok := index[strings.ToLower(field)]
		if !ok {
			return nil, false
		}
		v := reflect.ValueOf(record)
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return nil, false
			}
			v = v.Elem()
		}
		fv := v.FieldByIndex(idx)
		if !fv.IsValid() {
			return nil, false
		}
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				return nil, true
			}
			fv = fv.Elem()
		}
		return fv.Interface(), true
	}
}

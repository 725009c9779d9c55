package catalog

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// convert adapts a dumped literal or an injected service to the parameter
// type t. Literals come back from the generated source as the widest Go
// kinds ([]any, map[string]any, int, float64), so collections and numbers
// are converted element-wise.
func convert(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}

	switch {
	case t == durationType && rv.Kind() == reflect.String:
		d, err := time.ParseDuration(rv.String())
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(d), nil

	case isNumber(rv.Kind()) && isNumber(t.Kind()):
		if isFloat(rv.Kind()) && !isFloat(t.Kind()) {
			if f := rv.Float(); f != math.Trunc(f) {
				return reflect.Value{}, fmt.Errorf("cannot use %v as %s without losing precision", f, t)
			}
		}
		return rv.Convert(t), nil

	case rv.Kind() == reflect.String && t.Kind() == reflect.String,
		rv.Kind() == reflect.Bool && t.Kind() == reflect.Bool:
		return rv.Convert(t), nil

	case t.Kind() == reflect.Slice && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array):
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e, err := convert(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(e)
		}
		return out, nil

	case t.Kind() == reflect.Map && rv.Kind() == reflect.Map:
		out := reflect.MakeMapWithSize(t, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := convert(iter.Key().Interface(), t.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
			}
			e, err := convert(iter.Value().Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("value %v: %w", iter.Key(), err)
			}
			out.SetMapIndex(k, e)
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t)
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

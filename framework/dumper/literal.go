package dumper

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/km-arc/go-container/framework/definition"
)

// literal returns a Go expression that evaluates to v. Collections come
// back as []any and map[string]any; numbers keep their kind.
func literal(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "nil", nil
	case string:
		return strconv.Quote(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return floatLiteral(t, 64)
	case time.Duration:
		return fmt.Sprintf("%q", t.String()), nil
	case []any:
		elems := make([]string, len(t))
		for i, e := range t {
			x, err := literal(e)
			if err != nil {
				return "", err
			}
			elems[i] = x
		}
		return "[]any{" + strings.Join(elems, ", ") + "}", nil
	case map[string]any:
		var sb strings.Builder
		sb.WriteString("map[string]any{")
		for _, k := range definition.SortedKeys(t) {
			x, err := literal(t[k])
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "%q: %s, ", k, x)
		}
		sb.WriteString("}")
		return sb.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%s(%d)", rv.Kind(), rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%s(%d)", rv.Kind(), rv.Uint()), nil
	case reflect.Float32:
		return floatLiteral(rv.Float(), 32)
	case reflect.String:
		return strconv.Quote(rv.String()), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Slice, reflect.Array:
		elems := make([]any, rv.Len())
		for i := range elems {
			elems[i] = rv.Index(i).Interface()
		}
		return literal(elems)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return literal(m)
	}
	return "", fmt.Errorf("cannot dump a value of type %T", v)
}

// floatLiteral rejects NaN and infinities: Go has no literal for them.
func floatLiteral(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%v has no Go literal", f)
	}
	return fmt.Sprintf("float%d(%s)", bits, strconv.FormatFloat(f, 'g', -1, bits)), nil
}

package query

import (
	"reflect"
	"strings"
	"time"
)

// Compare orders two scalar values. ok is false when the kinds cannot be
// compared (for instance a string against a number, or any nil operand).
func Compare(a, b any) (c int, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}

	if ai, aInt := asInt(a); aInt {
		if bi, bInt := asInt(b); bInt {
			return cmp3(ai < bi, ai > bi), true
		}
	}
	if af, aNum := asFloat(a); aNum {
		if bf, bNum := asFloat(b); bNum {
			return cmp3(af < bf, af > bf), true
		}
		return 0, false
	}

	switch av := a.(type) {
	case string:
		bv, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, isTime := b.(time.Time)
		if !isTime {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		return cmp3(!av && bv, av && !bv), true
	}
	return 0, false
}

// Equal reports loose equality: numbers compare by value regardless of Go
// kind, times by instant, everything else by deep equality.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if _, aNum := asFloat(a); aNum {
		c, ok := Compare(a, b)
		return ok && c == 0
	}
	if at, isTime := a.(time.Time); isTime {
		bt, isTime := b.(time.Time)
		return isTime && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func asInt(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > 1<<63-1 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// asSlice flattens any slice or array value into []any
func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		// []byte is a scalar here
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Less orders a against b for sorting. nil is the smallest value; when the
// kinds are incomparable the values are treated as equal so a stable sort
// keeps their input order. desc inverts the direction.
func Less(a, b any, desc bool) bool {
	var c int
	switch {
	case a != nil && b != nil:
		var ok bool
		c, ok = Compare(a, b)
		if !ok {
			return false
		}
	case a == nil && b == nil:
		return false
	case a == nil:
		c = -1
	default:
		c = 1
	}
	if desc {
		return c > 0
	}
	return c < 0
}

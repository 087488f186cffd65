package query

import (
	"fmt"
	"strings"
)

// evaluator tests a resolved attribute against a lookup value
type evaluator func(field, value any) (bool, error)

var evaluators = map[Operator]evaluator{
	OpExact:     evalExact,
	OpContains:  evalContains,
	OpIExact:    evalIExact,
	OpIContains: evalIContains,
	OpLTE:       ordered(func(c int) bool { return c <= 0 }),
	OpGTE:       ordered(func(c int) bool { return c >= 0 }),
	OpLT:        ordered(func(c int) bool { return c < 0 }),
	OpGT:        ordered(func(c int) bool { return c > 0 }),
	OpIsNull:    evalIsNull,
	OpIn:        evalIn,
	OpOverlap:   evalOverlap,
}

// IsOperator reports whether name is a supported lookup operator
func IsOperator(name string) bool {
	_, ok := evaluators[Operator(name)]
	return ok
}

func evalExact(field, value any) (bool, error) {
	return Equal(field, value), nil
}

func evalContains(field, value any) (bool, error) {
	if field == nil {
		return false, nil
	}
	if s, ok := field.(string); ok {
		return strings.Contains(s, fmt.Sprint(value)), nil
	}
	items, ok := asSlice(field)
	if !ok {
		return false, fmt.Errorf("contains: %T is not a string or a sequence", field)
	}
	for _, item := range items {
		if Equal(item, value) {
			return true, nil
		}
	}
	return false, nil
}

func evalIExact(field, value any) (bool, error) {
	if field == nil {
		return value == nil, nil
	}
	return strings.EqualFold(fmt.Sprint(field), fmt.Sprint(value)), nil
}

func evalIContains(field, value any) (bool, error) {
	if field == nil {
		return false, nil
	}
	s := fmt.Sprint(field)
	if s == "" {
		return false, nil
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(fmt.Sprint(value))), nil
}

func ordered(test func(int) bool) evaluator {
	return func(field, value any) (bool, error) {
		if field == nil || value == nil {
			return false, nil
		}
		c, ok := Compare(field, value)
		if !ok {
			return false, fmt.Errorf("cannot compare %T with %T", field, value)
		}
		return test(c), nil
	}
}

func evalIsNull(field, value any) (bool, error) {
	isNull := field == nil
	if !isNull {
		if id, err := Resolve(field, []string{"id"}); err == nil && id == nil {
			if _, scalar := asFloat(field); !scalar {
				isNull = hasAttr(field, "id")
			}
		}
	}
	return isNull == truthy(value), nil
}

func hasAttr(obj any, name string) bool {
	_, ok := attr(obj, name)
	return ok
}

func evalIn(field, value any) (bool, error) {
	items, ok := asSlice(value)
	if !ok {
		return false, fmt.Errorf("in: lookup value %T is not a sequence", value)
	}
	for _, item := range items {
		if Equal(field, item) {
			return true, nil
		}
	}
	return false, nil
}

func evalOverlap(field, value any) (bool, error) {
	if field == nil {
		return false, nil
	}
	have, ok := asSlice(field)
	if !ok {
		return false, fmt.Errorf("overlap: %T is not a sequence", field)
	}
	want, ok := asSlice(value)
	if !ok {
		return false, fmt.Errorf("overlap: lookup value %T is not a sequence", value)
	}
	for _, h := range have {
		for _, w := range want {
			if Equal(h, w) {
				return true, nil
			}
		}
	}
	return false, nil
}

// truthy mirrors the usual notion of an "empty" parameter value
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := asFloat(v); ok {
		return f != 0
	}
	if s, ok := asSlice(v); ok {
		return len(s) > 0
	}
	return true
}

// IsBlank reports whether a parameter value counts as empty
func IsBlank(v any) bool {
	return !truthy(v)
}

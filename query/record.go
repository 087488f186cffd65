package query

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// Record is an attribute-bearing row with no fixed schema.
// Nested records, maps, Attributer values and structs are traversed by
// attribute paths ("parent.name" / "parent__name").
type Record map[string]any

// Attributer lets arbitrary types expose attributes to lookups and ordering
type Attributer interface {
	Attr(name string) (any, bool)
}

// Attr implements Attributer
func (r Record) Attr(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// Copy returns a shallow copy of the record
func (r Record) Copy() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the record's "id" attribute
func (r Record) ID() any {
	return r["id"]
}

// AttributeError reports an attribute path that cannot be resolved on a value.
// Lookups are compiled lazily, so this surfaces when a chain is consumed.
type AttributeError struct {
	Path    []string
	Segment string
	Type    string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("%s has no attribute %q (path %q)", e.Type, e.Segment, strings.Join(e.Path, "."))
}

// SplitPath splits "a__b__c" or "a.b.c" into path segments
func SplitPath(field string) []string {
	field = strings.ReplaceAll(field, ".", "__")
	return strings.Split(field, "__")
}

// Resolve walks path on obj. A nil intermediate value resolves to nil so
// that lookups through empty relations behave like SQL outer joins.
func Resolve(obj any, path []string) (any, error) {
	cur := obj
	for _, seg := range path {
		if cur == nil {
			return nil, nil
		}
		v, ok := attr(cur, seg)
		if !ok {
			return nil, &AttributeError{Path: path, Segment: seg, Type: typeName(cur)}
		}
		cur = v
	}
	return cur, nil
}

// Getter returns a function resolving field (a dotted or "__" path) on records
func Getter(field string) func(any) (any, error) {
	path := SplitPath(field)
	return func(obj any) (any, error) {
		return Resolve(obj, path)
	}
}

func attr(obj any, name string) (any, bool) {
	switch v := obj.(type) {
	case Record:
		return v.Attr(name)
	case map[string]any:
		val, ok := v[name]
		return val, ok
	case Attributer:
		return v.Attr(name)
	}

	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, true
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		return structField(rv, name)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true
	}
	return nil, false
}

// structField matches the Go field name, its snake_case form, or a
// `query`/`json` tag name.
func structField(rv reflect.Value, name string) (any, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Name == name || snakeCase(f.Name) == name || tagName(f, "query") == name || tagName(f, "json") == name {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// FieldName returns the lookup name of a struct field: its query tag, its
// json tag, or the snake_case form of the Go name.
func FieldName(f reflect.StructField) string {
	if name := tagName(f, "query"); name != "" {
		return name
	}
	if name := tagName(f, "json"); name != "" {
		return name
	}
	return snakeCase(f.Name)
}

func tagName(f reflect.StructField, key string) string {
	tag := f.Tag.Get(key)
	if tag == "" || tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maxpert/objectpack/query"
)

// FieldType is the declared storage type of a model field
type FieldType string

const (
	DateTimeField FieldType = "datetime"
	DateField     FieldType = "date"
	TimeField     FieldType = "time"
	BooleanField  FieldType = "boolean"
	FloatField    FieldType = "float"
	DecimalField  FieldType = "decimal"
	IntegerField  FieldType = "integer"
	ForeignKey    FieldType = "foreign_key"
	TextField     FieldType = "text"
	CharField     FieldType = "char"
)

// Field describes one model field. Related is set for foreign keys and is
// used to resolve paths like "parent__name".
type Field struct {
	Name    string
	Type    FieldType
	Label   string
	Related Schema
}

// Schema resolves fields by name
type Schema interface {
	Field(name string) (Field, bool)
}

// Fields is a Schema backed by a map
type Fields map[string]Field

// Field implements Schema
func (f Fields) Field(name string) (Field, bool) {
	fld, ok := f[name]
	if ok && fld.Name == "" {
		fld.Name = name
	}
	return fld, ok
}

// ResolveField walks a "__" or "." separated path through related schemas
func ResolveField(schema Schema, path string) (Field, error) {
	if schema == nil {
		return Field{}, fmt.Errorf("field %q: no schema", path)
	}
	segments := query.SplitPath(path)
	cur := schema
	for i, seg := range segments {
		if cur == nil {
			return Field{}, fmt.Errorf("field %q: %q is not a relation", path, segments[i-1])
		}
		fld, ok := cur.Field(seg)
		if !ok {
			return Field{}, fmt.Errorf("field %q: unknown field %q", path, seg)
		}
		if i == len(segments)-1 {
			return fld, nil
		}
		cur = fld.Related
	}
	return Field{}, fmt.Errorf("empty field path")
}

// fieldParsers maps field types to a parser and a default lookup template.
// The first matching row wins.
var fieldParsers = []struct {
	types  []FieldType
	parser string
	lookup string
}{
	{[]FieldType{DateTimeField}, "datetime", ""},
	{[]FieldType{DateField}, "date", ""},
	{[]FieldType{TimeField}, "time", ""},
	{[]FieldType{BooleanField}, "boolean", ""},
	{[]FieldType{FloatField}, "float", ""},
	{[]FieldType{DecimalField}, "decimal", ""},
	{[]FieldType{IntegerField, ForeignKey}, "int", ""},
	{[]FieldType{TextField, CharField}, "unicode", "%s__icontains"},
}

var controlXTypes = map[FieldType]string{
	DateTimeField: "datefield",
	DateField:     "datefield",
	TimeField:     "timefield",
	BooleanField:  "checkbox",
	FloatField:    "numberfield",
	DecimalField:  "numberfield",
	IntegerField:  "numberfield",
	ForeignKey:    "m3-select",
	TextField:     "textfield",
	CharField:     "textfield",
}

// FieldOption customizes ByField
type FieldOption func(*ByField)

// WithLookup sets a lookup key; "%s" expands to the field path
func WithLookup(key string) FieldOption {
	return func(f *ByField) {
		f.lookupKey = key
	}
}

// WithLookupFunc sets a custom lookup
func WithLookupFunc(fn Lookup) FieldOption {
	return func(f *ByField) {
		f.lookup = fn
	}
}

// WithTooltip sets the control tooltip; the field label is used otherwise
func WithTooltip(tooltip string) FieldOption {
	return func(f *ByField) {
		f.tooltip = tooltip
	}
}

// WithDefault sets the default value. A func() any is evaluated each time
// the grid is configured.
func WithDefault(value any) FieldOption {
	return func(f *ByField) {
		f.defaultValue = value
	}
}

// WithControl adds extra configuration to the rendered control
func WithControl(params map[string]any) FieldOption {
	return func(f *ByField) {
		for k, v := range params {
			f.control[k] = v
		}
	}
}

// ByField filters on a model field; parser and default lookup follow the
// field's declared type.
type ByField struct {
	leaf
	field     Field
	path      string
	lookupKey string
	control   map[string]any
}

var _ Filter = (*ByField)(nil)

// NewByField builds a filter for fieldPath in schema
func NewByField(schema Schema, fieldPath string, opts ...FieldOption) (*ByField, error) {
	path := strings.ReplaceAll(fieldPath, ".", "__")
	fld, err := ResolveField(schema, path)
	if err != nil {
		return nil, err
	}

	f := &ByField{field: fld, path: path, control: map[string]any{}}
	for _, opt := range opts {
		opt(f)
	}

	var defaultLookup string
	for _, row := range fieldParsers {
		if containsType(row.types, fld.Type) {
			f.parser = query.Parsers[row.parser]
			defaultLookup = row.lookup
			break
		}
	}
	if f.parser == nil {
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnsupportedField, path, fld.Type)
	}

	if f.lookup == nil {
		key := f.lookupKey
		if key == "" {
			key = defaultLookup
		}
		if key == "" {
			key = path
		}
		if strings.Contains(key, "%s") {
			key = fmt.Sprintf(key, path)
		}
		f.lookup = LookupKey(key)
	}
	return f, nil
}

// MustByField is NewByField for declarations known to be valid
func MustByField(schema Schema, fieldPath string, opts ...FieldOption) *ByField {
	f, err := NewByField(schema, fieldPath, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

func containsType(types []FieldType, t FieldType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Field returns the resolved model field
func (f *ByField) Field() Field {
	return f.field
}

// Script implements Filter
func (f *ByField) Script() ([]string, error) {
	tooltip := f.tooltip
	if tooltip == "" {
		tooltip = f.field.Label
	}
	control := map[string]any{
		"xtype":            controlXTypes[f.field.Type],
		"filterName":       f.uid,
		"name":             f.uid,
		"tooltip":          tooltip,
		"allowBlank":       true,
		"hideClearTrigger": false,
		"value":            f.DefaultValue(),
	}
	if f.field.Type == IntegerField {
		control["allowDecimals"] = false
	}
	if f.field.Type == DateTimeField || f.field.Type == DateField {
		control["format"] = "d.m.Y"
	}
	for k, v := range f.control {
		control[k] = v
	}
	b, err := json.Marshal(control)
	if err != nil {
		return nil, fmt.Errorf("render filter %s: %w", f.uid, err)
	}
	return []string{string(b)}, nil
}

// And implements Filter
func (f *ByField) And(other Filter) *Group {
	return and(f, other)
}

// Or implements Filter
func (f *ByField) Or(other Filter) *Group {
	return or(f, other)
}

// Not implements Filter
func (f *ByField) Not() Filter {
	return &Group{items: []Filter{f}, op: query.AND, not: true}
}

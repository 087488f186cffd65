package vmodel

import (
	"context"
	"fmt"
	"reflect"

	"github.com/maxpert/objectpack/query"
)

// Options configures a virtual model
type Options struct {
	// AutoIDs assigns ids 1..N in source order on every read
	AutoIDs bool
	// Name is used in lookup errors
	Name string
}

// Model is a read-only record type backed by an in-memory source
type Model struct {
	name    string
	autoIDs bool
	source  func(ctx context.Context) ([]query.Record, error)
}

// FromData builds a model over data. data may be a []query.Record, a
// slice of maps or structs, or a func returning one of those; functions
// are called on every read so the model reflects changes in the source.
func FromData(data any, opts Options) (*Model, error) {
	name := opts.Name
	if name == "" {
		name = "VirtualModel"
	}
	m := &Model{name: name, autoIDs: opts.AutoIDs}

	switch src := data.(type) {
	case func() []query.Record:
		m.source = func(context.Context) ([]query.Record, error) { return src(), nil }
	case func(context.Context) ([]query.Record, error):
		m.source = src
	case func() any:
		m.source = func(context.Context) ([]query.Record, error) { return toRecords(src()) }
	default:
		recs, err := toRecords(data)
		if err != nil {
			return nil, err
		}
		m.source = func(context.Context) ([]query.Record, error) { return recs, nil }
	}
	return m, nil
}

// MustFromData is FromData that panics on an unsupported source
func MustFromData(data any, opts Options) *Model {
	m, err := FromData(data, opts)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the model name
func (m *Model) Name() string {
	return m.name
}

// Objects returns the root manager
func (m *Model) Objects() *Manager {
	return &Manager{model: m}
}

func (m *Model) load(ctx context.Context) ([]query.Record, error) {
	recs, err := m.source(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]query.Record, len(recs))
	if !m.autoIDs {
		copy(out, recs)
		return out, nil
	}
	for i, r := range recs {
		c := r.Copy()
		c["id"] = i + 1
		out[i] = c
	}
	return out, nil
}

func toRecords(data any) ([]query.Record, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []query.Record:
		return v, nil
	case []map[string]any:
		out := make([]query.Record, len(v))
		for i, r := range v {
			out[i] = query.Record(r)
		}
		return out, nil
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("unsupported data source %T", data)
	}
	out := make([]query.Record, rv.Len())
	for i := range out {
		rec, err := toRecord(rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = rec
	}
	return out, nil
}

// toRecord converts a map or struct into a Record. Struct fields are keyed
// by their lookup name (query/json tag, else snake_case).
func toRecord(item any) (query.Record, error) {
	switch v := item.(type) {
	case query.Record:
		return v, nil
	case map[string]any:
		return query.Record(v), nil
	}

	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("nil %T", item)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("unsupported record %T", item)
	}
	rt := rv.Type()
	rec := make(query.Record, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		rec[query.FieldName(f)] = rv.Field(i).Interface()
	}
	return rec, nil
}

// Query returns the root manager as a query.Set
func (m *Model) Query() query.Set {
	return m.Objects()
}

// Get returns the record with id
func (m *Model) Get(ctx context.Context, id any) (query.Record, error) {
	return m.Objects().GetByID(ctx, id)
}

// New returns an empty record
func (m *Model) New() query.Record {
	return query.Record{}
}

// Save always fails, models are read-only
func (m *Model) Save(context.Context, query.Record, bool) (query.Record, error) {
	return nil, query.ErrReadOnly
}

// Delete always fails, models are read-only
func (m *Model) Delete(context.Context, any) (query.Record, error) {
	return nil, query.ErrReadOnly
}

package vmodel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/maxpert/objectpack/query"
)

// proc is one step of a query chain
type proc func(recs []query.Record) ([]query.Record, error)

// Manager emulates a queryset over an in-memory record source. It is
// immutable: every refinement returns a new Manager sharing the source.
type Manager struct {
	model *Model
	procs []proc
}

var _ query.Set = (*Manager)(nil)

func (m *Manager) fork(p proc) *Manager {
	procs := make([]proc, len(m.procs), len(m.procs)+1)
	copy(procs, m.procs)
	return &Manager{model: m.model, procs: append(procs, p)}
}

// All returns a copy of the chain
func (m *Manager) All() *Manager {
	return &Manager{model: m.model, procs: m.procs[:len(m.procs):len(m.procs)]}
}

// Filter keeps records matching every expression
func (m *Manager) Filter(exprs ...query.Expr) query.Set {
	return m.Where(exprs...)
}

// Where is Filter returning the concrete type
func (m *Manager) Where(exprs ...query.Expr) *Manager {
	cond := query.And(exprs...)
	if query.IsEmpty(cond) {
		return m.All()
	}
	return m.fork(func(recs []query.Record) ([]query.Record, error) {
		return keep(recs, cond, true)
	})
}

// Exclude drops records matching every expression
func (m *Manager) Exclude(exprs ...query.Expr) query.Set {
	return m.Without(exprs...)
}

// Without is Exclude returning the concrete type
func (m *Manager) Without(exprs ...query.Expr) *Manager {
	cond := query.And(exprs...)
	if query.IsEmpty(cond) {
		return m.All()
	}
	return m.fork(func(recs []query.Record) ([]query.Record, error) {
		return keep(recs, cond, false)
	})
}

func keep(recs []query.Record, cond query.Expr, want bool) ([]query.Record, error) {
	out := make([]query.Record, 0, len(recs))
	for _, r := range recs {
		ok, err := cond.Match(r)
		if err != nil {
			return nil, err
		}
		if ok == want {
			out = append(out, r)
		}
	}
	return out, nil
}

// OrderBy implements query.Set
func (m *Manager) OrderBy(fields ...string) query.Set {
	return m.Sorted(fields...)
}

// Sorted orders by fields; "-field" sorts descending. nil sorts as the
// smallest value.
func (m *Manager) Sorted(fields ...string) *Manager {
	if len(fields) == 0 {
		return m.All()
	}
	type key struct {
		getter func(any) (any, error)
		desc   bool
	}
	keys := make([]key, len(fields))
	for i, f := range fields {
		desc := strings.HasPrefix(f, "-")
		keys[i] = key{getter: query.Getter(strings.TrimPrefix(f, "-")), desc: desc}
	}

	return m.fork(func(recs []query.Record) ([]query.Record, error) {
		values := make([][]any, len(recs))
		for i, r := range recs {
			values[i] = make([]any, len(keys))
			for j, k := range keys {
				v, err := k.getter(r)
				if err != nil {
					return nil, err
				}
				values[i][j] = v
			}
		}

		idx := make([]int, len(recs))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			va, vb := values[idx[a]], values[idx[b]]
			for j, k := range keys {
				if query.Less(va[j], vb[j], k.desc) {
					return true
				}
				if query.Less(vb[j], va[j], k.desc) {
					return false
				}
			}
			return false
		})

		out := make([]query.Record, len(recs))
		for i, j := range idx {
			out[i] = recs[j]
		}
		return out, nil
	})
}

// Slice implements query.Set
func (m *Manager) Slice(start, stop int) query.Set {
	return m.Window(start, stop)
}

// Window keeps records in [start, stop); stop < 0 means to the end
func (m *Manager) Window(start, stop int) *Manager {
	return m.fork(func(recs []query.Record) ([]query.Record, error) {
		lo := max(start, 0)
		hi := len(recs)
		if stop >= 0 && stop < hi {
			hi = stop
		}
		if lo >= hi {
			return []query.Record{}, nil
		}
		return recs[lo:hi], nil
	})
}

// Records runs the chain
func (m *Manager) Records(ctx context.Context) ([]query.Record, error) {
	recs, err := m.model.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range m.procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if recs, err = p(recs); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Count implements query.Set
func (m *Manager) Count(ctx context.Context) (int, error) {
	recs, err := m.Records(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// At returns the i-th record of the chain
func (m *Manager) At(ctx context.Context, i int) (query.Record, error) {
	recs, err := m.Records(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(recs) {
		return nil, fmt.Errorf("index %d out of range [0:%d]", i, len(recs))
	}
	return recs[i], nil
}

// Get returns the single record matching exprs
func (m *Manager) Get(ctx context.Context, exprs ...query.Expr) (query.Record, error) {
	rec, err := query.Get(ctx, m, exprs...)
	if errors.Is(err, query.ErrDoesNotExist) || errors.Is(err, query.ErrMultipleObjectsReturned) {
		return nil, &query.LookupError{Model: m.model.name, Err: err}
	}
	return rec, err
}

// GetByID returns the record with the given id
func (m *Manager) GetByID(ctx context.Context, id any) (query.Record, error) {
	return m.Get(ctx, query.Q("id", id))
}

// Values projects fields into new records
func (m *Manager) Values(ctx context.Context, fields ...string) ([]query.Record, error) {
	return query.Values(ctx, m, fields...)
}

// ValuesList projects fields into tuples, or bare values when flat
func (m *Manager) ValuesList(ctx context.Context, flat bool, fields ...string) ([]any, error) {
	return query.ValuesList(ctx, m, flat, fields...)
}

// Exists reports whether the chain yields at least one record
func (m *Manager) Exists(ctx context.Context) (bool, error) {
	recs, err := m.Window(0, 1).Records(ctx)
	return len(recs) > 0, err
}

package sqlstore

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/objectpack/query"
)

type filterStep struct {
	expr    query.Expr
	exclude bool
}

// Query is an immutable query.Set over a table. Refinements after a slice
// select from the sliced query as a subquery, so steps apply in the order
// they were chained.
type Query struct {
	table   *Table
	inner   *Query
	filters []filterStep
	order   []string
	offset  int
	// limit < 0 is unbounded
	limit int
}

var _ query.Set = (*Query)(nil)

func (q *Query) fork() *Query {
	c := *q
	c.filters = append([]filterStep(nil), q.filters...)
	c.order = append([]string(nil), q.order...)
	return &c
}

func (q *Query) sliced() bool {
	return q.offset > 0 || q.limit >= 0
}

// refine forks q, nesting it when it was sliced
func (q *Query) refine() *Query {
	if !q.sliced() {
		return q.fork()
	}
	return &Query{table: q.table, inner: q, order: append([]string(nil), q.order...), limit: -1}
}

// Filter implements query.Set
func (q *Query) Filter(exprs ...query.Expr) query.Set {
	n := q.refine()
	for _, e := range exprs {
		n.filters = append(n.filters, filterStep{expr: e})
	}
	return n
}

// Exclude implements query.Set
func (q *Query) Exclude(exprs ...query.Expr) query.Set {
	n := q.refine()
	n.filters = append(n.filters, filterStep{expr: query.And(exprs...), exclude: true})
	return n
}

// OrderBy implements query.Set. Earlier orderings break ties.
func (q *Query) OrderBy(fields ...string) query.Set {
	n := q.refine()
	n.order = append(append([]string(nil), fields...), q.order...)
	return n
}

// Slice implements query.Set
func (q *Query) Slice(start, stop int) query.Set {
	n := q.fork()
	start = max(start, 0)
	lo := q.offset + start
	hi := -1
	if q.limit >= 0 {
		hi = q.offset + q.limit
	}
	if stop >= 0 && (hi < 0 || q.offset+stop < hi) {
		hi = q.offset + stop
	}
	n.offset = lo
	n.limit = -1
	if hi >= 0 {
		n.limit = max(hi-lo, 0)
	}
	return n
}

func (q *Query) empty() bool {
	return q.limit == 0 || (q.inner != nil && q.inner.empty())
}

func (q *Query) dataset() (*goqu.SelectDataset, error) {
	t := q.table
	var ds *goqu.SelectDataset
	if q.inner != nil {
		inner, err := q.inner.dataset()
		if err != nil {
			return nil, err
		}
		ds = t.db.dialect.From(inner.As(fmt.Sprintf("q%d", q.depth())))
	} else {
		ds = t.db.dialect.From(t.name)
	}
	ds = ds.Select(t.selectColumns()...)

	for _, f := range q.filters {
		e, err := t.translate(f.expr)
		if err != nil {
			return nil, err
		}
		switch {
		case e == nil && f.exclude:
			e = goqu.L("1 = 0")
		case e == nil:
			continue
		case f.exclude:
			e = negate(e)
		}
		ds = ds.Where(e)
	}

	order := make([]exp.OrderedExpression, 0, len(q.order))
	for _, f := range q.order {
		name, desc := strings.CutPrefix(f, "-")
		if !t.hasColumn(name) {
			return nil, fmt.Errorf("table %s: can not order by %q", t.name, f)
		}
		if desc {
			order = append(order, goqu.C(name).Desc())
		} else {
			order = append(order, goqu.C(name).Asc())
		}
	}
	if len(order) > 0 {
		ds = ds.Order(order...)
	}

	if q.limit > 0 {
		ds = ds.Limit(uint(q.limit))
	} else if q.offset > 0 {
		// OFFSET requires a LIMIT in both dialects
		ds = ds.Limit(uint(math.MaxInt))
	}
	if q.offset > 0 {
		ds = ds.Offset(uint(q.offset))
	}
	return ds.Prepared(true), nil
}

func (q *Query) depth() int {
	d := 0
	for in := q.inner; in != nil; in = in.inner {
		d++
	}
	return d
}

// SQL returns the statement and arguments Records would run
func (q *Query) SQL() (string, []any, error) {
	ds, err := q.dataset()
	if err != nil {
		return "", nil, err
	}
	return ds.ToSQL()
}

// Count implements query.Set
func (q *Query) Count(ctx context.Context) (int, error) {
	if q.empty() {
		return 0, nil
	}
	ds, err := q.dataset()
	if err != nil {
		return 0, err
	}
	sqlText, args, err := q.table.db.dialect.From(ds.As("c")).
		Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}
	rows, err := q.table.db.queryRows(ctx, "count", sqlText, args)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", q.table.name, err)
	}
	defer rows.Close()

	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// Records implements query.Set
func (q *Query) Records(ctx context.Context) ([]query.Record, error) {
	if q.empty() {
		return []query.Record{}, nil
	}
	sqlText, args, err := q.SQL()
	if err != nil {
		return nil, err
	}
	rows, err := q.table.db.queryRows(ctx, "select", sqlText, args)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.table.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]query.Record, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(query.Record, len(cols))
		for i, c := range cols {
			v, err := q.table.decode(c, values[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c, err)
			}
			rec[c] = v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

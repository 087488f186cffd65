package sqlstore

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/maxpert/objectpack/query"
)

// ErrUnsupportedLookup is returned for lookups that have no SQL form
var ErrUnsupportedLookup = errors.New("lookup not supported by sql tables")

// translate turns e into a WHERE expression. A nil expression with a nil
// error matches every row.
func (t *Table) translate(e query.Expr) (exp.Expression, error) {
	switch v := e.(type) {
	case nil:
		return nil, nil
	case query.Cond:
		return t.translateCond(v)
	case query.Group:
		return t.translateGroup(v)
	}
	return nil, fmt.Errorf("%w: expression %T", ErrUnsupportedLookup, e)
}

func (t *Table) translateGroup(g query.Group) (exp.Expression, error) {
	items := make([]exp.Expression, 0, len(g.Items))
	for _, item := range g.Items {
		e, err := t.translate(item)
		if err != nil {
			return nil, err
		}
		if e == nil {
			if g.Conn == query.OR {
				// one branch matches everything
				items = nil
				break
			}
			continue
		}
		items = append(items, e)
	}

	var out exp.Expression
	switch {
	case len(items) == 0:
		if g.Negated {
			return goqu.L("1 = 0"), nil
		}
		return nil, nil
	case g.Conn == query.OR:
		out = goqu.Or(items...)
	default:
		out = goqu.And(items...)
	}
	if g.Negated {
		return negate(out), nil
	}
	return out, nil
}

// negate treats a NULL comparison as false before negating it, the way
// in-memory matching does
func negate(e exp.Expression) exp.Expression {
	return goqu.L("NOT COALESCE((?), 0)", e)
}

func (t *Table) translateCond(c query.Cond) (exp.Expression, error) {
	if len(c.Path) != 1 {
		return nil, fmt.Errorf("%w: related path %s", ErrUnsupportedLookup, c.Field())
	}
	name := c.Path[0]
	if !t.hasColumn(name) {
		return nil, fmt.Errorf("table %s: unknown column %q", t.name, name)
	}
	col := goqu.C(name)
	if t.lists[name] && c.Op != query.OpIsNull {
		return nil, fmt.Errorf("%w: %s on list column %s", ErrUnsupportedLookup, c.Op, name)
	}

	switch c.Op {
	case query.OpExact:
		if c.Value == nil {
			return col.IsNull(), nil
		}
		return col.Eq(c.Value), nil
	case query.OpIExact:
		if c.Value == nil {
			return col.IsNull(), nil
		}
		return goqu.Func(t.db.casefold, col).Eq(strings.ToLower(fmt.Sprint(c.Value))), nil
	case query.OpContains:
		return goqu.Func("INSTR", col, fmt.Sprint(c.Value)).Gt(0), nil
	case query.OpIContains:
		if c.Value == nil {
			return goqu.L("1 = 0"), nil
		}
		return goqu.Func("INSTR", goqu.Func(t.db.casefold, col), strings.ToLower(fmt.Sprint(c.Value))).Gt(0), nil
	case query.OpLT:
		return col.Lt(c.Value), nil
	case query.OpLTE:
		return col.Lte(c.Value), nil
	case query.OpGT:
		return col.Gt(c.Value), nil
	case query.OpGTE:
		return col.Gte(c.Value), nil
	case query.OpIsNull:
		if query.IsBlank(c.Value) {
			return col.IsNotNull(), nil
		}
		return col.IsNull(), nil
	case query.OpIn:
		items, err := sequence(c.Value)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return goqu.L("1 = 0"), nil
		}
		return col.In(items...), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedLookup, c.Op)
}

func sequence(v any) ([]any, error) {
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("in: lookup value %T is not a sequence", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

package filter

import (
	"fmt"
	"strings"

	"github.com/maxpert/objectpack/id"
	"github.com/maxpert/objectpack/query"
	"github.com/maxpert/objectpack/telemetry"
)

const (
	gridHeaderFilters = "new Ext.ux.grid.GridHeaderFilters()"
	treeHeaderFilters = "new Ext.ux.tree.TreeHeaderFilters()"
)

// ColumnFilter binds a filter to a grid column
type ColumnFilter struct {
	DataIndex string
	Filter    Filter
}

// ColumnEngine renders filter controls into the column headers. Filter
// uids are assigned in declaration order when the engine is created.
type ColumnEngine struct {
	name    string
	plugin  string
	columns []ColumnFilter
	leaves  []Filter
}

var _ Engine = (*ColumnEngine)(nil)

// NewColumnEngine creates a header filter engine for grids
func NewColumnEngine(columns ...ColumnFilter) *ColumnEngine {
	return newColumnEngine("column", gridHeaderFilters, columns)
}

// NewColumnTreeEngine creates a header filter engine for tree grids
func NewColumnTreeEngine(columns ...ColumnFilter) *ColumnEngine {
	return newColumnEngine("column_tree", treeHeaderFilters, columns)
}

func newColumnEngine(name, plugin string, columns []ColumnFilter) *ColumnEngine {
	e := &ColumnEngine{name: name, plugin: plugin, columns: columns}
	next := id.NewSequence(0).Func()
	for _, c := range columns {
		if g, ok := c.Filter.(*Group); ok {
			e.leaves = append(e.leaves, g.Flatten()...)
		} else {
			e.leaves = append(e.leaves, c.Filter)
		}
		c.Filter.SetUID(next)
	}
	return e
}

// Filters returns the leaf filters in uid order
func (e *ColumnEngine) Filters() []Filter {
	return e.leaves
}

// ConfigureGrid implements Engine
func (e *ColumnEngine) ConfigureGrid(g *Grid) error {
	g.Plugins = append(g.Plugins, e.plugin)

	for _, c := range e.columns {
		scripts, err := c.Filter.Script()
		if err != nil {
			return err
		}
		col := g.Column(c.DataIndex)
		if col == nil {
			continue
		}
		if col.Extra == nil {
			col.Extra = map[string]string{}
		}
		col.Extra["filter"] = "[" + strings.Join(scripts, ",") + "]"
	}

	for _, f := range e.leaves {
		v := f.DefaultValue()
		if v == nil || isEmpty(v) {
			continue
		}
		if g.BaseParams == nil {
			g.BaseParams = map[string]string{}
		}
		g.BaseParams[f.UID()] = formatDefault(v)
	}
	return nil
}

func formatDefault(v any) string {
	if t, ok := v.(interface{ Format(string) string }); ok {
		return t.Format("02.01.2006")
	}
	return fmt.Sprint(v)
}

// Apply implements Engine
func (e *ColumnEngine) Apply(set query.Set, params map[string]any) (query.Set, error) {
	exprs := make([]query.Expr, 0, len(e.columns))
	for _, c := range e.columns {
		expr, err := c.Filter.Expr(params)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}

	telemetry.FilterApplicationsTotal.With(e.name).Inc()
	cond := query.And(exprs...)
	if query.IsEmpty(cond) {
		return set, nil
	}
	return set.Filter(cond), nil
}

package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maxpert/objectpack/query"
	"github.com/maxpert/objectpack/telemetry"
)

// GridColumn is the part of a grid column filters care about
type GridColumn struct {
	DataIndex string
	Header    string
	Extra     map[string]string
}

// Grid collects the client-side grid configuration produced by engines
type Grid struct {
	Plugins    []string
	Columns    []*GridColumn
	BaseParams map[string]string
}

// Column returns the column bound to dataIndex, or nil
func (g *Grid) Column(dataIndex string) *GridColumn {
	for _, c := range g.Columns {
		if c.DataIndex == dataIndex {
			return c
		}
	}
	return nil
}

// Engine renders filters into a grid and applies request params to a set
type Engine interface {
	ConfigureGrid(g *Grid) error
	Apply(set query.Set, params map[string]any) (query.Set, error)
}

// Choice is one option of a list filter
type Choice struct {
	Value any
	Label string
}

// MenuColumn describes the drop-down menu filter of one column
type MenuColumn struct {
	DataIndex string
	// Type is string, list, numeric, date or boolean
	Type    string
	Options func() []Choice
	// CustomFields are ORed lookups used instead of the column's data index
	CustomFields []string
	// CustomFunc builds the expression for a value, replacing CustomFields
	CustomFunc Lookup
}

// MenuEngine renders per-column drop-down filters and reads the JSON
// encoded "q" parameter they post.
type MenuEngine struct {
	columns []MenuColumn
}

var _ Engine = (*MenuEngine)(nil)

// NewMenuEngine creates a menu engine over columns
func NewMenuEngine(columns ...MenuColumn) *MenuEngine {
	return &MenuEngine{columns: columns}
}

func (e *MenuEngine) column(dataIndex string) (MenuColumn, bool) {
	for _, c := range e.columns {
		if c.DataIndex == dataIndex {
			return c, true
		}
	}
	return MenuColumn{}, false
}

// ConfigureGrid implements Engine
func (e *MenuEngine) ConfigureGrid(g *Grid) error {
	items := make([]string, 0, len(e.columns))
	for _, c := range e.columns {
		typ := c.Type
		if typ == "" {
			typ = "string"
		}
		options := []any{}
		if c.Options != nil {
			for _, ch := range c.Options() {
				if ch.Value == nil {
					options = append(options, ch.Label)
					continue
				}
				options = append(options, []any{ch.Value, ch.Label})
			}
		}
		rendered, err := json.Marshal(options)
		if err != nil {
			return fmt.Errorf("render options of %s: %w", c.DataIndex, err)
		}
		items = append(items, fmt.Sprintf("{type:'%s',dataIndex:'%s',options:%s}", typ, c.DataIndex, rendered))
	}
	if len(items) > 0 {
		g.Plugins = append(g.Plugins, fmt.Sprintf("new Ext.ux.grid.GridFilters({filters:[%s]})", strings.Join(items, ",")))
	}
	return nil
}

type menuItem struct {
	Field string `json:"field"`
	Data  struct {
		Type       string `json:"type"`
		Value      any    `json:"value"`
		Comparison string `json:"comparison"`
	} `json:"data"`
}

// Apply implements Engine. Items whose value is nil, blank text or an
// empty list are skipped; false and zero still filter.
func (e *MenuEngine) Apply(set query.Set, params map[string]any) (query.Set, error) {
	raw, ok := params["q"]
	if !ok || isEmpty(raw) {
		return set, nil
	}
	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return nil, fmt.Errorf("menu filter: unsupported q parameter %T", raw)
	}

	var items []menuItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("menu filter: %w", err)
	}

	exprs := make([]query.Expr, 0, len(items))
	for _, item := range items {
		value := item.Data.Value
		if item.Data.Type == "date" {
			if s, ok := value.(string); ok {
				if t, ok := query.StrToDate(s); ok {
					value = t
				} else {
					value = nil
				}
			}
		}
		if isEmpty(value) {
			continue
		}

		col, known := e.column(item.Field)
		if !known {
			return nil, fmt.Errorf("menu filter: unknown field %q", item.Field)
		}

		makeExpr := func(field string) query.Expr {
			switch {
			case item.Data.Type == "list":
				field += "__in"
			case item.Data.Type == "string":
				field += "__icontains"
			case item.Data.Comparison != "" && item.Data.Comparison != "exact" && item.Data.Comparison != "eq":
				field += "__" + item.Data.Comparison
			}
			return query.Q(field, value)
		}

		switch {
		case col.CustomFunc != nil:
			exprs = append(exprs, col.CustomFunc(value))
		case len(col.CustomFields) > 0:
			alts := make([]query.Expr, len(col.CustomFields))
			for i, f := range col.CustomFields {
				alts[i] = makeExpr(f)
			}
			exprs = append(exprs, query.Or(alts...))
		default:
			exprs = append(exprs, makeExpr(item.Field))
		}
	}

	telemetry.FilterApplicationsTotal.With("menu").Inc()
	if len(exprs) == 0 {
		return set, nil
	}
	return set.Filter(query.And(exprs...)), nil
}

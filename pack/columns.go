package pack

import (
	"fmt"
	"strings"

	"github.com/maxpert/objectpack/filter"
)

// Column is a grid column of an ObjectPack. A column with Columns is a
// header group and only its leaves carry data.
type Column struct {
	DataIndex string
	Header    string
	Width     int
	Hidden    bool

	Sortable bool
	// SortFields replace the data index as sort keys
	SortFields []string
	Searchable bool
	// SearchFields replace the data index as search lookups
	SearchFields []string

	// Filter is a header filter rendered by a column engine
	Filter filter.Filter
	// Menu is a drop-down filter rendered by a menu engine
	Menu *filter.MenuColumn

	// Choices map stored values to the text shown in rows
	Choices []filter.Choice

	Columns []Column
	Extra   map[string]any
}

func (c Column) field() string {
	return strings.ReplaceAll(c.DataIndex, ".", "__")
}

// flatten returns the leaf columns of cols in order
func flatten(cols []Column) []Column {
	var out []Column
	for _, c := range cols {
		if c.Columns != nil {
			out = append(out, flatten(c.Columns)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

// CopyColumns derives columns from base. Each item is either a data index,
// which copies the base column (or creates an empty one), or a Column
// whose set fields override the base column of the same data index.
// patches then adjust the resulting columns by data index. Without items
// every base column is copied.
func CopyColumns(base []Column, items []any, patches map[string]func(*Column)) ([]Column, error) {
	find := func(dataIndex string) (Column, bool) {
		for _, c := range base {
			if c.DataIndex == dataIndex {
				return c.clone(), true
			}
		}
		return Column{DataIndex: dataIndex}, false
	}

	var out []Column
	if len(items) == 0 {
		for _, c := range base {
			out = append(out, c.clone())
		}
	}
	for _, item := range items {
		switch v := item.(type) {
		case string:
			c, _ := find(v)
			out = append(out, c)
		case Column:
			if v.DataIndex == "" {
				return nil, fmt.Errorf("column without data index")
			}
			c, found := find(v.DataIndex)
			if found {
				c.merge(v)
			} else {
				c = v.clone()
			}
			out = append(out, c)
		default:
			return nil, fmt.Errorf("unsupported column item %T", item)
		}
	}

	for i := range out {
		if patch, ok := patches[out[i].DataIndex]; ok && patch != nil {
			patch(&out[i])
		}
	}
	return out, nil
}

func (c Column) clone() Column {
	out := c
	out.SortFields = append([]string(nil), c.SortFields...)
	out.SearchFields = append([]string(nil), c.SearchFields...)
	out.Choices = append([]filter.Choice(nil), c.Choices...)
	if c.Columns != nil {
		out.Columns = make([]Column, len(c.Columns))
		for i, sub := range c.Columns {
			out.Columns[i] = sub.clone()
		}
	}
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func (c *Column) merge(o Column) {
	if o.Header != "" {
		c.Header = o.Header
	}
	if o.Width != 0 {
		c.Width = o.Width
	}
	if o.Hidden {
		c.Hidden = true
	}
	if o.Sortable {
		c.Sortable = true
	}
	if o.SortFields != nil {
		c.SortFields = o.SortFields
	}
	if o.Searchable {
		c.Searchable = true
	}
	if o.SearchFields != nil {
		c.SearchFields = o.SearchFields
	}
	if o.Filter != nil {
		c.Filter = o.Filter
	}
	if o.Menu != nil {
		c.Menu = o.Menu
	}
	if o.Choices != nil {
		c.Choices = o.Choices
	}
	if o.Columns != nil {
		c.Columns = o.Columns
	}
	for k, v := range o.Extra {
		if c.Extra == nil {
			c.Extra = map[string]any{}
		}
		c.Extra[k] = v
	}
}

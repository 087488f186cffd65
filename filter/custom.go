package filter

import (
	"encoding/json"
	"fmt"

	"github.com/maxpert/objectpack/query"
)

// Custom is a filter with an explicit control xtype, parser and lookup
type Custom struct {
	leaf
	xtype string
}

var _ Filter = (*Custom)(nil)

// NewCustom creates a custom filter. parser is either a query.Parser or
// the name of one in query.Parsers; lookup is a Lookup or a lookup key.
func NewCustom(xtype string, parser any, lookup any, tooltip string) (*Custom, error) {
	c := &Custom{xtype: xtype, leaf: leaf{tooltip: tooltip}}

	switch p := parser.(type) {
	case query.Parser:
		c.parser = p
	case func(any) (any, error):
		c.parser = p
	case string:
		named, ok := query.Parsers[p]
		if !ok {
			return nil, fmt.Errorf("unknown parser %q", p)
		}
		c.parser = named
	default:
		return nil, fmt.Errorf("unsupported parser %T", parser)
	}

	switch l := lookup.(type) {
	case Lookup:
		c.lookup = l
	case func(any) query.Expr:
		c.lookup = l
	case string:
		c.lookup = LookupKey(l)
	default:
		return nil, fmt.Errorf("unsupported lookup %T", lookup)
	}
	return c, nil
}

// MustCustom is NewCustom for declarations known to be valid
func MustCustom(xtype string, parser any, lookup any, tooltip string) *Custom {
	c, err := NewCustom(xtype, parser, lookup, tooltip)
	if err != nil {
		panic(err)
	}
	return c
}

type customControl struct {
	FilterName string `json:"filterName"`
	XType      string `json:"xtype"`
	Tooltip    string `json:"tooltip,omitempty"`
}

// Script implements Filter
func (c *Custom) Script() ([]string, error) {
	b, err := json.Marshal(customControl{FilterName: c.uid, XType: c.xtype, Tooltip: c.tooltip})
	if err != nil {
		return nil, err
	}
	return []string{string(b)}, nil
}

// And implements Filter
func (c *Custom) And(other Filter) *Group {
	return and(c, other)
}

// Or implements Filter
func (c *Custom) Or(other Filter) *Group {
	return or(c, other)
}

// Not implements Filter
func (c *Custom) Not() Filter {
	return &Group{items: []Filter{c}, op: query.AND, not: true}
}

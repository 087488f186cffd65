// Package filter declares grid filters and the engines that render them
// into grid configuration and apply request parameters to record sets.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maxpert/objectpack/query"
)

var (
	// ErrNotConfigured is returned by Expr before a uid was assigned
	ErrNotConfigured = errors.New("filter is not configured")
	// ErrUnsupportedField rejects fields with no parser mapping
	ErrUnsupportedField = errors.New("unsupported field type")
)

// Lookup turns a parsed parameter value into an expression
type Lookup func(value any) query.Expr

// LookupKey returns a Lookup comparing with a "field__op" key
func LookupKey(key string) Lookup {
	return func(value any) query.Expr {
		return query.Q(key, value)
	}
}

// Filter is one grid filter or a boolean combination of filters
type Filter interface {
	// Script returns the control descriptions rendered into the grid column
	Script() ([]string, error)
	// Expr builds the expression for request params. Missing or empty
	// values yield the no-op expression.
	Expr(params map[string]any) (query.Expr, error)
	// UID is the request parameter name, "filter_N"; empty for groups
	UID() string
	DefaultValue() any
	// SetUID assigns uids to every leaf using next
	SetUID(next func() int)

	And(other Filter) *Group
	Or(other Filter) *Group
	Not() Filter
}

// Group is a boolean combination of filters
type Group struct {
	items []Filter
	op    query.Connector
	not   bool
}

var _ Filter = (*Group)(nil)

// NewGroup combines items with op
func NewGroup(op query.Connector, items ...Filter) *Group {
	return &Group{items: items, op: op}
}

// Items returns the direct children
func (g *Group) Items() []Filter {
	return g.items
}

// Op returns the connector
func (g *Group) Op() query.Connector {
	return g.op
}

// Negated reports whether the group is inverted
func (g *Group) Negated() bool {
	return g.not
}

// Flatten returns the leaf filters in declaration order
func (g *Group) Flatten() []Filter {
	var out []Filter
	for _, item := range g.items {
		if sub, ok := item.(*Group); ok {
			out = append(out, sub.Flatten()...)
			continue
		}
		out = append(out, item)
	}
	return out
}

// And implements Filter
func (g *Group) And(other Filter) *Group {
	return g.join(other, query.AND)
}

// Or implements Filter
func (g *Group) Or(other Filter) *Group {
	return g.join(other, query.OR)
}

// Not implements Filter
func (g *Group) Not() Filter {
	return &Group{items: append([]Filter(nil), g.items...), op: g.op, not: !g.not}
}

// join combines g and other with op. Items are merged into g only when g
// already uses op and is not negated; a non-negated group with the same
// op hands over its items instead of nesting.
func (g *Group) join(other Filter, op query.Connector) *Group {
	add := []Filter{other}
	if o, ok := other.(*Group); ok && o.op == op && !o.not {
		add = o.items
	}

	if g.op == op && !g.not {
		items := make([]Filter, 0, len(g.items)+len(add))
		items = append(items, g.items...)
		return &Group{items: append(items, add...), op: op}
	}
	return &Group{items: append([]Filter{g}, add...), op: op}
}

// Script implements Filter
func (g *Group) Script() ([]string, error) {
	var out []string
	for _, item := range g.items {
		s, err := item.Script()
		if err != nil {
			return nil, err
		}
		out = append(out, s...)
	}
	return out, nil
}

// Expr implements Filter
func (g *Group) Expr(params map[string]any) (query.Expr, error) {
	exprs := make([]query.Expr, 0, len(g.items))
	for _, item := range g.items {
		e, err := item.Expr(params)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}

	var result query.Group
	if g.op == query.OR {
		result = query.Or(exprs...)
	} else {
		result = query.And(exprs...)
	}
	if g.not && !query.IsEmpty(result) {
		return query.Not(result), nil
	}
	return result, nil
}

// UID implements Filter
func (g *Group) UID() string {
	return ""
}

// DefaultValue implements Filter
func (g *Group) DefaultValue() any {
	return nil
}

// SetUID implements Filter
func (g *Group) SetUID(next func() int) {
	for _, item := range g.items {
		item.SetUID(next)
	}
}

// leaf holds what ByField and Custom share
type leaf struct {
	uid          string
	parser       query.Parser
	lookup       Lookup
	tooltip      string
	defaultValue any
}

func (l *leaf) UID() string {
	return l.uid
}

func (l *leaf) SetUID(next func() int) {
	l.uid = fmt.Sprintf("filter_%d", next())
}

// DefaultValue evaluates a func() any default on every call
func (l *leaf) DefaultValue() any {
	if fn, ok := l.defaultValue.(func() any); ok {
		return fn()
	}
	return l.defaultValue
}

func (l *leaf) Expr(params map[string]any) (query.Expr, error) {
	if l.uid == "" || l.lookup == nil {
		return nil, ErrNotConfigured
	}
	raw, ok := params[l.uid]
	if !ok || isEmpty(raw) {
		return query.Group{}, nil
	}
	val, err := l.parser(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.uid, err)
	}
	return l.lookup(val), nil
}

func and(self, other Filter) *Group {
	return NewGroup(query.AND, self).And(other)
}

func or(self, other Filter) *Group {
	return NewGroup(query.OR, self).Or(other)
}

// isEmpty reports a parameter that carries no value: nil, blank text or an
// empty list. Zero and false are values.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

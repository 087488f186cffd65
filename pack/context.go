package pack

import (
	"fmt"
	"sort"

	"github.com/maxpert/objectpack/query"
)

// Rule declares one action context parameter. Type is a query.Parser or
// the name of one in query.Parsers.
type Rule struct {
	Type     any
	Default  any
	Required bool
}

// Declaration maps parameter names to rules
type Declaration map[string]Rule

// Merge returns a copy of d with other's rules added
func (d Declaration) Merge(other Declaration) Declaration {
	out := make(Declaration, len(d)+len(other))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (r Rule) parser() (query.Parser, error) {
	switch t := r.Type.(type) {
	case nil:
		return query.ParseString, nil
	case query.Parser:
		return t, nil
	case func(any) (any, error):
		return t, nil
	case string:
		p, ok := query.Parsers[t]
		if !ok {
			return nil, fmt.Errorf("unknown parameter type %q", t)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unsupported parameter type %T", r.Type)
}

// Context holds the parsed parameters of one action call. Request
// parameters that were not declared are copied in unparsed.
type Context struct {
	values   map[string]any
	declared map[string]bool
	warn     func(string)
}

// NewContext returns an empty context; warn receives access warnings and
// may be nil.
func NewContext(warn func(string)) *Context {
	return &Context{values: map[string]any{}, declared: map[string]bool{}, warn: warn}
}

// BuildContext parses params according to decl. In strict mode the first
// missing or malformed parameter is returned as a *ContextError; otherwise
// it is reported through warn and the remaining parameters are still built.
func BuildContext(decl Declaration, params map[string]any, strict bool, warn func(string)) (*Context, error) {
	ctx := NewContext(warn)

	names := make([]string, 0, len(decl))
	for name := range decl {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		ctx.declared[name] = true
		rule := decl[name]
		if err := ctx.build(name, rule, params); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		if strict {
			return nil, firstErr
		}
		ctx.warnf("%v", firstErr)
	}

	for k, v := range params {
		if _, ok := ctx.values[k]; !ok {
			ctx.values[k] = v
		}
	}
	return ctx, nil
}

func (c *Context) build(name string, rule Rule, params map[string]any) error {
	parse, err := rule.parser()
	if err != nil {
		return &ContextError{Param: name, Err: err}
	}
	raw, present := params[name]
	if !present {
		if rule.Required {
			return &ContextError{Param: name}
		}
		c.values[name] = rule.Default
		return nil
	}
	v, err := parse(raw)
	if err != nil {
		return &ContextError{Param: name, Err: err}
	}
	c.values[name] = v
	return nil
}

func (c *Context) warnf(format string, args ...any) {
	if c.warn != nil {
		c.warn(fmt.Sprintf(format, args...))
	}
}

// Get returns a parameter, warning when it was never declared
func (c *Context) Get(name string) (any, bool) {
	if !c.declared[name] {
		c.warnf("attribute %q not declared", name)
	}
	v, ok := c.values[name]
	return v, ok
}

// Value returns a parameter or def when it is absent or nil
func (c *Context) Value(name string, def any) any {
	v, ok := c.Get(name)
	if !ok || v == nil {
		return def
	}
	return v
}

// Int returns an integer parameter; absent or non-numeric values are 0
func (c *Context) Int(name string) int {
	v, _ := c.Get(name)
	if v == nil {
		return 0
	}
	parsed, err := query.ParseInt(v)
	if err != nil {
		return 0
	}
	return parsed.(int)
}

// IntOrNil returns an integer parameter or nil
func (c *Context) IntOrNil(name string) any {
	v, _ := c.Get(name)
	parsed, _ := query.IntOrNone(v)
	return parsed
}

// IntList returns a list parameter parsed with query.IntList
func (c *Context) IntList(name string) []int {
	v, _ := c.Get(name)
	switch l := v.(type) {
	case []int:
		return l
	case nil:
		return nil
	}
	parsed, err := query.IntList(v)
	if err != nil {
		return nil
	}
	return parsed.([]int)
}

// String returns a parameter formatted as text
func (c *Context) String(name string) string {
	v, _ := c.Get(name)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Set stores a parameter, marking it declared
func (c *Context) Set(name string, v any) {
	c.declared[name] = true
	c.values[name] = v
}

// Values returns a copy of all parameters
func (c *Context) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

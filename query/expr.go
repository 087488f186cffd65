package query

import (
	"fmt"
	"sort"
	"strings"
)

// Operator names a comparison applied to a resolved attribute
type Operator string

const (
	OpExact     Operator = "exact"
	OpContains  Operator = "contains"
	OpIExact    Operator = "iexact"
	OpIContains Operator = "icontains"
	OpLTE       Operator = "lte"
	OpGTE       Operator = "gte"
	OpLT        Operator = "lt"
	OpGT        Operator = "gt"
	OpIsNull    Operator = "isnull"
	OpIn        Operator = "in"
	OpOverlap   Operator = "overlap"
)

// Connector joins the items of a Group
type Connector int

const (
	AND Connector = iota + 1
	OR
)

func (c Connector) String() string {
	if c == OR {
		return "OR"
	}
	return "AND"
}

// Expr is a boolean predicate over records. The two implementations are
// Cond (path + operator + value) and Group (AND/OR/NOT tree).
type Expr interface {
	Match(obj any) (bool, error)
	String() string
}

// Cond tests the attribute at Path with Op against Value
type Cond struct {
	Path  []string
	Op    Operator
	Value any
}

// Group combines expressions. An empty group matches everything.
type Group struct {
	Items   []Expr
	Conn    Connector
	Negated bool
}

// Q compiles a "field__sub__op" key. When the last segment is not a known
// operator it is treated as one more attribute and compared for equality.
func Q(key string, value any) Cond {
	path := SplitPath(key)
	if len(path) > 1 {
		op := Operator(path[len(path)-1])
		if _, known := evaluators[op]; known {
			return Cond{Path: path[:len(path)-1], Op: op, Value: value}
		}
	}
	return Cond{Path: path, Op: OpExact, Value: value}
}

// Where builds an AND group from a key/value map. Keys are sorted so the
// resulting expression has a stable string form.
func Where(lookups map[string]any) Group {
	keys := make([]string, 0, len(lookups))
	for k := range lookups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	g := Group{Conn: AND}
	for _, k := range keys {
		g.Items = append(g.Items, Q(k, lookups[k]))
	}
	return g
}

// And joins expressions with AND. Empty groups are dropped.
func And(exprs ...Expr) Group {
	return Group{Items: compact(exprs), Conn: AND}
}

// Or joins expressions with OR. Empty groups are dropped.
func Or(exprs ...Expr) Group {
	return Group{Items: compact(exprs), Conn: OR}
}

// Not negates e
func Not(e Expr) Group {
	if g, ok := e.(Group); ok {
		g.Negated = !g.Negated
		return g
	}
	return Group{Items: []Expr{e}, Conn: AND, Negated: true}
}

// IsEmpty reports whether e is the no-op expression
func IsEmpty(e Expr) bool {
	if e == nil {
		return true
	}
	g, ok := e.(Group)
	return ok && len(g.Items) == 0
}

func compact(exprs []Expr) []Expr {
	out := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if IsEmpty(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Match implements Expr
func (c Cond) Match(obj any) (bool, error) {
	field, err := Resolve(obj, c.Path)
	if err != nil {
		return false, err
	}
	eval, ok := evaluators[c.Op]
	if !ok {
		return false, fmt.Errorf("unsupported operator %q", c.Op)
	}
	return eval(field, c.Value)
}

// Field returns the "__" joined attribute path
func (c Cond) Field() string {
	return strings.Join(c.Path, "__")
}

func (c Cond) String() string {
	return fmt.Sprintf("%s__%s=%#v", c.Field(), c.Op, c.Value)
}

// Match implements Expr
func (g Group) Match(obj any) (bool, error) {
	result := g.Conn != OR || len(g.Items) == 0
	for _, item := range g.Items {
		ok, err := item.Match(obj)
		if err != nil {
			return false, err
		}
		if g.Conn == OR && ok {
			result = true
			break
		}
		if g.Conn != OR && !ok {
			result = false
			break
		}
	}
	if g.Negated {
		return !result, nil
	}
	return result, nil
}

func (g Group) String() string {
	parts := make([]string, len(g.Items))
	for i, item := range g.Items {
		parts[i] = item.String()
	}
	s := "(" + g.Conn.String() + ": " + strings.Join(parts, ", ") + ")"
	if g.Negated {
		return "NOT " + s
	}
	return s
}

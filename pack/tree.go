package pack

import (
	"fmt"
	"strings"

	"github.com/maxpert/objectpack/filter"
	"github.com/maxpert/objectpack/observer"
	"github.com/maxpert/objectpack/query"
)

// TreeOptions declares a TreeObjectPack
type TreeOptions struct {
	Options
	// ParentField is the record key holding the parent id, "parent_id" by default
	ParentField string
	// LoadTreesOnSearch returns found records with their full ancestry
	LoadTreesOnSearch bool
}

// TreeObjectPack lists hierarchical records level by level. Rows requests
// carry the id of the expanded node; searching is only done at the root.
type TreeObjectPack struct {
	*ObjectPack
	parentField       string
	loadTreesOnSearch bool

	AutocompleteAction Action
}

var _ Lister = (*TreeObjectPack)(nil)

// NewTreeObjectPack builds a tree pack; column filters use the tree header
// engine.
func NewTreeObjectPack(opts TreeOptions) (*TreeObjectPack, error) {
	op, err := NewObjectPack(opts.Options)
	if err != nil {
		return nil, err
	}
	t := &TreeObjectPack{
		ObjectPack:        op,
		parentField:       opts.ParentField,
		loadTreesOnSearch: opts.LoadTreesOnSearch,
	}
	if t.parentField == "" {
		t.parentField = "parent_id"
	}
	if opts.FilterEngine == nil {
		op.engine = op.buildEngine(filter.NewColumnTreeEngine)
	}

	rows := &TreeObjectRowsAction{}
	op.ReplaceAction(op.RowsAction, rows)
	op.RowsAction = rows
	t.AutocompleteAction = &ObjectRowsAction{}
	op.AddAction(t.AutocompleteAction)
	op.rebind(t)
	return t, nil
}

// ParentField returns the record key holding the parent id
func (t *TreeObjectPack) ParentField() string {
	return t.parentField
}

// DeclareContext adds the optional parent id of edited nodes
func (t *TreeObjectPack) DeclareContext(a Action) Declaration {
	decl := t.ObjectPack.DeclareContext(a)
	if a == t.AutocompleteAction {
		decl = t.ObjectPack.DeclareContext(t.RowsAction)
	}
	if a != nil && (a == t.EditAction || a == t.SaveAction) {
		decl = decl.Merge(Declaration{"parent_id": {Type: "int_or_none"}})
	}
	return decl
}

func (t *TreeObjectPack) node(call *observer.Call) (int, bool) {
	v, _ := query.IntOrNone(call.Request.Params[t.IDParam()])
	if n, ok := v.(int); ok {
		return n, true
	}
	return 0, false
}

func hasFilterParams(call *observer.Call) bool {
	for k := range call.Request.Params {
		if strings.HasPrefix(k, "filter") {
			return true
		}
	}
	return false
}

// RowsQuery returns the children of the requested node, the top level
// nodes at the root, or every record when searching at the root.
func (t *TreeObjectPack) RowsQuery(call *observer.Call) (query.Set, error) {
	q, err := t.ObjectPack.RowsQuery(call)
	if err != nil {
		return nil, err
	}
	nodeID, ok := t.node(call)
	isRoot := !ok || nodeID < 0
	if isRoot && hasFilterParams(call) {
		return q, nil
	}
	if isRoot {
		return q.Filter(query.Q(t.parentField+"__isnull", true)), nil
	}
	return q.Filter(query.Q(t.parentField, nodeID)), nil
}

// ApplySearch only searches at the root node
func (t *TreeObjectPack) ApplySearch(call *observer.Call, q query.Set) (query.Set, error) {
	if nodeID, ok := t.node(call); ok && nodeID > 0 {
		return q, nil
	}
	return t.ObjectPack.ApplySearch(call, q)
}

// SaveRow stores the parent id from the context
func (t *TreeObjectPack) SaveRow(call *observer.Call, rec query.Record, create bool) (query.Record, error) {
	rec[t.parentField] = ContextOf(call).IntOrNil("parent_id")
	return t.ObjectPack.SaveRow(call, rec, create)
}

// parentIDs returns the ids referenced as parents by any record
func (t *TreeObjectPack) parentIDs(call *observer.Call) (map[any]bool, error) {
	parents, err := query.ValuesList(callContext(call),
		t.Source().Query().Filter(query.Q(t.parentField+"__isnull", false)), true, t.parentField)
	if err != nil {
		return nil, err
	}
	set := make(map[any]bool, len(parents))
	for _, p := range parents {
		set[normalizeID(p)] = true
	}
	return set, nil
}

func normalizeID(v any) any {
	if n, err := query.ParseInt(v); err == nil {
		return n
	}
	return v
}

func (t *TreeObjectPack) isLeaf(rec query.Record, parents map[any]bool) bool {
	if v, ok := rec["is_leaf"].(bool); ok {
		return v
	}
	return !parents[normalizeID(rec.ID())]
}

// TreeObjectRowsAction returns the nodes of one tree level as a plain list.
// With LoadTreesOnSearch a root search returns found nodes nested under
// their ancestors.
type TreeObjectRowsAction struct {
	BaseAction
}

func (a *TreeObjectRowsAction) Run(call *observer.Call) (Result, error) {
	t, ok := a.Parent().(*TreeObjectPack)
	if !ok {
		return Result{}, fmt.Errorf("pack %T is not a tree pack", a.Parent())
	}
	if x, _ := call.Request.Params["xaction"].(string); x != "" && x != "read" {
		return editRows(call, t)
	}

	parents, err := t.parentIDs(call)
	if err != nil {
		return Result{}, err
	}
	prepare := func(rec query.Record) (map[string]any, error) {
		row, err := prepareRow(call, t, rec)
		if row != nil {
			row["leaf"] = t.isLeaf(rec, parents)
		}
		return row, err
	}

	q, _, err := listQuery(call, t)
	if err != nil {
		return Result{}, err
	}

	var rows []map[string]any
	nodeID, hasNode := t.node(call)
	if t.loadTreesOnSearch && hasFilterParams(call) && !(hasNode && nodeID > 0) {
		rows, err = a.trees(call, t, q, prepare)
	} else {
		rows, err = collectRows(call, t, q, prepare)
	}
	if err != nil {
		return Result{}, err
	}
	if rows, err = observer.HandleAs(call, "get_rows", rows); err != nil {
		return Result{}, err
	}
	return JSONResult(rows), nil
}

type treeNode struct {
	rec      query.Record
	children []*treeNode
	index    map[any]*treeNode
}

// trees merges the ancestor branches of every found record into ordered
// trees and renders them with nested "children".
func (a *TreeObjectRowsAction) trees(call *observer.Call, t *TreeObjectPack, q query.Set, prepare func(query.Record) (map[string]any, error)) ([]map[string]any, error) {
	ctx := callContext(call)
	all, err := t.Source().Query().Records(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[any]query.Record, len(all))
	for _, r := range all {
		byID[normalizeID(r.ID())] = r
	}

	root := &treeNode{index: map[any]*treeNode{}}
	start, limit := t.Paging(call)
	sp := query.NewSplitter(q, start, limit)
	for {
		rec, ok, err := sp.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		branch := t.ancestors(rec, byID)
		if len(branch) == 0 {
			if err := sp.SkipLast(); err != nil {
				return nil, err
			}
			continue
		}
		cur := root
		for _, n := range branch {
			key := normalizeID(n.ID())
			child, ok := cur.index[key]
			if !ok {
				child = &treeNode{rec: n, index: map[any]*treeNode{}}
				cur.index[key] = child
				cur.children = append(cur.children, child)
			}
			cur = child
		}
	}

	var render func(n *treeNode) (map[string]any, error)
	render = func(n *treeNode) (map[string]any, error) {
		row, err := prepare(n.rec)
		if err != nil || row == nil {
			return nil, err
		}
		for _, c := range n.children {
			child, err := render(c)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			kids, _ := row["children"].([]map[string]any)
			row["children"] = append(kids, child)
		}
		return row, nil
	}

	out := make([]map[string]any, 0, len(root.children))
	for _, n := range root.children {
		row, err := render(n)
		if err != nil {
			return nil, err
		}
		if row != nil {
			out = append(out, row)
		}
	}
	return out, nil
}

// ancestors returns the path from the top level node down to rec. A cycle
// in the parent links yields nil.
func (t *TreeObjectPack) ancestors(rec query.Record, byID map[any]query.Record) []query.Record {
	branch := []query.Record{rec}
	seen := map[any]bool{normalizeID(rec.ID()): true}
	cur := rec
	for {
		parent := cur[t.parentField]
		if parent == nil {
			break
		}
		key := normalizeID(parent)
		if seen[key] {
			return nil
		}
		p, ok := byID[key]
		if !ok {
			break
		}
		seen[key] = true
		branch = append([]query.Record{p}, branch...)
		cur = p
	}
	return branch
}

package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/maxpert/objectpack/filter"
	"github.com/maxpert/objectpack/observer"
	"github.com/maxpert/objectpack/query"
)

const (
	DefaultPagingStart = 0
	DefaultPagingLimit = 25
)

// FormField is an object field bound from the save request
type FormField struct {
	Name string
	// Type is a query.Parser or a name in query.Parsers; string by default
	Type     any
	Required bool
	Label    string
}

// Options declares an ObjectPack
type Options struct {
	// Name is "package/Pack"; it prefixes action names
	Name   string
	Model  string
	Title  string
	Source Source

	Columns       []Column
	SearchFields  []string
	ListSortOrder []string

	// IDField is the record key of the object id, "id" by default
	IDField string
	// IDParam is the request parameter carrying ids, "<pack>_id" by default
	IDParam string
	// SelectField is shown by select fields, "name" by default
	SelectField string

	DisablePaging bool
	PagingStart   int
	PagingLimit   int

	ReadOnly bool
	// Form lists the fields bound on save; packs without a form have no
	// edit and save actions
	Form      []FormField
	CanDelete *bool
	// NotPrimary keeps the pack from being the model's primary pack
	NotPrimary bool

	// FilterEngine overrides the engine built from column filters
	FilterEngine filter.Engine

	RowsQuery  func(call *observer.Call, q query.Set) (query.Set, error)
	PrepareRow func(call *observer.Call, rec query.Record) (query.Record, error)
	RowEditing func(call *observer.Call, rows []query.Record) (bool, string)
	// Validate runs before the object is saved
	Validate func(call *observer.Call, rec query.Record, create bool) error
}

// Lister is the pack side of row listing actions
type Lister interface {
	Pack
	RowsQuery(call *observer.Call) (query.Set, error)
	ApplySearch(call *observer.Call, q query.Set) (query.Set, error)
	ApplyFilter(call *observer.Call, q query.Set) (query.Set, error)
	ApplySortOrder(call *observer.Call, q query.Set) (query.Set, error)
	Paging(call *observer.Call) (start, limit int)
	PrepareObject(call *observer.Call, rec query.Record) (map[string]any, error)
	HandleRowEditing(call *observer.Call, rows []query.Record) (bool, string)
}

// Editor is the pack side of edit, save and delete actions
type Editor interface {
	Pack
	IDParam() string
	GetObject(call *observer.Call) (rec query.Record, create bool, err error)
	BindToObject(call *observer.Call, rec query.Record) error
	SaveRow(call *observer.Call, rec query.Record, create bool) (query.Record, error)
	DeleteRow(call *observer.Call, id any) (query.Record, error)
	Source() Source
}

// ObjectPack serves CRUD actions for one record source
type ObjectPack struct {
	BasePack
	opts Options

	columnsFlat  []Column
	searchFields []string
	sortFields   map[string][]string
	engine       filter.Engine
	canDelete    bool
	resolve      func(model string) observer.Pack

	RowsAction   Action
	SelectAction Action
	EditAction   Action
	SaveAction   Action
	DeleteAction Action
}

var (
	_ Lister = (*ObjectPack)(nil)
	_ Editor = (*ObjectPack)(nil)
)

// NewObjectPack builds a pack and its actions from opts
func NewObjectPack(opts Options) (*ObjectPack, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("object pack without name")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("object pack %s: no source", opts.Name)
	}
	if opts.IDField == "" {
		opts.IDField = "id"
	}
	if opts.IDParam == "" {
		short := opts.Name[strings.LastIndex(opts.Name, "/")+1:]
		opts.IDParam = strings.ToLower(short) + "_id"
	}
	if opts.SelectField == "" {
		opts.SelectField = "name"
	}
	if opts.PagingLimit == 0 {
		opts.PagingLimit = DefaultPagingLimit
	}

	p := &ObjectPack{opts: opts, sortFields: map[string][]string{}}
	p.columnsFlat = flatten(opts.Columns)
	p.searchFields = append([]string(nil), opts.SearchFields...)
	for _, c := range p.columnsFlat {
		if c.Sortable {
			fields := c.SortFields
			if len(fields) == 0 {
				fields = []string{c.field()}
			}
			p.sortFields[c.DataIndex] = fields
		}
		if c.Searchable {
			fields := c.SearchFields
			if len(fields) == 0 {
				fields = []string{c.field()}
			}
			p.searchFields = append(p.searchFields, fields...)
		}
	}
	p.engine = opts.FilterEngine
	if p.engine == nil {
		p.engine = p.buildEngine(filter.NewColumnEngine)
	}

	p.RowsAction = &ObjectRowsAction{}
	p.SelectAction = &ObjectSelectAction{}
	editable := len(opts.Form) > 0 && !opts.ReadOnly
	if editable {
		p.EditAction = &ObjectEditAction{BaseAction: BaseAction{Perm: "edit"}}
		p.SaveAction = &ObjectSaveAction{BaseAction: BaseAction{Perm: "edit"}}
	}
	p.canDelete = editable
	if opts.CanDelete != nil {
		p.canDelete = *opts.CanDelete && !opts.ReadOnly
	}
	if p.canDelete {
		p.DeleteAction = &ObjectDeleteAction{BaseAction: BaseAction{Perm: "delete"}}
	}
	p.AddAction(p.RowsAction, p.SelectAction, p.EditAction, p.SaveAction, p.DeleteAction)
	p.Init(opts.Name, p)
	return p, nil
}

// MustObjectPack is NewObjectPack for declarations known to be valid
func MustObjectPack(opts Options) *ObjectPack {
	p, err := NewObjectPack(opts)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *ObjectPack) buildEngine(columnEngine func(...filter.ColumnFilter) *filter.ColumnEngine) filter.Engine {
	var (
		columnFilters []filter.ColumnFilter
		menus         []filter.MenuColumn
	)
	for _, c := range p.columnsFlat {
		if c.Filter != nil {
			columnFilters = append(columnFilters, filter.ColumnFilter{DataIndex: c.DataIndex, Filter: c.Filter})
		}
		if c.Menu != nil {
			m := *c.Menu
			if m.DataIndex == "" {
				m.DataIndex = c.DataIndex
			}
			menus = append(menus, m)
		}
	}
	switch {
	case len(columnFilters) > 0:
		return columnEngine(columnFilters...)
	case len(menus) > 0:
		return filter.NewMenuEngine(menus...)
	}
	return nil
}

// rebind makes self the parent of every action, for packs embedding ObjectPack
func (p *ObjectPack) rebind(self Pack) {
	p.Init(p.opts.Name, self)
}

// Options returns the declaration the pack was built from
func (p *ObjectPack) Options() Options {
	return p.opts
}

// Title returns the list window title
func (p *ObjectPack) Title() string {
	if p.opts.Title != "" {
		return p.opts.Title
	}
	return p.opts.Model
}

// Columns returns the leaf columns
func (p *ObjectPack) Columns() []Column {
	return p.columnsFlat
}

// SearchFields returns the lookups used by the search box
func (p *ObjectPack) SearchFields() []string {
	return append([]string(nil), p.searchFields...)
}

// FilterEngine returns the pack's filter engine or nil
func (p *ObjectPack) FilterEngine() filter.Engine {
	return p.engine
}

// CanDelete reports whether the pack has a delete action
func (p *ObjectPack) CanDelete() bool {
	return p.canDelete
}

// ReadOnly reports whether the pack allows editing
func (p *ObjectPack) ReadOnly() bool {
	return p.opts.ReadOnly
}

// Source implements Editor
func (p *ObjectPack) Source() Source {
	return p.opts.Source
}

// IDParam implements Editor
func (p *ObjectPack) IDParam() string {
	return p.opts.IDParam
}

// ModelName implements observer.ModelBound
func (p *ObjectPack) ModelName() string {
	return p.opts.Model
}

// PrimaryForModel implements observer.ModelBound
func (p *ObjectPack) PrimaryForModel() bool {
	return !p.opts.NotPrimary
}

// SetModelResolver implements observer.ModelResolverAware
func (p *ObjectPack) SetModelResolver(resolve func(model string) observer.Pack) {
	p.resolve = resolve
}

// ModelPack returns the primary pack registered for model
func (p *ObjectPack) ModelPack(model string) observer.Pack {
	if p.resolve == nil {
		return nil
	}
	return p.resolve(model)
}

// DeclareContext declares ids for edit actions and paging for rows
func (p *ObjectPack) DeclareContext(a Action) Declaration {
	switch {
	case a == nil:
		return Declaration{}
	case a == p.EditAction || a == p.SaveAction:
		return Declaration{p.opts.IDParam: {Type: "int_or_zero", Required: true}}
	case a == p.DeleteAction:
		return Declaration{p.opts.IDParam: {Type: "int_list", Required: true}}
	case a == p.RowsAction || a == p.SelectAction:
		if p.opts.DisablePaging {
			return Declaration{}
		}
		return Declaration{
			"start": {Type: "int", Default: p.opts.PagingStart},
			"limit": {Type: "int", Default: p.opts.PagingLimit},
		}
	}
	return Declaration{}
}

// ConfigureGrid fills the client grid description
func (p *ObjectPack) ConfigureGrid(g *filter.Grid) error {
	for _, c := range p.columnsFlat {
		g.Columns = append(g.Columns, &filter.GridColumn{DataIndex: c.DataIndex, Header: c.Header})
	}
	if p.engine != nil {
		return p.engine.ConfigureGrid(g)
	}
	return nil
}

// RowsQuery returns the records listed by the pack
func (p *ObjectPack) RowsQuery(call *observer.Call) (query.Set, error) {
	q := p.opts.Source.Query()
	if p.opts.RowsQuery != nil {
		return p.opts.RowsQuery(call, q)
	}
	return q, nil
}

// ApplySearch filters q by the words of the "filter" request parameter.
// Every word must match at least one search field.
func (p *ObjectPack) ApplySearch(call *observer.Call, q query.Set) (query.Set, error) {
	text, _ := call.Request.Params["filter"].(string)
	words := strings.Fields(text)
	if len(words) == 0 || len(p.searchFields) == 0 {
		return q, nil
	}
	conds := make([]query.Expr, 0, len(words))
	for _, w := range words {
		alts := make([]query.Expr, len(p.searchFields))
		for i, f := range p.searchFields {
			alts[i] = query.Q(f+"__icontains", w)
		}
		conds = append(conds, query.Or(alts...))
	}
	return q.Filter(conds...), nil
}

// ApplyFilter applies the filter engine to q
func (p *ObjectPack) ApplyFilter(call *observer.Call, q query.Set) (query.Set, error) {
	if p.engine == nil {
		return q, nil
	}
	return p.engine.Apply(q, call.Request.Params)
}

// ApplySortOrder sorts by the "sort" and "dir" request parameters, or by
// ListSortOrder when no column was chosen.
func (p *ObjectPack) ApplySortOrder(call *observer.Call, q query.Set) (query.Set, error) {
	key, _ := call.Request.Params["sort"].(string)
	if key == "" {
		if len(p.opts.ListSortOrder) > 0 {
			return q.OrderBy(p.opts.ListSortOrder...), nil
		}
		return q, nil
	}
	fields, ok := p.sortFields[key]
	if !ok {
		return nil, fmt.Errorf("column %q is not sortable", key)
	}
	if dir, _ := call.Request.Params["dir"].(string); dir == "DESC" {
		desc := make([]string, len(fields))
		for i, f := range fields {
			desc[i] = "-" + f
		}
		fields = desc
	}
	return q.OrderBy(fields...), nil
}

// Paging returns the requested page; limit 0 when paging is disabled
func (p *ObjectPack) Paging(call *observer.Call) (start, limit int) {
	if p.opts.DisablePaging {
		return 0, 0
	}
	actx := ContextOf(call)
	return actx.Int("start"), actx.Int("limit")
}

// PrepareObject converts rec into a grid row. A nil row is skipped.
func (p *ObjectPack) PrepareObject(call *observer.Call, rec query.Record) (map[string]any, error) {
	if p.opts.PrepareRow != nil {
		var err error
		if rec, err = p.opts.PrepareRow(call, rec); err != nil || rec == nil {
			return nil, err
		}
	}
	row := map[string]any{}
	for _, c := range p.columnsFlat {
		rowValue(rec, c.DataIndex, c.Choices, row)
	}
	rowValue(rec, p.opts.IDField, nil, row)
	return row, nil
}

// rowValue stores the display value of a dotted data index into row,
// nesting maps for each path segment.
func rowValue(obj any, dataIndex string, choices []filter.Choice, row map[string]any) {
	head, tail, nested := strings.Cut(dataIndex, ".")
	value, err := query.Resolve(obj, []string{head})
	if err != nil {
		value = nil
	}
	if nested {
		sub, ok := row[head].(map[string]any)
		if !ok {
			sub = map[string]any{}
			row[head] = sub
		}
		rowValue(value, tail, choices, sub)
		return
	}
	row[head] = displayValue(value, choices)
}

func displayValue(v any, choices []filter.Choice) any {
	if len(choices) > 0 {
		for _, ch := range choices {
			if query.Equal(ch.Value, v) {
				return ch.Label
			}
		}
		return ""
	}
	if fn, ok := v.(func() any); ok {
		v = fn()
	}
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return query.FormatDate(t)
	case *time.Time:
		if t == nil {
			return ""
		}
		return query.FormatDate(*t)
	case bool, string:
		return t
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v
	}
	return fmt.Sprint(v)
}

// HandleRowEditing processes inline grid edits
func (p *ObjectPack) HandleRowEditing(call *observer.Call, rows []query.Record) (bool, string) {
	if p.opts.RowEditing == nil {
		return false, ""
	}
	return p.opts.RowEditing(call, rows)
}

// GetObject loads the object named by the id parameter; id 0 creates one
func (p *ObjectPack) GetObject(call *observer.Call) (query.Record, bool, error) {
	objID := ContextOf(call).Int(p.opts.IDParam)
	if objID == 0 {
		return p.opts.Source.New(), true, nil
	}
	rec, err := p.opts.Source.Get(callContext(call), objID)
	if err != nil {
		return nil, false, err
	}
	return rec.Copy(), false, nil
}

// BindToObject copies the form fields of the request into rec
func (p *ObjectPack) BindToObject(call *observer.Call, rec query.Record) error {
	var problems []string
	for _, f := range p.opts.Form {
		raw, present := call.Request.Params[f.Name]
		if !present || query.IsBlank(raw) {
			if f.Required {
				label := f.Label
				if label == "" {
					label = f.Name
				}
				problems = append(problems, fmt.Sprintf("Field %q is required", label))
				continue
			}
			if present {
				rec[f.Name] = nil
			}
			continue
		}
		parse, err := Rule{Type: f.Type}.parser()
		if err != nil {
			return err
		}
		v, err := parse(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}
		rec[f.Name] = v
	}
	if len(problems) > 0 {
		return &ValidationError{Messages: problems}
	}
	return nil
}

// SaveRow validates and stores rec
func (p *ObjectPack) SaveRow(call *observer.Call, rec query.Record, create bool) (query.Record, error) {
	if p.opts.Validate != nil {
		if err := p.opts.Validate(call, rec, create); err != nil {
			return nil, err
		}
	}
	return p.opts.Source.Save(callContext(call), rec, create)
}

// DeleteRow removes the object with id
func (p *ObjectPack) DeleteRow(call *observer.Call, id any) (query.Record, error) {
	rec, err := p.opts.Source.Delete(callContext(call), id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// EditData returns the values shown by the edit form
func (p *ObjectPack) EditData(rec query.Record) map[string]any {
	data := map[string]any{p.opts.IDField: rec[p.opts.IDField]}
	for _, f := range p.opts.Form {
		data[f.Name] = rec[f.Name]
	}
	return data
}

func decodeRows(raw any) ([]query.Record, error) {
	var payload []byte
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	case []any:
		out := make([]query.Record, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row is %T, not an object", item)
			}
			out = append(out, query.Record(m))
		}
		return out, nil
	case map[string]any:
		return []query.Record{v}, nil
	default:
		return nil, fmt.Errorf("unsupported rows parameter %T", raw)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return decodeRows(decoded)
}

func callContext(call *observer.Call) context.Context {
	if call.Context == nil {
		return context.Background()
	}
	return call.Context
}

// SelectField returns the record field shown by select fields
func (p *ObjectPack) SelectField() string {
	return p.opts.SelectField
}

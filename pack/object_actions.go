package pack

import (
	"context"
	"errors"
	"fmt"

	"github.com/maxpert/objectpack/observer"
	"github.com/maxpert/objectpack/query"
	"github.com/maxpert/objectpack/telemetry"
)

// RowEdit is the outcome of inline grid editing, passed through the
// row_editing pipeline
type RowEdit struct {
	Success bool
	Message string
}

// SavedObject is passed through the post_save pipeline
type SavedObject struct {
	Record  query.Record
	Create  bool
	Context *Context
}

// ObjectRowsAction returns a page of grid rows, or applies inline edits
// when the request carries an xaction other than read.
type ObjectRowsAction struct {
	BaseAction
}

func (a *ObjectRowsAction) Run(call *observer.Call) (Result, error) {
	l, err := lister(a.Parent())
	if err != nil {
		return Result{}, err
	}
	if x, _ := call.Request.Params["xaction"].(string); x != "" && x != "read" {
		return editRows(call, l)
	}

	q, total, err := listQuery(call, l)
	if err != nil {
		return Result{}, err
	}
	rows, err := collectRows(call, l, q, func(rec query.Record) (map[string]any, error) {
		return prepareRow(call, l, rec)
	})
	if err != nil {
		return Result{}, err
	}
	if rows, err = observer.HandleAs(call, "get_rows", rows); err != nil {
		return Result{}, err
	}
	return JSONResult(Rows{Rows: rows, Total: total}), nil
}

// ObjectSelectAction lists rows for select windows. Each row carries the
// pack's select field as "display".
type ObjectSelectAction struct {
	BaseAction
}

func (a *ObjectSelectAction) Run(call *observer.Call) (Result, error) {
	l, err := lister(a.Parent())
	if err != nil {
		return Result{}, err
	}
	field := "name"
	if s, ok := a.Parent().(interface{ SelectField() string }); ok {
		field = s.SelectField()
	}

	q, total, err := listQuery(call, l)
	if err != nil {
		return Result{}, err
	}
	rows, err := collectRows(call, l, q, func(rec query.Record) (map[string]any, error) {
		row, err := prepareRow(call, l, rec)
		if row != nil {
			v, _ := query.Resolve(rec, query.SplitPath(field))
			row["display"] = displayValue(v, nil)
		}
		return row, err
	})
	if err != nil {
		return Result{}, err
	}
	return JSONResult(Rows{Rows: rows, Total: total}), nil
}

func lister(p Pack) (Lister, error) {
	l, ok := p.(Lister)
	if !ok {
		return nil, fmt.Errorf("pack %T can not list rows", p)
	}
	return l, nil
}

func editor(p Pack) (Editor, error) {
	e, ok := p.(Editor)
	if !ok {
		return nil, fmt.Errorf("pack %T can not edit objects", p)
	}
	return e, nil
}

// listQuery runs the query, search, filter and sort steps and counts the
// result before paging.
func listQuery(call *observer.Call, l Lister) (query.Set, int, error) {
	q, err := l.RowsQuery(call)
	if err != nil {
		return nil, 0, err
	}
	steps := []struct {
		verb  string
		apply func(*observer.Call, query.Set) (query.Set, error)
	}{
		{"apply_search", l.ApplySearch},
		{"apply_filter", l.ApplyFilter},
		{"apply_sort_order", l.ApplySortOrder},
	}
	if q, err = observer.HandleAs(call, "query", q); err != nil {
		return nil, 0, err
	}
	for _, step := range steps {
		if q, err = step.apply(call, q); err != nil {
			return nil, 0, err
		}
		if q, err = observer.HandleAs(call, step.verb, q); err != nil {
			return nil, 0, err
		}
	}
	total, err := q.Count(callContext(call))
	if err != nil {
		return nil, 0, err
	}
	return q, total, nil
}

func prepareRow(call *observer.Call, l Lister, rec query.Record) (map[string]any, error) {
	row, err := l.PrepareObject(call, rec)
	if err != nil || row == nil {
		return nil, err
	}
	return observer.HandleAs(call, "prepare_obj", row)
}

// collectRows pages q; records prepared to nil do not count towards the
// page size.
func collectRows(call *observer.Call, l Lister, q query.Set, prepare func(query.Record) (map[string]any, error)) ([]map[string]any, error) {
	start, limit := l.Paging(call)
	sp := query.NewSplitter(q, start, limit)
	rows := make([]map[string]any, 0)
	ctx := callContext(call)
	for {
		rec, ok, err := sp.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		row, err := prepare(rec)
		if err != nil {
			return nil, err
		}
		if row == nil {
			if err := sp.SkipLast(); err != nil {
				return nil, err
			}
			continue
		}
		rows = append(rows, row)
	}
	telemetry.RowsReturned.Observe(float64(len(rows)))
	return rows, nil
}

func editRows(call *observer.Call, l Lister) (Result, error) {
	rows, err := decodeRows(call.Request.Params["rows"])
	if err != nil {
		return Result{}, &ApplicationError{Message: err.Error()}
	}
	ok, msg := l.HandleRowEditing(call, rows)
	edit, err := observer.HandleAs(call, "row_editing", RowEdit{Success: ok, Message: msg})
	if err != nil {
		return Result{}, err
	}
	return Result{Success: edit.Success, Message: edit.Message}, nil
}

// ObjectEditAction returns the object data for the edit form. Id 0 yields
// a new object.
type ObjectEditAction struct {
	BaseAction
}

func (a *ObjectEditAction) Run(call *observer.Call) (Result, error) {
	e, err := editor(a.Parent())
	if err != nil {
		return Result{}, err
	}
	rec, create, err := e.GetObject(call)
	if err != nil {
		return Result{}, notFound(err)
	}
	data := map[string]any(rec)
	if d, ok := a.Parent().(interface {
		EditData(query.Record) map[string]any
	}); ok {
		data = d.EditData(rec)
	}
	return Result{Success: true, Data: map[string]any{"object": data, "create_new": create}}, nil
}

// ObjectSaveAction binds the request to the object and stores it. The
// save_object pipeline may store the object itself and return
// ErrAlreadySaved; post_save runs after a successful save.
type ObjectSaveAction struct {
	BaseAction
}

func (a *ObjectSaveAction) Run(call *observer.Call) (Result, error) {
	e, err := editor(a.Parent())
	if err != nil {
		return Result{}, err
	}

	var saved query.Record
	outer := call.Context
	defer func() { call.Context = outer }()

	err = atomically(callContext(call), e.Source(), func(ctx context.Context) error {
		call.Context = ctx
		rec, create, err := e.GetObject(call)
		if err != nil {
			return notFound(err)
		}
		if err := e.BindToObject(call, rec); err != nil {
			return err
		}
		rec, err = observer.HandleAs(call, "save_object", rec)
		if errors.Is(err, ErrAlreadySaved) {
			saved = rec
			return nil
		}
		if err != nil {
			return err
		}
		if saved, err = e.SaveRow(call, rec, create); err != nil {
			return err
		}
		_, err = observer.HandleAs(call, "post_save", SavedObject{Record: saved, Create: create, Context: ContextOf(call)})
		return err
	})
	if err != nil {
		return Result{}, err
	}
	res := OperationResult("")
	if saved != nil {
		res.Data = map[string]any{"id": saved.ID()}
	}
	return res, nil
}

// ObjectDeleteAction deletes the objects listed in the id parameter
type ObjectDeleteAction struct {
	BaseAction
}

func (a *ObjectDeleteAction) Run(call *observer.Call) (Result, error) {
	e, err := editor(a.Parent())
	if err != nil {
		return Result{}, err
	}
	ids := ContextOf(call).IntList(e.IDParam())
	for _, objID := range ids {
		if _, err := e.DeleteRow(call, objID); err != nil {
			return Result{}, notFound(err)
		}
	}
	return Result{Success: true, Data: map[string]any{"ids": ids}}, nil
}

func notFound(err error) error {
	if errors.Is(err, query.ErrDoesNotExist) {
		return &ApplicationError{Message: MsgDoesNotExist}
	}
	return err
}

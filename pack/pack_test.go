package pack

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/maxpert/objectpack/filter"
	"github.com/maxpert/objectpack/observer"
	"github.com/maxpert/objectpack/query"
	"github.com/maxpert/objectpack/vmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peopleStore() *vmodel.Store {
	return vmodel.NewStore("person",
		query.Record{"id": 1, "name": "Anna", "age": 30, "city": query.Record{"name": "Oslo"}, "born": time.Date(1990, 2, 3, 0, 0, 0, 0, time.UTC), "status": 1},
		query.Record{"id": 2, "name": "Boris", "age": 25, "city": nil, "born": nil, "status": 0},
		query.Record{"id": 3, "name": "Hanna", "age": 41, "city": query.Record{"name": "Bergen"}, "born": nil, "status": 1},
		query.Record{"id": 4, "name": "Ivan", "age": 35, "city": query.Record{"name": "Oslo"}, "born": nil, "status": 2},
	)
}

func personOptions(src Source) Options {
	return Options{
		Name:   "people/PersonPack",
		Model:  "person",
		Source: src,
		Columns: []Column{
			{DataIndex: "name", Header: "Name", Sortable: true, Searchable: true},
			{Header: "Details", Columns: []Column{
				{DataIndex: "age", Sortable: true},
				{DataIndex: "city.name", Searchable: true},
			}},
			{DataIndex: "born"},
			{DataIndex: "status", Choices: []filter.Choice{{Value: 1, Label: "Active"}, {Value: 0, Label: "Blocked"}}},
		},
		ListSortOrder: []string{"name"},
		Form:          []FormField{{Name: "name", Required: true}, {Name: "age", Type: "int"}},
	}
}

func setup(t *testing.T, obsOpts observer.Options, p Pack, subs ...observer.Subscription) *Controller {
	t.Helper()
	c := NewController(observer.New(obsOpts))
	require.NoError(t, c.Register(p))
	for _, s := range subs {
		require.NoError(t, c.Observer().Subscribe(s))
	}
	c.Freeze()
	return c
}

func dispatch(t *testing.T, c *Controller, url string, params map[string]any) Result {
	t.Helper()
	res, err := c.Dispatch(context.Background(), url, observer.Request{Params: params})
	require.NoError(t, err)
	return res
}

func names(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["name"]
	}
	return out
}

func TestRegistration(t *testing.T) {
	p := MustObjectPack(personOptions(peopleStore()))
	c := setup(t, observer.Options{}, p)

	assert.Equal(t, []string{
		"/personpack/objectdeleteaction",
		"/personpack/objecteditaction",
		"/personpack/objectrowsaction",
		"/personpack/objectsaveaction",
		"/personpack/objectselectaction",
	}, c.Routes())

	name, ok := c.Observer().NameOf(p.RowsAction)
	require.True(t, ok)
	assert.Equal(t, "people/PersonPack/ObjectRowsAction", name)
	assert.Same(t, p, c.Observer().Get("person"))
	assert.Same(t, p, p.ModelPack("person"))
	assert.Equal(t, "personpack_id", p.IDParam())
	assert.Equal(t, "people/PersonPack/delete", p.DeleteAction.PermCode())
	assert.Empty(t, p.RowsAction.PermCode())
	assert.Equal(t, []string{"name", "city__name"}, p.SearchFields())

	url, ok := c.URLOf(p.SaveAction)
	require.True(t, ok)
	assert.Equal(t, "/personpack/objectsaveaction", url)

	_, err := c.Dispatch(context.Background(), "/nope", observer.Request{})
	assert.ErrorIs(t, err, observer.ErrUnknownAction)
}

func TestReadOnlyPackActions(t *testing.T) {
	opts := personOptions(peopleStore())
	opts.ReadOnly = true
	p := MustObjectPack(opts)
	assert.Nil(t, p.EditAction)
	assert.Nil(t, p.SaveAction)
	assert.Nil(t, p.DeleteAction)
	assert.Len(t, p.Actions(), 2)

	_, err := NewObjectPack(Options{Name: "x/Pack"})
	assert.Error(t, err)
}

func TestRows(t *testing.T) {
	p := MustObjectPack(personOptions(peopleStore()))
	c := setup(t, observer.Options{}, p)
	rowsURL := "/personpack/objectrowsaction"

	t.Run("default order and row shape", func(t *testing.T) {
		res := dispatch(t, c, rowsURL, map[string]any{})
		require.True(t, res.Success)
		require.True(t, res.Raw)
		rows := res.Data.(Rows)
		assert.Equal(t, 4, rows.Total)
		assert.Equal(t, []any{"Anna", "Boris", "Hanna", "Ivan"}, names(rows.Rows))
		assert.Equal(t, map[string]any{
			"id":     1,
			"name":   "Anna",
			"age":    30,
			"city":   map[string]any{"name": "Oslo"},
			"born":   "03.02.1990",
			"status": "Active",
		}, rows.Rows[0])
		assert.Equal(t, map[string]any{"name": ""}, rows.Rows[1]["city"])
		assert.Equal(t, "", rows.Rows[1]["born"])
		assert.Equal(t, "Blocked", rows.Rows[1]["status"])
		assert.Equal(t, "", rows.Rows[3]["status"])
	})

	t.Run("paging", func(t *testing.T) {
		rows := dispatch(t, c, rowsURL, map[string]any{"start": "1", "limit": "2"}).Data.(Rows)
		assert.Equal(t, 4, rows.Total)
		assert.Equal(t, []any{"Boris", "Hanna"}, names(rows.Rows))
	})

	t.Run("search", func(t *testing.T) {
		rows := dispatch(t, c, rowsURL, map[string]any{"filter": "oslo"}).Data.(Rows)
		assert.Equal(t, 2, rows.Total)
		assert.Equal(t, []any{"Anna", "Ivan"}, names(rows.Rows))

		rows = dispatch(t, c, rowsURL, map[string]any{"filter": "an"}).Data.(Rows)
		assert.Equal(t, []any{"Anna", "Hanna", "Ivan"}, names(rows.Rows))

		rows = dispatch(t, c, rowsURL, map[string]any{"filter": "a oslo"}).Data.(Rows)
		assert.Equal(t, []any{"Anna", "Ivan"}, names(rows.Rows))
	})

	t.Run("sort", func(t *testing.T) {
		rows := dispatch(t, c, rowsURL, map[string]any{"sort": "age", "dir": "DESC"}).Data.(Rows)
		assert.Equal(t, []any{"Hanna", "Ivan", "Anna", "Boris"}, names(rows.Rows))

		_, err := c.Dispatch(context.Background(), rowsURL, observer.Request{Params: map[string]any{"sort": "born"}})
		assert.Error(t, err)
	})

	t.Run("select", func(t *testing.T) {
		rows := dispatch(t, c, "/personpack/objectselectaction", map[string]any{"limit": "1"}).Data.(Rows)
		require.Len(t, rows.Rows, 1)
		assert.Equal(t, "Anna", rows.Rows[0]["display"])
	})
}

func TestRowsListeners(t *testing.T) {
	var verbs []string
	p := MustObjectPack(personOptions(peopleStore()))
	c := setup(t, observer.Options{}, p, observer.Subscription{
		Listen: []string{`people/PersonPack/ObjectRowsAction`},
		Factory: func() any {
			return &observer.Hooks{Verbs: map[string]observer.Handler{
				"query": func(_ *observer.Call, arg any) any {
					verbs = append(verbs, "query")
					return arg.(query.Set).Exclude(query.Q("name", "Ivan"))
				},
				"apply_filter": func(_ *observer.Call, arg any) any {
					verbs = append(verbs, "apply_filter")
					return arg
				},
				"prepare_obj": func(_ *observer.Call, arg any) any {
					if arg.(map[string]any)["name"] == "Boris" {
						return nil
					}
					return arg
				},
				"get_rows": func(_ *observer.Call, arg any) any {
					verbs = append(verbs, "get_rows")
					return arg
				},
			}}
		},
	})

	rows := dispatch(t, c, "/personpack/objectrowsaction", map[string]any{"limit": "2"}).Data.(Rows)
	assert.Equal(t, 3, rows.Total)
	// the skipped row does not shrink the page
	assert.Equal(t, []any{"Anna", "Hanna"}, names(rows.Rows))
	assert.Equal(t, []string{"query", "apply_filter", "get_rows"}, verbs)
}

func TestMenuFilterColumns(t *testing.T) {
	opts := personOptions(peopleStore())
	opts.Columns[0].Menu = &filter.MenuColumn{Type: "string"}
	p := MustObjectPack(opts)
	require.IsType(t, &filter.MenuEngine{}, p.FilterEngine())

	grid := &filter.Grid{}
	require.NoError(t, p.ConfigureGrid(grid))
	assert.Len(t, grid.Columns, 5)
	require.Len(t, grid.Plugins, 1)
	assert.Contains(t, grid.Plugins[0], "dataIndex:'name'")

	c := setup(t, observer.Options{}, p)
	rows := dispatch(t, c, "/personpack/objectrowsaction", map[string]any{
		"q": `[{"field":"name","data":{"type":"string","value":"ann"}}]`,
	}).Data.(Rows)
	assert.Equal(t, []any{"Anna", "Hanna"}, names(rows.Rows))
}

func TestRowEditing(t *testing.T) {
	opts := personOptions(peopleStore())
	opts.RowEditing = func(_ *observer.Call, rows []query.Record) (bool, string) {
		return true, fmt.Sprintf("%d rows, first %v", len(rows), rows[0]["name"])
	}
	c := setup(t, observer.Options{}, MustObjectPack(opts))

	res := dispatch(t, c, "/personpack/objectrowsaction", map[string]any{
		"xaction": "update",
		"rows":    `{"id":1,"name":"Anya"}`,
	})
	assert.True(t, res.Success)
	assert.Equal(t, "1 rows, first Anya", res.Message)
}

func TestSave(t *testing.T) {
	saveURL := "/personpack/objectsaveaction"

	t.Run("create and update", func(t *testing.T) {
		store := peopleStore()
		c := setup(t, observer.Options{}, MustObjectPack(personOptions(store)))

		res := dispatch(t, c, saveURL, map[string]any{"personpack_id": "0", "name": "Olga", "age": "28"})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, map[string]any{"id": 5}, res.Data)
		assert.Equal(t, 5, store.Len())
		rec, err := store.Get(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, "Olga", rec["name"])
		assert.Equal(t, 28, rec["age"])

		res = dispatch(t, c, saveURL, map[string]any{"personpack_id": "2", "name": "Boris B"})
		require.True(t, res.Success)
		rec, err = store.Get(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, "Boris B", rec["name"])
		assert.Equal(t, 25, rec["age"])
	})

	t.Run("application failures", func(t *testing.T) {
		store := peopleStore()
		opts := personOptions(store)
		opts.Validate = func(_ *observer.Call, rec query.Record, _ bool) error {
			if rec["name"] == "Clash" {
				return &OverlapError{Objects: []query.Record{{"id": 3, "name": "Hanna"}}}
			}
			return nil
		}
		c := setup(t, observer.Options{}, MustObjectPack(opts))

		res := dispatch(t, c, saveURL, map[string]any{"personpack_id": "1", "name": ""})
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "required")

		res = dispatch(t, c, saveURL, map[string]any{"personpack_id": "99", "name": "x"})
		assert.False(t, res.Success)
		assert.Equal(t, MsgDoesNotExist, res.Message)

		res = dispatch(t, c, saveURL, map[string]any{"personpack_id": "1", "name": "Clash"})
		assert.False(t, res.Success)
		assert.Equal(t, "There are overlaps with the following records:\n- Hanna", res.Message)
		assert.Equal(t, 4, store.Len())
	})

	t.Run("already saved", func(t *testing.T) {
		store := peopleStore()
		var posted bool
		c := setup(t, observer.Options{}, MustObjectPack(personOptions(store)), observer.Subscription{
			Factory: func() any {
				return &observer.Hooks{Verbs: map[string]observer.Handler{
					"save_object": func(_ *observer.Call, arg any) any { return ErrAlreadySaved },
					"post_save": func(_ *observer.Call, arg any) any {
						posted = true
						return arg
					},
				}}
			},
		})
		res := dispatch(t, c, saveURL, map[string]any{"personpack_id": "0", "name": "Olga"})
		assert.True(t, res.Success)
		assert.Equal(t, 4, store.Len())
		assert.False(t, posted)
	})

	t.Run("post_save failure rolls back", func(t *testing.T) {
		store := peopleStore()
		down := errors.New("audit down")
		var saved SavedObject
		c := setup(t, observer.Options{}, MustObjectPack(personOptions(store)), observer.Subscription{
			Factory: func() any {
				return &observer.Hooks{Verbs: map[string]observer.Handler{
					"post_save": func(_ *observer.Call, arg any) any {
						saved = arg.(SavedObject)
						return down
					},
				}}
			},
		})
		_, err := c.Dispatch(context.Background(), saveURL, observer.Request{Params: map[string]any{"personpack_id": "0", "name": "Olga"}})
		assert.ErrorIs(t, err, down)
		assert.True(t, saved.Create)
		assert.Equal(t, "Olga", saved.Record["name"])
		assert.Equal(t, 4, store.Len())
	})

	t.Run("read-only source", func(t *testing.T) {
		model := vmodel.MustFromData([]query.Record{{"id": 1, "name": "Oslo"}}, vmodel.Options{Name: "city"})
		opts := personOptions(model)
		opts.Name = "geo/CityPack"
		opts.Model = "city"
		c := setup(t, observer.Options{}, MustObjectPack(opts))
		_, err := c.Dispatch(context.Background(), "/citypack/objectsaveaction", observer.Request{Params: map[string]any{"citypack_id": "1", "name": "Bergen"}})
		assert.ErrorIs(t, err, query.ErrReadOnly)
	})
}

func TestEditAndDelete(t *testing.T) {
	store := peopleStore()
	p := MustObjectPack(personOptions(store))
	c := setup(t, observer.Options{}, p)

	res := dispatch(t, c, "/personpack/objecteditaction", map[string]any{"personpack_id": "0"})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Data.(map[string]any)["create_new"])

	res = dispatch(t, c, "/personpack/objecteditaction", map[string]any{"personpack_id": "3"})
	assert.Equal(t, map[string]any{"id": 3, "name": "Hanna", "age": 41}, res.Data.(map[string]any)["object"])

	res = dispatch(t, c, "/personpack/objectdeleteaction", map[string]any{"personpack_id": "1,3"})
	require.True(t, res.Success)
	assert.Equal(t, 2, store.Len())

	res = dispatch(t, c, "/personpack/objectdeleteaction", map[string]any{"personpack_id": "99"})
	assert.False(t, res.Success)
	assert.Equal(t, MsgDoesNotExist, res.Message)
}

func TestPermissions(t *testing.T) {
	p := MustObjectPack(personOptions(peopleStore()))
	c := setup(t, observer.Options{}, p)
	var checked []string
	c.SetPermit(func(_ context.Context, _ observer.Request, code string) bool {
		checked = append(checked, code)
		return false
	})

	_, err := c.Dispatch(context.Background(), "/personpack/objectdeleteaction", observer.Request{Params: map[string]any{"personpack_id": "1"}})
	assert.ErrorIs(t, err, ErrForbidden)

	dispatch(t, c, "/personpack/objectrowsaction", nil)
	assert.Equal(t, []string{"people/PersonPack/delete"}, checked)
}

func TestContextStrictness(t *testing.T) {
	t.Run("debug", func(t *testing.T) {
		c := setup(t, observer.Options{Debug: true}, MustObjectPack(personOptions(peopleStore())))
		_, err := c.Dispatch(context.Background(), "/personpack/objecteditaction", observer.Request{})
		var ce *ContextError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "personpack_id", ce.Param)
	})

	t.Run("lenient", func(t *testing.T) {
		c := setup(t, observer.Options{Verbosity: observer.LogWarnings}, MustObjectPack(personOptions(peopleStore())))
		res := dispatch(t, c, "/personpack/objecteditaction", nil)
		assert.Equal(t, true, res.Data.(map[string]any)["create_new"])
	})
}

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/maxpert/objectpack/cfg"
	"github.com/maxpert/objectpack/observer"
	"github.com/maxpert/objectpack/pack"
	"github.com/maxpert/objectpack/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPacks = []cfg.PackConfiguration{
	{
		Name:  "people/PersonPack",
		Table: "person",
		Schema: `CREATE TABLE IF NOT EXISTS person (
			id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, age INTEGER, tags BLOB)`,
		ListSortOrder: []string{"name"},
		CanDelete:     true,
		Columns: []cfg.ColumnConfiguration{
			{DataIndex: "name", Header: "Name", Sortable: true, Searchable: true, Filter: true},
			{DataIndex: "age", Header: "Age", Type: "integer", Sortable: true, Filter: true},
			{DataIndex: "tags", Type: "list"},
		},
	},
	{
		Name:  "geo/RegionPack",
		Table: "region",
		Schema: `CREATE TABLE IF NOT EXISTS region (
			id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, parent_id INTEGER REFERENCES region(id))`,
		ParentField:   "parent_id",
		ListSortOrder: []string{"name"},
		Columns:       []cfg.ColumnConfiguration{{DataIndex: "name", Searchable: true}},
	},
	{
		Name:  "geo/CityPack",
		Table: "city",
		Schema: `CREATE TABLE IF NOT EXISTS city (id INTEGER PRIMARY KEY, name TEXT);
			INSERT INTO city (id, name) VALUES (1, 'Oslo'), (2, 'Bergen');`,
		ReadOnly:     true,
		FilterEngine: "menu",
		Columns:      []cfg.ColumnConfiguration{{DataIndex: "name", Filter: true}},
	},
}

func newController(t *testing.T, packs []cfg.PackConfiguration) *pack.Controller {
	t.Helper()
	db, err := sqlstore.Open(sqlstore.Options{DSN: filepath.Join(t.TempDir(), "packs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	built, err := buildPacks(context.Background(), db, packs, cfg.PagingConfiguration{Limit: 25})
	require.NoError(t, err)
	require.Len(t, built, len(packs))

	c := pack.NewController(observer.New(observer.Options{}))
	require.NoError(t, c.Register(built...))
	c.Freeze()
	return c
}

func dispatch(t *testing.T, c *pack.Controller, url string, params map[string]any) pack.Result {
	t.Helper()
	res, err := c.Dispatch(context.Background(), url, observer.Request{Params: params})
	require.NoError(t, err)
	return res
}

func rowNames(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["name"]
	}
	return out
}

func TestConfiguredTablePack(t *testing.T) {
	c := newController(t, testPacks)

	for _, p := range []map[string]any{
		{"personpack_id": "0", "name": "Anna", "age": "30"},
		{"personpack_id": "0", "name": "Boris", "age": "25"},
		{"personpack_id": "0", "name": "Hanna", "age": ""},
	} {
		res := dispatch(t, c, "/personpack/objectsaveaction", p)
		require.True(t, res.Success, res.Message)
	}

	rows := dispatch(t, c, "/personpack/objectrowsaction", nil).Data.(pack.Rows)
	assert.Equal(t, 3, rows.Total)
	assert.Equal(t, []any{"Anna", "Boris", "Hanna"}, rowNames(rows.Rows))

	// header filters are numbered in column order
	rows = dispatch(t, c, "/personpack/objectrowsaction", map[string]any{"filter_2": "30"}).Data.(pack.Rows)
	assert.Equal(t, []any{"Anna"}, rowNames(rows.Rows))
	rows = dispatch(t, c, "/personpack/objectrowsaction", map[string]any{"filter_1": "BOR"}).Data.(pack.Rows)
	assert.Equal(t, []any{"Boris"}, rowNames(rows.Rows))

	res := dispatch(t, c, "/personpack/objectdeleteaction", map[string]any{"personpack_id": "2"})
	require.True(t, res.Success, res.Message)
	rows = dispatch(t, c, "/personpack/objectrowsaction", map[string]any{"filter": "an"}).Data.(pack.Rows)
	assert.Equal(t, []any{"Anna", "Hanna"}, rowNames(rows.Rows))
}

func TestConfiguredTreePack(t *testing.T) {
	c := newController(t, testPacks)

	res := dispatch(t, c, "/regionpack/objectsaveaction", map[string]any{"regionpack_id": "0", "name": "Nordic"})
	require.True(t, res.Success, res.Message)
	res = dispatch(t, c, "/regionpack/objectsaveaction", map[string]any{"regionpack_id": "0", "name": "Norway", "parent_id": "1"})
	require.True(t, res.Success, res.Message)

	roots := dispatch(t, c, "/regionpack/treeobjectrowsaction", nil).Data.([]map[string]any)
	require.Len(t, roots, 1)
	assert.Equal(t, "Nordic", roots[0]["name"])
	assert.Equal(t, false, roots[0]["leaf"])

	children := dispatch(t, c, "/regionpack/treeobjectrowsaction", map[string]any{"regionpack_id": "1"}).Data.([]map[string]any)
	assert.Equal(t, []any{"Norway"}, rowNames(children))
	assert.Equal(t, true, children[0]["leaf"])
}

func TestConfiguredMenuPack(t *testing.T) {
	c := newController(t, testPacks)

	_, ok := c.Lookup("/citypack/objectsaveaction")
	assert.False(t, ok)

	rows := dispatch(t, c, "/citypack/objectrowsaction", map[string]any{
		"q": `[{"field":"name","data":{"type":"string","value":"os"}}]`,
	}).Data.(pack.Rows)
	assert.Equal(t, []any{"Oslo"}, rowNames(rows.Rows))
}

func TestBuildPackErrors(t *testing.T) {
	db, err := sqlstore.Open(sqlstore.Options{})
	require.NoError(t, err)
	defer db.Close()
	paging := cfg.PagingConfiguration{}

	_, err = buildPack(db, cfg.PackConfiguration{
		Name: "p/ListPack", Table: "t",
		Columns: []cfg.ColumnConfiguration{{DataIndex: "tags", Type: "list", Filter: true}},
	}, paging)
	assert.ErrorContains(t, err, "can not be filtered")

	_, err = buildPack(db, cfg.PackConfiguration{
		Name: "p/BlobPack", Table: "t",
		Columns: []cfg.ColumnConfiguration{{DataIndex: "data", Type: "binary", Filter: true}},
	}, paging)
	assert.Error(t, err)

	_, err = buildPacks(context.Background(), db, []cfg.PackConfiguration{{
		Name: "p/BadPack", Table: "t", Schema: "CREATE TABLE (",
		Columns: []cfg.ColumnConfiguration{{DataIndex: "name"}},
	}}, paging)
	assert.ErrorContains(t, err, "schema")
}

func TestColumnTypes(t *testing.T) {
	assert.Equal(t, "numeric", menuType("integer"))
	assert.Equal(t, "date", menuType("datetime"))
	assert.Equal(t, "boolean", menuType("boolean"))
	assert.Equal(t, "string", menuType(""))
	assert.Equal(t, "int_or_none", parserName("integer"))
	assert.Equal(t, "date", parserName("date"))
	assert.Equal(t, "string", parserName("text"))
}

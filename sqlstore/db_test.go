package sqlstore

import (
	"testing"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/objectpack/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenOptions(t *testing.T) {
	_, err := Open(Options{Driver: "postgres"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	_, err = Open(Options{Driver: DriverMySQL, DSN: "not a dsn"})
	assert.Error(t, err)

	assert.Equal(t, ":memory:?_foreign_keys=1&_busy_timeout=5000", sqliteDSN(""))
	assert.Equal(t, "/tmp/x.db?cache=shared&_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL", sqliteDSN("/tmp/x.db?cache=shared"))

	db, err := Open(Options{})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, DriverSQLite, db.Driver())
}

func TestMySQLStatements(t *testing.T) {
	db := &DB{driver: DriverMySQL, dialect: goqu.Dialect(DriverMySQL), casefold: "LOWER"}
	people, err := db.Table(TableOptions{Name: "person", Columns: []string{"name", "age"}})
	require.NoError(t, err)

	q := people.Query().
		Filter(query.Q("name__icontains", "AN")).
		Exclude(query.Q("age__lt", 18)).
		OrderBy("-name").
		Slice(5, -1).(*Query)
	sqlText, args, err := q.SQL()
	require.NoError(t, err)
	assert.Contains(t, sqlText, "FROM `person`")
	assert.Contains(t, sqlText, "LOWER(`name`)")
	assert.Contains(t, sqlText, "NOT COALESCE(")
	assert.Contains(t, sqlText, "ORDER BY `name` DESC")
	assert.Contains(t, args, "an")

	nested, _, err := q.Filter(query.Q("age", 30)).(*Query).SQL()
	require.NoError(t, err)
	assert.Contains(t, nested, "AS `q1`")
}

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/objectpack/encoding"
	"github.com/maxpert/objectpack/pack"
	"github.com/maxpert/objectpack/query"
	"github.com/rs/zerolog/log"
)

// TableOptions declares a table
type TableOptions struct {
	Name string
	// IDColumn is the integer primary key, "id" by default
	IDColumn string
	// Columns lists the other columns read and written by the table
	Columns []string
	// ListColumns hold msgpack encoded lists
	ListColumns []string
	// Defaults are the values of records returned by New
	Defaults query.Record
}

// Table is a pack.Source over one SQL table
type Table struct {
	db       *DB
	name     string
	idColumn string
	columns  []string
	lists    map[string]bool
	defaults query.Record
}

var (
	_ pack.Source = (*Table)(nil)
	_ pack.Atomic = (*Table)(nil)
)

// Table binds a table of db
func (db *DB) Table(opts TableOptions) (*Table, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("table without name")
	}
	t := &Table{
		db:       db,
		name:     opts.Name,
		idColumn: opts.IDColumn,
		lists:    make(map[string]bool, len(opts.ListColumns)),
		defaults: opts.Defaults.Copy(),
	}
	if t.idColumn == "" {
		t.idColumn = "id"
	}
	t.columns = append(t.columns, t.idColumn)
	for _, c := range append(append([]string(nil), opts.Columns...), opts.ListColumns...) {
		if c == "" || slices.Contains(t.columns, c) {
			continue
		}
		t.columns = append(t.columns, c)
	}
	for _, c := range opts.ListColumns {
		t.lists[c] = true
	}
	return t, nil
}

// Name returns the table name
func (t *Table) Name() string {
	return t.name
}

func (t *Table) hasColumn(name string) bool {
	return slices.Contains(t.columns, name)
}

func (t *Table) selectColumns() []any {
	cols := make([]any, len(t.columns))
	for i, c := range t.columns {
		cols[i] = goqu.C(c)
	}
	return cols
}

// decode converts a scanned value into the form records carry in memory
func (t *Table) decode(column string, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		if t.lists[column] {
			return encoding.DecodeValue(val)
		}
		return string(val), nil
	case int64:
		return int(val), nil
	case int32:
		return int(val), nil
	case uint64:
		return int(val), nil
	case float32:
		return float64(val), nil
	case time.Time:
		return val, nil
	}
	return v, nil
}

func (t *Table) row(rec query.Record) (goqu.Record, error) {
	row := goqu.Record{}
	for _, c := range t.columns {
		if c == t.idColumn {
			continue
		}
		v, ok := rec[c]
		if !ok {
			continue
		}
		if t.lists[c] && v != nil {
			encoded, err := encoding.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", c, err)
			}
			v = encoded
		}
		row[c] = v
	}
	return row, nil
}

// Query implements pack.Source
func (t *Table) Query() query.Set {
	return &Query{table: t, limit: -1}
}

// Get implements pack.Source
func (t *Table) Get(ctx context.Context, id any) (query.Record, error) {
	rec, err := query.Get(ctx, t.Query(), query.Q(t.idColumn, id))
	if errors.Is(err, query.ErrDoesNotExist) || errors.Is(err, query.ErrMultipleObjectsReturned) {
		return nil, &query.LookupError{Model: t.name, Err: err}
	}
	return rec, err
}

// New implements pack.Source
func (t *Table) New() query.Record {
	rec := make(query.Record, len(t.columns))
	for _, c := range t.columns {
		rec[c] = nil
	}
	for k, v := range t.defaults {
		rec[k] = v
	}
	return rec
}

// Save implements pack.Source. Created records without an id get the
// autoincrement value.
func (t *Table) Save(ctx context.Context, rec query.Record, create bool) (query.Record, error) {
	row, err := t.row(rec)
	if err != nil {
		return nil, err
	}
	id := rec[t.idColumn]

	if create {
		if !query.IsBlank(id) {
			row[t.idColumn] = id
		}
		ds := t.db.dialect.Insert(t.name).Prepared(true)
		if len(row) > 0 {
			ds = ds.Rows(row)
		}
		sqlText, args, err := ds.ToSQL()
		if err != nil {
			return nil, err
		}
		res, err := t.db.exec(ctx, "insert", sqlText, args)
		if err != nil {
			return nil, fmt.Errorf("insert into %s: %w", t.name, err)
		}
		if query.IsBlank(id) {
			lastID, err := res.LastInsertId()
			if err != nil {
				return nil, err
			}
			id = int(lastID)
		}
	} else {
		if _, err := t.Get(ctx, id); err != nil {
			return nil, err
		}
		if len(row) > 0 {
			sqlText, args, err := t.db.dialect.Update(t.name).Prepared(true).
				Set(row).Where(goqu.C(t.idColumn).Eq(id)).ToSQL()
			if err != nil {
				return nil, err
			}
			if _, err := t.db.exec(ctx, "update", sqlText, args); err != nil {
				return nil, fmt.Errorf("update %s: %w", t.name, err)
			}
		}
	}

	log.Debug().Str("table", t.name).Interface("id", id).Bool("create", create).Msg("Record saved")
	return t.Get(ctx, id)
}

// Delete implements pack.Source. Rows still referenced by foreign keys
// yield *pack.RelatedError.
func (t *Table) Delete(ctx context.Context, id any) (query.Record, error) {
	rec, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sqlText, args, err := t.db.dialect.Delete(t.name).Prepared(true).
		Where(goqu.C(t.idColumn).Eq(id)).ToSQL()
	if err != nil {
		return nil, err
	}
	if _, err := t.db.exec(ctx, "delete", sqlText, args); err != nil {
		if isForeignKeyViolation(err) {
			return nil, &pack.RelatedError{ID: id}
		}
		return nil, fmt.Errorf("delete from %s: %w", t.name, err)
	}
	return rec, nil
}

// Atomic implements pack.Atomic
func (t *Table) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.Atomic(ctx, fn)
}

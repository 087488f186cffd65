// Package sqlstore serves pack records from SQLite or MySQL tables.
// Query sets are translated into SQL with goqu and run as prepared
// statements kept in an LRU cache.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/go-sql-driver/mysql"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"
	"github.com/maxpert/objectpack/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// ErrUnsupportedDriver is returned by Open for drivers other than sqlite3
// and mysql
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Options configures a DB
type Options struct {
	Driver             string
	DSN                string
	PoolSize           int
	MaxIdleTime        time.Duration
	MaxLifetime        time.Duration
	StatementCacheSize int
}

// DB is a connection pool with a dialect and a prepared statement cache
type DB struct {
	sql      *sql.DB
	driver   string
	dialect  goqu.DialectWrapper
	casefold string
	stmts    *lru.Cache[uint64, *sql.Stmt]
}

// Open connects to the database described by opts
func Open(opts Options) (*DB, error) {
	var (
		driverName string
		dsn        string
		casefold   string
	)
	switch opts.Driver {
	case DriverSQLite, "":
		opts.Driver = DriverSQLite
		driverName = SQLiteDriverName
		dsn = sqliteDSN(opts.DSN)
		casefold = "casefold"
		if isMemory(opts.DSN) {
			// every connection would open its own in-memory database
			opts.PoolSize = 1
		}
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		driverName = "mysql"
		dsn = cfg.FormatDSN()
		casefold = "LOWER"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, opts.Driver)
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if opts.PoolSize > 0 {
		conn.SetMaxOpenConns(opts.PoolSize)
		conn.SetMaxIdleConns(opts.PoolSize)
	}
	conn.SetConnMaxIdleTime(opts.MaxIdleTime)
	conn.SetConnMaxLifetime(opts.MaxLifetime)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, err)
	}

	size := opts.StatementCacheSize
	if size < 1 {
		size = 128
	}
	stmts, err := lru.NewWithEvict[uint64, *sql.Stmt](size, func(_ uint64, stmt *sql.Stmt) {
		stmt.Close()
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("driver", opts.Driver).Int("statement_cache", size).Msg("Database opened")
	return &DB{
		sql:      conn,
		driver:   opts.Driver,
		dialect:  goqu.Dialect(opts.Driver),
		casefold: casefold,
		stmts:    stmts,
	}, nil
}

func isMemory(dsn string) bool {
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN enables foreign keys and a busy timeout; file databases also
// get WAL journaling.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	params := []string{"_foreign_keys=1", "_busy_timeout=5000"}
	if !isMemory(dsn) {
		params = append(params, "_journal_mode=WAL")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Driver returns the configured driver name
func (db *DB) Driver() string {
	return db.driver
}

// Close releases cached statements and the pool
func (db *DB) Close() error {
	db.stmts.Purge()
	return db.sql.Close()
}

// DBStats implements telemetry.DBStatsProvider
func (db *DB) DBStats() sql.DBStats {
	return db.sql.Stats()
}

// Exec runs a statement outside the cache, for schema setup
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx := txFrom(ctx); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return db.sql.ExecContext(ctx, query, args...)
}

type txKey struct{}

func txFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Atomic runs fn in a transaction carried by the context passed to fn.
// Nested calls join the outer transaction.
func (db *DB) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// stmt returns the prepared statement for query, bound to the context's
// transaction when there is one. Statements first seen inside a
// transaction are prepared on it and not cached: the pool may have no
// other connection to prepare on.
func (db *DB) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	key := xxhash.Sum64String(query)
	tx := txFrom(ctx)
	stmt, ok := db.stmts.Get(key)
	switch {
	case ok:
		telemetry.StatementCacheLookupsTotal.With("hit").Inc()
	case tx != nil:
		telemetry.StatementCacheLookupsTotal.With("miss").Inc()
		return tx.PrepareContext(ctx, query)
	default:
		telemetry.StatementCacheLookupsTotal.With("miss").Inc()
		prepared, err := db.sql.PrepareContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("prepare %q: %w", query, err)
		}
		if prev, found, _ := db.stmts.PeekOrAdd(key, prepared); found {
			prepared.Close()
			prepared = prev
		}
		stmt = prepared
	}
	if tx != nil {
		return tx.StmtContext(ctx, stmt), nil
	}
	return stmt, nil
}

func (db *DB) queryRows(ctx context.Context, kind, query string, args []any) (*sql.Rows, error) {
	stmt, err := db.stmt(ctx, query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := stmt.QueryContext(ctx, args...)
	telemetry.StatementDurationSeconds.With(kind).Observe(time.Since(start).Seconds())
	return rows, err
}

func (db *DB) exec(ctx context.Context, kind, query string, args []any) (sql.Result, error) {
	stmt, err := db.stmt(ctx, query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := stmt.ExecContext(ctx, args...)
	telemetry.StatementDurationSeconds.With(kind).Observe(time.Since(start).Seconds())
	return res, err
}

// isForeignKeyViolation reports whether err was raised by a foreign key
// constraint
func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// ER_ROW_IS_REFERENCED_2
		return mysqlErr.Number == 1451
	}
	return false
}
